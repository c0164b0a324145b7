package coregrpc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pppwaw/white-label-airport-core/core"
	"github.com/pppwaw/white-label-airport-core/internal/logx"
	"github.com/pppwaw/white-label-airport-core/schema"
	"pkt.systems/pslog"
)

// serviceName reuses the core's service and method names, but payloads are
// structpb/emptypb messages understood by the mock core only.
const serviceName = "hiddifyrpc.Core"

// Method names on the core service.
const (
	MethodChangeSettings   = "ChangeHiddifySettings"
	MethodGetSettings      = "GetHiddifySettings"
	MethodCapabilities     = "GetConfigCapabilities"
	MethodParse            = "Parse"
	MethodStart            = "Start"
	MethodStop             = "Stop"
	MethodCoreInfoListener = "CoreInfoListener"
)

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

var coreInfoStreamDesc = grpc.StreamDesc{
	StreamName:    MethodCoreInfoListener,
	ServerStreams: true,
}

// Client implements core.CoreClient over gRPC.
type Client struct {
	conn        *grpc.ClientConn
	callTimeout time.Duration
	log         pslog.Logger
}

var _ core.CoreClient = (*Client)(nil)

// Dial creates a client for the core at cfg.Addr. The connection is
// established lazily on the first call.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	network, address, err := cfg.endpoint()
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	contextDialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, address)
	}
	conn, err := grpc.NewClient(
		"passthrough:///"+address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(contextDialer),
	)
	if err != nil {
		return nil, err
	}
	log := pslog.Ctx(ctx).With("core_addr", address)
	log.Debug("core grpc client created", "network", network)
	return &Client{conn: conn, callTimeout: cfg.CallTimeout, log: log}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp proto.Message) error {
	if c.conn == nil {
		return errors.New("core client not initialized")
	}
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	log := logx.Ctx(ctx)
	log.Trace("core grpc call", "method", method)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, resp); err != nil {
		logGRPCError(log, "core grpc call failed", err)
		return wrapCoreError(method, err)
	}
	return nil
}

// ChangeSettings replaces the core settings document.
func (c *Client) ChangeSettings(ctx context.Context, req schema.ChangeSettingsRequest) (schema.SettingsResponse, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, MethodChangeSettings, toPBChangeSettings(req), resp); err != nil {
		return schema.SettingsResponse{}, err
	}
	return fromPBSettings(resp), nil
}

// Settings fetches the current settings document.
func (c *Client) Settings(ctx context.Context) (schema.SettingsResponse, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, MethodGetSettings, &emptypb.Empty{}, resp); err != nil {
		return schema.SettingsResponse{}, err
	}
	return fromPBSettings(resp), nil
}

// Capabilities fetches the feature flags of the core build.
func (c *Client) Capabilities(ctx context.Context) (schema.Capabilities, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, MethodCapabilities, &emptypb.Empty{}, resp); err != nil {
		return schema.Capabilities{}, err
	}
	return fromPBCapabilities(resp), nil
}

// Parse asks the core to normalize a configuration.
func (c *Client) Parse(ctx context.Context, req schema.ParseRequest) (schema.ParseResponse, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, MethodParse, toPBParseRequest(req), resp); err != nil {
		return schema.ParseResponse{}, err
	}
	return fromPBParseResponse(resp), nil
}

// Start starts the core with a parsed configuration.
func (c *Client) Start(ctx context.Context, req schema.StartRequest) (schema.CoreInfo, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, MethodStart, toPBStartRequest(req), resp); err != nil {
		return schema.CoreInfo{}, err
	}
	return fromPBCoreInfo(resp), nil
}

// Stop stops the core.
func (c *Client) Stop(ctx context.Context) (schema.CoreInfo, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, MethodStop, &emptypb.Empty{}, resp); err != nil {
		return schema.CoreInfo{}, err
	}
	return fromPBCoreInfo(resp), nil
}

// WatchState opens the CoreInfoListener push stream. The stream lives until
// ctx is cancelled, Close is called, or the server ends it.
func (c *Client) WatchState(ctx context.Context) (core.StateStream, error) {
	if c.conn == nil {
		return nil, errors.New("core client not initialized")
	}
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := c.conn.NewStream(streamCtx, &coreInfoStreamDesc, fullMethod(MethodCoreInfoListener))
	if err != nil {
		cancel()
		return nil, wrapCoreError(MethodCoreInfoListener, err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil && !errors.Is(err, io.EOF) {
		cancel()
		return nil, wrapCoreError(MethodCoreInfoListener, err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, wrapCoreError(MethodCoreInfoListener, err)
	}
	logx.Ctx(ctx).Debug("core grpc state stream opened")
	return &stateStream{stream: stream, cancel: cancel}, nil
}

type stateStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc

	mu   sync.Mutex
	done bool
}

// Next blocks for the next pushed report. A server-side end yields io.EOF.
func (s *stateStream) Next(ctx context.Context) (schema.CoreInfo, error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return schema.CoreInfo{}, io.EOF
	}
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		if errors.Is(err, io.EOF) {
			return schema.CoreInfo{}, io.EOF
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return schema.CoreInfo{}, ctxErr
		}
		return schema.CoreInfo{}, wrapCoreError(MethodCoreInfoListener, err)
	}
	return fromPBCoreInfo(msg), nil
}

func (s *stateStream) Close() error {
	s.cancel()
	return nil
}
