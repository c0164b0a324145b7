package coregrpc

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pppwaw/white-label-airport-core/internal/logx"
	"github.com/pppwaw/white-label-airport-core/schema"
	"pkt.systems/pslog"
)

// Server is an in-process stand-in for the core service. It keeps a settings
// document and a lifecycle state, and pushes every transition to open
// CoreInfoListener streams.
type Server struct {
	cfg    Config
	logger pslog.Logger

	mu          sync.Mutex
	settings    string
	state       schema.CoreState
	config      string
	watchers    map[uint64]chan schema.CoreInfo
	nextWatcher uint64
	failures    map[string]error
	closed      chan struct{}
	closeOnce   sync.Once
}

// coreService is the handler type registered with grpc.
type coreService interface {
	State() schema.CoreState
	Settings() string
}

// NewServer constructs a mock core in the Stopped state. A nil logger uses
// the background context logger.
func NewServer(cfg Config, logger pslog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logx.OrDefault(logger),
		settings: "{}",
		state:    schema.CoreStopped,
		watchers: make(map[uint64]chan schema.CoreInfo),
		failures: make(map[string]error),
		closed:   make(chan struct{}),
	}
}

// State returns the mock's lifecycle state.
func (s *Server) State() schema.CoreState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Settings returns the stored settings document.
func (s *Server) Settings() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// StartedConfig returns the configuration passed to the last accepted Start.
func (s *Server) StartedConfig() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Watchers returns the number of open state streams.
func (s *Server) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

// FailNext makes the next call to method return err instead of running.
func (s *Server) FailNext(method string, err error) {
	s.mu.Lock()
	s.failures[method] = err
	s.mu.Unlock()
}

// Push publishes a state as if the core changed on its own.
func (s *Server) Push(info schema.CoreInfo) {
	s.mu.Lock()
	s.state = info.State
	s.broadcastLocked(info)
	s.mu.Unlock()
}

// EndStreams ends every open state stream cleanly.
func (s *Server) EndStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
}

// ListenAndServe serves the core service on cfg.Addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	network, address, err := s.cfg.endpoint()
	if err != nil {
		return err
	}
	if network == "unix" {
		if err := os.MkdirAll(filepath.Dir(address), 0o755); err != nil {
			return err
		}
		_ = os.Remove(address)
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve serves the core service on an existing listener until ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&coreServiceDesc, s)
	s.logger.Info("mock core listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		s.closeOnce.Do(func() { close(s.closed) })
		grpcServer.GracefulStop()
		s.logger.Info("mock core stopped")
		return nil
	case err := <-errCh:
		s.closeOnce.Do(func() { close(s.closed) })
		return err
	}
}

func (s *Server) injected(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.failures[method]
	if !ok {
		return nil
	}
	delete(s.failures, method)
	return err
}

func (s *Server) changeSettings(_ context.Context, req schema.ChangeSettingsRequest) (schema.SettingsResponse, error) {
	if !json.Valid([]byte(req.SettingsJSON)) {
		return schema.SettingsResponse{}, status.Error(codes.InvalidArgument, "settings must be a JSON document")
	}
	s.mu.Lock()
	s.settings = req.SettingsJSON
	s.mu.Unlock()
	s.logger.Debug("mock core settings changed", "bytes", len(req.SettingsJSON))
	return schema.SettingsResponse{SettingsJSON: req.SettingsJSON}, nil
}

func (s *Server) capabilities() schema.Capabilities {
	caps := s.cfg.Capabilities
	return schema.Capabilities{
		SupportsTLSFragment: caps.TLSFragment,
		SupportsQUIC:        caps.QUIC,
		SupportsECH:         caps.ECH,
		SchemaVersion:       caps.SchemaVersion,
	}
}

func (s *Server) parse(req schema.ParseRequest) schema.ParseResponse {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return schema.ParseResponse{Code: schema.ResponseCodeFailed, Message: "empty configuration"}
	}
	var out strings.Builder
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return schema.ParseResponse{Code: schema.ResponseCodeFailed, Message: "error parsing config: " + err.Error()}
	}
	enc := json.NewEncoder(&out)
	if req.Debug {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(doc); err != nil {
		return schema.ParseResponse{Code: schema.ResponseCodeFailed, Message: "error building config: " + err.Error()}
	}
	return schema.ParseResponse{Code: schema.ResponseCodeOK, Content: strings.TrimSpace(out.String())}
}

func (s *Server) start(req schema.StartRequest) schema.CoreInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case schema.CoreStarted, schema.CoreStarting:
		return schema.CoreInfo{State: s.state, MessageType: schema.MessageAlreadyStarted}
	}
	if strings.TrimSpace(req.ConfigContent) == "" {
		return schema.CoreInfo{State: s.state, MessageType: schema.MessageEmptyConfiguration, Message: "empty configuration"}
	}
	s.config = req.ConfigContent
	s.transitionLocked(schema.CoreStarting)
	s.transitionLocked(schema.CoreStarted)
	return schema.CoreInfo{State: s.state}
}

func (s *Server) stop() schema.CoreInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case schema.CoreStopped, schema.CoreStopping:
		return schema.CoreInfo{State: s.state, MessageType: schema.MessageAlreadyStopped}
	}
	s.transitionLocked(schema.CoreStopping)
	s.transitionLocked(schema.CoreStopped)
	return schema.CoreInfo{State: s.state}
}

func (s *Server) transitionLocked(state schema.CoreState) {
	s.state = state
	s.logger.Info("mock core state", "state", state.String())
	s.broadcastLocked(schema.CoreInfo{State: state})
}

func (s *Server) broadcastLocked(info schema.CoreInfo) {
	for id, ch := range s.watchers {
		select {
		case ch <- info:
		default:
			s.logger.Warn("mock core watcher lagging", "watcher", id, "state", info.State.String())
		}
	}
}

func (s *Server) watch(stream grpc.ServerStream) error {
	ch := make(chan schema.CoreInfo, 32)
	s.mu.Lock()
	s.nextWatcher++
	id := s.nextWatcher
	s.watchers[id] = ch
	ch <- schema.CoreInfo{State: s.state}
	count := len(s.watchers)
	s.mu.Unlock()
	s.logger.Debug("mock core watcher attached", "watcher", id, "watchers", count)

	defer func() {
		s.mu.Lock()
		if cur, ok := s.watchers[id]; ok && cur == ch {
			delete(s.watchers, id)
		}
		s.mu.Unlock()
		s.logger.Debug("mock core watcher detached", "watcher", id)
	}()

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-s.closed:
			return nil
		case info, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(toPBCoreInfo(info)); err != nil {
				return err
			}
		}
	}
}

func structMethod(name string, call func(s *Server, ctx context.Context, in *structpb.Struct) (proto.Message, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			return handleUnary(srv.(*Server), ctx, name, in, interceptor, func(ctx context.Context, req any) (any, error) {
				return call(srv.(*Server), ctx, req.(*structpb.Struct))
			})
		},
	}
}

func emptyMethod(name string, call func(s *Server, ctx context.Context) (proto.Message, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(emptypb.Empty)
			if err := dec(in); err != nil {
				return nil, err
			}
			return handleUnary(srv.(*Server), ctx, name, in, interceptor, func(ctx context.Context, _ any) (any, error) {
				return call(srv.(*Server), ctx)
			})
		},
	}
}

func handleUnary(s *Server, ctx context.Context, name string, in any, interceptor grpc.UnaryServerInterceptor, handler grpc.UnaryHandler) (any, error) {
	if err := s.injected(name); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: fullMethod(name)}
	return interceptor(ctx, in, info, handler)
}

var coreServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*coreService)(nil),
	Methods: []grpc.MethodDesc{
		structMethod(MethodChangeSettings, func(s *Server, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			resp, err := s.changeSettings(ctx, fromPBChangeSettings(in))
			if err != nil {
				return nil, err
			}
			return toPBSettings(resp), nil
		}),
		emptyMethod(MethodGetSettings, func(s *Server, _ context.Context) (proto.Message, error) {
			return toPBSettings(schema.SettingsResponse{SettingsJSON: s.Settings()}), nil
		}),
		emptyMethod(MethodCapabilities, func(s *Server, _ context.Context) (proto.Message, error) {
			return toPBCapabilities(s.capabilities()), nil
		}),
		structMethod(MethodParse, func(s *Server, _ context.Context, in *structpb.Struct) (proto.Message, error) {
			return toPBParseResponse(s.parse(fromPBParseRequest(in))), nil
		}),
		structMethod(MethodStart, func(s *Server, _ context.Context, in *structpb.Struct) (proto.Message, error) {
			return toPBCoreInfo(s.start(fromPBStartRequest(in))), nil
		}),
		emptyMethod(MethodStop, func(s *Server, _ context.Context) (proto.Message, error) {
			return toPBCoreInfo(s.stop()), nil
		}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodCoreInfoListener,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				s := srv.(*Server)
				if err := s.injected(MethodCoreInfoListener); err != nil {
					return err
				}
				if err := stream.RecvMsg(new(emptypb.Empty)); err != nil {
					return err
				}
				return s.watch(stream)
			},
		},
	},
	Metadata: "hiddifyrpc/core.proto",
}
