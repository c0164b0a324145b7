// Package airportcore composes the session controller: a gRPC stub for the
// core, the state controller, the push-stream subscriber, the command
// session, and the event bus that presentations read from.
package airportcore

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pppwaw/white-label-airport-core/core"
	"github.com/pppwaw/white-label-airport-core/internal/clock"
	"github.com/pppwaw/white-label-airport-core/internal/coregrpc"
	"github.com/pppwaw/white-label-airport-core/internal/eventbus"
	"github.com/pppwaw/white-label-airport-core/internal/metrics"
	"github.com/pppwaw/white-label-airport-core/schema"
	"pkt.systems/pslog"
)

// Config configures the compositor.
type Config struct {
	Core      coregrpc.Config
	Reconnect core.ReconnectPolicy
}

// Option toggles compositor components.
type Option func(*options)

type options struct {
	watch      bool
	client     core.CoreClient
	clock      clock.Clock
	registerer prometheus.Registerer
	logger     pslog.Logger
}

// WithStateWatch keeps the push stream open between Start and Stop.
func WithStateWatch() Option {
	return func(o *options) { o.watch = true }
}

// WithCoreClient uses client instead of dialing cfg.Core. Stop closes client
// when it implements io.Closer.
func WithCoreClient(client core.CoreClient) Option {
	return func(o *options) { o.client = client }
}

// WithClock sets the clock used for reconnect scheduling.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithRegisterer registers controller metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger pslog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Client is the assembled session controller.
type Client struct {
	cfg     Config
	options options

	client     core.CoreClient
	closer     io.Closer
	controller *core.Controller
	session    *core.Session
	subscriber *core.Subscriber
	bus        *eventbus.Bus
	metrics    *metrics.Metrics
	logger     pslog.Logger

	mu          sync.Mutex
	started     bool
	stopped     bool
	unsubscribe func()
}

// New constructs a Client. Without WithCoreClient it dials cfg.Core; the
// connection is established lazily.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}

	c := &Client{cfg: cfg, options: o, logger: logger}
	if o.client != nil {
		c.client = o.client
		if closer, ok := o.client.(io.Closer); ok {
			c.closer = closer
		}
	} else {
		grpcClient, err := coregrpc.Dial(pslog.ContextWithLogger(ctx, logger), cfg.Core)
		if err != nil {
			return nil, err
		}
		c.client = grpcClient
		c.closer = grpcClient
	}
	if o.registerer != nil {
		c.metrics = metrics.New(o.registerer)
	}

	c.controller = core.NewController(
		core.WithControllerLogger(logger),
		core.WithControllerMetrics(c.metrics),
	)
	c.bus = eventbus.New(logger)
	c.unsubscribe = c.controller.Subscribe(c.bus)
	pipeline := core.NewPipeline(
		core.WithPipelineLogger(logger),
		core.WithPipelineMetrics(c.metrics),
	)
	c.session = core.NewSession(c.client, c.controller,
		core.WithSessionLogger(logger),
		core.WithSessionPipeline(pipeline),
	)
	if o.watch {
		subOpts := []core.SubscriberOption{
			core.WithSubscriberLogger(logger),
			core.WithSubscriberMetrics(c.metrics),
			core.WithReconnectPolicy(cfg.Reconnect),
		}
		if o.clock != nil {
			subOpts = append(subOpts, core.WithClock(o.clock))
		}
		c.subscriber = core.NewSubscriber(c.client, c.controller, subOpts...)
	}
	return c, nil
}

// Start opens the state stream when watching is enabled.
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return errors.New("client stopped")
	}
	if c.started {
		c.logger.Warn("client start rejected", "reason", "already started")
		return errors.New("client already started")
	}
	c.started = true
	c.logger.Info("client start", "core_addr", c.cfg.Core.Addr, "watch", c.subscriber != nil)
	if c.subscriber != nil {
		if err := c.subscriber.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop halts the subscriber and closes the core connection. The connection
// is closed even when the subscriber does not exit before ctx ends; ctx.Err()
// is returned in that case.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	c.logger.Info("client stop requested")
	var stopErr error
	if c.subscriber != nil {
		done := make(chan struct{})
		go func() {
			c.subscriber.Stop()
			close(done)
		}()
		if ctx == nil {
			ctx = context.Background()
		}
		select {
		case <-done:
		case <-ctx.Done():
			c.logger.Warn("client stop timed out; closing connection anyway", "err", ctx.Err())
			stopErr = ctx.Err()
		}
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if c.closer != nil {
		if err := c.closer.Close(); err != nil {
			c.logger.Warn("core connection close failed", "err", err)
			stopErr = errors.Join(stopErr, err)
		}
	}
	if stopErr != nil {
		return stopErr
	}
	c.logger.Info("client stopped")
	return nil
}

// Controller returns the state owner.
func (c *Client) Controller() *core.Controller {
	return c.controller
}

// Session returns the command boundary.
func (c *Client) Session() *core.Session {
	return c.session
}

// Events returns the bus that republishes every state change.
func (c *Client) Events() *eventbus.Bus {
	return c.bus
}

// State returns the current lifecycle state.
func (c *Client) State() schema.CoreState {
	return c.controller.CurrentState()
}

// Connect runs the connect pipeline.
func (c *Client) Connect(ctx context.Context, req core.ConnectRequest) core.Outcome {
	return c.session.Connect(ctx, req)
}

// Disconnect runs the disconnect pipeline.
func (c *Client) Disconnect(ctx context.Context) core.Outcome {
	return c.session.Disconnect(ctx)
}

// Hydrate fetches the current settings and capabilities.
func (c *Client) Hydrate(ctx context.Context) core.Defaults {
	return c.session.Hydrate(ctx)
}

// WatchState opens a raw state stream on the core, independent of the
// subscriber.
func (c *Client) WatchState(ctx context.Context) (core.StateStream, error) {
	return c.client.WatchState(ctx)
}
