package core

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pppwaw/white-label-airport-core/internal/logx"
	"github.com/pppwaw/white-label-airport-core/schema"
	"pkt.systems/pslog"
)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session logger.
func WithSessionLogger(log pslog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithSessionPipeline sets the pipeline used for user commands.
func WithSessionPipeline(p *Pipeline) SessionOption {
	return func(s *Session) { s.pipeline = p }
}

// Session is the boundary a presentation layer drives. User commands are
// serialized so two clicks cannot interleave conflicting remote calls, and a
// successful run's carried state is forwarded to the controller.
type Session struct {
	client     CoreClient
	controller *Controller
	pipeline   *Pipeline
	log        pslog.Logger

	runMu sync.Mutex
}

// NewSession constructs a Session.
func NewSession(client CoreClient, controller *Controller, opts ...SessionOption) *Session {
	s := &Session{client: client, controller: controller}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logx.OrDefault(s.log)
	if s.pipeline == nil {
		s.pipeline = NewPipeline(WithPipelineLogger(s.log))
	}
	return s
}

// Controller returns the session's state owner.
func (s *Session) Controller() *Controller {
	return s.controller
}

// Connect applies settings, parses the configuration and starts the core.
func (s *Session) Connect(ctx context.Context, req ConnectRequest) Outcome {
	return s.Run(ctx, PipelineConnect, ConnectSteps(s.client, req))
}

// Disconnect stops the core.
func (s *Session) Disconnect(ctx context.Context) Outcome {
	return s.Run(ctx, PipelineDisconnect, DisconnectSteps(s.client))
}

// Run executes a named step sequence. On success a state carried by the final
// response is forwarded to ObserveLocalOutcome; a failed run leaves the
// current state untouched.
func (s *Session) Run(ctx context.Context, name string, steps []Step) Outcome {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	out := s.pipeline.Run(ctx, name, steps)
	if state, ok := out.State(); ok && s.controller != nil {
		s.controller.ObserveLocalOutcome(state)
	}
	return out
}

// Defaults holds the values fetched when a presentation opens.
type Defaults struct {
	Settings        schema.SettingsResponse
	SettingsErr     error
	Capabilities    schema.Capabilities
	CapabilitiesErr error
}

// Hydrate fetches the current settings and capabilities concurrently. Each
// fetch fails independently and never cancels the other.
func (s *Session) Hydrate(ctx context.Context) Defaults {
	var out Defaults
	var g errgroup.Group
	g.Go(func() error {
		out.Settings, out.SettingsErr = s.client.Settings(ctx)
		if out.SettingsErr != nil {
			s.log.Warn("fetch settings failed", "err", out.SettingsErr)
		}
		return nil
	})
	g.Go(func() error {
		out.Capabilities, out.CapabilitiesErr = s.client.Capabilities(ctx)
		if out.CapabilitiesErr != nil {
			s.log.Warn("fetch capabilities failed", "err", out.CapabilitiesErr)
		}
		return nil
	})
	_ = g.Wait()
	return out
}
