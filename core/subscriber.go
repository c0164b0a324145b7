package core

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/cenkalti/backoff/v5"

	"github.com/pppwaw/white-label-airport-core/internal/clock"
	"github.com/pppwaw/white-label-airport-core/internal/logx"
	"github.com/pppwaw/white-label-airport-core/internal/metrics"
	"github.com/pppwaw/white-label-airport-core/schema"
	"pkt.systems/pslog"
)

// Phase is the subscriber's connection phase.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseConnected  Phase = "connected"
	PhaseBackoff    Phase = "backoff"
	PhaseStopped    Phase = "stopped"
)

var (
	// ErrSubscriberStarted is returned by Start on a running subscriber.
	ErrSubscriberStarted = errors.New("subscriber already started")
	// ErrSubscriberStopped is returned by Start after Stop.
	ErrSubscriberStopped = errors.New("subscriber stopped")
)

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger sets the subscriber logger.
func WithSubscriberLogger(log pslog.Logger) SubscriberOption {
	return func(s *Subscriber) { s.log = log }
}

// WithSubscriberMetrics records reconnects and received messages.
func WithSubscriberMetrics(m *metrics.Metrics) SubscriberOption {
	return func(s *Subscriber) { s.metrics = m }
}

// WithReconnectPolicy sets the delay policy between attempts.
func WithReconnectPolicy(policy ReconnectPolicy) SubscriberOption {
	return func(s *Subscriber) { s.policy = policy }
}

// WithClock sets the clock used to schedule reconnects.
func WithClock(clk clock.Clock) SubscriberOption {
	return func(s *Subscriber) { s.clock = clk }
}

// Subscriber keeps exactly one state stream open and reopens it after every
// termination, clean end or error alike, until Stop is called. Each pushed
// report is forwarded to the sink; connection errors are never forwarded.
type Subscriber struct {
	source  StateSource
	sink    StateSink
	policy  ReconnectPolicy
	clock   clock.Clock
	log     pslog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	phase   Phase
	attempt uint64
	backoff backoff.BackOff
	baseCtx context.Context
	cancel  context.CancelFunc
	timer   clock.Timer
	wg      sync.WaitGroup
}

// NewSubscriber constructs an idle Subscriber.
func NewSubscriber(source StateSource, sink StateSink, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		source: source,
		sink:   sink,
		policy: DefaultReconnectPolicy(),
		clock:  clock.Real(),
		phase:  PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.policy = s.policy.Normalize()
	s.backoff = s.policy.NewBackOff()
	s.log = logx.OrDefault(s.log)
	return s
}

// Start opens the first stream. Cancelling ctx has the same effect as Stop
// except that it does not wait for the stream goroutine.
func (s *Subscriber) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	switch s.phase {
	case PhaseStopped:
		s.mu.Unlock()
		return ErrSubscriberStopped
	case PhaseIdle:
	default:
		s.mu.Unlock()
		return ErrSubscriberStarted
	}
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.log.Info("state subscriber starting", "delay", s.policy.Delay.String(), "multiplier", s.policy.Multiplier)
	s.connectLocked()
	done := s.baseCtx.Done()
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		<-done
		s.halt()
	}()
	return nil
}

// Stop halts all further attempts, tears down the live stream and waits for
// its goroutine to exit. It must not be called from a listener running on
// the subscriber's delivery path.
func (s *Subscriber) Stop() {
	s.halt()
	s.wg.Wait()
}

// Phase returns the current connection phase.
func (s *Subscriber) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Attempts returns how many streams have been opened so far.
func (s *Subscriber) Attempts() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *Subscriber) halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseStopped {
		return
	}
	prev := s.phase
	s.phase = PhaseStopped
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.log.Info("state subscriber stopped", "phase", string(prev), "attempts", s.attempt)
}

// connectLocked starts a new attempt. s.mu must be held.
func (s *Subscriber) connectLocked() {
	s.attempt++
	s.phase = PhaseConnecting
	s.timer = nil
	attempt := s.attempt
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.run(ctx, attempt)
	}()
}

func (s *Subscriber) reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseBackoff {
		return
	}
	s.connectLocked()
}

func (s *Subscriber) run(ctx context.Context, attempt uint64) {
	log := logx.WithAttempt(s.log, attempt)
	log.Debug("state stream connecting")
	stream, err := s.source.WatchState(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.terminated(log, metrics.ReasonOpenFailed, err)
		return
	}
	defer func() { _ = stream.Close() }()

	if !s.setPhase(PhaseConnecting, PhaseConnected) {
		return
	}
	log.Info("state stream connected")
	received := false
	for {
		info, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				s.terminated(log, metrics.ReasonEnded, nil)
			} else {
				s.terminated(log, metrics.ReasonFailed, err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !received {
			received = true
			s.resetBackoff()
		}
		s.metrics.IncStreamMessage()
		if !info.State.Valid() {
			log.Warn("state stream message ignored", "state", info.State.String())
			continue
		}
		log.Trace("state stream message", "state", info.State.String(), "message_type", string(info.MessageType))
		s.deliver(info.State)
	}
}

func (s *Subscriber) deliver(state schema.CoreState) {
	if s.Phase() == PhaseStopped {
		return
	}
	s.sink.ObserveRemoteState(state)
}

func (s *Subscriber) terminated(log pslog.Logger, reason string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseStopped {
		return
	}
	delay := s.backoff.NextBackOff()
	if delay < 0 {
		delay = s.policy.Delay
	}
	s.phase = PhaseBackoff
	s.timer = s.clock.AfterFunc(delay, s.reconnect)
	s.metrics.IncReconnect(reason)
	switch reason {
	case metrics.ReasonEnded:
		log.Info("state stream ended", "retry_in", delay.String())
	default:
		log.Warn("state stream failed", "reason", reason, "retry_in", delay.String(), "err", NewError(ErrorKindTransport, "watch state", err))
	}
}

func (s *Subscriber) setPhase(from, to Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != from {
		return false
	}
	s.phase = to
	return true
}

func (s *Subscriber) resetBackoff() {
	s.mu.Lock()
	s.backoff.Reset()
	s.mu.Unlock()
}
