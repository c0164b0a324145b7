package core

import (
	"fmt"
	"sync"

	"github.com/pppwaw/white-label-airport-core/internal/logx"
	"github.com/pppwaw/white-label-airport-core/internal/metrics"
	"github.com/pppwaw/white-label-airport-core/schema"
	"pkt.systems/pslog"
)

// Source identifies which entry point produced a state change.
type Source string

const (
	// SourceRemote marks states pushed by the core over the state stream.
	SourceRemote Source = "remote"
	// SourceLocal marks states carried by a command pipeline response.
	SourceLocal Source = "local"
)

// StateChange is delivered to listeners once per accepted transition.
type StateChange struct {
	State      schema.CoreState
	Previous   schema.CoreState
	Source     Source
	Generation uint64
}

// Listener reacts to state changes. A returned error or a panic is logged
// and does not affect other listeners.
type Listener interface {
	OnStateChange(change StateChange) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(change StateChange) error

// OnStateChange calls f.
func (f ListenerFunc) OnStateChange(change StateChange) error {
	return f(change)
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithControllerLogger sets the controller logger.
func WithControllerLogger(log pslog.Logger) ControllerOption {
	return func(c *Controller) { c.log = log }
}

// WithControllerMetrics records transitions and listener failures.
func WithControllerMetrics(m *metrics.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// WithInitialState overrides the Stopped initial state.
func WithInitialState(state schema.CoreState) ControllerOption {
	return func(c *Controller) { c.state = state }
}

// Controller is the single owner of the current lifecycle state. It merges
// pushes from the subscriber with pipeline outcomes and republishes every
// change to its listeners. No transition graph is enforced; the core is the
// authority on which transitions are legal.
//
// Listeners run synchronously while the notify lock is held, so a listener
// may call CurrentState, Generation, Subscribe or an unsubscribe func, but
// must not call ObserveRemoteState or ObserveLocalOutcome.
type Controller struct {
	log     pslog.Logger
	metrics *metrics.Metrics

	// notifyMu makes update + notification one step for concurrent observers.
	notifyMu sync.Mutex

	mu         sync.RWMutex
	state      schema.CoreState
	generation uint64
	listeners  []listenerEntry
	nextID     uint64
}

type listenerEntry struct {
	id       uint64
	listener Listener
}

// NewController constructs a Controller in the Stopped state.
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{state: schema.CoreStopped}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logx.OrDefault(c.log)
	return c
}

// ObserveRemoteState records a state pushed by the core. It reports whether
// listeners were notified.
func (c *Controller) ObserveRemoteState(state schema.CoreState) bool {
	return c.observe(state, SourceRemote)
}

// ObserveLocalOutcome records a state carried by a pipeline response. It
// reports whether listeners were notified.
func (c *Controller) ObserveLocalOutcome(state schema.CoreState) bool {
	return c.observe(state, SourceLocal)
}

// CurrentState returns the most recently observed state.
func (c *Controller) CurrentState() schema.CoreState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Generation returns the number of transitions published so far.
func (c *Controller) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Subscribe registers a listener and returns a func that removes it. The
// returned func is safe to call more than once.
func (c *Controller) Subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listenerEntry{id: id, listener: listener})
	count := len(c.listeners)
	c.mu.Unlock()
	c.log.Debug("state listener subscribed", "listeners", count)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			for i, entry := range c.listeners {
				if entry.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					break
				}
			}
			count := len(c.listeners)
			c.mu.Unlock()
			c.log.Debug("state listener unsubscribed", "listeners", count)
		})
	}
}

func (c *Controller) observe(state schema.CoreState, source Source) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if state == c.state {
		c.mu.Unlock()
		c.log.Trace("core state unchanged", "state", state.String(), "source", source)
		return false
	}
	change := StateChange{
		State:    state,
		Previous: c.state,
		Source:   source,
	}
	c.state = state
	c.generation++
	change.Generation = c.generation
	listeners := make([]listenerEntry, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	c.log.Info("core state changed", "state", state.String(), "previous", change.Previous.String(), "source", source, "generation", change.Generation)
	c.metrics.ObserveTransition(string(source), state.String(), int(state))
	for _, entry := range listeners {
		if err := c.notify(entry.listener, change); err != nil {
			c.metrics.IncListenerFailure()
			c.log.Warn("state listener failed", "listener", entry.id, "state", state.String(), "err", err)
		}
	}
	return true
}

func (c *Controller) notify(listener Listener, change StateChange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrorKindListener, "notify", fmt.Errorf("listener panic: %v", r))
		}
	}()
	if err := listener.OnStateChange(change); err != nil {
		return NewError(ErrorKindListener, "notify", err)
	}
	return nil
}
