package eventbus

import (
	"context"
	"sync"

	"github.com/pppwaw/white-label-airport-core/core"
	"pkt.systems/pslog"
)

// Event is a state change as seen by a presentation layer.
type Event struct {
	Change core.StateChange
	Label  string
}

// Bus fans controller state changes out to buffered subscriber channels. It
// implements core.Listener and never blocks notification: a subscriber whose
// buffer is full misses the event.
type Bus struct {
	mu      sync.Mutex
	subs    map[chan Event]struct{}
	log     pslog.Logger
	depth   int
	dropped uint64
}

var _ core.Listener = (*Bus)(nil)

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[chan Event]struct{}),
		log:   logger,
		depth: 64,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel func
// that closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	b.log.Debug("eventbus subscribe", "subs", count)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
			b.log.Debug("eventbus unsubscribe")
		})
	}
}

// OnStateChange publishes a controller transition.
func (b *Bus) OnStateChange(change core.StateChange) error {
	b.publish(Event{Change: change, Label: change.State.Label()})
	return nil
}

// Dropped returns how many deliveries were skipped because a subscriber
// buffer was full.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	dropped := 0
	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.dropped += uint64(dropped)
	b.mu.Unlock()
	if dropped > 0 {
		b.log.Trace("eventbus dropped", "count", dropped, "state", event.Change.State.String())
	}
}
