package eventbus

import (
	"testing"
	"time"

	"github.com/pppwaw/white-label-airport-core/core"
	"github.com/pppwaw/white-label-airport-core/schema"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	controller := core.NewController()
	controller.Subscribe(bus)
	controller.ObserveRemoteState(schema.CoreStarted)

	select {
	case got := <-ch:
		if got.Change.State != schema.CoreStarted || got.Change.Source != core.SourceRemote {
			t.Fatalf("unexpected change: %+v", got.Change)
		}
		if got.Label != "Connected" {
			t.Fatalf("expected Connected label, got %q", got.Label)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
	if err := bus.OnStateChange(core.StateChange{State: schema.CoreStarting}); err != nil {
		t.Fatalf("publish after unsubscribe: %v", err)
	}
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	ch, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = bus.OnStateChange(core.StateChange{State: schema.CoreStarting})
		_ = bus.OnStateChange(core.StateChange{State: schema.CoreStarted})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full subscriber")
	}
	if bus.Dropped() != 1 {
		t.Fatalf("expected one dropped event, got %d", bus.Dropped())
	}
	if got := <-ch; got.Change.State != schema.CoreStarting {
		t.Fatalf("expected first event to be kept, got %v", got.Change.State)
	}
}

func TestFanout(t *testing.T) {
	bus := New(nil)
	first, cancelFirst := bus.Subscribe()
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe()
	defer cancelSecond()

	_ = bus.OnStateChange(core.StateChange{State: schema.CoreStopping})
	for _, ch := range []<-chan Event{first, second} {
		select {
		case got := <-ch:
			if got.Label != "Stopping" {
				t.Fatalf("unexpected label %q", got.Label)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber missed event")
		}
	}
}
