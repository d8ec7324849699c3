package eventbus

import (
	"testing"
)

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeCycleCompleted, Data: map[string]any{"cycle": 1}})
	b.Publish(Event{Type: TypeRegistryPruned}) // buffer full, dropped

	ev := <-ch
	if ev.Type != TypeCycleCompleted {
		t.Fatalf("got %q", ev.Type)
	}
	if ev.Time.IsZero() {
		t.Fatal("Publish must stamp a time")
	}
	select {
	case extra := <-ch:
		t.Fatalf("full-buffer publish must drop, got %q", extra.Type)
	default:
	}
}

func TestUnsubscribeStopsDeliveryAndCloses(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(4)
	unsub()
	unsub() // idempotent

	b.Publish(Event{Type: TypeNotifySent})
	if _, open := <-ch; open {
		t.Fatal("channel must be closed after unsubscribe")
	}
}
