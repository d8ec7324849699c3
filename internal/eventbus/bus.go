// Package eventbus decouples the poll cycle, dispatcher and registry from
// whoever wants to observe them. The app subscribes and logs.
package eventbus

import (
	"sync"
	"time"
)

// Type names one of the bot's internal happenings.
type Type string

const (
	// TypeCycleCompleted fires once per successful poll cycle.
	TypeCycleCompleted Type = "cycle.completed"
	// TypeSourceFailed fires when a fetch fails and the cycle is skipped.
	TypeSourceFailed Type = "source.failed"
	// TypeNotifySent and TypeNotifyFailed report new-appointment deliveries.
	TypeNotifySent   Type = "notify.sent"
	TypeNotifyFailed Type = "notify.failed"
	// TypeGoneSent and TypeGoneFailed report disappeared-appointment notices.
	TypeGoneSent   Type = "notify.gone"
	TypeGoneFailed Type = "notify.gone_failed"
	// TypeRegistryPruned fires when stale appointment bookkeeping is dropped.
	TypeRegistryPruned Type = "registry.pruned"
)

// Event carries one happening. Data holds small, loggable key/value pairs.
//
// Contract:
//   - Publish never blocks; a subscriber with a full buffer misses the event.
//   - Subscribers receive on the channel until they call unsubscribe.
type Event struct {
	Type Type
	Time time.Time
	Data map[string]any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines; delivery
// happens on the publisher's stack.
func New() Bus {
	return &memBus{}
}

type subscription struct {
	ch chan Event
}

type memBus struct {
	mu   sync.Mutex
	subs []*subscription
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	// Sends never block, so holding the lock through the fanout is fine and
	// guarantees no send races an unsubscribe's close.
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscription{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			for i, cur := range b.subs {
				if cur == s {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}
