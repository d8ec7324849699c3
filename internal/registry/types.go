package registry

import (
	"errors"
	"time"

	"terminbot/internal/source"
)

var ErrClosed = errors.New("registry store closed")

// Config configures the registry's persistence.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//   - "" or "none" or "memory": no persistence (state is lost on restart)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// PruneAfterCycles is how many poll cycles an appointment may stay
	// absent from the source before its notification bookkeeping is
	// dropped. 0 means the default.
	PruneAfterCycles int
}

const defaultPruneAfterCycles = 12

// Subscriber is one chat's monitoring state. A zero Deadline means the chat
// is known but not currently monitoring.
type Subscriber struct {
	ChatID   int64
	Username string
	Deadline source.Date
	Notified map[string]struct{} // appointment keys already delivered
}

func (s Subscriber) Active() bool { return !s.Deadline.IsZero() }

func (s Subscriber) clone() Subscriber {
	out := s
	out.Notified = make(map[string]struct{}, len(s.Notified))
	for k := range s.Notified {
		out.Notified[k] = struct{}{}
	}
	return out
}

// State is everything a store must restore on startup.
type State struct {
	Cycle       uint64
	Subscribers map[int64]Subscriber
	Seen        map[string]uint64 // appointment key -> cycle it was last listed in
}

func emptyState() *State {
	return &State{
		Subscribers: map[int64]Subscriber{},
		Seen:        map[string]uint64{},
	}
}
