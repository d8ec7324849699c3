// Package registry owns subscriber state: who monitors, until when, and
// which appointments they have already been told about.
//
// All state lives in memory behind one mutex; every mutation is written
// through to the configured Store so it survives restarts. The Registry is
// the only writer of its store.
package registry

import (
	"context"
	"sort"
	"sync"

	"terminbot/internal/source"
	logx "terminbot/pkg/logx"
)

type Registry struct {
	log   logx.Logger
	store Store

	pruneAfter uint64

	mu    sync.Mutex
	cycle uint64
	subs  map[int64]Subscriber
	seen  map[string]uint64
}

// Open loads persisted state and returns a ready Registry. With persistence
// disabled (driver "none"/"memory") the Registry starts empty every run.
func Open(cfg Config, log logx.Logger) (*Registry, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	store, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	st := emptyState()
	if store != nil {
		st, err = store.Load(context.Background())
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	pruneAfter := cfg.PruneAfterCycles
	if pruneAfter <= 0 {
		pruneAfter = defaultPruneAfterCycles
	}

	r := &Registry{
		log:        log,
		store:      store,
		pruneAfter: uint64(pruneAfter),
		cycle:      st.Cycle,
		subs:       st.Subscribers,
		seen:       st.Seen,
	}
	r.log.Info("registry opened",
		logx.Int("subscribers", len(r.subs)),
		logx.Int("seen", len(r.seen)),
		logx.Uint64("cycle", r.cycle))
	return r, nil
}

func (r *Registry) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}

// SetDeadline upserts a chat's monitoring deadline. Past dates are accepted;
// they simply never match anything. The notified set is kept, so changing
// the deadline never re-delivers an appointment.
func (r *Registry) SetDeadline(ctx context.Context, chatID int64, username string, deadline source.Date) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[chatID]
	if !ok {
		sub = Subscriber{ChatID: chatID, Notified: map[string]struct{}{}}
	}
	sub.Username = username
	sub.Deadline = deadline
	r.subs[chatID] = sub

	if r.store == nil {
		return nil
	}
	return r.store.SaveSubscriber(ctx, sub)
}

// ClearDeadline stops monitoring for a chat. It reports whether a deadline
// was active. The record and its notified set are retained; identity pruning
// eventually empties the set.
func (r *Registry) ClearDeadline(ctx context.Context, chatID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[chatID]
	if !ok || sub.Deadline.IsZero() {
		return false, nil
	}
	sub.Deadline = source.Date{}
	r.subs[chatID] = sub

	if r.store == nil {
		return true, nil
	}
	return true, r.store.SaveSubscriber(ctx, sub)
}

// Deadline returns a chat's active deadline, if any.
func (r *Registry) Deadline(chatID int64) (source.Date, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[chatID]
	if !ok || sub.Deadline.IsZero() {
		return source.Date{}, false
	}
	return sub.Deadline, true
}

// Snapshot returns deep copies of all subscribers with an active deadline,
// ordered by chat id. Mutating the result does not touch registry state.
func (r *Registry) Snapshot() []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.Deadline.IsZero() {
			continue
		}
		out = append(out, sub.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// MarkNotified records a confirmed delivery. Call it only after the send
// succeeded.
func (r *Registry) MarkNotified(ctx context.Context, chatID int64, a source.Appointment) error {
	key := a.Key()

	r.mu.Lock()
	sub, ok := r.subs[chatID]
	if !ok {
		sub = Subscriber{ChatID: chatID, Notified: map[string]struct{}{}}
		r.subs[chatID] = sub
	}
	sub.Notified[key] = struct{}{}
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	return r.store.MarkNotified(ctx, chatID, key)
}

func (r *Registry) WasNotified(chatID int64, a source.Appointment) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[chatID]
	if !ok {
		return false
	}
	_, yes := sub.Notified[a.Key()]
	return yes
}

// CycleReport summarizes one ObserveCycle pass.
type CycleReport struct {
	Cycle  uint64
	Gone   []source.Appointment // listed last cycle, absent now
	Pruned []string             // appointment keys dropped from bookkeeping
}

// ObserveCycle advances the poll cycle counter, refreshes last-seen for the
// appointments currently listed and prunes bookkeeping for identities that
// have been absent longer than the configured number of cycles. Pruned keys
// are also removed from every subscriber's notified set, so an appointment
// that later reappears counts as new again.
//
// The report names the appointments that just disappeared: seen in the
// previous cycle but missing from this one. They stay in the bookkeeping
// until pruned, so each disappearance is reported exactly once.
func (r *Registry) ObserveCycle(ctx context.Context, present []source.Appointment) (CycleReport, error) {
	r.mu.Lock()

	r.cycle++
	touched := make([]string, 0, len(present))
	for _, a := range present {
		key := a.Key()
		if _, dup := r.seen[key]; dup && r.seen[key] == r.cycle {
			continue
		}
		r.seen[key] = r.cycle
		touched = append(touched, key)
	}

	var gone []source.Appointment
	for key, last := range r.seen {
		if last != r.cycle-1 {
			continue
		}
		a, err := source.ParseKey(key)
		if err != nil {
			continue
		}
		gone = append(gone, a)
	}
	sort.Slice(gone, func(i, j int) bool {
		if gone[i].Date != gone[j].Date {
			return gone[i].Date.Before(gone[j].Date)
		}
		return gone[i].Location < gone[j].Location
	})

	var pruned []string
	for key, last := range r.seen {
		if r.cycle-last > r.pruneAfter {
			delete(r.seen, key)
			pruned = append(pruned, key)
		}
	}
	sort.Strings(pruned)

	unmark := map[int64][]string{}
	if len(pruned) > 0 {
		for id, sub := range r.subs {
			for _, key := range pruned {
				if _, ok := sub.Notified[key]; ok {
					delete(sub.Notified, key)
					unmark[id] = append(unmark[id], key)
				}
			}
		}
	}
	report := CycleReport{Cycle: r.cycle, Gone: gone, Pruned: pruned}
	r.mu.Unlock()

	if len(pruned) > 0 {
		r.log.Info("pruned stale appointments", logx.Int("count", len(pruned)), logx.Uint64("cycle", report.Cycle))
	}

	if r.store == nil {
		return report, nil
	}
	if err := r.store.SaveCycle(ctx, report.Cycle, touched, pruned); err != nil {
		return report, err
	}
	for id, keys := range unmark {
		if err := r.store.UnmarkNotified(ctx, id, keys); err != nil {
			return report, err
		}
	}
	return report, nil
}

// ExpiredBefore returns copies of subscribers whose deadline lies strictly
// before the given date. Used by the daily expiry sweep.
func (r *Registry) ExpiredBefore(day source.Date) []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Subscriber
	for _, sub := range r.subs {
		if !sub.Deadline.IsZero() && sub.Deadline.Before(day) {
			out = append(out, sub.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// Active reports how many chats currently monitor.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sub := range r.subs {
		if !sub.Deadline.IsZero() {
			n++
		}
	}
	return n
}
