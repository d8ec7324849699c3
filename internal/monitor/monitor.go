// Package monitor runs the poll cycle: fetch the listing, match it against
// the subscriber snapshot, dispatch notifications, then prune stale
// bookkeeping. At most one cycle is in flight at any time.
package monitor

import (
	"context"
	"sync"
	"time"

	"terminbot/internal/eventbus"
	"terminbot/internal/match"
	"terminbot/internal/notify"
	"terminbot/internal/registry"
	"terminbot/internal/source"
	logx "terminbot/pkg/logx"
)

// Fetcher is the source adapter seen by the monitor.
type Fetcher interface {
	Fetch(ctx context.Context) ([]source.Appointment, error)
}

// Dispatcher delivers a batch of obligations.
type Dispatcher interface {
	Dispatch(ctx context.Context, obs []match.Obligation) []notify.Result
	DispatchGone(ctx context.Context, obs []match.Obligation) []notify.Result
}

type Config struct {
	// Interval is the fixed spacing between cycle starts.
	Interval time.Duration
	// BackoffMin/BackoffMax bound the backoff applied after a failed fetch.
	BackoffMin time.Duration
	BackoffMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 30 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Minute
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = c.BackoffMin
	}
	return c
}

type Monitor struct {
	fetch Fetcher
	reg   *registry.Registry
	disp  Dispatcher
	bus   eventbus.Bus
	log   logx.Logger

	mu  sync.Mutex
	cfg Config
}

func New(cfg Config, fetch Fetcher, reg *registry.Registry, disp Dispatcher, bus eventbus.Bus, log logx.Logger) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{
		fetch: fetch,
		reg:   reg,
		disp:  disp,
		bus:   bus,
		log:   log,
		cfg:   cfg.withDefaults(),
	}
}

// SetConfig applies new poll settings. The running loop picks them up at the
// next cycle boundary.
func (m *Monitor) SetConfig(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

func (m *Monitor) config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Run polls until ctx is canceled. The first cycle starts immediately.
// After a failed fetch the remainder of the cycle is skipped and the next
// attempt is delayed by jittered exponential backoff; a successful fetch
// resets the loop to the configured interval.
func (m *Monitor) Run(ctx context.Context) error {
	var failures int
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		start := time.Now()
		err := m.cycle(ctx)

		var wait time.Duration
		cfg := m.config()
		if err != nil {
			wait = backoffDelay(cfg, failures)
			failures++
			m.log.Warn("poll cycle failed", logx.Err(err), logx.Duration("backoff", wait), logx.Int("failures", failures))
		} else {
			failures = 0
			wait = cfg.Interval - time.Since(start)
			if wait < 0 {
				wait = 0
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// cycle runs one full pass: Fetching, Matching, Dispatching, Pruning.
func (m *Monitor) cycle(ctx context.Context) error {
	started := time.Now()

	apps, err := m.fetch.Fetch(ctx)
	if err != nil {
		if m.bus != nil {
			m.bus.Publish(eventbus.Event{Type: eventbus.TypeSourceFailed, Time: time.Now(), Data: map[string]any{
				"err": err.Error(), "rate_limited": source.IsRateLimited(err),
			}})
		}
		return err
	}

	snapshot := m.reg.Snapshot()
	obs := match.Compute(apps, snapshot)

	sent, failed := 0, 0
	if len(obs) > 0 {
		for _, res := range m.disp.Dispatch(ctx, obs) {
			if res.Err != nil {
				failed++
				continue
			}
			sent += res.Sent
		}
	}

	report, err := m.reg.ObserveCycle(ctx, apps)
	if err != nil {
		// Memory state is already advanced; a persistence hiccup should not
		// put the loop into backoff.
		m.log.Error("cycle persistence failed", logx.Uint64("cycle", report.Cycle), logx.Err(err))
	}
	if m.bus != nil && len(report.Pruned) > 0 {
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeRegistryPruned, Time: time.Now(), Data: map[string]any{
			"cycle": report.Cycle, "keys": len(report.Pruned),
		}})
	}

	goneSent := 0
	if goneObs := match.ComputeGone(report.Gone, snapshot); len(goneObs) > 0 {
		for _, res := range m.disp.DispatchGone(ctx, goneObs) {
			if res.Err == nil {
				goneSent += res.Sent
			}
		}
	}

	m.log.Debug("poll cycle completed",
		logx.Uint64("cycle", report.Cycle),
		logx.Int("appointments", len(apps)),
		logx.Int("subscribers", len(snapshot)),
		logx.Int("obligations", len(obs)),
		logx.Int("notified", sent),
		logx.Int("failed_sends", failed),
		logx.Int("gone", len(report.Gone)),
		logx.Int("gone_notices", goneSent),
		logx.Int("pruned", len(report.Pruned)),
		logx.Duration("took", time.Since(started)))
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleCompleted, Time: time.Now(), Data: map[string]any{
			"cycle": report.Cycle, "appointments": len(apps), "obligations": len(obs),
			"notified": sent, "failed_sends": failed, "gone": len(report.Gone), "pruned": len(report.Pruned),
		}})
	}
	return nil
}

// backoffDelay computes the wait after the n-th consecutive failure
// (20% jitter, same shape the supervisor uses for restarts).
func backoffDelay(cfg Config, failures int) time.Duration {
	wait := cfg.BackoffMin
	for i := 0; i < failures && wait < cfg.BackoffMax; i++ {
		wait *= 2
	}
	if wait > cfg.BackoffMax {
		wait = cfg.BackoffMax
	}
	if j := time.Duration(int64(wait) / 5); j > 0 {
		wait += time.Duration(time.Now().UnixNano() % int64(j+1))
	}
	if wait > cfg.BackoffMax {
		wait = cfg.BackoffMax
	}
	return wait
}
