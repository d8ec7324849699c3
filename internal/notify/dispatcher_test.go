package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"terminbot/internal/format"
	"terminbot/internal/match"
	"terminbot/internal/registry"
	"terminbot/internal/source"
	"terminbot/internal/transport"
	logx "terminbot/pkg/logx"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    map[int64][]string
	failFor map[int64]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: map[int64][]string{}, failFor: map[int64]error{}}
}

func (f *fakeSender) SendText(_ context.Context, to transport.Recipient, text string, _ *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[to.ChatID]; ok {
		return err
	}
	f.sent[to.ChatID] = append(f.sent[to.ChatID], text)
	return nil
}

func render(obs []match.Obligation, chatID int64) string {
	return format.NewAppointments(match.ForChat(obs, chatID))
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.Open(registry.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func ob(chatID int64, loc string, day int) match.Obligation {
	return match.Obligation{ChatID: chatID, Appointment: source.Appointment{
		Location: loc, Date: source.NewDate(2026, time.September, day),
	}}
}

func TestDispatchMarksOnlyConfirmedSends(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := testRegistry(t)
	sender := newFakeSender()
	sender.failFor[2] = errors.New("blocked by user")

	d := New(sender, reg, nil, render, logx.Nop())
	obs := []match.Obligation{
		ob(1, "Bürgeramt Aegi", 3),
		ob(1, "Bürgeramt Podbi", 5),
		ob(2, "Bürgeramt Aegi", 3),
		ob(3, "Bürgeramt Aegi", 3),
	}

	results := d.Dispatch(ctx, obs)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3: %+v", len(results), results)
	}

	byChat := map[int64]Result{}
	for _, r := range results {
		byChat[r.ChatID] = r
	}
	if r := byChat[1]; r.Err != nil || r.Sent != 2 {
		t.Fatalf("chat 1 result = %+v", r)
	}
	if r := byChat[2]; r.Err == nil || r.Sent != 0 {
		t.Fatalf("chat 2 must fail with nothing marked: %+v", r)
	}
	if r := byChat[3]; r.Err != nil || r.Sent != 1 {
		t.Fatalf("chat 3 must succeed despite chat 2 failing: %+v", r)
	}

	if !reg.WasNotified(1, obs[0].Appointment) || !reg.WasNotified(1, obs[1].Appointment) {
		t.Fatal("confirmed sends must be marked notified")
	}
	if reg.WasNotified(2, obs[2].Appointment) {
		t.Fatal("failed send must not be marked notified")
	}
	if !reg.WasNotified(3, obs[3].Appointment) {
		t.Fatal("chat 3 send must be marked notified")
	}
}

func TestDispatchOneMessagePerChat(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	sender := newFakeSender()
	d := New(sender, reg, nil, render, logx.Nop())

	d.Dispatch(context.Background(), []match.Obligation{
		ob(1, "Bürgeramt Aegi", 3),
		ob(1, "Bürgeramt Aegi", 4),
		ob(1, "Bürgeramt Podbi", 5),
	})

	if got := len(sender.sent[1]); got != 1 {
		t.Fatalf("chat 1 received %d messages, want 1 combined message", got)
	}
}

func TestDispatchGoneSendsWithoutMarking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := testRegistry(t)
	sender := newFakeSender()

	renderGone := func(obs []match.Obligation, chatID int64) string {
		return format.GoneAppointments(match.ForChat(obs, chatID))
	}
	d := New(sender, reg, nil, render, logx.Nop(), WithGoneRender(renderGone))

	obs := []match.Obligation{
		ob(1, "Bürgeramt Aegi", 3),
		ob(1, "Bürgeramt Podbi", 5),
	}
	results := d.DispatchGone(ctx, obs)
	if len(results) != 1 || results[0].Err != nil || results[0].Sent != 2 {
		t.Fatalf("results = %+v", results)
	}
	if got := len(sender.sent[1]); got != 1 {
		t.Fatalf("chat 1 received %d messages, want 1 combined notice", got)
	}
	// A gone notice is informational: the notified bookkeeping stays as it is.
	if reg.WasNotified(1, obs[0].Appointment) || reg.WasNotified(1, obs[1].Appointment) {
		t.Fatal("gone notices must not touch the notified set")
	}
}

func TestDispatchGoneWithoutRenderer(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	d := New(newFakeSender(), reg, nil, render, logx.Nop())
	if got := d.DispatchGone(context.Background(), []match.Obligation{ob(1, "Bürgeramt Aegi", 3)}); got != nil {
		t.Fatalf("without a renderer DispatchGone must be inert, got %+v", got)
	}
}

func TestDispatchEmptyBatch(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	d := New(newFakeSender(), reg, nil, render, logx.Nop())
	if got := d.Dispatch(context.Background(), nil); got != nil {
		t.Fatalf("empty batch must yield nil results, got %+v", got)
	}
}

func TestDispatchStopsOnCanceledContext(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	sender := newFakeSender()
	d := New(sender, reg, nil, render, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := d.Dispatch(ctx, []match.Obligation{
		ob(1, "Bürgeramt Aegi", 3),
		ob(2, "Bürgeramt Aegi", 3),
	})
	// The in-flight chat is finished, the batch must not continue past it.
	if len(results) != 1 {
		t.Fatalf("canceled context must stop the batch after one result, got %+v", results)
	}
}
