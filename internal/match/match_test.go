package match

import (
	"testing"
	"time"

	"terminbot/internal/registry"
	"terminbot/internal/source"
)

func date(y int, m time.Month, d int) source.Date { return source.NewDate(y, m, d) }

func app(loc string, y int, m time.Month, d int) source.Appointment {
	return source.Appointment{Location: loc, Date: date(y, m, d)}
}

func sub(id int64, deadline source.Date, notified ...string) registry.Subscriber {
	s := registry.Subscriber{ChatID: id, Deadline: deadline, Notified: map[string]struct{}{}}
	for _, k := range notified {
		s.Notified[k] = struct{}{}
	}
	return s
}

func TestComputeDeadlineInclusive(t *testing.T) {
	t.Parallel()

	apps := []source.Appointment{
		app("Bürgeramt Aegi", 2026, time.September, 9),
		app("Bürgeramt Aegi", 2026, time.September, 10),
		app("Bürgeramt Aegi", 2026, time.September, 11),
	}
	subs := []registry.Subscriber{sub(1, date(2026, time.September, 10))}

	got := Compute(apps, subs)
	if len(got) != 2 {
		t.Fatalf("got %d obligations, want 2: %+v", len(got), got)
	}
	for _, o := range got {
		if o.Appointment.Date.After(date(2026, time.September, 10)) {
			t.Fatalf("obligation past deadline: %+v", o)
		}
	}
}

func TestComputeSkipsNotified(t *testing.T) {
	t.Parallel()

	a := app("Bürgeramt Aegi", 2026, time.September, 3)
	b := app("Bürgeramt Podbi", 2026, time.September, 3)
	subs := []registry.Subscriber{sub(1, date(2026, time.September, 30), a.Key())}

	got := Compute([]source.Appointment{a, b}, subs)
	if len(got) != 1 || got[0].Appointment != b {
		t.Fatalf("got %+v, want only %+v", got, b)
	}
}

func TestComputePastDeadlineMatchesNothing(t *testing.T) {
	t.Parallel()

	apps := []source.Appointment{app("Bürgeramt Aegi", 2026, time.September, 3)}
	subs := []registry.Subscriber{sub(1, date(2026, time.January, 1))}

	if got := Compute(apps, subs); got != nil {
		t.Fatalf("past deadline produced obligations: %+v", got)
	}
}

func TestComputeMultipleSubscribers(t *testing.T) {
	t.Parallel()

	a := app("Bürgeramt Aegi", 2026, time.September, 3)
	b := app("Bürgeramt Podbi", 2026, time.September, 8)
	subs := []registry.Subscriber{
		sub(2, date(2026, time.September, 5)),
		sub(1, date(2026, time.September, 30)),
	}

	got := Compute([]source.Appointment{b, a}, subs)
	want := []Obligation{
		{ChatID: 1, Appointment: a},
		{ChatID: 1, Appointment: b},
		{ChatID: 2, Appointment: a},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d obligations, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("obligation %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestComputeDeterministicOrder(t *testing.T) {
	t.Parallel()

	apps := []source.Appointment{
		app("Bürgeramt Podbi", 2026, time.September, 3),
		app("Bürgeramt Aegi", 2026, time.September, 3),
	}
	subs := []registry.Subscriber{sub(1, date(2026, time.September, 30))}

	got := Compute(apps, subs)
	if len(got) != 2 || got[0].Appointment.Location != "Bürgeramt Aegi" {
		t.Fatalf("ties must order by location: %+v", got)
	}
}

func TestComputeEmptyInputs(t *testing.T) {
	t.Parallel()

	if got := Compute(nil, []registry.Subscriber{sub(1, date(2026, time.September, 30))}); got != nil {
		t.Fatalf("no appointments must yield nil, got %+v", got)
	}
	if got := Compute([]source.Appointment{app("x", 2026, time.September, 3)}, nil); got != nil {
		t.Fatalf("no subscribers must yield nil, got %+v", got)
	}
}

func TestComputeGoneOnlyNotified(t *testing.T) {
	t.Parallel()

	a := app("Bürgeramt Aegi", 2026, time.September, 3)
	b := app("Bürgeramt Podbi", 2026, time.September, 4)
	subs := []registry.Subscriber{
		sub(1, date(2026, time.September, 30), a.Key()),
		sub(2, date(2026, time.September, 30)),
	}

	got := ComputeGone([]source.Appointment{a, b}, subs)
	if len(got) != 1 {
		t.Fatalf("got %+v, want only the notified pairing", got)
	}
	if got[0].ChatID != 1 || got[0].Appointment != a {
		t.Fatalf("got %+v, want chat 1 / %+v", got[0], a)
	}
}

func TestComputeGoneRespectsDeadline(t *testing.T) {
	t.Parallel()

	a := app("Bürgeramt Aegi", 2026, time.September, 20)
	subs := []registry.Subscriber{sub(1, date(2026, time.September, 10), a.Key())}

	if got := ComputeGone([]source.Appointment{a}, subs); got != nil {
		t.Fatalf("appointment past the deadline must not produce a gone notice: %+v", got)
	}
	if got := ComputeGone(nil, subs); got != nil {
		t.Fatalf("empty gone list: %+v", got)
	}
}

func TestForChat(t *testing.T) {
	t.Parallel()

	a := app("Bürgeramt Aegi", 2026, time.September, 3)
	b := app("Bürgeramt Podbi", 2026, time.September, 8)
	obs := []Obligation{
		{ChatID: 1, Appointment: a},
		{ChatID: 2, Appointment: b},
		{ChatID: 1, Appointment: b},
	}
	got := ForChat(obs, 1)
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("ForChat = %+v", got)
	}
	if got := ForChat(obs, 3); got != nil {
		t.Fatalf("unknown chat must yield nil, got %+v", got)
	}
}
