package format

import (
	"strings"
	"testing"
	"time"

	"terminbot/internal/source"
)

func app(loc string, y int, m time.Month, d int) source.Appointment {
	return source.Appointment{Location: loc, Date: source.NewDate(y, m, d)}
}

func TestNewAppointmentsGroupsByLocation(t *testing.T) {
	t.Parallel()

	got := NewAppointments([]source.Appointment{
		app("Bürgeramt Podbi", 2026, time.September, 5),
		app("Bürgeramt Aegi", 2026, time.September, 3),
		app("Bürgeramt Aegi", 2026, time.September, 1),
	})

	want := "<b><u>Neue Termine:</u></b>\n" +
		"🏢 <b>Bürgeramt Aegi:</b>\n" +
		"• 01.09.2026\n" +
		"• 03.09.2026\n" +
		"🏢 <b>Bürgeramt Podbi:</b>\n" +
		"• 05.09.2026\n"
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestNewAppointmentsEmpty(t *testing.T) {
	t.Parallel()
	if got := NewAppointments(nil); got != "" {
		t.Fatalf("empty input must render nothing, got %q", got)
	}
}

func TestGoneAppointments(t *testing.T) {
	t.Parallel()

	got := GoneAppointments([]source.Appointment{app("Bürgeramt Aegi", 2026, time.September, 3)})
	if !strings.HasPrefix(got, "<b><u>Diese Termine sind weg:</u></b>\n") {
		t.Fatalf("missing heading: %q", got)
	}
	if !strings.Contains(got, "03.09.2026") {
		t.Fatalf("missing date: %q", got)
	}
	if GoneAppointments(nil) != "" {
		t.Fatal("empty input must render empty")
	}
}

func TestLocationBlockShortensLongLists(t *testing.T) {
	t.Parallel()

	var apps []source.Appointment
	for day := 1; day <= 8; day++ {
		apps = append(apps, app("Bürgeramt Aegi", 2026, time.September, day))
	}
	got := NewAppointments(apps)

	if !strings.Contains(got, "• 05.09.2026\n") {
		t.Fatalf("first five dates must be listed:\n%s", got)
	}
	if strings.Contains(got, "06.09.2026") {
		t.Fatalf("dates past the cut must not be listed:\n%s", got)
	}
	if !strings.Contains(got, "<i>3 weitere Termine</i>") {
		t.Fatalf("missing shortening line:\n%s", got)
	}
}

func TestLocationBlockSingularRest(t *testing.T) {
	t.Parallel()

	var apps []source.Appointment
	for day := 1; day <= 6; day++ {
		apps = append(apps, app("Bürgeramt Aegi", 2026, time.September, day))
	}
	got := NewAppointments(apps)
	if !strings.Contains(got, "<i>Ein weiterer Termin</i>") {
		t.Fatalf("single remaining date must use the singular form:\n%s", got)
	}
}

func TestEarliestCapsAndOrders(t *testing.T) {
	t.Parallel()

	var apps []source.Appointment
	for day := 20; day >= 1; day-- {
		apps = append(apps, app("Bürgeramt Aegi", 2026, time.September, day))
	}
	got := Earliest(apps, 10)

	if !strings.HasPrefix(got, "<b><u>Die 10 frühesten Termine:</u></b>\n") {
		t.Fatalf("bad heading:\n%s", got)
	}
	if strings.Contains(got, "11.09.2026") {
		t.Fatalf("appointments past the cap leaked in:\n%s", got)
	}
	// 10 dates at one location: 5 listed, 5 summarized.
	if !strings.Contains(got, "<i>5 weitere Termine</i>") {
		t.Fatalf("expected summarized tail:\n%s", got)
	}
}

func TestEarliestSingular(t *testing.T) {
	t.Parallel()

	got := Earliest([]source.Appointment{app("Bürgeramt Aegi", 2026, time.September, 3)}, 10)
	if !strings.HasPrefix(got, "<b><u>Der früheste Termin:</u></b>\n") {
		t.Fatalf("bad singular heading:\n%s", got)
	}
}

func TestEarliestEmpty(t *testing.T) {
	t.Parallel()

	got := Earliest(nil, 10)
	if got != "Momentan gibt es leider keine Termine." {
		t.Fatalf("got %q", got)
	}
}

func TestLocationNameIsEscaped(t *testing.T) {
	t.Parallel()

	got := NewAppointments([]source.Appointment{app("Amt <Mitte> & Co", 2026, time.September, 3)})
	if !strings.Contains(got, "Amt &lt;Mitte&gt; &amp; Co") {
		t.Fatalf("location name must be HTML-escaped:\n%s", got)
	}
}

func TestUsageMentionsExample(t *testing.T) {
	t.Parallel()

	got := Usage(source.NewDate(2026, time.September, 10))
	if !strings.Contains(got, "/deadline 10.09.2026") {
		t.Fatalf("usage must show the example deadline:\n%s", got)
	}
	if !strings.Contains(got, "/stop") {
		t.Fatalf("usage must mention /stop:\n%s", got)
	}
}
