package logx

import (
	"testing"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
)

func TestFormatJournalJSON(t *testing.T) {
	t.Parallel()

	line := []byte(`{"level":"info","time":"2026-08-29T10:00:00Z","message":"cycle completed","comp":"monitor","new.count":3}`)
	msg, vars := formatJournalJSON(line)
	if msg != "cycle completed" {
		t.Fatalf("msg = %q", msg)
	}
	if vars["COMP"] != "monitor" {
		t.Fatalf("vars = %#v", vars)
	}
	if vars["NEW_COUNT"] != "3" {
		t.Fatalf("field name not sanitized: %#v", vars)
	}
	if _, ok := vars["TIME"]; ok {
		t.Fatalf("time should be dropped, got %#v", vars)
	}
}

func TestFormatJournalJSONPlainText(t *testing.T) {
	t.Parallel()

	msg, vars := formatJournalJSON([]byte("not json at all\n"))
	if msg != "not json at all" || vars != nil {
		t.Fatalf("got %q %#v", msg, vars)
	}
}

func TestJournalPriority(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level zerolog.Level
		want  journal.Priority
	}{
		{zerolog.DebugLevel, journal.PriDebug},
		{zerolog.InfoLevel, journal.PriInfo},
		{zerolog.WarnLevel, journal.PriWarning},
		{zerolog.ErrorLevel, journal.PriErr},
		{zerolog.FatalLevel, journal.PriErr},
	}
	for _, tc := range cases {
		if got := journalPriority(tc.level); got != tc.want {
			t.Fatalf("level %s: got %d want %d", tc.level, got, tc.want)
		}
	}
}
