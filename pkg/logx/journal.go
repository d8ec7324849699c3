package logx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
)

// journalWriter forwards zerolog events to the systemd journal.
//
// The journal already records timestamps and the unit name, so only the level,
// message and structured fields are forwarded. Levels map onto syslog
// priorities; journald handles filtering from there.
type journalWriter struct{}

func newJournalWriter() (*journalWriter, error) {
	if !journal.Enabled() {
		return nil, errors.New("journal socket not available")
	}
	return &journalWriter{}, nil
}

func (w *journalWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *journalWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	msg, vars := formatJournalJSON(p)
	if msg == "" {
		return len(p), nil
	}
	_ = journal.Send(msg, journalPriority(level), vars)
	return len(p), nil
}

func journalPriority(level zerolog.Level) journal.Priority {
	switch {
	case level >= zerolog.ErrorLevel:
		return journal.PriErr
	case level >= zerolog.WarnLevel:
		return journal.PriWarning
	case level >= zerolog.InfoLevel:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

func formatJournalJSON(p []byte) (string, map[string]string) {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return strings.TrimSpace(string(p)), nil
	}

	msg, _ := m["message"].(string)
	if msg == "" {
		msg, _ = m["msg"].(string)
	}

	vars := make(map[string]string, len(m))
	for k, v := range m {
		switch k {
		case "time", "level", "message", "msg":
			continue
		}
		// Journal field names must be uppercase [A-Z0-9_].
		name := strings.ToUpper(strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
				return r
			default:
				return '_'
			}
		}, k))
		if name == "" || name[0] >= '0' && name[0] <= '9' {
			continue
		}
		vars[name] = fmt.Sprint(v)
	}
	if len(vars) == 0 {
		vars = nil
	}
	return msg, vars
}
