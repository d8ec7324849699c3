package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration reads one of the config's duration strings. Unset (or zero)
// falls back to the given default; negative values are rejected.
func Duration(path, raw string, fallback time.Duration) (time.Duration, error) {
	d, err := parseDuration(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return fallback, nil
	}
	return d, nil
}

// CheckDurations validates every duration string in the config. Unset
// fields pass; defaults are applied later, at the point of use.
func (c *Config) CheckDurations() error {
	fields := []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"source.timeout", c.Source.Timeout},
		{"poll.interval", c.Poll.Interval},
		{"poll.backoff_min", c.Poll.BackoffMin},
		{"poll.backoff_max", c.Poll.BackoffMax},
		{"registry.busy_timeout", c.Registry.BusyTimeout},
	}
	for _, f := range fields {
		if _, err := parseDuration(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
