package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Source   SourceConfig   `json:"source"`
	Poll     PollConfig     `json:"poll"`
	Registry RegistryConfig `json:"registry"`
	Expiry   ExpiryConfig   `json:"expiry"`
	Watchdog WatchdogConfig `json:"watchdog,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m") for the Telegram
	// long poller.
	PollTimeout string `json:"poll_timeout"`
	// RatePerSec bounds outbound sends (Telegram flood control). 0 uses the
	// default of 20 messages per second.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Journal bool        `json:"journal,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SourceConfig points at the appointment booking system.
//
// All durations are Go duration strings.
type SourceConfig struct {
	BaseURL string `json:"base_url"`
	// Timeout bounds one full fetch pass (entry page + location pages).
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// PollConfig controls the monitoring cycle.
type PollConfig struct {
	// Interval between cycle starts, e.g. "5m".
	Interval string `json:"interval"`
	// BackoffMin/BackoffMax bound the exponential backoff applied after a
	// failed source fetch.
	BackoffMin string `json:"backoff_min,omitempty"`
	BackoffMax string `json:"backoff_max,omitempty"`
}

// RegistryConfig controls the durable subscriber store.
//
// Driver values:
//   - "file": dependency-free journal + snapshot files
//   - "sqlite": SQLite database file
type RegistryConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	// PruneAfterCycles is how many consecutive cycles an appointment identity
	// may be absent from the source before its notification-history entries
	// are dropped. 0 uses the default of 12.
	PruneAfterCycles int `json:"prune_after_cycles,omitempty"`
}

// ExpiryConfig controls the daily sweep that deactivates subscribers whose
// deadline has passed.
type ExpiryConfig struct {
	Enabled bool `json:"enabled"`
	// At is the local wall-clock time of the sweep in HH:MM, default "00:00".
	At       string `json:"at,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type WatchdogConfig struct {
	Enabled bool `json:"enabled"`
}
