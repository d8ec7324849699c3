package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const yamlConfig = `
telegram:
  token: "123:abc"
  poll_timeout: "10s"
logging:
  level: "info"
  console: true
  journal: true
  file:
    enabled: false
    path: ""
source:
  base_url: "https://example.invalid/termine"
  timeout: "45s"
poll:
  interval: "5m"
  backoff_min: "30s"
  backoff_max: "30m"
registry:
  driver: "sqlite"
  path: "/var/lib/terminbot/registry.sqlite"
  busy_timeout: "5s"
  prune_after_cycles: 12
expiry:
  enabled: true
  at: "00:00"
  timezone: "Europe/Berlin"
`

func TestParseYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", yamlConfig))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Poll.Interval != "5m" || cfg.Registry.Driver != "sqlite" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.Expiry.Enabled || cfg.Expiry.Timezone != "Europe/Berlin" {
		t.Fatalf("expiry = %+v", cfg.Expiry)
	}
	if cfg.Registry.PruneAfterCycles != 12 {
		t.Fatalf("prune_after_cycles = %d", cfg.Registry.PruneAfterCycles)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.json",
		`{"telegram":{"token":"t","poll_timeout":"5s"},"logging":{"level":"debug","console":true,"file":{"enabled":false,"path":""}},"source":{"base_url":"https://x"},"poll":{"interval":"1m"},"registry":{"driver":"file","path":"/tmp/r"},"expiry":{"enabled":false}}`))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Registry.Driver != "file" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", yamlConfig+"\nsurprise: true\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown top-level key must be rejected")
	}

	m2 := NewManager(writeConfig(t, "config2.yaml", strings.Replace(yamlConfig, "base_url:", "base_uri:", 1)))
	if _, err := m2.Parse(); err == nil {
		t.Fatal("unknown nested key must be rejected")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.json", `{"telegram":{"token":"t"}}{"extra":1}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("trailing JSON must be rejected")
	}
}

func TestLoadCommitGet(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", yamlConfig))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	if d, err := Duration("poll.interval", "90s", time.Minute); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := Duration("poll.interval", "soon", time.Minute); err == nil {
		t.Fatal("expected error for junk duration")
	}
	if _, err := Duration("poll.interval", "-5s", time.Minute); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if d, err := Duration("poll.interval", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default not applied: %v, %v", d, err)
	}
}

func TestCheckDurations(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	if err := cfg.CheckDurations(); err != nil {
		t.Fatalf("empty fields must pass: %v", err)
	}
	cfg.Poll.BackoffMin = "quick"
	if err := cfg.CheckDurations(); err == nil || !strings.Contains(err.Error(), "poll.backoff_min") {
		t.Fatalf("err = %v, want the offending field named", err)
	}
}

func TestSubscribePublishDropsOldest(t *testing.T) {
	t.Parallel()

	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{Telegram: TelegramConfig{Token: "first"}}
	second := &Config{Telegram: TelegramConfig{Token: "second"}}
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got.Telegram.Token != "second" {
		t.Fatalf("slow subscriber must see the latest config, got %q", got.Telegram.Token)
	}
}
