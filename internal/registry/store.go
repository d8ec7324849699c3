package registry

import (
	"context"
	"errors"
	"strings"

	logx "terminbot/pkg/logx"
)

// Store is the write-through persistence API behind the Registry. The
// Registry owns all state in memory; the store only has to survive restarts.
type Store interface {
	// Load restores the persisted state. A fresh store returns an empty state.
	Load(ctx context.Context) (*State, error)
	// SaveSubscriber upserts one subscriber's deadline state. The notified
	// set is not part of the upsert; it changes only through MarkNotified
	// and UnmarkNotified.
	SaveSubscriber(ctx context.Context, sub Subscriber) error
	MarkNotified(ctx context.Context, chatID int64, key string) error
	UnmarkNotified(ctx context.Context, chatID int64, keys []string) error
	// SaveCycle persists the cycle counter, refreshes last-seen for the
	// touched keys and forgets the pruned ones.
	SaveCycle(ctx context.Context, cycle uint64, touched, pruned []string) error
	Close() error
}

// openStore initializes the configured store.
// It returns (nil, nil) if persistence is disabled.
func openStore(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" || driver == "memory" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFileStore(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLiteStore(cfg, log)
	default:
		return nil, errors.New("unknown registry driver: " + driver)
	}
}
