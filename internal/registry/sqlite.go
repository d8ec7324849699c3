package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"terminbot/internal/source"
	logx "terminbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLiteStore(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (*State, error) {
	st := emptyState()

	var cycleStr string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM meta WHERE k = 'cycle'`).Scan(&cycleStr)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		c, perr := strconv.ParseUint(cycleStr, 10, 64)
		if perr != nil {
			return nil, fmt.Errorf("bad cycle counter %q: %w", cycleStr, perr)
		}
		st.Cycle = c
	}

	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, username, deadline FROM subscribers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sub      Subscriber
			username sql.NullString
			deadline sql.NullString
		)
		if err := rows.Scan(&sub.ChatID, &username, &deadline); err != nil {
			return nil, err
		}
		sub.Username = username.String
		if deadline.Valid && deadline.String != "" {
			d, perr := source.ParseISO(deadline.String)
			if perr != nil {
				return nil, fmt.Errorf("subscriber %d: bad deadline %q: %w", sub.ChatID, deadline.String, perr)
			}
			sub.Deadline = d
		}
		sub.Notified = map[string]struct{}{}
		st.Subscribers[sub.ChatID] = sub
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	nrows, err := s.db.QueryContext(ctx, `SELECT chat_id, key FROM notified`)
	if err != nil {
		return nil, err
	}
	defer nrows.Close()
	for nrows.Next() {
		var (
			chatID int64
			key    string
		)
		if err := nrows.Scan(&chatID, &key); err != nil {
			return nil, err
		}
		sub, ok := st.Subscribers[chatID]
		if !ok {
			// Orphan rows from a partially deleted subscriber are harmless;
			// skip them rather than resurrecting the chat.
			continue
		}
		sub.Notified[key] = struct{}{}
		st.Subscribers[chatID] = sub
	}
	if err := nrows.Err(); err != nil {
		return nil, err
	}

	srows, err := s.db.QueryContext(ctx, `SELECT key, last_cycle FROM seen`)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var (
			key  string
			last uint64
		)
		if err := srows.Scan(&key, &last); err != nil {
			return nil, err
		}
		st.Seen[key] = last
	}
	return st, srows.Err()
}

func (s *sqliteStore) SaveSubscriber(ctx context.Context, sub Subscriber) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	var deadline any
	if !sub.Deadline.IsZero() {
		deadline = sub.Deadline.ISO()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(chat_id, username, deadline, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET username=excluded.username, deadline=excluded.deadline, updated_at=excluded.updated_at`,
		sub.ChatID, nullStr(sub.Username), deadline, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *sqliteStore) MarkNotified(ctx context.Context, chatID int64, key string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notified(chat_id, key, at) VALUES(?,?,?)
		 ON CONFLICT(chat_id, key) DO NOTHING`,
		chatID, key, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *sqliteStore) UnmarkNotified(ctx context.Context, chatID int64, keys []string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM notified WHERE chat_id = ? AND key = ?`, chatID, key); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) SaveCycle(ctx context.Context, cycle uint64, touched, pruned []string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(k, v) VALUES('cycle', ?) ON CONFLICT(k) DO UPDATE SET v=excluded.v`,
		strconv.FormatUint(cycle, 10)); err != nil {
		return err
	}
	for _, key := range touched {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO seen(key, last_cycle) VALUES(?,?)
			 ON CONFLICT(key) DO UPDATE SET last_cycle=excluded.last_cycle`,
			key, cycle); err != nil {
			return err
		}
	}
	for _, key := range pruned {
		if _, err := tx.ExecContext(ctx, `DELETE FROM seen WHERE key = ?`, key); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
