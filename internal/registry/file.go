package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"terminbot/internal/source"
	logx "terminbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot of the full state)
//   - <prefix>.journal.jsonl (append-only journal since the snapshot)
//
// The journal is compacted into the snapshot every compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	state  *State
	writes int
}

const compactEvery = 500

type journalRecord struct {
	Op       string   `json:"op"` // sub | mark | unmark | cycle
	ChatID   int64    `json:"chat_id,omitempty"`
	Username string   `json:"username,omitempty"`
	Deadline string   `json:"deadline,omitempty"`
	Key      string   `json:"key,omitempty"`
	Keys     []string `json:"keys,omitempty"`
	Cycle    uint64   `json:"cycle,omitempty"`
	Touched  []string `json:"touched,omitempty"`
	Pruned   []string `json:"pruned,omitempty"`
}

type snapshotSubscriber struct {
	ChatID   int64    `json:"chat_id"`
	Username string   `json:"username,omitempty"`
	Deadline string   `json:"deadline,omitempty"`
	Notified []string `json:"notified,omitempty"`
}

type snapshotState struct {
	Cycle       uint64               `json:"cycle"`
	Subscribers []snapshotSubscriber `json:"subscribers"`
	Seen        map[string]uint64    `json:"seen,omitempty"`
}

func openFileStore(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("registry.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	state := emptyState()
	if err := loadSnapshot(snapPath, state); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, state); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		state:        state,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	// Leave a fresh snapshot behind so the journal stays short across restarts.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("snapshot on close failed", logx.Err(err))
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) Load(_ context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := emptyState()
	out.Cycle = s.state.Cycle
	for id, sub := range s.state.Subscribers {
		out.Subscribers[id] = sub.clone()
	}
	for k, v := range s.state.Seen {
		out.Seen[k] = v
	}
	return out, nil
}

func (s *fileStore) SaveSubscriber(ctx context.Context, sub Subscriber) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.state.Subscribers[sub.ChatID]
	if !ok {
		cur = Subscriber{ChatID: sub.ChatID, Notified: map[string]struct{}{}}
	}
	cur.Username = sub.Username
	cur.Deadline = sub.Deadline
	s.state.Subscribers[sub.ChatID] = cur

	deadline := ""
	if !sub.Deadline.IsZero() {
		deadline = sub.Deadline.ISO()
	}
	return s.appendLocked(journalRecord{Op: "sub", ChatID: sub.ChatID, Username: sub.Username, Deadline: deadline})
}

func (s *fileStore) MarkNotified(ctx context.Context, chatID int64, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.state.Subscribers[chatID]
	if !ok {
		sub = Subscriber{ChatID: chatID, Notified: map[string]struct{}{}}
		s.state.Subscribers[chatID] = sub
	}
	sub.Notified[key] = struct{}{}
	return s.appendLocked(journalRecord{Op: "mark", ChatID: chatID, Key: key})
}

func (s *fileStore) UnmarkNotified(ctx context.Context, chatID int64, keys []string) error {
	_ = ctx
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.state.Subscribers[chatID]; ok {
		for _, key := range keys {
			delete(sub.Notified, key)
		}
	}
	return s.appendLocked(journalRecord{Op: "unmark", ChatID: chatID, Keys: keys})
}

func (s *fileStore) SaveCycle(ctx context.Context, cycle uint64, touched, pruned []string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Cycle = cycle
	for _, key := range touched {
		s.state.Seen[key] = cycle
	}
	for _, key := range pruned {
		delete(s.state.Seen, key)
	}
	return s.appendLocked(journalRecord{Op: "cycle", Cycle: cycle, Touched: touched, Pruned: pruned})
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := snapshotState{Cycle: s.state.Cycle, Seen: s.state.Seen}
	for _, sub := range s.state.Subscribers {
		ps := snapshotSubscriber{ChatID: sub.ChatID, Username: sub.Username}
		if !sub.Deadline.IsZero() {
			ps.Deadline = sub.Deadline.ISO()
		}
		for key := range sub.Notified {
			ps.Notified = append(ps.Notified, key)
		}
		sort.Strings(ps.Notified)
		snap.Subscribers = append(snap.Subscribers, ps)
	}
	sort.Slice(snap.Subscribers, func(i, j int) bool { return snap.Subscribers[i].ChatID < snap.Subscribers[j].ChatID })

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out *State) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshotState
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	out.Cycle = snap.Cycle
	for k, v := range snap.Seen {
		out.Seen[k] = v
	}
	for _, ps := range snap.Subscribers {
		sub := Subscriber{ChatID: ps.ChatID, Username: ps.Username, Notified: map[string]struct{}{}}
		if ps.Deadline != "" {
			d, perr := source.ParseISO(ps.Deadline)
			if perr != nil {
				return perr
			}
			sub.Deadline = d
		}
		for _, key := range ps.Notified {
			sub.Notified[key] = struct{}{}
		}
		out.Subscribers[ps.ChatID] = sub
	}
	return nil
}

func replayJournal(path string, out *State) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// A torn tail write from a crash loses one record, not the state.
			continue
		}
		applyRecord(out, rec)
	}
	return sc.Err()
}

func applyRecord(st *State, rec journalRecord) {
	switch rec.Op {
	case "sub":
		sub, ok := st.Subscribers[rec.ChatID]
		if !ok {
			sub = Subscriber{ChatID: rec.ChatID, Notified: map[string]struct{}{}}
		}
		sub.Username = rec.Username
		sub.Deadline = source.Date{}
		if rec.Deadline != "" {
			if d, err := source.ParseISO(rec.Deadline); err == nil {
				sub.Deadline = d
			}
		}
		st.Subscribers[rec.ChatID] = sub
	case "mark":
		sub, ok := st.Subscribers[rec.ChatID]
		if !ok {
			sub = Subscriber{ChatID: rec.ChatID, Notified: map[string]struct{}{}}
			st.Subscribers[rec.ChatID] = sub
		}
		sub.Notified[rec.Key] = struct{}{}
	case "unmark":
		if sub, ok := st.Subscribers[rec.ChatID]; ok {
			for _, key := range rec.Keys {
				delete(sub.Notified, key)
			}
		}
	case "cycle":
		st.Cycle = rec.Cycle
		for _, key := range rec.Touched {
			st.Seen[key] = rec.Cycle
		}
		for _, key := range rec.Pruned {
			delete(st.Seen, key)
		}
	}
}
