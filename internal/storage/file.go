package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "sentinel/pkg/logx"
)

// fileStore keeps subscriptions in an append-only JSON Lines journal.
// The journal is rewritten from the live set every compactEvery writes.
type fileStore struct {
	log  logx.Logger
	path string

	mu      sync.Mutex
	f       *os.File
	subs    map[key]Subscriber
	writes  int
	compact int
}

const compactEvery = 256

type journalOp struct {
	Op       string    `json:"op"` // "add" | "del"
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Since    time.Time `json:"since,omitzero"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	subs := map[key]Subscriber{}
	if err := replayJournal(path, subs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("subscriptions loaded", logx.Int("count", len(subs)), logx.String("path", path))
	return &fileStore{log: log, path: path, f: f, subs: subs, compact: compactEvery}, nil
}

func (s *fileStore) Subscribe(ctx context.Context, sub Subscriber) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return false, ErrDisabled
	}
	if _, ok := s.subs[sub.key()]; ok {
		return false, nil
	}
	if sub.Since.IsZero() {
		sub.Since = time.Now().UTC()
	}
	if err := s.appendLocked(journalOp{Op: "add", ChatID: sub.ChatID, ThreadID: sub.ThreadID, Since: sub.Since}); err != nil {
		return false, err
	}
	s.subs[sub.key()] = sub
	s.maybeCompactLocked()
	return true, nil
}

func (s *fileStore) Unsubscribe(ctx context.Context, chatID int64, threadID int) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrDisabled
	}
	k := key{chat: chatID, thread: threadID}
	if _, ok := s.subs[k]; !ok {
		return ErrNotFound
	}
	if err := s.appendLocked(journalOp{Op: "del", ChatID: chatID, ThreadID: threadID}); err != nil {
		return err
	}
	delete(s.subs, k)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) Subscribers(ctx context.Context) ([]Subscriber, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrDisabled
	}
	return sortedSubs(s.subs), nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) appendLocked(op journalOp) error {
	if err := json.NewEncoder(s.f).Encode(op); err != nil {
		return err
	}
	s.writes++
	return nil
}

// maybeCompactLocked must run after s.subs reflects the last journal op.
func (s *fileStore) maybeCompactLocked() {
	if s.compact <= 0 || s.writes%s.compact != 0 {
		return
	}
	if err := s.compactLocked(); err != nil {
		s.log.Debug("journal compact failed", logx.Err(err))
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, sub := range sortedSubs(s.subs) {
		if err := enc.Encode(journalOp{Op: "add", ChatID: sub.ChatID, ThreadID: sub.ThreadID, Since: sub.Since}); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.path, os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	_ = s.f.Close()
	s.f = nf
	return nil
}

func replayJournal(path string, out map[key]Subscriber) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			continue
		}
		k := key{chat: op.ChatID, thread: op.ThreadID}
		switch op.Op {
		case "add":
			out[k] = Subscriber{ChatID: op.ChatID, ThreadID: op.ThreadID, Since: op.Since}
		case "del":
			delete(out, k)
		}
	}
	return sc.Err()
}
