package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	mu     sync.Mutex
	subs   map[key]Subscriber
	closed bool
}

func NewMemory() Store {
	return &memoryStore{subs: map[key]Subscriber{}}
}

func (m *memoryStore) Subscribe(ctx context.Context, s Subscriber) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrDisabled
	}
	if _, ok := m.subs[s.key()]; ok {
		return false, nil
	}
	if s.Since.IsZero() {
		s.Since = time.Now()
	}
	m.subs[s.key()] = s
	return true, nil
}

func (m *memoryStore) Unsubscribe(ctx context.Context, chatID int64, threadID int) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	k := key{chat: chatID, thread: threadID}
	if _, ok := m.subs[k]; !ok {
		return ErrNotFound
	}
	delete(m.subs, k)
	return nil
}

func (m *memoryStore) Subscribers(ctx context.Context) ([]Subscriber, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrDisabled
	}
	return sortedSubs(m.subs), nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func sortedSubs(m map[key]Subscriber) []Subscriber {
	out := make([]Subscriber, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Since.Equal(out[j].Since) {
			return out[i].Since.Before(out[j].Since)
		}
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].ThreadID < out[j].ThreadID
	})
	return out
}
