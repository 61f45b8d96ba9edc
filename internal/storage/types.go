package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("subscriber not found")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscriber is a chat (and optional forum thread) that receives scheduled
// digests.
type Subscriber struct {
	ChatID   int64
	ThreadID int
	Since    time.Time
}

type key struct {
	chat   int64
	thread int
}

func (s Subscriber) key() key { return key{chat: s.ChatID, thread: s.ThreadID} }

// Store is the persistence API used by the bot and the scheduler.
type Store interface {
	// Subscribe registers a chat. It reports false when the chat was already
	// subscribed.
	Subscribe(ctx context.Context, s Subscriber) (bool, error)
	// Unsubscribe removes a chat or returns ErrNotFound.
	Unsubscribe(ctx context.Context, chatID int64, threadID int) error
	// Subscribers lists chats ordered by subscription time.
	Subscribers(ctx context.Context) ([]Subscriber, error)
	Close() error
}
