package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Notification is one logical delivery. Pages are sent in order as
// separate messages to the same target.
type Notification struct {
	Channel string // "telegram" now
	Target  ChatTarget
	Pages   []string
	Options *SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// SendPages sends each page as its own message and stops at the first error.
// It returns the number of pages delivered.
func SendPages(ctx context.Context, ad Adapter, to ChatTarget, pages []string, opt *SendOptions) (int, error) {
	sent := 0
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if _, err := ad.SendText(ctx, to, p, opt); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
