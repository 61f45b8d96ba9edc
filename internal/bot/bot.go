// Package bot routes chat commands to digest builders.
package bot

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"sentinel/internal/aggregator"
	"sentinel/internal/digest"
	"sentinel/internal/storage"
	"sentinel/internal/threat"
	kit "sentinel/internal/transport"
	logx "sentinel/pkg/logx"
)

const (
	DefaultTodayLimit  = 10
	DefaultWeeklyLimit = 5
	DefaultNowLimit    = 5

	DefaultCommandTimeout = 60 * time.Second
	DefaultMaxInFlight    = 8
)

// Access controls who may run a command.
type Access int

const (
	AccessEveryone Access = iota
	// AccessOwnerOnly applies only when owners are configured.
	AccessOwnerOnly
)

// Collector is the aggregation surface the bot needs.
type Collector interface {
	Collect(ctx context.Context) threat.Buckets
	Status() []aggregator.SourceStatus
}

type Config struct {
	TodayLimit  int
	WeeklyLimit int
	NowLimit    int
	MaxLen      int
	Owners      []int64
	Timeout     time.Duration
	// MaxInFlight caps concurrently running commands (default 8).
	MaxInFlight int
}

type Command struct {
	Name        string
	Description string
	Access      Access
	Handle      HandlerFunc
}

type Request struct {
	Chat     kit.ChatTarget
	FromID   int64
	Command  string
	Args     []string
	IsGroup  bool
	Received time.Time
}

type Bot struct {
	cfg     Config
	adapter kit.Adapter
	agg     Collector
	store   storage.Store
	log     logx.Logger

	cmds  []Command
	index map[string]HandlerFunc
	slots *semaphore.Weighted

	ownersMu sync.RWMutex
	owners   []int64
}

var ErrForbidden = errors.New("command restricted to bot owners")

func New(cfg Config, adapter kit.Adapter, agg Collector, store storage.Store, log logx.Logger) *Bot {
	if cfg.TodayLimit <= 0 {
		cfg.TodayLimit = DefaultTodayLimit
	}
	if cfg.WeeklyLimit <= 0 {
		cfg.WeeklyLimit = DefaultWeeklyLimit
	}
	if cfg.NowLimit <= 0 {
		cfg.NowLimit = DefaultNowLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCommandTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		cfg:     cfg,
		adapter: adapter,
		agg:     agg,
		store:   store,
		log:     log.With(logx.String("comp", "bot")),
		owners:  slices.Clone(cfg.Owners),
		slots:   semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}
	b.cmds = b.commands()
	b.index = make(map[string]HandlerFunc, len(b.cmds))
	for _, c := range b.cmds {
		h := c.Handle
		if c.Access == AccessOwnerOnly {
			h = b.ownerOnly(h)
		}
		b.index[c.Name] = Chain(h,
			MWPanicRecover(b.log),
			MWRequestLog(b.log),
			MWTimeout(cfg.Timeout),
		)
	}
	return b
}

// MenuCommands lists the commands for the platform command menu.
func (b *Bot) MenuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(b.cmds))
	for _, c := range b.cmds {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// Run dispatches updates until ctx is done or the channel closes. Each
// command runs in its own goroutine; at most MaxInFlight run at once and
// further updates wait for a free slot. Run returns after in-flight
// commands finish.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			if err := b.slots.Acquire(ctx, 1); err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer b.slots.Release(1)
				_ = b.Handle(ctx, up)
			}()
		}
	}
}

// Handle runs the command carried by up, if any. Plain text and unknown
// commands are ignored.
func (b *Bot) Handle(ctx context.Context, up kit.Update) error {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return nil
	}
	m := up.Message
	name, args, ok := ParseCommand(m.Text)
	if !ok {
		return nil
	}
	h, ok := b.index[name]
	if !ok {
		return nil
	}
	req := &Request{
		Chat:     kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID},
		FromID:   m.FromID,
		Command:  name,
		Args:     args,
		IsGroup:  m.IsGroup,
		Received: time.Now(),
	}
	return h(ctx, req)
}

// ParseCommand splits "/cmd@bot a b" into ("cmd", ["a","b"]).
func ParseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}

// SetOwners replaces the owner list used by owner-only commands.
func (b *Bot) SetOwners(ids []int64) {
	b.ownersMu.Lock()
	b.owners = slices.Clone(ids)
	b.ownersMu.Unlock()
}

func (b *Bot) isOwner(id int64) bool {
	b.ownersMu.RLock()
	defer b.ownersMu.RUnlock()
	return len(b.owners) == 0 || slices.Contains(b.owners, id)
}

func (b *Bot) ownerOnly(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if b.isOwner(req.FromID) {
			return next(ctx, req)
		}
		_ = b.reply(ctx, req, "⛔ Only bot owners can do that here.")
		return ErrForbidden
	}
}

func (b *Bot) reply(ctx context.Context, req *Request, pages ...string) error {
	_, err := kit.SendPages(ctx, b.adapter, req.Chat, pages, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (b *Bot) formatter() digest.Formatter {
	return digest.Formatter{MaxLen: b.cfg.MaxLen}
}
