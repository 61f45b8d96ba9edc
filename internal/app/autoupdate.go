package app

import (
	"context"
	"errors"

	"sentinel/internal/digest"
	"sentinel/internal/rank"
	"sentinel/internal/storage"
	"sentinel/internal/threat"
	kit "sentinel/internal/transport"
	logx "sentinel/pkg/logx"
)

const (
	autoUpdateJob = "auto_update"
	autoUpdateTag = "Auto Update"
)

type collector interface {
	Collect(ctx context.Context) threat.Buckets
}

type broadcaster interface {
	Broadcast(ctx context.Context, channel string, targets []kit.ChatTarget, pages []string, opt *kit.SendOptions) (int, error)
}

// autoUpdateSettings is read on every run so hot reloads apply to the next tick.
type autoUpdateSettings struct {
	Target kit.ChatTarget
	Limit  int
	MaxLen int
}

type autoUpdater struct {
	agg      collector
	store    storage.Store
	out      broadcaster
	settings func() autoUpdateSettings
	log      logx.Logger
}

// Run collects, ranks and broadcasts one digest to the configured chat and
// every subscriber. An empty collection sends nothing.
func (u *autoUpdater) Run(ctx context.Context) error {
	st := u.settings()
	limit := st.Limit
	if limit <= 0 {
		limit = DefaultAutoLimit
	}

	recs := rank.Merge(u.agg.Collect(ctx), limit)
	if len(recs) == 0 {
		u.log.Info("auto update: no data collected; skipping")
		return nil
	}

	targets, err := u.targets(ctx, st.Target)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		u.log.Warn("auto update: no chat_id configured and no subscribers; skipping")
		return nil
	}

	pages := digest.Formatter{MaxLen: st.MaxLen}.Format(recs, autoUpdateTag)
	n, err := u.out.Broadcast(ctx, "telegram", targets, pages, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	u.log.Info("auto update queued",
		logx.Int("records", len(recs)),
		logx.Int("pages", len(pages)),
		logx.Int("targets", len(targets)),
		logx.Int("queued", n),
	)
	if err != nil && n == 0 {
		return err
	}
	return nil
}

// targets returns the configured chat first, then subscribers, without duplicates.
func (u *autoUpdater) targets(ctx context.Context, primary kit.ChatTarget) ([]kit.ChatTarget, error) {
	var out []kit.ChatTarget
	seen := map[kit.ChatTarget]bool{}
	add := func(t kit.ChatTarget) {
		if t.ChatID == 0 || seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}
	add(primary)

	if u.store == nil {
		return out, nil
	}
	subs, err := u.store.Subscribers(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrDisabled) {
			return out, nil
		}
		// Still deliver to the configured chat.
		u.log.Warn("auto update: listing subscribers failed", logx.Err(err))
		if len(out) > 0 {
			return out, nil
		}
		return nil, err
	}
	for _, s := range subs {
		add(kit.ChatTarget{ChatID: s.ChatID, ThreadID: s.ThreadID})
	}
	return out, nil
}
