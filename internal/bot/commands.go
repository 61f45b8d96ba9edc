package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"sentinel/internal/aggregator"
	"sentinel/internal/rank"
	"sentinel/internal/storage"
	"sentinel/pkg/tgui"
)

const (
	TagToday  = "Daily Threat Summary"
	TagWeekly = "Top 5 Weekly Threats"
	TagNow    = "Realtime Update"
)

func (b *Bot) commands() []Command {
	return []Command{
		{Name: "start", Description: "Activate the bot", Handle: b.cmdStart},
		{Name: "today", Description: "Get today's threat summary", Handle: b.cmdToday},
		{Name: "weekly", Description: "Top 5 highest CVSS this week", Handle: b.cmdWeekly},
		{Name: "now", Description: "Real-time threat update", Handle: b.cmdNow},
		{Name: "sources", Description: "Records per source from the last fetch", Handle: b.cmdSources},
		{Name: "subscribe", Description: "Receive scheduled updates in this chat", Access: AccessOwnerOnly, Handle: b.cmdSubscribe},
		{Name: "unsubscribe", Description: "Stop scheduled updates in this chat", Access: AccessOwnerOnly, Handle: b.cmdUnsubscribe},
		{Name: "id", Description: "Show this chat's id", Handle: b.cmdID},
	}
}

func welcomeText(weekly int) string {
	return strings.Join([]string{
		"🔐 " + tgui.B("Cyber Threat Sentinel Activated").String(),
		"",
		"Your real-time cybersecurity assistant is now online.",
		"Use the commands below to retrieve the latest threat intelligence:",
		"",
		"📌 " + tgui.B("Available Commands").String(),
		"• /today — Get today’s vulnerability summary",
		fmt.Sprintf("• /weekly — Top %d highest-risk CVEs this week", weekly),
		"• /now — Fetch the most recent threats in real-time",
		"• /sources — Show how many records each feed returned",
		"• /subscribe, /unsubscribe — Manage automatic updates for this chat",
		"",
		"🛡️ The bot also sends automatic updates to keep you informed.",
	}, "\n")
}

func (b *Bot) cmdStart(ctx context.Context, req *Request) error {
	return b.reply(ctx, req, welcomeText(b.cfg.WeeklyLimit))
}

func (b *Bot) cmdToday(ctx context.Context, req *Request) error {
	recs := rank.Merge(b.agg.Collect(ctx), b.cfg.TodayLimit)
	return b.reply(ctx, req, b.formatter().Format(recs, TagToday)...)
}

func (b *Bot) cmdWeekly(ctx context.Context, req *Request) error {
	recs := rank.Top(b.agg.Collect(ctx), b.cfg.WeeklyLimit)
	tag := TagWeekly
	if b.cfg.WeeklyLimit != DefaultWeeklyLimit {
		tag = fmt.Sprintf("Top %d Weekly Threats", b.cfg.WeeklyLimit)
	}
	return b.reply(ctx, req, b.formatter().Format(recs, tag)...)
}

func (b *Bot) cmdNow(ctx context.Context, req *Request) error {
	recs := rank.Merge(b.agg.Collect(ctx), b.cfg.NowLimit)
	return b.reply(ctx, req, b.formatter().Format(recs, TagNow)...)
}

func (b *Bot) cmdSources(ctx context.Context, req *Request) error {
	st := b.agg.Status()
	if len(st) == 0 {
		b.agg.Collect(ctx)
		st = b.agg.Status()
	}
	return b.reply(ctx, req, SourcesText(st))
}

func (b *Bot) cmdSubscribe(ctx context.Context, req *Request) error {
	if b.store == nil {
		return b.reply(ctx, req, "Subscriptions are disabled.")
	}
	added, err := b.store.Subscribe(ctx, storage.Subscriber{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID})
	if err != nil {
		_ = b.reply(ctx, req, "⚠️ Could not save the subscription.")
		return fmt.Errorf("subscribe: %w", err)
	}
	if !added {
		return b.reply(ctx, req, "ℹ️ This chat is already subscribed.")
	}
	return b.reply(ctx, req, "✅ Subscribed. Automatic updates will be posted here.")
}

func (b *Bot) cmdUnsubscribe(ctx context.Context, req *Request) error {
	if b.store == nil {
		return b.reply(ctx, req, "Subscriptions are disabled.")
	}
	err := b.store.Unsubscribe(ctx, req.Chat.ChatID, req.Chat.ThreadID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return b.reply(ctx, req, "ℹ️ This chat is not subscribed.")
	case err != nil:
		_ = b.reply(ctx, req, "⚠️ Could not remove the subscription.")
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return b.reply(ctx, req, "✅ Unsubscribed.")
}

func (b *Bot) cmdID(ctx context.Context, req *Request) error {
	text := "🆔 Chat ID: " + tgui.Code(strconv.FormatInt(req.Chat.ChatID, 10)).String()
	if req.Chat.ThreadID != 0 {
		text += "\n🧵 Thread ID: " + tgui.Code(strconv.Itoa(req.Chat.ThreadID)).String()
	}
	return b.reply(ctx, req, text)
}

// SourcesText renders the last collection status, one line per source.
func SourcesText(st []aggregator.SourceStatus) string {
	header := "📡 " + tgui.B("Sources").String()
	if len(st) == 0 {
		return header + "\nNo fetch has completed yet."
	}
	lines := []string{header}
	total := 0
	for _, s := range st {
		mark := "✅"
		if !s.OK() {
			mark = "❌"
		}
		line := fmt.Sprintf("%s %s: %d", mark, s.Source.Tag(), s.Records)
		if s.Skipped > 0 {
			line += fmt.Sprintf(" (%d skipped)", s.Skipped)
		}
		if s.Err != nil {
			line += " (" + tgui.TruncRunes(s.Err.Error(), 80) + ")"
		}
		lines = append(lines, tgui.Esc(line).String())
		total += s.Records
	}
	lines = append(lines, "", "Total: "+tgui.B(strconv.Itoa(total)).String())
	return strings.Join(lines, "\n")
}
