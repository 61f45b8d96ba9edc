package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"sentinel/internal/aggregator"
	"sentinel/internal/bot"
	"sentinel/internal/config"
	"sentinel/internal/httpapi"
	"sentinel/internal/notifier"
	"sentinel/internal/scheduler"
	"sentinel/internal/transport/telegram"
	logx "sentinel/pkg/logx"
)

const (
	DefaultAutoUpdate   = "@hourly"
	DefaultStartupDelay = 5 * time.Second
	DefaultAutoLimit    = 5
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	// A missing or unparsable group_log leaves the Telegram sink without a target.
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if id, err := strconv.ParseInt(g, 10, 64); err == nil {
			lc.Telegram.ChatID = id
		}
	}
	if lc.Telegram.ChatID == 0 {
		lc.Telegram.Enabled = false
	}
	return lc
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

// mapNotifierConfig applies notifier defaults. An omitted section means enabled.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg == nil || cfg.Notifier == nil {
		return notifier.Config{Enabled: true}, nil
	}
	n := cfg.Notifier
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0")
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       n.Enabled,
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

func mapAggregatorOptions(cfg *config.Config) (aggregator.Options, error) {
	ac := cfg.Aggregator
	fetch, err := config.ParseDurationOrDefault("aggregator.fetch_timeout", ac.FetchTimeout, aggregator.DefaultFetchTimeout)
	if err != nil {
		return aggregator.Options{}, err
	}
	ttl, err := config.ParseDurationField("aggregator.cache_ttl", ac.CacheTTL)
	if err != nil {
		return aggregator.Options{}, err
	}
	return aggregator.Options{
		PerSourceCap: ac.PerSourceCap,
		FetchTimeout: fetch,
		CacheTTL:     ttl,
		Concurrency:  ac.Concurrency,
	}, nil
}

func mapBotConfig(cfg *config.Config) bot.Config {
	return bot.Config{
		TodayLimit:  cfg.Digest.TodayLimit,
		WeeklyLimit: cfg.Digest.WeeklyLimit,
		NowLimit:    cfg.Digest.NowLimit,
		MaxLen:      cfg.Digest.MaxLen,
		Owners:      cfg.Telegram.OwnerUserIDs,
	}
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		MaxLen:        cfg.Digest.MaxLen,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// autoUpdatePlan is the resolved schedule of the periodic digest.
type autoUpdatePlan struct {
	Enabled      bool
	Schedule     string
	StartupDelay time.Duration
	Timezone     string
}

func mapAutoUpdate(cfg *config.Config) (autoUpdatePlan, error) {
	sc := cfg.Scheduler
	sched := strings.TrimSpace(sc.AutoUpdate)
	if sched == "" {
		sched = DefaultAutoUpdate
	}
	if _, err := scheduler.Validate(sched); err != nil {
		return autoUpdatePlan{}, fmt.Errorf("scheduler.auto_update: %w", err)
	}
	delay, err := config.ParseDurationOrDefault("scheduler.startup_delay", sc.StartupDelay, DefaultStartupDelay)
	if err != nil {
		return autoUpdatePlan{}, err
	}
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return autoUpdatePlan{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return autoUpdatePlan{
		Enabled:      sc.Enabled,
		Schedule:     sched,
		StartupDelay: delay,
		Timezone:     strings.TrimSpace(sc.Timezone),
	}, nil
}

// validateConfig checks everything the wiring maps, so a hot reload that
// would fail at apply time is rejected before commit.
func validateConfig(cfg *config.Config) error {
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAggregatorOptions(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAutoUpdate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
