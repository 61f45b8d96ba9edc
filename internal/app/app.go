// Package app wires configuration, sources, the bot, the scheduler, the
// notifier and the HTTP API into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sentinel/internal/aggregator"
	"sentinel/internal/bot"
	"sentinel/internal/config"
	"sentinel/internal/httpapi"
	"sentinel/internal/notifier"
	rtsup "sentinel/internal/runtime/supervisor"
	"sentinel/internal/scheduler"
	"sentinel/internal/sources"
	"sentinel/internal/storage"
	kit "sentinel/internal/transport"
	"sentinel/internal/transport/telegram"
	logx "sentinel/pkg/logx"
)

const autoUpdateTimeout = 5 * time.Minute

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	adapter *telegram.Adapter
	agg     *aggregator.Aggregator
	notif   *notifier.Service
	bot     *bot.Bot
	sched   *scheduler.Service
	http    *httpapi.Service
	auto    *autoUpdater

	planMu sync.Mutex
	plan   autoUpdatePlan

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	tc, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tc, logx.NewConsole("INFO"))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	appLog := log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	appLog.Info("storage ready", logx.String("driver", sc.Driver))

	fetchers, err := sources.Build(cfg.Sources, nil, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	aggOpts, _ := mapAggregatorOptions(cfg)
	agg := aggregator.New(fetchers, aggOpts, log)

	ncfg, _ := mapNotifierConfig(cfg)
	notif := notifier.New(ncfg, ad, log)

	plan, _ := mapAutoUpdate(cfg)
	hc, _ := mapHTTPConfig(cfg)

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		agg:     agg,
		notif:   notif,
		bot:     bot.New(mapBotConfig(cfg), ad, agg, store, log),
		sched:   scheduler.New(plan.Timezone, log),
		http:    httpapi.New(hc, agg, log),
		plan:    plan,
		updates: make(chan kit.Update, 256),
	}
	a.auto = &autoUpdater{
		agg:      agg,
		store:    store,
		out:      notif,
		settings: a.autoSettings,
		log:      log.With(logx.String("comp", "auto_update")),
	}
	if err := a.sched.Add(autoUpdateJob, plan.Schedule, autoUpdateTimeout, a.auto.Run); err != nil {
		_ = store.Close()
		return nil, err
	}

	appLog.Info("app configured",
		logx.Int("sources", len(fetchers)),
		logx.Bool("scheduler", plan.Enabled),
		logx.String("auto_update", plan.Schedule),
		logx.Bool("http", hc.Enabled),
	)
	return a, nil
}

func (a *App) autoSettings() autoUpdateSettings {
	cfg := a.cfgm.Get()
	return autoUpdateSettings{
		Target: kit.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID},
		Limit:  cfg.Digest.AutoLimit,
		MaxLen: cfg.Digest.MaxLen,
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(runCtx)
	} else {
		a.log.Warn("notifier disabled; scheduled digests will not be delivered")
	}

	a.sup.Go0("bot.dispatch", func(c context.Context) {
		a.bot.Run(c, a.updates)
	})
	a.sup.Go0("bot.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.bot.MenuCommands()); err != nil {
			a.log.Warn("command menu registration failed", logx.Err(err))
			return
		}
		a.log.Info("command menu registered")
	})

	a.planMu.Lock()
	plan := a.plan
	a.planMu.Unlock()
	if plan.Enabled {
		a.startScheduler(runCtx, plan)
	}

	a.http.Start(runCtx)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) startScheduler(ctx context.Context, plan autoUpdatePlan) {
	a.sched.Start(ctx)
	if err := a.sched.RunAfter(autoUpdateJob, plan.StartupDelay); err != nil {
		a.log.Warn("startup digest not scheduled", logx.Err(err))
	}
}

// applyConfig pushes a committed config into the running components.
// Sections that are only read at construction log a restart hint.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.bot.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		prev := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case prev && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prev && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if plan, err := mapAutoUpdate(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.applyPlan(ctx, plan)
	}

	if hc, err := mapHTTPConfig(newCfg); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hc)
	}

	var restart []string
	for _, s := range sections {
		switch s {
		case "sources", "aggregator", "digest", "storage":
			restart = append(restart, s)
		case "telegram":
			if oldCfg.Telegram.Token != newCfg.Telegram.Token {
				restart = append(restart, "telegram.token")
			}
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", restart))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyPlan(ctx context.Context, plan autoUpdatePlan) {
	a.planMu.Lock()
	prev := a.plan
	a.plan = plan
	a.planMu.Unlock()

	if plan.Timezone != prev.Timezone {
		a.log.Warn("scheduler.timezone changed; restart required for changes to take effect")
	}
	if plan.Schedule != prev.Schedule {
		if err := a.sched.Reschedule(autoUpdateJob, plan.Schedule); err != nil {
			a.log.Warn("auto update not rescheduled; keeping previous schedule", logx.Err(err))
			a.planMu.Lock()
			a.plan.Schedule = prev.Schedule
			a.planMu.Unlock()
		}
	}
	switch {
	case prev.Enabled && !plan.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prev.Enabled && plan.Enabled:
		a.log.Info("scheduler enabled via config")
		a.startScheduler(ctx, plan)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	c := a.sup.Counters()
	if c.Active > 0 {
		a.log.Warn("goroutines still running after stop", logx.Int64("active", c.Active), logx.Int64("started", int64(c.Started)))
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
