package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"outagebot/internal/api"
	"outagebot/internal/bot"
	"outagebot/internal/config"
	"outagebot/internal/fanout"
	"outagebot/internal/ingest"
	rtsup "outagebot/internal/runtime/supervisor"
	"outagebot/internal/scheduler"
	"outagebot/internal/source"
	"outagebot/internal/storage"
	kit "outagebot/internal/transport"
	telegram "outagebot/internal/transport/telegram/adapter"
	logx "outagebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter kit.Adapter
	fan     *fanout.Service
	pipe    *ingest.Pipeline
	sched   *scheduler.Scheduler
	bot     *bot.Bot
	api     *api.Server // nil when disabled

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.Duration(cfg.Telegram.PollTimeout, 10*time.Second),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// The adapter doubles as the admin log sink.
	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	src := source.New(mapSourceConfig(cfg), log)
	fan := fanout.New(mapFanoutConfig(cfg), ad, store, log)
	pipe := ingest.New(mapIngestConfig(cfg), src, store, fan, log)

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		store:   store,
		adapter: ad,
		fan:     fan,
		pipe:    pipe,
		updates: make(chan kit.Update, 256),
	}
	a.sched = scheduler.New(scheduler.Config{
		Interval: cfg.CheckInterval(),
		Location: cfg.Location(),
		OnCycle:  a.onCycle,
	}, pipe.RunCycle, log)
	a.bot = bot.New(mapBotConfig(cfg), ad, store, a.sched, log)
	if cfg.API.Enabled {
		a.api = api.New(api.Config{Addr: cfg.API.Addr, AllowedOrigins: cfg.API.AllowedOrigins}, store, pipe, a.sched, log)
	}
	return a, nil
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.bot.Run(c, a.updates)
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.api != nil {
		a.sup.Go("api.serve", func(c context.Context) error {
			return a.api.ListenAndServe(c)
		})
	}

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithStopOnCleanExit(true),
	)

	if every := watchdogInterval(); every > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			t := time.NewTicker(every)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					sdNotify(a.log, sdWatchdog)
				}
			}
		})
	}

	sdNotify(a.log, sdReady)
	a.log.Info("app started",
		logx.Duration("interval", a.cfgm.Get().CheckInterval()),
		logx.Bool("api", a.api != nil),
	)
	return nil
}

func (a *App) onCycle(rep ingest.Report) {
	sdNotify(a.log, sdWatchdog)
	if rep.Empty() {
		a.log.Warn("cycle produced no data", logx.String("cycle_id", rep.CycleID))
	}
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
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
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig applies the hot sections of a reload. Everything else is
// logged as needing a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	ch := config.Diff(oldCfg, newCfg)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if ch.Has("logging") {
		a.logs.Apply(mapLogConfig(newCfg))
	}
	if ch.Has("ingest") {
		a.sched.Apply(newCfg.CheckInterval())
		if oldCfg.Ingest.Parallelism != newCfg.Ingest.Parallelism {
			a.log.Warn("ingest.parallelism changed; restart required for changes to take effect")
		}
	}
	if ch.Has("fanout") {
		a.fan.Apply(mapFanoutConfig(newCfg))
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(ch.Restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, sdStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context so background loops start unwinding immediately.
	// An in-flight cycle keeps running until the scheduler step below.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
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
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// The scheduler goes first: its in-flight cycle may still deliver
	// through the adapter and write to the store. Past the step limit we
	// keep waiting; storage must outlive the cycle.
	step("scheduler", 20*time.Second, a.sched.Stop)
	a.waitCycleDrained()
	step("adapter", 3*time.Second, a.adapter.Stop)
	if a.api != nil {
		step("api", 3*time.Second, a.api.Shutdown)
	}
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) waitCycleDrained() {
	start := time.Now()
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-a.sched.Drained():
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("in-flight cycle drained", logx.Duration("took", took))
			}
			return
		case <-t.C:
			a.log.Warn("waiting for in-flight cycle before closing storage", logx.Duration("elapsed", time.Since(start)))
		}
	}
}
