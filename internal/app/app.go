// Package app wires config, logging, storage, the scheduler and the ops
// server into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"cadence/internal/config"
	"cadence/internal/jobs"
	"cadence/internal/metrics"
	"cadence/internal/ops"
	"cadence/internal/scheduler"
	"cadence/internal/storage"
	logx "cadence/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	sched   *scheduler.Scheduler
	metrics *metrics.Recorder
	env     *jobs.Env
	tasks   *reconciler
	ops     *ops.Server

	cancel context.CancelFunc
	group  *errgroup.Group
	runCtx context.Context
}

// New loads and validates the config, opens storage and registers the
// configured builtin tasks. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	cfgm.SetLogger(log.With(logx.Component("config")))
	appLog := log.With(logx.Component("app"))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(ctx, sc, log.With(logx.Component("storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		logSvc.SetAlertSink(alertSink{store: st})
	}

	env := &jobs.Env{Store: store}
	env.SetRetention(mapRetention(cfg))

	rec := metrics.New()
	opts := []scheduler.Option{
		scheduler.WithResources(func() any { return env }),
		scheduler.WithObserver(rec),
	}
	if store != nil {
		opts = append(opts, scheduler.WithObserver(historyRecorder{store: store, log: appLog}))
	}
	sched := scheduler.New(scheduler.Config{Period: mapPeriod(cfg)}, log.With(logx.Component("scheduler")), opts...)
	rec.WatchScheduler(sched)

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		store:   store,
		sched:   sched,
		metrics: rec,
		env:     env,
		tasks:   newReconciler(sched, log.With(logx.Component("tasks"))),
	}
	a.tasks.apply(cfg.Tasks)

	if cfg.Ops.Enabled {
		a.ops = ops.NewServer(ops.FromConfig(cfg.Ops), ops.Deps{
			Tasks:   sched,
			Store:   store,
			Metrics: rec.Handler(),
		}, log)
	}
	return a, nil
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Done is closed when the app stops on its own (fatal error) or Stop is called.
func (a *App) Done() <-chan struct{} {
	if a.runCtx == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.runCtx.Done()
}

// Start launches the runner (unless scheduler.enabled is false), the config
// watcher and the ops server. A failing background component cancels the
// others; Stop reports its error.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	a.cancel = cancel
	a.group = g
	a.runCtx = gctx

	if a.cfgm.Get().Scheduler.IsEnabled() {
		if err := a.sched.Start(gctx); err != nil {
			cancel()
			return err
		}
	} else {
		a.log.Info("scheduler disabled via config")
	}

	sub := a.cfgm.Subscribe(8)
	g.Go(func() error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(gctx, sub)
		return nil
	})
	g.Go(func() error { return a.cfgm.Watch(gctx) })
	if a.ops != nil {
		g.Go(func() error { return a.ops.Run(gctx) })
	}

	a.log.Info("app started", logx.Int("tasks", len(a.sched.Names())), logx.Bool("ops", a.ops != nil))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
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
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, taskChanged := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(taskChanged) > 0 {
		a.log.Debug("task config changes detected", logx.String("tasks", strings.Join(taskChanged, ",")))
	}

	for _, s := range sections {
		switch s {
		case "storage":
			// Retention applies live; driver and path need a restart.
			a.env.SetRetention(mapRetention(next))
			if storageIdentityChanged(prev, next) {
				a.log.Warn("storage config changed; restart required for driver/path changes to take effect")
			}
		case "ops":
			a.log.Warn("ops config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(mapLogConfig(next))
	a.sched.SetPeriod(mapPeriod(next))
	a.tasks.apply(next.Tasks)

	wasEnabled := prev != nil && prev.Scheduler.IsEnabled()
	switch nowEnabled := next.Scheduler.IsEnabled(); {
	case wasEnabled && !nowEnabled:
		a.log.Info("scheduler disabled via config")
		a.sched.Stop()
	case !wasEnabled && nowEnabled:
		a.log.Info("scheduler enabled via config")
		if err := a.sched.Start(ctx); err != nil && !errors.Is(err, scheduler.ErrAlreadyRunning) {
			a.log.Error("scheduler start failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func storageIdentityChanged(prev, next *config.Config) bool {
	var p, n config.StorageConfig
	if prev != nil && prev.Storage != nil {
		p = *prev.Storage
	}
	if next != nil && next.Storage != nil {
		n = *next.Storage
	}
	return !strings.EqualFold(strings.TrimSpace(p.Driver), strings.TrimSpace(n.Driver)) ||
		strings.TrimSpace(p.Path) != strings.TrimSpace(n.Path) ||
		strings.TrimSpace(p.BusyTimeout) != strings.TrimSpace(n.BusyTimeout)
}

// Stop cancels background components, waits for the runner to finish its
// current tick and closes storage. Each step is bounded so one component
// cannot stall the whole stop. It returns the first background error.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.cancel == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.cancel()

	_ = a.step(ctx, "scheduler", 30*time.Second, func(context.Context) error { a.sched.Stop(); return nil })
	groupErr := a.step(ctx, "background", 5*time.Second, func(context.Context) error { return a.group.Wait() })
	_ = a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	if errors.Is(groupErr, context.Canceled) {
		return nil
	}
	return groupErr
}

// step runs fn with an upper bound that never extends the caller's deadline.
// It returns fn's error, or nil if the bound was reached first.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return nil
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		return err
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		return nil
	}
}
