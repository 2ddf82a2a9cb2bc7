// Package app wires configuration, logging, storage, the forecast source,
// the scheduling engine, metrics and the admin API into one process.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"greensched/internal/admin"
	"greensched/internal/clock"
	"greensched/internal/config"
	"greensched/internal/eventbus"
	"greensched/internal/forecast"
	"greensched/internal/metrics"
	"greensched/internal/notifier"
	rtsup "greensched/internal/runtime/supervisor"
	"greensched/internal/storage"
	"greensched/internal/task/engine"
	"greensched/internal/task/scheduler"
	logx "greensched/pkg/logx"
)

const webhookTimeout = 30 * time.Second

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine  *engine.Service
	sched   *scheduler.Service
	metrics *metrics.Metrics
	notif   *notifier.Service
	admin   *admin.Server

	client *http.Client
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogConfig())
	a := &App{
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		logs:   logSvc,
		bus:    eventbus.New(),
		client: &http.Client{Timeout: webhookTimeout},
	}
	if err := a.build(cfg, log); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	if sc, enabled, err := storageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("history storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	scfg, _, err := schedulerConfig(cfg)
	if err != nil {
		return err
	}
	src, err := forecastSource(cfg)
	if err != nil {
		return err
	}

	a.engine = engine.New(engineConfig(cfg), log.With(logx.String("comp", "taskengine")), a.bus)
	a.sched = scheduler.New(scfg, scheduler.Deps{
		Clock:      clock.System{},
		Forecast:   forecast.Observe(src, a.observeForecast),
		Dispatcher: a.engine,
		Log:        log.With(logx.String("comp", "scheduler")),
		Bus:        a.bus,
	})
	a.metrics = metrics.New(metrics.Sources{Scheduler: a.sched, Engine: a.engine, Bus: a.bus})

	jobs, err := BuildJobs(cfg, a.client, log.With(logx.String("comp", "jobs")), time.Now)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := a.sched.Register(job); err != nil {
			return err
		}
	}

	ncfg, sender, err := notifyConfig(cfg, a.client)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, sender, log.With(logx.String("comp", "notifier")), a.bus)

	acfg, err := adminConfig(cfg)
	if err != nil {
		return err
	}
	a.admin = admin.New(acfg, admin.Deps{
		Scheduler: a.sched,
		History:   a.store,
		Metrics:   a.metrics.Handler(),
		Log:       log,
	})
	return nil
}

func (a *App) observeForecast(zone string, took time.Duration, err error) {
	if a.metrics != nil {
		a.metrics.ObserveForecast(zone, took, err)
	}
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Admin returns the admin server. It is listening only when enabled.
func (a *App) Admin() *admin.Server { return a.admin }

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

// validate rejects a reloaded config whose jobs or components cannot be built.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, _, err := schedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := forecastSource(cfg); err != nil {
		return err
	}
	if _, _, err := storageConfig(cfg); err != nil {
		return err
	}
	if _, err := adminConfig(cfg); err != nil {
		return err
	}
	if _, _, err := notifyConfig(cfg, a.client); err != nil {
		return err
	}
	_, err := BuildJobs(cfg, a.client, logx.Nop(), time.Now)
	return err
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	// The scheduler starts the task engine it dispatches to.
	a.sched.Start(a.sup.Context())
	a.admin.Start(a.sup.Context())
	a.notif.Start(a.sup.Context())

	a.sup.Go("notify.events", a.notif.Run)
	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	if a.store != nil {
		a.sup.Go0("history.record", func(c context.Context) {
			recordHistory(c, a.bus, a.store, a.log.With(logx.String("comp", "history")))
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Debug only: ticks can be frequent.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// The baseline is taken before subscribing, so a commit that lands
	// before the loop goroutine runs is still diffed against it.
	last := a.cfgm.Get()
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, last, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	snap := a.sched.Snapshot()
	a.log.Info("app started",
		logx.Int("jobs", len(snap.Jobs)),
		logx.Bool("enabled", snap.Enabled),
		logx.Bool("paused", snap.Paused),
		logx.String("admin", a.admin.Addr()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	stopTimeout := config.DefaultStopTimeout
	if cfg := a.cfgm.Get(); cfg != nil {
		if d, err := cfg.Durations(); err == nil {
			stopTimeout = d.Stop
		}
	}

	// Scheduler before the supervisor: completion events of running jobs
	// still reach history, metrics and alerts.
	a.step(ctx, "admin", 2*time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	a.step(ctx, "scheduler", stopTimeout, a.sched.Stop)
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Stop)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max so a stalled component cannot
// hold the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			max = time.Millisecond
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
		took := time.Since(start)
		if took >= 500*time.Millisecond {
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
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
