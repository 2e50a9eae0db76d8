package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"shipbot/internal/cadence"
	"shipbot/internal/config"
	"shipbot/internal/eventbus"
	"shipbot/internal/intake"
	"shipbot/internal/metrics"
	"shipbot/internal/observability/opshttp"
	"shipbot/internal/publisher"
	"shipbot/internal/runtime/supervisor"
	"shipbot/internal/scheduler"
	"shipbot/internal/storage"
	kit "shipbot/internal/transport"
	telegram "shipbot/internal/transport/telegram/adapter"
	"shipbot/internal/transport/telegram/router"
	logx "shipbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry

	store   storage.Store
	adapter *telegram.Adapter
	pub     *publisher.Publisher
	sched   *scheduler.Service
	intake  *intake.Service
	router  *router.Router
	ops     *opshttp.Service

	cad atomic.Pointer[cadence.Cadence]

	updates chan kit.Update
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(mapTelegramConfig(cfg), bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately; enable the Telegram sink only after the
	// target is set so Apply does not warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	boot := logCfg
	boot.Telegram.Enabled = false
	logSvc, log := logx.New(boot, ad)
	logSvc.SetTelegramTarget(logTarget(cfg))
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	cleanup := func() { _ = logSvc.Close() }

	store, err := storage.Open(ctx, mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", cfg.Storage.Driver))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)
	bus := eventbus.New()

	pubCfg, err := mapPublisherConfig(cfg)
	if err != nil {
		_ = store.Close()
		cleanup()
		return nil, err
	}
	pub := publisher.New(ad, store, pubCfg, log.With(logx.String("comp", "publisher")), rec)

	cad, err := mapCadence(cfg)
	if err != nil {
		_ = store.Close()
		cleanup()
		return nil, err
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		cleanup()
		return nil, err
	}
	sched := scheduler.New(schedCfg, cad, store, pub,
		scheduler.WithBus(bus),
		scheduler.WithMetrics(rec),
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
	)

	in := intake.New(store, intake.Passthrough{}, bus, log.With(logx.String("comp", "intake")))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		reg:     reg,
		store:   store,
		adapter: ad,
		pub:     pub,
		sched:   sched,
		intake:  in,
		updates: make(chan kit.Update, 256),
	}
	a.cad.Store(cad)

	a.router = router.New(ad, router.Deps{
		Ops:      sched,
		Intake:   in,
		Audit:    store,
		Slots:    func() string { return a.cad.Load().Describe() },
		Location: func() *time.Location { return a.cad.Load().Location() },
	}, cfg.Telegram.OwnerUserIDs, log.With(logx.String("comp", "router")))

	a.ops = opshttp.New(mapOpsConfig(cfg), opshttp.Deps{
		Gatherer: reg,
		Health:   a.health,
	}, log)

	return a, nil
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateReload)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	menuCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.adapter.UpdateMenuCommands(menuCtx, a.router.MenuCommands()); err != nil {
		a.log.Warn("set bot commands failed", logx.Err(err))
	}
	cancel()

	a.sched.Start(a.sup.Context())
	a.ops.Start(a.sup.Context())

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("channel", a.cfgm.Get().Telegram.Channel),
		logx.String("slots", a.cad.Load().Describe()),
	)
	return nil
}

// logEvents mirrors pipeline events into the log. Publish failures and slot
// exhaustion are warnings so they reach the operator chat.
func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			fields := []logx.Field{logx.String("type", e.Type)}
			if ie, ok := e.Data.(eventbus.ItemEvent); ok {
				fields = append(fields, logx.Int64("item_id", ie.ItemID))
				if !ie.ScheduledAt.IsZero() {
					fields = append(fields, logx.Time("scheduled_at", ie.ScheduledAt))
				}
				if ie.Err != "" {
					fields = append(fields, logx.String("err", ie.Err))
				}
			}
			switch e.Type {
			case eventbus.ItemPublishFailed, eventbus.SlotsExhausted:
				a.log.Warn("pipeline event", fields...)
			case eventbus.TickCompleted:
				a.log.Trace("pipeline event", fields...)
			default:
				a.log.Debug("pipeline event", fields...)
			}
		}
	}
}

func (a *App) health() opshttp.Report {
	rep := opshttp.Report{OK: true, Time: time.Now(), Details: map[string]any{}}
	if a.sup != nil {
		rep.Tasks = a.sup.Snapshot()
		if err := a.sup.Err(); err != nil {
			rep.OK = false
			rep.Details["fatal"] = err.Error()
		}
	}
	rep.Details["scheduler_enabled"] = a.sched.Enabled()
	rep.Details["slots"] = a.cad.Load().Describe()
	rep.Details["events_dropped"] = a.bus.Dropped()
	if last, ok := a.sched.LastTick(); ok {
		rep.Details["last_tick_at"] = last.Report.At
		rep.Details["queue_ready"] = last.Report.Ready
		rep.Details["queue_future"] = last.Report.Future
		rep.Details["queue_unscheduled"] = last.Report.Unscheduled
		rep.Details["slots_exhausted"] = last.Report.Exhausted
		if last.Err != nil {
			rep.Details["last_tick_err"] = last.Err.Error()
		}
	}
	return rep
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		dl, ok := ctx.Deadline()
		limit = stopTimeout(limit, dl, ok)
		if limit <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
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

	// scheduler first so no publish starts while the transport goes away
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	if _, err := mapCadence(cfg); err != nil {
		return err
	}
	if _, err := mapPublisherConfig(cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	return nil
}
