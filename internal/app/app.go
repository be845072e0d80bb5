package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"squire/internal/bgtask"
	"squire/internal/config"
	"squire/internal/deadline"
	"squire/internal/delivery"
	"squire/internal/dispatch"
	"squire/internal/eventbus"
	rtsup "squire/internal/runtime/supervisor"
	"squire/internal/secrets"
	"squire/internal/skills"
	"squire/internal/storage"
	"squire/internal/task/engine"
	"squire/internal/task/scheduler"
	"squire/internal/transport/httpapi"
	"squire/internal/transport/telegram"
	logx "squire/pkg/logx"
	"squire/pkg/systemd"
)

// App owns every long-lived component of the assistant.
type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	tasks    *bgtask.Store
	registry *skills.Registry
	exec     *deadline.Executor
	engine   *engine.Service
	sched    *scheduler.Service
	selector *delivery.Selector
	vault    *secrets.Vault
	secrets  *secrets.Service
	disp     *dispatch.Dispatcher

	http *httpapi.Server
	tg   *telegram.Bot

	stopOnce sync.Once
	reason   StopReason
	reasonMu sync.Mutex
}

// New loads the config at cfgPath and builds the components without starting
// any goroutines.
func New(cfgPath string) (*App, error) {
	abs, err := filepath.Abs(cfgPath)
	if err != nil {
		return nil, err
	}
	cfgm := config.NewConfigManager(abs)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))
	bus := eventbus.New()

	a := &App{cfgPath: abs, cfgm: cfgm, log: log, logs: logSvc, bus: bus}

	if sc, ok, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if ok {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	a.tasks = NewTaskStore(cfg, root, bgtask.WithEvents(bus))
	a.registry = BuildRegistry(cfg, a.tasks)
	a.exec = deadline.New(deadline.Config{
		Path:  cfg.Executor.Path,
		Env:   []string{ConfigEnv + "=" + abs},
		Grace: cfg.Executor.GraceDuration(),
	}, root, bus)

	a.selector = delivery.NewSelector(mapDeliveryConfig(cfg), root.With(logx.String("comp", "delivery")))

	a.vault = secrets.NewVault(cfg.Secrets.TokenTTLDuration())
	sources := []secrets.Source{secrets.NewEnvSource(cfg.Secrets.Local)}
	if cfg.Secrets.AWS.Enabled {
		sm, ps, err := secrets.NewAWSSources(cfg.Secrets.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("aws secrets: %w", err)
		}
		sources = append(sources, sm, ps)
	}
	a.secrets = secrets.NewService(a.vault, root.With(logx.String("comp", "secrets")), sources...)

	opts := []dispatch.Option{
		dispatch.WithSecrets(a.secrets),
		dispatch.WithDelivery(a.selector),
		dispatch.WithShutdown(func() { a.requestStop(StopCommand) }),
	}
	if a.store != nil {
		opts = append(opts, dispatch.WithAudit(a.store))
	}
	a.disp = dispatch.New(mapDispatchConfig(cfg), skills.NewClassifier(), a.registry, a.exec, root, opts...)

	a.engine = engine.New(mapEngineConfig(cfg), root.With(logx.String("comp", "taskengine")), bus)
	schedOpts := []scheduler.Option{scheduler.WithEvents(bus)}
	if a.store != nil {
		schedOpts = append(schedOpts, scheduler.WithMarks(a.store))
	}
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.engine, a.disp, a.tasks,
		root.With(logx.String("comp", "scheduler")), schedOpts...)
	a.disp.SetDeferrer(a.sched)

	if cfg.HTTP.Enabled {
		a.http = httpapi.New(mapHTTPConfig(cfg), a.disp, a.vault, root.With(logx.String("comp", "http")))
	}
	if cfg.Telegram.Enabled {
		tg, err := telegram.New(mapTelegramConfig(cfg), a.disp, root.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		a.tg = tg
		logSvc.SetNotifier(tg)
	}
	return a, nil
}

func (a *App) Logger() logx.Logger              { return a.log }
func (a *App) Config() *config.Config           { return a.cfgm.Get() }
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.disp }
func (a *App) Tasks() *bgtask.Store             { return a.tasks }
func (a *App) Scheduler() *scheduler.Service    { return a.sched }
func (a *App) Engine() *engine.Service          { return a.engine }

// Store is nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app stops itself (fatal error or a shutdown phrase).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Reason is why the app asked to stop, or StopUnknown.
func (a *App) Reason() StopReason {
	a.reasonMu.Lock()
	defer a.reasonMu.Unlock()
	return a.reason
}

func (a *App) requestStop(r StopReason) {
	a.reasonMu.Lock()
	if a.reason == StopUnknown {
		a.reason = r
	}
	a.reasonMu.Unlock()
	if a.sup != nil {
		// let the shutdown reply reach the caller first
		time.AfterFunc(500*time.Millisecond, a.sup.Cancel)
	}
}

// Start launches the engine, scheduler, transports and config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, _, err := mapStorageConfig(cfg)
		return err
	})
	c := a.sup.Context()

	a.engine.Start(c)
	if err := a.sched.Start(c); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if a.http != nil {
		srv := a.http
		a.sup.Go("http", srv.Start)
	}
	if a.tg != nil {
		if err := a.tg.Start(c); err != nil {
			return fmt.Errorf("start telegram: %w", err)
		}
	}

	cfg := a.cfgm.Get()
	a.sup.Go0("secrets.sweep", func(c context.Context) {
		a.vault.Run(c, min(time.Minute, cfg.Secrets.TokenTTLDuration()))
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("watchdog disabled", logx.Err(err))
		}
	})
	a.startEventLog()
	a.startReload()
	a.sup.Go("config.watch", a.cfgm.Watch)

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("squire started",
		logx.String("version", Version),
		logx.String("config", a.cfgPath),
		logx.Bool("http", a.http != nil),
		logx.Bool("telegram", a.tg != nil),
		logx.Bool("background", cfg.Background.Enabled),
	)
	return nil
}

func (a *App) startEventLog() {
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

// Stop shuts components down in reverse start order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	var err error
	a.stopOnce.Do(func() { err = a.stop(ctx, reason) })
	return err
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	if r := a.Reason(); r != StopUnknown {
		reason = r
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	if a.tg != nil {
		step("telegram", 3*time.Second, a.tg.Stop)
	}
	if a.sup != nil {
		step("supervisor", 6*time.Second, a.sup.Wait)
	}
	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// RunChild serves one executor request when this process is an executor
// child. The config comes from ConfigEnv.
func RunChild(ctx context.Context) int {
	path := os.Getenv(ConfigEnv)
	cfg := &config.Config{}
	if path != "" {
		m := config.NewConfigManager(path)
		if c, err := m.Parse(); err == nil {
			cfg = c
		} else {
			fmt.Fprintf(os.Stderr, "squire child: config: %v\n", err)
		}
	}
	log := logx.NewWriter(os.Stderr, "warn")
	tasks := NewTaskStore(cfg, log)
	return deadline.ServeChild(ctx, BuildRegistry(cfg, tasks))
}
