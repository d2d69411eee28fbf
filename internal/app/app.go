// Package app assembles the bot from its config and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"voxbot/internal/bot"
	"voxbot/internal/broadcast"
	"voxbot/internal/config"
	"voxbot/internal/eventbus"
	"voxbot/internal/maintenance"
	"voxbot/internal/metrics"
	"voxbot/internal/observability/server"
	"voxbot/internal/ratelimit"
	"voxbot/internal/runtime/supervisor"
	"voxbot/internal/storage"
	"voxbot/internal/subscription"
	kit "voxbot/internal/transport"
	telegram "voxbot/internal/transport/telegram/adapter"
	"voxbot/internal/transport/telegram/router"
	"voxbot/internal/voice"
	"voxbot/pkg/logx"
	"voxbot/pkg/systemd"
)

const updatesBuffer = 256

type App struct {
	version string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor
	// runs hosts async broadcasts; it outlives the dispatch loop so runs can
	// record their outcome during shutdown.
	runs *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   *storage.Store
	adapter *telegram.Adapter
	router  *router.Router

	bcast   *broadcast.Service
	conv    *voice.Converter
	checker *subscription.Checker
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	obs     *server.Service
	maint   *maintenance.Service

	admins atomic.Pointer[[]int64]

	updates chan kit.Update
}

// New loads and validates the config at cfgPath and builds every component.
// Nothing talks to the network until Start.
func New(cfgPath, version string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// The Telegram sink needs the adapter, so it is attached after both exist.
	logs, log := logx.New(logConfig(cfg))
	ad, err := telegram.New(adapterConfig(cfg), log.With(logx.Comp("telegram")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	logs.SetSender(ad)

	a := &App{
		version: version,
		cfgm:    cfgm,
		log:     log.With(logx.Comp("app")),
		logs:    logs,
		bus:     eventbus.New(),
		adapter: ad,
		metrics: metrics.New(),
		updates: make(chan kit.Update, updatesBuffer),
	}
	a.setAdmins(cfg.Telegram.AdminIDs)

	a.store, err = storage.Open(storageConfig(cfg), log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	a.runs = supervisor.New(context.Background(), supervisor.WithLogger(a.log.With(logx.Comp("broadcast.runs"))))
	a.bcast = broadcast.NewService(broadcastConfig(cfg), a.store, ad, broadcast.NewHistory(historyPath(cfg)), log,
		broadcast.WithEventBus(a.bus),
		broadcast.WithObserver(a.metrics),
		broadcast.WithSupervisor(a.runs),
	)
	a.conv, err = voice.NewConverter(voiceConfig(cfg), ad, a.store, a.metrics, a.bus, log)
	if err != nil {
		_ = a.store.Close()
		_ = logs.Close()
		return nil, err
	}
	a.checker = subscription.NewChecker(checkerConfig(cfg), ad, a.store, log)
	msgs, window := rateLimit(cfg)
	a.limiter = ratelimit.New(msgs, window, a.isAdmin)

	a.router = router.New(ad, log,
		router.WithAdminCheck(a.isAdmin),
		router.WithUpdateHook(a.metrics.Update),
	)
	bot.New(bot.Deps{
		Adapter:       ad,
		Files:         ad,
		Store:         a.store,
		Broadcast:     a.bcast,
		Converter:     a.conv,
		Subscriptions: a.checker,
		Channels:      subscription.NewChannels(a.store, ad, a.bus, log),
		Limiter:       a.limiter,
		Metrics:       a.metrics,
		Admins:        a.adminIDs,
		Version:       version,
		BackupDir:     backupDir(cfg),
		Log:           log,
	}).Register(a.router)

	a.obs = server.New(serverConfig(cfg), a.metrics.Registry(), a.health, log)

	a.maint = maintenance.New(cfg.Maintenance.Timezone, log)
	if err := a.maint.Schedule(a.maintenanceJobs(cfg)...); err != nil {
		a.log.Warn("some maintenance jobs were not scheduled", logx.Err(err))
	}
	return a, nil
}

func (a *App) setAdmins(ids []int64) {
	cp := slices.Clone(ids)
	a.admins.Store(&cp)
}

func (a *App) adminIDs() []int64 {
	if p := a.admins.Load(); p != nil {
		return *p
	}
	return nil
}

func (a *App) isAdmin(id int64) bool { return slices.Contains(a.adminIDs(), id) }

func (a *App) maintenanceJobs(cfg *config.Config) []maintenance.Job {
	t := maintenance.Targets{
		History:    a.bcast.History(),
		HistoryMax: historyMax(cfg),
		Limiter:    a.limiter,
	}
	if a.conv != nil {
		t.Temp = a.conv
	}
	return maintenance.Jobs(cfg.Maintenance, t, a.log.With(logx.Comp("maintenance")))
}

func (a *App) health(ctx context.Context) error {
	if a.store == nil {
		return errors.New("storage closed")
	}
	return a.store.Ping(ctx)
}

// Done is closed once the app supervisor stops, on a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error the supervisor saw.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	rc := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.Comp("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.adapter.Start(rc, a.updates); err != nil {
		return err
	}
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	menuCtx, cancel := context.WithTimeout(rc, 10*time.Second)
	if err := a.router.PublishMenu(menuCtx); err != nil {
		a.log.Warn("command menu not published", logx.Err(err))
	}
	cancel()

	a.obs.Start(rc)
	a.maint.Start(rc)

	a.sup.Go0("eventbus.log", func(c context.Context) { a.logEvents(c) })
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c) })
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })

	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) { systemd.Watchdog(c, iv, a.health) })
	}
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("bot started",
		logx.String("version", a.version),
		logx.String("bot", a.adapter.BotUsername()),
		logx.Int("admins", len(a.adminIDs())),
	)
	return nil
}

// logEvents mirrors bus traffic into the debug log.
func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// Stop shuts components down in dependency order, each step bounded so one
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason string) error {
	if a.sup == nil {
		// Never started: only release what New opened.
		if a.store != nil {
			_ = a.store.Close()
		}
		return a.logs.Close()
	}
	a.log.Info("stopping", logx.String("reason", reason))
	_, _ = systemd.Stopping()
	a.sup.Cancel()

	a.step(ctx, "maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	// Canceled runs still fold their last batch and append history, so they
	// go before the adapter and storage.
	a.step(ctx, "broadcasts", 5*time.Second, func(c context.Context) error { return a.runs.Stop(c) })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "metrics", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.Uint64("bus_dropped", a.bus.Dropped()))
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
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
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
