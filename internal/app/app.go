// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"signbot/internal/commands"
	"signbot/internal/config"
	"signbot/internal/eventbus"
	"signbot/internal/httpapi"
	"signbot/internal/metrics"
	"signbot/internal/notifier"
	rtsup "signbot/internal/runtime/supervisor"
	"signbot/internal/signin"
	"signbot/internal/siteadapter"
	"signbot/internal/siteadapter/render"
	"signbot/internal/sites"
	"signbot/internal/storage"
	"signbot/internal/task/scheduler"
	"signbot/internal/transport"
	"signbot/internal/transport/logonly"
	"signbot/internal/transport/telegram"
	logx "signbot/pkg/logx"
)

type App struct {
	cfgm     *config.Manager
	settings *signInSettings
	sup      *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter transport.Adapter
	sites   *sites.Registry
	sched   *scheduler.Service
	notif   *notifier.Service
	metrics *metrics.Metrics
	signin  *signin.Service
	router  *commands.Router
	http    *httpapi.Server

	updates chan transport.Update
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)
	adapter, err := newAdapter(cfg, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), adapter)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := openStore(cfg, log, appLog)
	if err != nil {
		return nil, err
	}

	reg, err := sites.Load(cfg.Sites.Path, bus, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load sites: %w", err)
	}

	sched := scheduler.New(mapSchedulerConfig(cfg), log)
	settings := newSignInSettings(cfgm)

	ncfg, err := notifier.FromConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, adapter, bus, log)
	m := metrics.New()

	dispatcher, err := newDispatcher(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	svc := signin.NewService(signin.ServiceDeps{
		Deps: signin.Deps{
			Sites:     reg,
			Attempter: dispatcher,
			State:     signin.NewStateStore(store),
			Notifier:  notif,
			Settings:  settings,
			Metrics:   m,
			Bus:       bus,
			Log:       log,
			Now:       func() time.Time { return time.Now().In(sched.Location()) },
		},
		Scheduler: sched,
	})

	router := commands.NewRouter(adapter, cfg.Telegram.OwnerUserIDs, log)
	commands.RegisterSignIn(router, svc, reg)

	a := &App{
		cfgm:     cfgm,
		settings: settings,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  adapter,
		sites:    reg,
		sched:    sched,
		notif:    notif,
		metrics:  m,
		signin:   svc,
		router:   router,
		updates:  make(chan transport.Update, 64),
	}
	if cfg.HTTP.Enabled {
		a.http = httpapi.New(mapHTTPConfig(cfg), svc, m.Handler(), log)
	}
	cfgm.SetValidator(func(_ context.Context, next *config.Config) error { return validateReload(next) })
	return a, nil
}

func newAdapter(cfg *config.Config, log logx.Logger) (transport.Adapter, error) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		log.Warn("telegram token empty; messages go to the log only")
		return logonly.New(log), nil
	}
	poll, err := mapPollTimeout(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, log)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return ad, nil
}

// openStore falls back to memory when storage is disabled so sign-in state
// still works within one process lifetime.
func openStore(cfg *config.Config, log, appLog logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log)
	if errors.Is(err, storage.ErrDisabled) {
		appLog.Warn("storage disabled; sign-in state is kept in memory")
		return storage.NewMemory(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver))
	return st, nil
}

func newDispatcher(cfg *config.Config, log logx.Logger) (*siteadapter.Dispatcher, error) {
	rc, err := mapRenderConfig(cfg)
	if err != nil {
		return nil, err
	}
	r, err := render.New(rc, log)
	if err != nil {
		return nil, err
	}
	gc, err := mapGenericConfig(cfg)
	if err != nil {
		return nil, err
	}
	generic, err := siteadapter.NewGeneric(gc, r, log)
	if err != nil {
		return nil, err
	}
	return siteadapter.NewDispatcher(generic, log), nil
}

// validateReload rejects a reloaded file whose derived settings do not map.
func validateReload(next *config.Config) error {
	if _, err := mapStorageConfig(next); err != nil {
		return err
	}
	if _, err := notifier.FromConfig(next); err != nil {
		return err
	}
	if _, err := mapRenderConfig(next); err != nil {
		return err
	}
	_, err := mapGenericConfig(next)
	return err
}

// Done is closed when the app supervisor stops.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	sctx := a.sup.Context()

	if err := a.adapter.Start(sctx, a.updates); err != nil {
		return err
	}
	a.notif.Start(sctx)
	a.sched.Start(sctx)
	a.signin.Start(sctx)
	if err := a.signin.Configure(sctx, a.settings.SignIn()); err != nil {
		// The operator has been notified; the schedule stays off until fixed.
		a.log.Warn("sign-in schedule not active", logx.Err(err))
	}

	a.sup.Go("commands", func(c context.Context) error {
		return a.router.Serve(c, a.updates)
	})
	a.sup.Go0("metrics.events", func(c context.Context) {
		a.metrics.Consume(c, a.bus)
	})
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, time.Minute)

	if a.cfgm.Get().Sites.Watch {
		a.sup.GoRestart("sites.watch", a.sites.Watch, time.Second, time.Minute)
	}
	if a.http != nil {
		a.sup.Go("httpapi", a.http.Serve)
	}

	a.log.Info("app started", logx.Int("sites", len(a.sites.List())))
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64)
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

// reloadLoop applies hot-reloaded config. Storage, transport, browser and
// HTTP settings need a restart.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.apply(ctx, last, next)
			last = next
		}
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	a.logs.Apply(mapLogConfig(next))
	a.router.SetOwners(next.Telegram.OwnerUserIDs)
	a.sched.Apply(mapSchedulerConfig(next))
	if ncfg, err := notifier.FromConfig(next); err == nil {
		a.notif.Apply(ncfg)
	}

	var restart []string
	if !reflect.DeepEqual(prev.Storage, next.Storage) {
		restart = append(restart, "storage")
	}
	if prev.Telegram.Token != next.Telegram.Token {
		restart = append(restart, "telegram.token")
	}
	if !reflect.DeepEqual(prev.Browser, next.Browser) || !reflect.DeepEqual(prev.Network, next.Network) {
		restart = append(restart, "browser/network")
	}
	if !reflect.DeepEqual(prev.HTTP, next.HTTP) {
		restart = append(restart, "http")
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required", logx.Strings("sections", restart))
	}

	if a.settings.changed(next.SignIn) {
		a.log.Info("sign-in settings changed; rescheduling")
		if err := a.signin.Configure(ctx, next.SignIn); err != nil {
			a.log.Warn("sign-in schedule not active", logx.Err(err))
		}
	}
}

// Stop tears components down in reverse dependency order, each step bounded
// by what is left of ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("supervisor", 5*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	step("signin", 3*time.Second, a.signin.Stop)
	step("scheduler", 10*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 5*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("transport", 3*time.Second, a.adapter.Stop)
	step("storage", 3*time.Second, func(context.Context) error { return a.store.Close() })
	step("logging", time.Second, func(context.Context) error { return a.logs.Close() })
	return errors.Join(errs...)
}
