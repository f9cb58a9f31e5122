package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"reminderd/internal/config"
	"reminderd/internal/notifier"
	"reminderd/internal/observability/debughttp"
	"reminderd/internal/reminders"
	"reminderd/internal/runtime/supervisor"
	"reminderd/internal/storage"
	"reminderd/internal/task/engine"
	"reminderd/internal/task/scheduler"
	"reminderd/internal/transport/telegram"
	logx "reminderd/pkg/logx"
)

// App wires the store, the delivery router and the poll loop together and
// keeps them in step with the config file.
type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store      storage.Store
	persistent bool

	router    *notifier.Router
	telegram  *telegram.Channel
	engine    *engine.Service
	reminders *reminders.Service
	sched     *scheduler.Service
	debug     *debughttp.Server
}

// Status is the document served at /status.
type Status struct {
	Scheduler   scheduler.Snapshot     `json:"scheduler"`
	Channels    []string               `json:"channels"`
	Deliveries  []notifier.HistoryItem `json:"deliveries"`
	Supervisors []supervisor.Stats     `json:"supervisors"`
}

type options struct {
	offline bool
	store   storage.Store
}

type Option func(*options)

// Offline builds the Telegram channel without contacting the Bot API. Used by
// one-shot CLI commands that never deliver.
func Offline() Option { return func(o *options) { o.offline = true } }

// WithStore uses st instead of opening the configured store.
func WithStore(st storage.Store) Option { return func(o *options) { o.store = st } }

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	set, err := MapConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Alerts stay off until the Telegram sender exists, then the final
	// config is applied.
	bootLog := set.Logging
	bootLog.Alert.Enabled = false
	logSvc, log := logx.New(bootLog, nil)

	store := o.store
	if store == nil {
		store, err = storage.Open(set.Storage, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	router := notifier.NewRouter(set.Notifier, log, notifier.NewLogChannel(log))
	var tg *telegram.Channel
	if set.TelegramEnabled {
		tcfg := set.Telegram
		tcfg.Offline = tcfg.Offline || o.offline
		tg, err = telegram.New(tcfg, log)
		if err != nil {
			_ = store.Close()
			_ = logSvc.Close()
			return nil, err
		}
		router.Register(tg)
		logSvc.SetAlertSender(tg)
	}
	logSvc.Apply(set.Logging)

	eng := engine.New(set.Engine, log.With(logx.String("comp", "engine")))
	rem := reminders.New(set.Reminders, store, log)
	sched := scheduler.New(set.Scheduler, store, router, eng, log)

	a := &App{
		cfgm:      cfgm,
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		store:     store,
		router:    router,
		telegram:  tg,
		engine:    eng,
		reminders: rem,
		sched:     sched,
	}
	switch set.Storage.Driver {
	case "", "memory", "mem":
	default:
		a.persistent = o.store == nil
	}
	a.debug = debughttp.New(set.Debug, func() any { return a.Status() }, log)
	return a, nil
}

func (a *App) Status() Status {
	st := Status{
		Scheduler:  a.sched.Snapshot(),
		Channels:   a.router.Channels(),
		Deliveries: a.router.Snapshot(),
	}
	if a.sup != nil {
		st.Supervisors = a.sup.Snapshot()
	}
	return st
}

// Persistent reports whether the store outlives the process.
func (a *App) Persistent() bool { return a.persistent }

func (a *App) Reminders() *reminders.Service    { return a.reminders }
func (a *App) Store() storage.Store              { return a.store }
func (a *App) Scheduler() *scheduler.Service     { return a.sched }
func (a *App) Router() *notifier.Router          { return a.router }
func (a *App) Config() *config.Config            { return a.cfgm.Get() }
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Done is closed when the supervisor context is cancelled (fatal error or Stop).
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

	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := MapConfig(cfg)
		return err
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	sub := a.cfgm.Subscribe()
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithBackoff(time.Second, 30*time.Second))
	a.sup.GoRestart("debug.http", a.debug.Run, supervisor.WithBackoff(time.Second, time.Minute))

	a.log.Info("app started",
		logx.String("config", a.cfgm.Path()),
		logx.Strs("channels", a.router.Channels()),
	)
	return nil
}

// applyConfig pushes a committed config into every live component. Storage
// and Telegram credentials are only read at startup.
func (a *App) applyConfig(old, next *config.Config) {
	sections, fields := config.SummarizeChange(old, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	set, err := MapConfig(next)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	for _, s := range []string{"storage", "telegram"} {
		if slices.Contains(sections, s) {
			a.log.Warn(s+" config changed; restart required for changes to take effect")
		}
	}

	logCfg := set.Logging
	if a.telegram == nil {
		logCfg.Alert.Enabled = false
	}
	a.logs.Apply(logCfg)
	a.router.Apply(set.Notifier)
	a.engine.Apply(set.Engine)
	a.reminders.Apply(set.Reminders)
	if err := a.sched.Apply(set.Scheduler); err != nil {
		a.log.Error("scheduler config not applied", logx.Err(err))
	}
	a.debug.Apply(set.Debug)

	fields = append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order. Each step is bounded so a
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("engine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if err := a.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	return errors.Join(a.store.Close(), a.logs.Close())
}
