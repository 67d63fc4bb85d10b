package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"taskminder/internal/config"
	"taskminder/internal/eventbus"
	"taskminder/internal/notifier"
	"taskminder/internal/reminder"
	"taskminder/internal/runtime/supervisor"
	"taskminder/internal/storage"
	"taskminder/internal/taskstore"
	logx "taskminder/pkg/logx"
)

// EventReminderFired is published on the bus each time a reminder fires.
const EventReminderFired = "reminders.fired"

var resyncParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Option func(*options)

type options struct {
	logLevel string
}

// WithLogLevel overrides logging.level from the config file.
func WithLogLevel(level string) Option {
	return func(o *options) { o.logLevel = level }
}

// App owns every runtime component. CLI commands use New + Store + Close;
// the daemon additionally calls Start and Stop.
type App struct {
	cfgm *config.ConfigManager
	opts options

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	kv   storage.KV

	rem   *reminder.Service
	notif *notifier.Service
	store *taskstore.Store

	sup *supervisor.Supervisor

	cronMu sync.Mutex
	cron   *cron.Cron

	closeOnce sync.Once
}

func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	logCfg := mapLoggingConfig(cfg)
	if o.logLevel != "" {
		logCfg.Level = o.logLevel
	}
	logSvc, log := logx.New(logCfg)
	cfgm.SetLogger(log.With(logx.Comp("config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	kv, err := storage.Open(sc, log.With(logx.Comp("storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	fail := func(err error) (*App, error) {
		_ = kv.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	rem := reminder.New(mapReminderConfig(cfg), kv, log)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	sinks, err := buildSinks(cfg, log)
	if err != nil {
		return fail(err)
	}
	notif := notifier.New(ncfg, log, bus, sinks...)

	stCfg, err := mapStoreConfig(cfg, rem.Location())
	if err != nil {
		return fail(err)
	}
	store := taskstore.New(stCfg, kv, rem, log, taskstore.WithBus(bus))

	a := &App{
		cfgm:  cfgm,
		opts:  o,
		log:   log.With(logx.Comp("app")),
		logs:  logSvc,
		bus:   bus,
		kv:    kv,
		rem:   rem,
		notif: notif,
		store: store,
	}
	if err := rem.OnFire(a.onReminder); err != nil {
		return fail(err)
	}

	store.Load(ctx)
	return a, nil
}

func (a *App) Store() *taskstore.Store { return a.store }
func (a *App) Reminders() *reminder.Service { return a.rem }
func (a *App) Notifier() *notifier.Service { return a.notif }
func (a *App) Bus() eventbus.Bus { return a.bus }

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

func (a *App) onReminder(ctx context.Context, r reminder.Reminder) {
	a.bus.Publish(eventbus.Event{Type: EventReminderFired, Data: r})
	n := notifier.Notification{
		TaskID: r.Payload.TaskID,
		Title:  r.Payload.Title,
		Text:   r.Payload.Body,
		DueAt:  r.At,
	}
	err := a.notif.Enqueue(n)
	switch {
	case err == nil:
	case errors.Is(err, notifier.ErrDisabled):
		// Still surface it somewhere.
		a.log.Info("reminder fired", logx.TaskID(n.TaskID), logx.String("text", n.Text))
	default:
		a.log.Warn("reminder not queued", logx.TaskID(n.TaskID), logx.Err(err))
	}
}

// Start runs the daemon side: notifier workers, reminder timers, periodic
// resync, config hot reload. It returns once everything is running.
//
// Cancelling ctx does not stop the daemon; only Stop or a fatal error does.
// Stop needs the notifier alive to drain reminders fired before it.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(context.WithoutCancel(ctx), supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := mapStoreConfig(cfg, time.UTC)
		return err
	})

	// the notifier outlives a fatal cancel; Stop drains it
	a.notif.Start(context.WithoutCancel(runCtx))
	if err := a.rem.Start(runCtx); err != nil {
		a.notif.Stop(context.Background())
		a.sup.Cancel()
		return err
	}
	if err := a.setResync(a.cfgm.Get().Reminders.Resync); err != nil {
		a.rem.Stop(context.Background())
		a.notif.Stop(context.Background())
		a.sup.Cancel()
		return err
	}

	if a.log.Enabled(logx.LevelDebug) {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go("eventbus.log", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub, unsubCfg := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer unsubCfg()
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, time.Second, 30*time.Second)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started", logx.String("config", a.cfgm.Path()), logx.Int("tasks", a.store.Len()))
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "logging":
			lc := mapLoggingConfig(newCfg)
			if a.opts.logLevel != "" {
				lc.Level = a.opts.logLevel
			}
			a.logs.Apply(lc)
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "reminders":
			if oldCfg.Reminders.Resync != newCfg.Reminders.Resync {
				if err := a.setResync(newCfg.Reminders.Resync); err != nil {
					a.log.Warn("invalid reminders.resync; keeping previous", logx.Err(err))
				}
			}
			if oldCfg.Reminders.Timezone != newCfg.Reminders.Timezone || oldCfg.Reminders.MinLeadTime != newCfg.Reminders.MinLeadTime {
				a.log.Warn("reminder timezone/lead time changed; restart required for changes to take effect")
			}
		case "notifier":
			a.applyNotifier(ctx, oldCfg, newCfg)
		}
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyNotifier(ctx context.Context, oldCfg, newCfg *config.Config) {
	ncfg, err := mapNotifierConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	if oldCfg.Notifier.Telegram != newCfg.Notifier.Telegram {
		a.log.Warn("notifier.telegram changed; restart required for changes to take effect")
	}
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

// setResync (re)installs the cron job that reloads reminder definitions
// written by other processes. An empty spec disables it.
func (a *App) setResync(spec string) error {
	spec = strings.TrimSpace(spec)
	a.cronMu.Lock()
	defer a.cronMu.Unlock()

	var next *cron.Cron
	if spec != "" {
		next = cron.New(cron.WithParser(resyncParser), cron.WithLocation(a.rem.Location()))
		if _, err := next.AddFunc(spec, a.resync); err != nil {
			return fmt.Errorf("reminders.resync: %w", err)
		}
	}
	if a.cron != nil {
		a.cron.Stop()
	}
	a.cron = next
	if next != nil {
		next.Start()
		a.log.Debug("resync scheduled", logx.String("spec", spec))
	}
	return nil
}

func (a *App) resync() {
	ctx := context.Background()
	if a.sup != nil {
		ctx = a.sup.Context()
	}
	if ctx.Err() != nil {
		return
	}
	if err := a.rem.Sync(ctx); err != nil {
		a.log.Warn("reminder resync failed", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Producers first: no reminder fires after "reminders", and "notifier"
	// delivers whatever they queued before the supervisor is cancelled.
	a.step(ctx, "resync", time.Second, func(c context.Context) error {
		a.cronMu.Lock()
		cr := a.cron
		a.cron = nil
		a.cronMu.Unlock()
		if cr == nil {
			return nil
		}
		select {
		case <-cr.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	a.step(ctx, "reminders", time.Second, func(c context.Context) error { a.rem.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.sup.Cancel()
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.Close()
}

// step runs one shutdown step bounded by max so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
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
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

// Close releases storage and log sinks. It is safe to call more than once.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.kv.Close()
		if cerr := a.logs.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
