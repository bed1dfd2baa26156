package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"deadlined/internal/config"
	"deadlined/internal/deadline"
	"deadlined/internal/eventbus"
	"deadlined/internal/observability/debugsrv"
	"deadlined/internal/runtime/supervisor"
	"deadlined/internal/storage"
	"deadlined/internal/timers"
	logx "deadlined/pkg/logx"
)

// Handler runs when a timer fires. Returning false asks the scheduler to
// retry the same deadline; recurring timers are re-armed only after the
// handler returns true.
type Handler func(ctx context.Context, key string) bool

type Option func(*App)

// WithHandler replaces the default handler, which only logs.
func WithHandler(h Handler) Option {
	return func(a *App) {
		if h != nil {
			a.handler = h
		}
	}
}

// WithoutWatch disables config file watching.
func WithoutWatch() Option {
	return func(a *App) { a.watch = false }
}

type armedTimer struct {
	cfg  config.TimerConfig
	spec timers.Spec
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log      logx.Logger
	logs     *logx.Service
	bus      eventbus.Bus
	store    storage.Store // nil when history is disabled
	rec      *storage.Recorder
	debug    *debugsrv.Service
	sched    *deadline.Scheduler[string]
	settings config.SchedulerSettings

	handler Handler
	watch   bool

	// mu guards armed and applied. Lock order: mu before the scheduler lock.
	mu      sync.Mutex
	armed   map[string]armedTimer
	applied *config.Config

	stopOnce sync.Once
	stopErr  error
}

func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	settings, err := cfg.Scheduler.Resolve()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	// History (optional)
	var (
		store storage.Store
		rec   *storage.Recorder
	)
	if hc, enabled, err := mapHistoryConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(hc, logSvc.Logger())
		if err != nil {
			return nil, err
		}
		store = st
		rec = storage.NewRecorder(st, bus, 256, logSvc.Logger())
		log.Info("history enabled", logx.String("driver", hc.Driver))
	}

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		rec:      rec,
		settings: settings,
		watch:    true,
		armed:    make(map[string]armedTimer),
	}
	a.handler = a.logFiring
	for _, o := range opts {
		o(a)
	}

	schedLog := logSvc.Logger()
	a.sched = deadline.New(newEntryStore(settings.Store), a.fire, schedulerOptions(settings, schedLog, bus)...)
	a.debug = debugsrv.New(mapDebugConfig(cfg), a, logSvc.Logger())
	return a, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start arms the configured timers and starts background loops.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))

	cfg := a.cfgm.Get()
	if err := a.applyTimers(nil, cfg.Timers); err != nil {
		return err
	}
	a.mu.Lock()
	a.applied = cfg
	a.mu.Unlock()

	if a.rec != nil {
		a.sup.Go("history.recorder", a.rec.Run)
	}
	if a.watch {
		a.sup.Go("config.watch", a.cfgm.Watch)
	}
	a.debug.Reconfigure(a.sup.Context(), mapDebugConfig(cfg))

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
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
				if err := a.Apply(newCfg); err != nil {
					a.log.Warn("config apply failed", logx.Err(err))
				}
			}
		}
	})

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
				// Debug level; frequent timers would be noisy otherwise.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.log.Info("started", logx.Int("timers", len(cfg.Timers)), logx.String("store", a.settings.Store))
	return nil
}

// Apply brings logging and timers in line with cfg. Scheduler and history
// settings only take effect on restart.
func (a *App) Apply(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	a.mu.Lock()
	prev := a.applied
	a.mu.Unlock()

	sections, attrs := config.SummarizeChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return nil
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config change summary", fields...)

	for _, s := range sections {
		if s == "scheduler" || s == "history" {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(cfg))
	if a.sup != nil {
		a.debug.Reconfigure(a.sup.Context(), mapDebugConfig(cfg))
	}

	var oldTimers []config.TimerConfig
	if prev != nil {
		oldTimers = prev.Timers
	}
	err := a.applyTimers(oldTimers, cfg.Timers)

	a.mu.Lock()
	a.applied = cfg
	a.mu.Unlock()
	return err
}

// applyTimers cancels removed keys and (re)schedules new or changed ones.
func (a *App) applyTimers(oldT, newT []config.TimerConfig) error {
	upsert, removed := config.DiffTimers(oldT, newT)
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, key := range removed {
		delete(a.armed, key)
		if err := a.sched.Cancel(key); err != nil {
			errs = append(errs, err)
			continue
		}
		a.log.Info("timer removed", logx.String("key", key))
	}
	for _, t := range upsert {
		key := strings.TrimSpace(t.Key)
		spec, err := t.Spec(now, a.settings.Location)
		if err != nil {
			errs = append(errs, fmt.Errorf("timer %s: %w", key, err))
			continue
		}
		next, ok := spec.Next(now)
		if !ok {
			a.log.Warn("timer has no upcoming deadline", logx.String("key", key), logx.String("spec", spec.String()))
			continue
		}
		a.armed[key] = armedTimer{cfg: t, spec: spec}
		if err := a.sched.Schedule(key, next); err != nil {
			errs = append(errs, err)
			continue
		}
		a.log.Info("timer armed", logx.String("key", key), logx.String("spec", spec.String()), logx.Time("next", next))
	}
	return errors.Join(errs...)
}

// fire is the scheduler task. A successful run re-arms recurring timers; the
// new entry replaces the fired one, so the scheduler keeps it.
func (a *App) fire(ctx context.Context, key string) bool {
	a.mu.Lock()
	t, ok := a.armed[key]
	a.mu.Unlock()
	if !ok {
		// Removed by a reload while due.
		return true
	}

	if !a.handler(ctx, key) {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.armed[key]
	if !ok || cur.cfg != t.cfg {
		// A reload replaced or removed the timer while it ran.
		return true
	}
	if !t.spec.Recurring() {
		delete(a.armed, key)
		return true
	}
	next, ok := t.spec.Next(time.Now())
	if !ok {
		delete(a.armed, key)
		return true
	}
	if err := a.sched.Schedule(key, next); err != nil && !errors.Is(err, deadline.ErrClosed) {
		a.log.Warn("timer re-arm failed", logx.String("key", key), logx.Err(err))
	}
	return true
}

func (a *App) logFiring(_ context.Context, key string) bool {
	a.log.Info("timer fired", logx.String("key", key))
	return true
}

// Snapshot returns the scheduler diagnostics.
func (a *App) Snapshot() deadline.Snapshot { return a.sched.Snapshot() }

// RecentRuns returns persisted run history, or ErrDisabled without a history store.
func (a *App) RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentRuns(ctx, limit)
}

// DebugAddr returns the debug server's bound address, or "" when it is off.
func (a *App) DebugAddr() string { return a.debug.Addr() }

// Armed reports the deadline currently armed for key.
func (a *App) Armed(key string) (time.Time, bool) { return a.sched.Lookup(key) }

// Stop shuts everything down; later calls return the first result.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.stopOnce.Do(func() { a.stopErr = a.stop(ctx, reason) })
	return a.stopErr
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	// step runs one shutdown step with an upper bound so one component can't
	// stall the whole stop. It never extends the caller's deadline.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(c); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	// The scheduler goes first so outcomes of a running task still reach the
	// recorder, which drains its buffer once the supervisor is canceled.
	step("debug", 2*time.Second, a.debug.Stop)
	step("scheduler", 5*time.Second, a.sched.Stop)
	if a.sup != nil {
		a.sup.Cancel()
		step("supervisor", 2*time.Second, a.sup.Wait)
	}
	if a.store != nil {
		step("history", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
