package app

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-systemd/v22/daemon"

	"seobot/internal/commands"
	"seobot/internal/config"
	"seobot/internal/eventbus"
	"seobot/internal/observability/debughttp"
	"seobot/internal/observability/metrics"
	"seobot/internal/provider/ahrefs"
	"seobot/internal/report"
	"seobot/internal/reportcache"
	rtsup "seobot/internal/runtime/supervisor"
	"seobot/internal/schedule"
	"seobot/internal/storage"
	"seobot/internal/task/scheduler"
	"seobot/internal/transport"
	"seobot/internal/transport/slack"
	"seobot/internal/transport/telegram"
	"seobot/internal/watch"
	logx "seobot/pkg/logx"
)

// Sections that are only read at startup.
var restartSections = map[string]bool{
	"slack":    true,
	"telegram": true,
	"ahrefs":   true,
	"storage":  true,
}

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	audit storage.Store

	mux      *transport.Mux
	telegram *telegram.Adapter

	store   *schedule.Store
	cache   *reportcache.Cache[report.Report]
	runner  *report.Runner
	sched   *scheduler.Service
	disp    *commands.Dispatcher
	metrics *metrics.Metrics
	debug   *debughttp.Server

	updates       chan transport.Update
	watchDegraded atomic.Bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", cfgPath)
	}
	if err := config.Validate(cfg, true); err != nil {
		return nil, err
	}

	mux := transport.NewMux(defaultPlatform(cfg))

	// Chat log lines go through the mux, so they start flowing once adapters are added.
	logSvc, log := logx.New(mapLogConfig(cfg), mux)
	logSvc.SetChatTarget(logTarget(cfg))

	a := &App{
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log.With(logx.String("comp", "app")),
		bus:     eventbus.New(),
		mux:     mux,
		updates: make(chan transport.Update, 256),
	}

	if cfg.Slack.Enabled {
		ad, err := slack.New(mapSlackConfig(cfg), log)
		if err != nil {
			return nil, err
		}
		mux.Add(ad)
	}
	if cfg.Telegram.Enabled {
		tc, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(tc, log)
		if err != nil {
			return nil, err
		}
		a.telegram = ad
		mux.Add(ad)
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		a.audit = st
		a.log.Info("audit log enabled", logx.String("driver", sc.Driver))
	}

	a.store = schedule.NewStore(schedulesPath(cfg), log)
	if _, err := a.store.Load(); err != nil {
		// Not fatal: the watcher retries once the file is fixed.
		a.log.Warn("schedules not loaded", logx.String("path", a.store.Path()), logx.Err(err))
	}

	acfg, err := mapAhrefsConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := ahrefs.New(acfg, nil, log)
	if !client.Configured() {
		a.log.Warn("ahrefs token missing; checks will fail until it is set", logx.String("env", config.EnvAhrefsKey))
	}

	rcfg, ttl, err := mapReportConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.cache = reportcache.New[report.Report](reportcache.WithTTL(ttl), reportcache.WithMax(cfg.Reports.CacheMax))
	a.runner = report.New(rcfg, client, mux, a.cache, log, a.bus)

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(scfg, a.runner.RunScheduled, log, a.bus, scheduler.WithErrorHandler(a.runner.NotifyFailure))

	a.disp = commands.New(commands.Config{
		AllowedUsers:  cfg.Chat.AllowedUsers,
		MaxConcurrent: cfg.Chat.MaxConcurrentChecks,
	}, commands.Deps{
		Checker:   a.runner,
		Schedules: a.store,
		Scheduler: a.sched,
		Sink:      mux,
		Audit:     a.audit,
		Bus:       a.bus,
		Log:       log,
	})

	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.metrics = metrics.New(true)
	a.debug = debughttp.New(dcfg, a.metrics.Handler(), a.health, log)
	return a, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
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
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg, true)
	})

	for _, ad := range a.mux.Adapters() {
		if err := ad.Start(runCtx, a.updates); err != nil {
			return errors.Wrapf(err, "start %s adapter", ad.Name())
		}
	}
	if a.telegram != nil {
		menu := commands.Menu()
		cmds := make([]telegram.BotCommand, 0, len(menu))
		for _, m := range menu {
			cmds = append(cmds, telegram.BotCommand{Command: m.Command, Description: m.Description})
		}
		if err := a.telegram.SetCommands(cmds); err != nil {
			a.log.Warn("telegram command menu not set", logx.Err(err))
		}
	}

	a.sched.Start(runCtx, a.store.List())

	a.sup.Go0("metrics", func(c context.Context) { _ = a.metrics.Run(c, a.bus) })
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.disp.Loop(c, a.updates)
	})

	cfg := a.cfgm.Get()
	if cfg.Schedules.WatchEnabled() {
		opts, err := mapWatchOptions(cfg, a.log.With(logx.String("comp", "schedules.watch")))
		if err != nil {
			return err
		}
		opts.OnDegraded = a.onWatchDegraded
		a.sup.GoRestart("schedules.watch", func(c context.Context) error {
			return watch.File(c, a.store.Path(), opts, a.reloadSchedules)
		}, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	} else {
		a.log.Info("schedules file watch disabled; edits apply on restart or through chat commands")
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				next = latest(sub, next)
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, rtsup.WithRestartBackoff(time.Second, 30*time.Second))

	if dcfg, err := mapDebugConfig(cfg); err == nil {
		a.debug.Reconfigure(runCtx, dcfg)
	}

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdog(c, a.log, func() bool { return a.sup.Err() == nil })
	})
	notifySystemd(a.log, daemon.SdNotifyReady)

	a.log.Info("app started",
		logx.String("default_platform", a.mux.Default()),
		logx.Int("adapters", len(a.mux.Adapters())),
		logx.Int("schedules", len(a.store.List())))
	return nil
}

// latest drains queued configs and keeps the newest.
func latest(ch <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-ch:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

// reloadSchedules re-reads the schedules file after an external edit.
func (a *App) reloadSchedules() {
	changed, err := a.store.Load()
	if err != nil {
		a.log.Warn("schedules reload failed; keeping current timers", logx.String("path", a.store.Path()), logx.Err(err))
		return
	}
	if !changed {
		a.log.Debug("schedules file unchanged")
		return
	}
	res := a.sched.Reconcile(a.store.List())
	a.log.Info("schedules reloaded",
		logx.Int("registered", res.Registered),
		logx.Int("skipped", res.Skipped),
		logx.Uint64("generation", res.Generation))
}

func (a *App) onWatchDegraded(path, reason string) {
	a.watchDegraded.Store(true)
	a.log.Warn("schedules watch degraded to polling", logx.String("path", path), logx.String("reason", reason))
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeWatchDegraded, Data: eventbus.WatchData{
		Path:   path,
		Mode:   "poll",
		Reason: reason,
	}})
}

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

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := strings.Join(sections, ",")
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", changed)}, attrs...)...)
	for _, s := range sections {
		if restartSections[s] {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	a.logs.SetChatTarget(logTarget(next))
	a.logs.Apply(mapLogConfig(next))

	a.disp.SetAllowedUsers(next.Chat.AllowedUsers)

	if scfg, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid schedules config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(scfg)
	}
	if rcfg, ttl, err := mapReportConfig(next); err != nil {
		a.log.Warn("invalid reports config; keeping previous", logx.Err(err))
	} else {
		a.runner.Apply(rcfg)
		a.cache.SetTTL(ttl)
	}
	if schedulesPath(prev) != schedulesPath(next) {
		a.log.Warn("schedules.path changed; restart required", logx.String("path", schedulesPath(next)))
	}
	if dcfg, err := mapDebugConfig(next); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(ctx, dcfg)
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", changed)}, attrs...)...)
}

// health feeds /healthz.
func (a *App) health() (any, error) {
	snap := a.sched.Snapshot()
	state := map[string]any{
		"scheduler": map[string]any{
			"running":    snap.Running,
			"timers":     len(snap.Timers),
			"generation": snap.Generation,
			"timezone":   snap.Timezone,
		},
		"schedules_watch_degraded": a.watchDegraded.Load(),
		"report_cache":             a.cache.Len(),
	}
	if a.telegram != nil {
		state["telegram"] = a.telegram.Health()
	}
	if a.sup == nil {
		return state, nil
	}
	state["supervisor"] = a.sup.Snapshot()
	return state, a.sup.Err()
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)

	// Unwind background loops first.
	a.sup.Cancel()

	a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	for _, ad := range a.mux.Adapters() {
		a.step(ctx, "adapter."+ad.Name(), 2*time.Second, ad.Stop)
	}
	a.step(ctx, "supervisor", 5*time.Second, a.sup.Wait)
	a.step(ctx, "audit", time.Second, func(context.Context) error {
		if a.audit != nil {
			return a.audit.Close()
		}
		return nil
	})
	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and the caller's deadline, so
// one component cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Newf("panic in stop step %s: %v", name, r)
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
