package app

import (
	"context"
	"strings"

	"kpibot/internal/config"
	rtsup "kpibot/internal/runtime/supervisor"
	logx "kpibot/pkg/logx"
	sdnotify "kpibot/pkg/systemd"
)

// Sections that can be re-applied to a running process. Everything else in
// the config file needs a restart, which applyReload calls out.
var liveSections = map[string]bool{
	"schedule": true,
	"report":   true, // mode feeds the scheduler; execution budgets do not reload
	"logging":  true,
	"pprof":    true,
}

// Start launches the daemon's background loops under one supervisor:
// scheduler, config watcher, reload fan-out, event logging and the systemd
// handshake. It returns once everything is launched; use Done/Err to watch
// for fatal failures and Stop to unwind.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	a.sup.Go("scheduler.run", a.sched.Run)

	// Debug visibility into the pipeline without coupling components to the
	// logger: every published event gets one debug line.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event",
					logx.String("type", e.Type),
					logx.Time("at", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(ctx, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	// Readiness is the first armed schedule, not process start: under
	// Type=notify systemd should only consider us up once a next-due time
	// exists. The watchdog loop is a no-op unless WatchdogSec is set.
	a.sup.Go0("systemd.notify", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			return
		case <-a.sched.Armed():
		}
		sent, err := sdnotify.NotifyReady()
		if err != nil {
			a.log.Warn("sd_notify ready failed", logx.Err(err))
		} else if sent {
			a.log.Info("systemd readiness signaled")
		}
		if err := sdnotify.RunWatchdog(ctx); err != nil {
			a.log.Warn("systemd watchdog loop failed", logx.Err(err))
		}
	})

	a.log.Info("daemon started",
		logx.String("config", a.cfgm.Path()),
		logx.String("mode", string(a.mode)))
	return nil
}

// reloadLoop applies committed config updates. Bursts (editors often write a
// file several times in a row) are coalesced down to the newest snapshot.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					cfg = newer
				default:
					goto apply
				}
			}
		apply:
			a.applyReload(ctx, lastApplied, cfg)
			lastApplied = cfg
		}
	}
}

func (a *App) applyReload(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs := config.SummarizeChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded, no effective changes")
		return
	}

	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	// Logging first so the rest of the reload is observed at the new level.
	if changed("logging") {
		a.logs.Apply(mapLogConfig(cfg))
	}

	// Report mode rides on the schedule config, so both sections re-arm the
	// scheduler. The manager already validated cfg, but Apply re-checks so a
	// racing edit can never tear down a working schedule.
	if changed("schedule") || changed("report") {
		if schedCfg, err := mapScheduleConfig(cfg); err != nil {
			a.log.Warn("schedule update rejected, keeping previous", logx.Err(err))
		} else if err := a.sched.Apply(schedCfg); err != nil {
			a.log.Warn("schedule update rejected, keeping previous", logx.Err(err))
		}
	}

	if changed("pprof") {
		if ppc, err := mapPprofConfig(cfg); err != nil {
			a.log.Warn("pprof update rejected, keeping previous", logx.Err(err))
		} else {
			a.pprof.Reconfigure(ctx, ppc)
		}
	}

	var restart []string
	for _, s := range sections {
		if !liveSections[s] {
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config sections need a restart to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
