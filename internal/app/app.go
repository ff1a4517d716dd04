// Package app wires configuration, logging, storage, the KPI pipeline and
// the scheduler into one process, and owns startup and shutdown ordering.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"kpibot/internal/config"
	"kpibot/internal/eventbus"
	"kpibot/internal/kpi"
	"kpibot/internal/observability/pprof"
	"kpibot/internal/render"
	"kpibot/internal/report"
	"kpibot/internal/report/scheduler"
	rtsup "kpibot/internal/runtime/supervisor"
	"kpibot/internal/storage"
	"kpibot/internal/transport/telegram"
	logx "kpibot/pkg/logx"
	sdnotify "kpibot/pkg/systemd"
)

// App is the assembled daemon. Construction validates config and the
// Telegram token; Start is only needed for daemon mode, one-shot paths call
// RunOnce directly.
type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus     eventbus.Bus
	store   storage.Store
	gateway *telegram.Gateway
	browser *render.Browser
	engine  *render.Engine
	ctrl    *report.Controller
	sched   *scheduler.Service
	pprof   *pprof.Service

	mode          report.Mode
	shutdownGrace time.Duration

	sup *rtsup.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	logs, rootLog := logx.New(mapLogConfig(cfg), nil)
	log := rootLog.With(logx.String("comp", "app"))

	fail := func(store storage.Store, err error) (*App, error) {
		if store != nil {
			_ = store.Close()
		}
		logs.Close()
		return nil, err
	}

	// The gateway validates the bot token against the API, so a bad token
	// is a startup error rather than a failure of the first run.
	gwCfg, err := mapGatewayConfig(cfg)
	if err != nil {
		return fail(nil, err)
	}
	gateway, err := telegram.New(gwCfg, rootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return fail(nil, err)
	}
	logs.SetNotifier(gateway)

	bus := eventbus.New()

	var store storage.Store
	sc, persist, err := mapStorageConfig(cfg)
	if err != nil {
		return fail(nil, err)
	}
	if persist {
		store, err = storage.Open(sc, rootLog.With(logx.String("comp", "storage")))
		if err != nil {
			return fail(nil, fmt.Errorf("open storage: %w", err))
		}
	} else {
		log.Warn("storage disabled; run history and catch-up state will not survive restarts")
	}

	source, err := buildSource(cfg)
	if err != nil {
		return fail(store, err)
	}
	history := kpi.NewHistory(filepath.Join(stateDir(cfg), historyFile))

	bcfg, err := mapBrowserConfig(cfg)
	if err != nil {
		return fail(store, err)
	}
	renderLog := rootLog.With(logx.String("comp", "render"))
	browser := render.NewBrowser(bcfg, cfg.Render.DashboardURL, renderLog)
	engine := render.NewEngine(renderLog, source, history, mapSummarizer(cfg), browser)

	ctrlCfg, err := mapControllerConfig(cfg)
	if err != nil {
		return fail(store, err)
	}
	ctrlDeps := report.Deps{
		Log:      rootLog.With(logx.String("comp", "report")),
		Bus:      bus,
		Renderer: engine,
		Gateway:  gateway,
	}
	if store != nil {
		ctrlDeps.Recorder = store
	}
	ctrl, err := report.NewController(ctrlCfg, ctrlDeps)
	if err != nil {
		return fail(store, err)
	}

	schedCfg, err := mapScheduleConfig(cfg)
	if err != nil {
		return fail(store, err)
	}
	schedDeps := scheduler.Deps{
		Log:  rootLog.With(logx.String("comp", "scheduler")),
		Bus:  bus,
		Exec: ctrl,
	}
	if store != nil {
		schedDeps.Store = store
		schedDeps.Recorder = store
	}
	sched, err := scheduler.New(schedCfg, schedDeps)
	if err != nil {
		return fail(store, err)
	}

	ppc, err := mapPprofConfig(cfg)
	if err != nil {
		return fail(store, err)
	}

	grace, err := config.DurationOr("daemon.shutdown_grace", cfg.Daemon.ShutdownGrace, defaultShutdownGrace)
	if err != nil {
		return fail(store, err)
	}

	if schedCfg.Mode == report.ModeRendered && !browser.Available() {
		log.Warn("no headless browser found; rendered runs will fail until one is installed")
	}

	return &App{
		cfgm:          cfgm,
		logs:          logs,
		log:           log,
		bus:           bus,
		store:         store,
		gateway:       gateway,
		browser:       browser,
		engine:        engine,
		ctrl:          ctrl,
		sched:         sched,
		pprof:         pprof.New(ppc, rootLog.With(logx.String("comp", "pprof"))),
		mode:          schedCfg.Mode,
		shutdownGrace: grace,
	}, nil
}

// RunOnce executes one report immediately and returns its terminal run. The
// scheduler is not involved, so the persisted high-water mark is untouched:
// a manual run never counts as having handled a schedule boundary.
func (a *App) RunOnce(ctx context.Context, mode report.Mode) report.Run {
	if mode == "" {
		mode = a.mode
	}
	run := a.ctrl.Execute(ctx, report.Request{Mode: mode, Origin: report.OriginManual})
	if run.Status == report.StatusSucceeded {
		a.log.Info("manual run succeeded",
			logx.String("run_id", run.ID),
			logx.Duration("took", run.Duration()))
	} else {
		a.log.Error("manual run did not succeed",
			logx.String("run_id", run.ID),
			logx.String("status", string(run.Status)),
			logx.String("err", run.Err))
	}
	return run
}

// Done is closed when the daemon's supervisor context ends, either through
// a fatal component error or the parent context. Returns nil before Start.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Stop unwinds the process: cancel background loops, wait for an in-flight
// run to reach a terminal status (bounded by daemon.shutdown_grace), then
// release pprof, storage and the log sinks. Also used by one-shot paths,
// where there is no supervisor to drain.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	if a.sup != nil {
		if _, err := sdnotify.NotifyStopping(); err != nil {
			a.log.Debug("sd_notify stopping failed", logx.Err(err))
		}
		a.sup.Cancel()
		a.step(ctx, "pipeline", a.shutdownGrace, func(c context.Context) error {
			return a.sup.Wait(c)
		})
	}

	a.step(ctx, "pprof", time.Second, func(c context.Context) error {
		a.pprof.Stop(c)
		return nil
	})
	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// step bounds one shutdown action so a stuck component cannot stall the
// whole stop. A step that overruns is logged and left to finish in the
// background, with a second log line when (if) it completes.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()

	stepCtx := ctx
	var cancel context.CancelFunc
	if max > 0 {
		// Never extend the caller's deadline.
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem > 0 && rem < max {
				max = rem
			}
		}
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
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached, continuing",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			if err != nil {
				a.log.Warn("stop step finished late", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Info("stop step finished late", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		}()
	}
}
