package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"kpibot/internal/config"
	"kpibot/internal/kpi"
	"kpibot/internal/observability/pprof"
	"kpibot/internal/render"
	"kpibot/internal/report"
	"kpibot/internal/report/scheduler"
	"kpibot/internal/storage"
	"kpibot/internal/transport/telegram"
	logx "kpibot/pkg/logx"
)

const (
	// defaultStatePath is the file-store prefix used when the config has no
	// storage section: ./kpibot_state/kpibot.state.json and friends.
	defaultStatePath = "./kpibot_state/kpibot"

	// historyFile holds the last delivered KPI snapshot; the name predates
	// this daemon and stays stable so deltas survive migrations.
	historyFile = "last_report_data.json"

	defaultShutdownGrace = 30 * time.Second
)

// validateConfig re-checks everything wiring checks, so the reload validator
// can reject a bad edit before any of it reaches running services. Keep this
// aligned with the map* helpers: anything they can fail on must fail here.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	schedCfg, err := mapScheduleConfig(cfg)
	if err != nil {
		return err
	}
	if err := schedCfg.Validate(); err != nil {
		return err
	}
	if _, err := mapControllerConfig(cfg); err != nil {
		return err
	}
	if cfg.Report.HistorySize < 0 {
		return errors.New("report.history_size must be >= 0")
	}
	if _, err := mapBrowserConfig(cfg); err != nil {
		return err
	}
	if schedCfg.Mode == report.ModeRendered && strings.TrimSpace(cfg.Render.DashboardURL) == "" {
		return errors.New("render.dashboard_url is required in rendered mode")
	}
	if _, err := buildSource(cfg); err != nil {
		return err
	}
	if _, err := mapGatewayConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPprofConfig(cfg); err != nil {
		return err
	}
	if _, err := config.DurationOr("daemon.shutdown_grace", cfg.Daemon.ShutdownGrace, defaultShutdownGrace); err != nil {
		return err
	}
	return nil
}

func mapScheduleConfig(cfg *config.Config) (scheduler.Config, error) {
	mode, err := report.ParseMode(cfg.Report.Mode)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("report.mode: %w", err)
	}
	return scheduler.Config{
		Cadence:    cfg.Schedule.Cadence,
		Timezone:   cfg.Schedule.Timezone,
		CatchUp:    cfg.Schedule.CatchUp,
		CatchUpMax: cfg.Schedule.CatchUpMax,
		Mode:       mode,
	}, nil
}

func mapControllerConfig(cfg *config.Config) (report.Config, error) {
	var out report.Config
	var err error
	out.RetryMax = cfg.Report.RetryMax
	if out.RetryBase, err = config.Duration("report.retry_base", cfg.Report.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.Duration("report.retry_max_delay", cfg.Report.RetryMaxDelay); err != nil {
		return out, err
	}
	if out.RenderTimeout, err = config.Duration("report.render_timeout", cfg.Report.RenderTimeout); err != nil {
		return out, err
	}
	if out.DeliverTimeout, err = config.Duration("report.deliver_timeout", cfg.Report.DeliverTimeout); err != nil {
		return out, err
	}
	return out, nil
}

func mapBrowserConfig(cfg *config.Config) (render.BrowserConfig, error) {
	out := render.BrowserConfig{
		Path:           cfg.Render.BrowserPath,
		ScreenshotDir:  cfg.Render.ScreenshotDir,
		ViewportWidth:  cfg.Render.ViewportWidth,
		ViewportHeight: cfg.Render.ViewportHeight,
	}
	if cfg.Render.ViewportWidth < 0 || cfg.Render.ViewportHeight < 0 {
		return out, errors.New("render: viewport dimensions must be positive")
	}
	var err error
	if out.SettleBudget, err = config.Duration("render.settle_budget", cfg.Render.SettleBudget); err != nil {
		return out, err
	}
	// keep_for distinguishes unset (default week) from explicit "0s" (sweep
	// disabled), so it can't go through DurationOr.
	if strings.TrimSpace(cfg.Render.KeepFor) == "" {
		out.KeepFor = 7 * 24 * time.Hour
	} else if out.KeepFor, err = config.Duration("render.keep_for", cfg.Render.KeepFor); err != nil {
		return out, err
	}
	return out, nil
}

func buildSource(cfg *config.Config) (kpi.Source, error) {
	timeout, err := config.DurationOr("kpi.fetch_timeout", cfg.KPI.FetchTimeout, 20*time.Second)
	if err != nil {
		return nil, err
	}
	return kpi.NewSource(cfg.KPI.Source, cfg.KPI.Path, cfg.KPI.URL, timeout)
}

func mapSummarizer(cfg *config.Config) kpi.Summarizer {
	return kpi.Summarizer{
		Label:       cfg.KPI.Label,
		LowSpendUSD: cfg.KPI.LowSpendUSD,
		Mentions:    cfg.KPI.Mentions,
	}
}

func mapGatewayConfig(cfg *config.Config) (telegram.Config, error) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return telegram.Config{}, errors.New("telegram.token is required")
	}
	if cfg.Telegram.RatePerSec < 0 {
		return telegram.Config{}, errors.New("telegram.rate_per_sec must be >= 0")
	}
	out := telegram.Config{
		Token:      cfg.Telegram.Token,
		ThreadID:   cfg.Telegram.ThreadID,
		RatePerSec: cfg.Telegram.RatePerSec,
	}
	id, err := parseChatID("telegram.chat_id", cfg.Telegram.ChatID)
	if err != nil {
		return out, err
	}
	out.ChatID = id
	if s := strings.TrimSpace(cfg.Telegram.OpsChatID); s != "" {
		if out.OpsChatID, err = parseChatID("telegram.ops_chat_id", s); err != nil {
			return out, err
		}
	}
	if out.SendTimeout, err = config.DurationOr("telegram.send_timeout", cfg.Telegram.SendTimeout, 60*time.Second); err != nil {
		return out, err
	}
	return out, nil
}

func parseChatID(field, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid chat id %q", field, raw)
	}
	if id == 0 {
		return 0, fmt.Errorf("%s: chat id must not be zero", field)
	}
	return id, nil
}

// mapStorageConfig resolves the persistence setup. A missing storage section
// means the default file driver under ./kpibot_state; driver "none" disables
// persistence (high-water mark and run history live for the process only).
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	driver, path, busyRaw := "file", defaultStatePath, ""
	if cfg.Storage != nil {
		if d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d != "" {
			driver = d
		}
		if p := strings.TrimSpace(cfg.Storage.Path); p != "" {
			path = p
		}
		busyRaw = cfg.Storage.BusyTimeout
	}

	switch driver {
	case "none":
		return storage.Config{}, false, nil
	case "file", "sqlite":
	default:
		return storage.Config{}, false, fmt.Errorf("storage.driver: unknown driver %q", driver)
	}

	out := storage.Config{
		Driver:   driver,
		Path:     path,
		KeepRuns: cfg.Report.HistorySize,
	}
	var err error
	if out.BusyTimeout, err = config.Duration("storage.busy_timeout", busyRaw); err != nil {
		return out, false, err
	}
	return out, true, nil
}

// stateDir is where non-run persistent files (the KPI snapshot history)
// live, next to the state store.
func stateDir(cfg *config.Config) string {
	if cfg.Storage != nil {
		if p := strings.TrimSpace(cfg.Storage.Path); p != "" {
			return filepath.Dir(p)
		}
	}
	return filepath.Dir(defaultStatePath)
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	out := pprof.Config{
		Enabled:              cfg.Pprof.Enabled,
		Addr:                 cfg.Pprof.Addr,
		Prefix:               cfg.Pprof.Prefix,
		Token:                cfg.Pprof.Token,
		AllowInsecure:        cfg.Pprof.AllowInsecure,
		MutexProfileFraction: cfg.Pprof.MutexProfileFraction,
		BlockProfileRate:     cfg.Pprof.BlockProfileRate,
		MemProfileRate:       cfg.Pprof.MemProfileRate,
	}
	var err error
	if out.ReadTimeout, err = config.Duration("pprof.read_timeout", cfg.Pprof.ReadTimeout); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.Duration("pprof.write_timeout", cfg.Pprof.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.Duration("pprof.idle_timeout", cfg.Pprof.IdleTimeout); err != nil {
		return out, err
	}
	return out, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}
