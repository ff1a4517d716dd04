package config

import (
	"reflect"
	"strings"

	logx "kpibot/pkg/logx"
)

// SummarizeChange compares two snapshots and returns the names of the
// sections that differ plus log-safe attrs describing the new values.
// Secrets surface as set/unset booleans only; comparison still uses the
// real values, so a token rotation counts as a change.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	o, n := oldCfg, newCfg
	oStore, nStore := viewStorage(o.Storage), viewStorage(n.Storage)

	// Alphabetical by name, so the changed list reads stably in logs.
	sections := []struct {
		name  string
		diff  bool
		attrs []logx.Field
	}{
		{"daemon", o.Daemon != n.Daemon, []logx.Field{
			logx.String("daemon.shutdown_grace", strings.TrimSpace(n.Daemon.ShutdownGrace)),
		}},
		{"kpi", !reflect.DeepEqual(o.KPI, n.KPI), []logx.Field{
			logx.String("kpi.source", strings.TrimSpace(n.KPI.Source)),
			logx.Float64("kpi.low_spend_usd", n.KPI.LowSpendUSD),
			logx.Int("kpi.mention_count", len(n.KPI.Mentions)),
		}},
		{"logging", o.Logging != n.Logging, []logx.Field{
			logx.String("logging.level", n.Logging.Level),
			logx.Bool("logging.console", n.Logging.Console),
			logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", n.Logging.Chat.Enabled),
		}},
		{"pprof", o.Pprof != n.Pprof, []logx.Field{
			logx.Bool("pprof.enabled", n.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(n.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(n.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", n.Pprof.AllowInsecure),
		}},
		{"render", o.Render != n.Render, []logx.Field{
			logx.String("render.dashboard_url", strings.TrimSpace(n.Render.DashboardURL)),
			logx.Bool("render.browser_path_set", strings.TrimSpace(n.Render.BrowserPath) != ""),
			logx.String("render.screenshot_dir", strings.TrimSpace(n.Render.ScreenshotDir)),
			logx.String("render.settle_budget", strings.TrimSpace(n.Render.SettleBudget)),
		}},
		{"report", o.Report != n.Report, []logx.Field{
			logx.String("report.mode", strings.TrimSpace(n.Report.Mode)),
			logx.Int("report.retry_max", n.Report.RetryMax),
			logx.String("report.render_timeout", strings.TrimSpace(n.Report.RenderTimeout)),
			logx.String("report.deliver_timeout", strings.TrimSpace(n.Report.DeliverTimeout)),
		}},
		{"schedule", o.Schedule != n.Schedule, []logx.Field{
			logx.String("schedule.cadence", strings.TrimSpace(n.Schedule.Cadence)),
			logx.String("schedule.timezone", strings.TrimSpace(n.Schedule.Timezone)),
			logx.String("schedule.catch_up", strings.TrimSpace(n.Schedule.CatchUp)),
		}},
		{"storage", oStore != nStore, []logx.Field{
			logx.String("storage.driver", nStore.driver),
			logx.String("storage.path", nStore.path),
			logx.String("storage.busy_timeout", nStore.busy),
		}},
		{"telegram", o.Telegram != n.Telegram, []logx.Field{
			logx.Bool("telegram.token_set", strings.TrimSpace(n.Telegram.Token) != ""),
			logx.Bool("telegram.chat_id_set", strings.TrimSpace(n.Telegram.ChatID) != ""),
			logx.Int("telegram.thread_id", n.Telegram.ThreadID),
			logx.Int("telegram.rate_per_sec", n.Telegram.RatePerSec),
		}},
	}

	var changed []string
	var attrs []logx.Field
	for _, s := range sections {
		if !s.diff {
			continue
		}
		changed = append(changed, s.name)
		attrs = append(attrs, s.attrs...)
	}
	return changed, attrs
}

// storageView flattens the storage section for comparison; nil and the zero
// value mean the same thing (the default file driver).
type storageView struct {
	driver, path, busy string
}

func viewStorage(s *StorageConfig) storageView {
	if s == nil {
		return storageView{}
	}
	return storageView{
		driver: strings.TrimSpace(s.Driver),
		path:   strings.TrimSpace(s.Path),
		busy:   strings.TrimSpace(s.BusyTimeout),
	}
}
