package config

// Config is the root of kpibot's configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "45s", "1m").
type Config struct {
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`
	Report   ReportConfig   `json:"report" yaml:"report"`
	Render   RenderConfig   `json:"render" yaml:"render"`
	KPI      KPIConfig      `json:"kpi" yaml:"kpi"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Daemon   DaemonConfig   `json:"daemon" yaml:"daemon"`
	Storage  *StorageConfig `json:"storage,omitempty" yaml:"storage,omitempty"`
	Pprof    PprofConfig    `json:"pprof,omitempty" yaml:"pprof,omitempty"`
}

// ScheduleConfig describes when reports fire.
//
// Cadence accepts:
//   - daily times: "08:00" or "08:00,12:30,18:00" (in Timezone)
//   - intervals:   "every:15m" (epoch-aligned grid)
//   - cron:        "cron:*/15 * * * *"
type ScheduleConfig struct {
	Cadence  string `json:"cadence" yaml:"cadence"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// CatchUp selects what startup does about boundaries missed while the
	// process was down: "skip" (default; record skipped-missed and move on)
	// or "run-once" (additionally fire one immediate run).
	CatchUp string `json:"catch_up,omitempty" yaml:"catch_up,omitempty"`

	// CatchUpMax caps how many skipped-missed records a single startup may
	// write (default 100). The overflow is logged as a count.
	CatchUpMax int `json:"catch_up_max,omitempty" yaml:"catch_up_max,omitempty"`
}

// ReportConfig controls pipeline execution.
//
// Defaults (when fields are omitted/zero):
//   - mode: "rendered"
//   - retry_max: 2
//   - retry_base: "2s"
//   - retry_max_delay: "30s"
//   - render_timeout: "45s"
//   - deliver_timeout: "60s"
//   - history_size: 50
type ReportConfig struct {
	Mode           string `json:"mode,omitempty" yaml:"mode,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty" yaml:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty" yaml:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty" yaml:"retry_max_delay,omitempty"`
	RenderTimeout  string `json:"render_timeout,omitempty" yaml:"render_timeout,omitempty"`
	DeliverTimeout string `json:"deliver_timeout,omitempty" yaml:"deliver_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty" yaml:"history_size,omitempty"`
}

// RenderConfig controls the headless-browser snapshot.
type RenderConfig struct {
	DashboardURL string `json:"dashboard_url" yaml:"dashboard_url"`

	// BrowserPath points at a headless-capable Chromium/Chrome binary.
	// Empty means probe well-known names on PATH.
	BrowserPath string `json:"browser_path,omitempty" yaml:"browser_path,omitempty"`

	ViewportWidth  int `json:"viewport_width,omitempty" yaml:"viewport_width,omitempty"`   // default 1400
	ViewportHeight int `json:"viewport_height,omitempty" yaml:"viewport_height,omitempty"` // default 3000

	// SettleBudget bounds how long the page may spend loading/animating
	// before the capture is taken (maps to the browser's virtual time budget).
	SettleBudget string `json:"settle_budget,omitempty" yaml:"settle_budget,omitempty"` // default "10s"

	ScreenshotDir string `json:"screenshot_dir,omitempty" yaml:"screenshot_dir,omitempty"` // default "./screenshots"

	// KeepFor is how long captured screenshots are retained before the
	// sweep removes them. "0s" disables the sweep.
	KeepFor string `json:"keep_for,omitempty" yaml:"keep_for,omitempty"` // default "168h"
}

// KPIConfig controls where metric snapshots come from and how they are
// summarized.
type KPIConfig struct {
	// Source is "file" (JSON document on disk) or "http" (JSON endpoint).
	Source string `json:"source" yaml:"source"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`

	FetchTimeout string `json:"fetch_timeout,omitempty" yaml:"fetch_timeout,omitempty"` // default "20s"

	// Label heads the report text, e.g. "BINGO365 REALTIME KPI".
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	// LowSpendUSD flags agents whose spend is below this threshold.
	// Zero disables the alert.
	LowSpendUSD float64 `json:"low_spend_usd,omitempty" yaml:"low_spend_usd,omitempty"`

	// Mentions are appended to report text (e.g. "@ops_lead").
	Mentions []string `json:"mentions,omitempty" yaml:"mentions,omitempty"`
}

// TelegramConfig controls the delivery gateway.
type TelegramConfig struct {
	Token string `json:"token" yaml:"token"`

	// ChatID is the destination chat for reports (numeric id as a string,
	// group ids are negative).
	ChatID   string `json:"chat_id" yaml:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty" yaml:"thread_id,omitempty"`

	// OpsChatID, when set, receives operator alerts from the logging chat
	// sink (falls back to ChatID when empty and chat alerts are enabled).
	OpsChatID string `json:"ops_chat_id,omitempty" yaml:"ops_chat_id,omitempty"`

	RatePerSec  int    `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty"` // default 1
	SendTimeout string `json:"send_timeout,omitempty" yaml:"send_timeout,omitempty"` // default "60s"
}

type LoggingConfig struct {
	Level   string      `json:"level" yaml:"level"`
	Console bool        `json:"console" yaml:"console"`
	File    LoggingFile `json:"file" yaml:"file"`
	Chat    LoggingChat `json:"chat" yaml:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// LoggingChat mirrors logx.ChatConfig: warnings and errors can be forwarded
// to the operator chat, rate limited.
type LoggingChat struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	MinLevel   string `json:"min_level" yaml:"min_level"`
	RatePerSec int    `json:"rate_per_sec" yaml:"rate_per_sec"`
}

// DaemonConfig controls daemon-mode lifecycle behavior.
type DaemonConfig struct {
	// ShutdownGrace bounds how long shutdown waits for an in-flight report
	// to reach a terminal status (default "30s").
	ShutdownGrace string `json:"shutdown_grace,omitempty" yaml:"shutdown_grace,omitempty"`
}

// StorageConfig controls the persistence layer (high-water mark + run
// history). Nil means the default file driver rooted at "./kpibot_state".
//
// Example:
//
//	"storage": { "driver": "file", "path": "./kpibot_state" }
type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	Path        string `json:"path" yaml:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Addr          string `json:"addr,omitempty" yaml:"addr,omitempty"`     // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty" yaml:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty" yaml:"token,omitempty"`   // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty" yaml:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty" yaml:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty" yaml:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty" yaml:"mem_profile_rate,omitempty"`
}
