package app

import (
	"strings"
	"testing"
	"time"

	"kpibot/internal/config"
	"kpibot/internal/report"
)

func validCfg() *config.Config {
	return &config.Config{
		Schedule: config.ScheduleConfig{Cadence: "every:15m"},
		Report:   config.ReportConfig{Mode: "rendered"},
		Render:   config.RenderConfig{DashboardURL: "http://127.0.0.1:3000/d/kpi"},
		KPI:      config.KPIConfig{Source: "file", Path: "./kpi.json"},
		Telegram: config.TelegramConfig{Token: "123456:TEST", ChatID: "-100200300400"},
	}
}

func TestValidateConfigAcceptsMinimal(t *testing.T) {
	if err := validateConfig(validCfg()); err != nil {
		t.Fatalf("minimal config rejected: %v", err)
	}

	// Text mode has no browser, so it must not demand a dashboard URL.
	cfg := validCfg()
	cfg.Report.Mode = "text"
	cfg.Render.DashboardURL = ""
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("text-only config rejected: %v", err)
	}
}

func TestValidateConfigRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad cadence", func(c *config.Config) { c.Schedule.Cadence = "often" }},
		{"bad timezone", func(c *config.Config) { c.Schedule.Timezone = "Mars/Olympus" }},
		{"bad mode", func(c *config.Config) { c.Report.Mode = "pretty" }},
		{"rendered without dashboard", func(c *config.Config) { c.Render.DashboardURL = " " }},
		{"missing token", func(c *config.Config) { c.Telegram.Token = "" }},
		{"chat id not numeric", func(c *config.Config) { c.Telegram.ChatID = "ops-room" }},
		{"chat id zero", func(c *config.Config) { c.Telegram.ChatID = "0" }},
		{"bad retry duration", func(c *config.Config) { c.Report.RetryBase = "fast" }},
		{"negative history size", func(c *config.Config) { c.Report.HistorySize = -1 }},
		{"file source without path", func(c *config.Config) { c.KPI.Path = "" }},
		{"unknown storage driver", func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "redis"} }},
		{"bad shutdown grace", func(c *config.Config) { c.Daemon.ShutdownGrace = "soon" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validCfg()
			tc.mutate(cfg)
			if err := validateConfig(cfg); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestMapScheduleConfigDefaultsMode(t *testing.T) {
	cfg := validCfg()
	cfg.Report.Mode = ""
	sc, err := mapScheduleConfig(cfg)
	if err != nil {
		t.Fatalf("mapScheduleConfig: %v", err)
	}
	if sc.Mode != report.ModeRendered {
		t.Fatalf("default mode = %q, want rendered", sc.Mode)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Run("absent section means file driver", func(t *testing.T) {
		cfg := validCfg()
		cfg.Report.HistorySize = 25
		sc, persist, err := mapStorageConfig(cfg)
		if err != nil {
			t.Fatalf("mapStorageConfig: %v", err)
		}
		if !persist {
			t.Fatal("persistence should default to on")
		}
		if sc.Driver != "file" || sc.Path != defaultStatePath {
			t.Fatalf("got driver=%q path=%q", sc.Driver, sc.Path)
		}
		if sc.KeepRuns != 25 {
			t.Fatalf("KeepRuns = %d, want 25", sc.KeepRuns)
		}
	})

	t.Run("driver none disables persistence", func(t *testing.T) {
		cfg := validCfg()
		cfg.Storage = &config.StorageConfig{Driver: "None"}
		if _, persist, err := mapStorageConfig(cfg); err != nil || persist {
			t.Fatalf("got persist=%v err=%v, want disabled", persist, err)
		}
	})

	t.Run("custom path with empty driver", func(t *testing.T) {
		cfg := validCfg()
		cfg.Storage = &config.StorageConfig{Path: "/var/lib/kpibot/state"}
		sc, persist, err := mapStorageConfig(cfg)
		if err != nil || !persist {
			t.Fatalf("got persist=%v err=%v", persist, err)
		}
		if sc.Driver != "file" || sc.Path != "/var/lib/kpibot/state" {
			t.Fatalf("got driver=%q path=%q", sc.Driver, sc.Path)
		}
	})

	t.Run("bad busy timeout", func(t *testing.T) {
		cfg := validCfg()
		cfg.Storage = &config.StorageConfig{Driver: "sqlite", Path: "/tmp/kpibot.db", BusyTimeout: "very"}
		if _, _, err := mapStorageConfig(cfg); err == nil {
			t.Fatal("expected an error for a bad busy_timeout")
		}
	})
}

func TestParseChatID(t *testing.T) {
	if id, err := parseChatID("telegram.chat_id", " -1001234567890 "); err != nil || id != -1001234567890 {
		t.Fatalf("got id=%d err=%v", id, err)
	}
	if _, err := parseChatID("telegram.chat_id", "0"); err == nil {
		t.Fatal("zero chat id must be rejected")
	}
	if _, err := parseChatID("telegram.chat_id", "12e3"); err == nil {
		t.Fatal("non-integer chat id must be rejected")
	}
}

func TestMapBrowserConfigKeepFor(t *testing.T) {
	cfg := validCfg()
	bc, err := mapBrowserConfig(cfg)
	if err != nil {
		t.Fatalf("mapBrowserConfig: %v", err)
	}
	if bc.KeepFor != 7*24*time.Hour {
		t.Fatalf("unset keep_for = %v, want one week", bc.KeepFor)
	}

	cfg.Render.KeepFor = "0s"
	if bc, err = mapBrowserConfig(cfg); err != nil || bc.KeepFor != 0 {
		t.Fatalf("explicit 0s: KeepFor=%v err=%v, want sweep disabled", bc.KeepFor, err)
	}

	cfg.Render.KeepFor = "24h"
	if bc, err = mapBrowserConfig(cfg); err != nil || bc.KeepFor != 24*time.Hour {
		t.Fatalf("24h: KeepFor=%v err=%v", bc.KeepFor, err)
	}

	cfg.Render.KeepFor = "week"
	if _, err = mapBrowserConfig(cfg); err == nil {
		t.Fatal("expected an error for keep_for=week")
	}
}

func TestStateDir(t *testing.T) {
	cfg := validCfg()
	if got := stateDir(cfg); !strings.HasSuffix(got, "kpibot_state") {
		t.Fatalf("default state dir = %q", got)
	}
	cfg.Storage = &config.StorageConfig{Driver: "file", Path: "/var/lib/kpibot/state"}
	if got := stateDir(cfg); got != "/var/lib/kpibot" {
		t.Fatalf("state dir = %q, want /var/lib/kpibot", got)
	}
}
