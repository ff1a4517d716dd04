package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const minimalJSON = `{
  "schedule": { "cadence": "08:00,20:00", "timezone": "UTC" },
  "report": {},
  "render": { "dashboard_url": "https://dash.example.com/kpi" },
  "kpi": { "source": "file", "path": "./kpi.json" },
  "telegram": { "token": "123:abc", "chat_id": "-100200300" },
  "logging": {
    "level": "info",
    "console": true,
    "file": { "enabled": false, "path": "" },
    "chat": { "enabled": false, "min_level": "warn", "rate_per_sec": 1 }
  },
  "daemon": {}
}`

func TestParseJSON(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfigFile(t, "config.json", minimalJSON))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Schedule.Cadence != "08:00,20:00" {
		t.Fatalf("schedule.cadence = %q", cfg.Schedule.Cadence)
	}
	if cfg.Render.DashboardURL != "https://dash.example.com/kpi" {
		t.Fatalf("render.dashboard_url = %q", cfg.Render.DashboardURL)
	}
	if cfg.Telegram.ChatID != "-100200300" {
		t.Fatalf("telegram.chat_id = %q", cfg.Telegram.ChatID)
	}
	if cfg.Storage != nil {
		t.Fatalf("storage should default to nil, got %+v", cfg.Storage)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	const body = `
schedule:
  cadence: "every:15m"
  catch_up: run-once
report:
  retry_max: 2
render:
  dashboard_url: https://dash.example.com/kpi
  viewport_width: 1400
kpi:
  source: http
  url: https://api.example.com/kpi
  mentions: ["@ops"]
telegram:
  token: "123:abc"
  chat_id: "-100200300"
logging:
  level: debug
  console: true
  file: { enabled: true, path: ./kpibot.log }
  chat: { enabled: false, min_level: warn, rate_per_sec: 1 }
daemon:
  shutdown_grace: 45s
storage:
  driver: file
  path: ./state
`
	m := NewManager(writeConfigFile(t, "config.yaml", body))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Schedule.CatchUp != "run-once" {
		t.Fatalf("schedule.catch_up = %q", cfg.Schedule.CatchUp)
	}
	if cfg.KPI.Source != "http" || len(cfg.KPI.Mentions) != 1 {
		t.Fatalf("kpi section mismatch: %+v", cfg.KPI)
	}
	if cfg.Daemon.ShutdownGrace != "45s" {
		t.Fatalf("daemon.shutdown_grace = %q", cfg.Daemon.ShutdownGrace)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage mismatch: %+v", cfg.Storage)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		body := strings.Replace(minimalJSON, `"daemon": {}`, `"daemon": {}, "surprise": 1`, 1)
		m := NewManager(writeConfigFile(t, "config.json", body))
		if _, err := m.Parse(); err == nil {
			t.Fatal("expected unknown-field error")
		}
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()
		const body = "schedule:\n  cadence: \"08:00\"\n  snooze: true\n"
		m := NewManager(writeConfigFile(t, "config.yaml", body))
		if _, err := m.Parse(); err == nil {
			t.Fatal("expected unknown-field error")
		}
	})
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		m := NewManager(writeConfigFile(t, "config.json", minimalJSON+"\n{}"))
		if _, err := m.Parse(); err == nil {
			t.Fatal("expected trailing-data error")
		}
	})

	t.Run("yaml second document", func(t *testing.T) {
		t.Parallel()
		const body = "schedule:\n  cadence: \"08:00\"\n---\nschedule:\n  cadence: \"09:00\"\n"
		m := NewManager(writeConfigFile(t, "config.yaml", body))
		if _, err := m.Parse(); err == nil {
			t.Fatal("expected trailing-data error")
		}
	})
}

func TestLoadCommitGet(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfigFile(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get returned %p, want %p", got, cfg)
	}
}

func TestSubscribeDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got != second {
			t.Fatal("expected newest config after overflow")
		}
	default:
		t.Fatal("expected a pending config")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	// Unsubscribing twice is a no-op.
	m.Unsubscribe(ch)
}

func TestHashConfigStable(t *testing.T) {
	t.Parallel()

	a := &Config{Schedule: ScheduleConfig{Cadence: "08:00"}}
	b := &Config{Schedule: ScheduleConfig{Cadence: "08:00"}}
	c := &Config{Schedule: ScheduleConfig{Cadence: "09:00"}}

	if hashConfig(a) != hashConfig(b) {
		t.Fatal("equal configs should hash equal")
	}
	if hashConfig(a) == hashConfig(c) {
		t.Fatal("different configs should hash differently")
	}
	if hashConfig(nil) != 0 {
		t.Fatal("nil config should hash to 0")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{
		Schedule: ScheduleConfig{Cadence: "08:00"},
		Telegram: TelegramConfig{Token: "a", ChatID: "1"},
		Logging:  LoggingConfig{Level: "info"},
	}
	newCfg := &Config{
		Schedule: ScheduleConfig{Cadence: "09:00"},
		Telegram: TelegramConfig{Token: "b", ChatID: "1"},
		Logging:  LoggingConfig{Level: "debug"},
	}

	changed, attrs := SummarizeChange(oldCfg, newCfg)
	want := map[string]bool{"schedule": true, "telegram": true, "logging": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v", changed)
	}
	for _, s := range changed {
		if !want[s] {
			t.Fatalf("unexpected section %q in %v", s, changed)
		}
	}
	if len(attrs) == 0 {
		t.Fatal("expected structured attrs")
	}

	// Identical configs produce no sections.
	if c, _ := SummarizeChange(newCfg, newCfg); len(c) != 0 {
		t.Fatalf("no-op diff returned %v", c)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "empty is zero", raw: "", want: "0s"},
		{name: "seconds", raw: "45s", want: "45s"},
		{name: "minutes", raw: "2m", want: "2m0s"},
		{name: "negative rejected", raw: "-5s", wantErr: true},
		{name: "garbage rejected", raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := Duration("test.field", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Duration(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("Duration(%q): %v", tt.raw, err)
			}
			if d.String() != tt.want {
				t.Fatalf("Duration(%q) = %v, want %v", tt.raw, d, tt.want)
			}
		})
	}
}

func TestDurationOr(t *testing.T) {
	t.Parallel()

	if d, err := DurationOr("f", "", 30*time.Second); err != nil || d != 30*time.Second {
		t.Fatalf("DurationOr unset = %v, %v", d, err)
	}
	if d, err := DurationOr("f", "5s", 30*time.Second); err != nil || d != 5*time.Second {
		t.Fatalf("DurationOr set = %v, %v", d, err)
	}
	if _, err := DurationOr("f", "never", time.Second); err == nil {
		t.Fatal("DurationOr accepted garbage")
	}
}
