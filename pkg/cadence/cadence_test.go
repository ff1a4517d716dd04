package cadence

import (
	"testing"
	"time"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		raw   string
		kind  Kind
		every time.Duration
		times []TimeOfDay
	}{
		{name: "cron", raw: "*/15 * * * *", kind: KindCron},
		{name: "prefixed cron", raw: "cron:0 8 * * 1-5", kind: KindCron},
		{name: "descriptor", raw: "@hourly", kind: KindCron},
		{name: "duration", raw: "15m", kind: KindInterval, every: 15 * time.Minute},
		{name: "prefixed every", raw: "every:45s", kind: KindInterval, every: 45 * time.Second},
		{name: "every hhmm duration", raw: "every:02:30", kind: KindInterval, every: 2*time.Hour + 30*time.Minute},
		{name: "single time", raw: "08:00", kind: KindDaily, times: []TimeOfDay{{8, 0}}},
		{name: "time list", raw: "12:30, 08:00,18:45", kind: KindDaily, times: []TimeOfDay{{8, 0}, {12, 30}, {18, 45}}},
		{name: "prefixed daily", raw: "daily:23:59", kind: KindDaily, times: []TimeOfDay{{23, 59}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw, "UTC")
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if got.Kind() != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind(), tt.kind)
			}
			if tt.kind == KindInterval && got.Every() != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every(), tt.every)
			}
			if tt.kind == KindDaily {
				ts := got.Times()
				if len(ts) != len(tt.times) {
					t.Fatalf("Times = %v, want %v", ts, tt.times)
				}
				for i := range ts {
					if ts[i] != tt.times[i] {
						t.Fatalf("Times[%d] = %v, want %v", i, ts[i], tt.times[i])
					}
				}
			}
		})
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		tz   string
	}{
		{name: "garbage", raw: "not-a-schedule", tz: "UTC"},
		{name: "empty", raw: "", tz: "UTC"},
		{name: "zero interval", raw: "0s", tz: "UTC"},
		{name: "negative interval", raw: "every:-5m", tz: "UTC"},
		{name: "subsecond interval", raw: "500ms", tz: "UTC"},
		{name: "hour out of range", raw: "24:00", tz: "UTC"},
		{name: "minute out of range", raw: "daily:10:60", tz: "UTC"},
		{name: "bad cron", raw: "cron:*/5 * * *", tz: "UTC"},
		{name: "bad timezone", raw: "15m", tz: "Mars/Olympus"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.raw, tt.tz); err == nil {
				t.Fatalf("Parse(%q, %q) expected error", tt.raw, tt.tz)
			}
		})
	}
}

func TestDailyDedupAndOrder(t *testing.T) {
	t.Parallel()
	spec, err := Daily([]TimeOfDay{{18, 0}, {8, 30}, {18, 0}, {12, 0}}, "UTC")
	if err != nil {
		t.Fatalf("Daily error: %v", err)
	}
	want := []TimeOfDay{{8, 30}, {12, 0}, {18, 0}}
	got := spec.Times()
	if len(got) != len(want) {
		t.Fatalf("Times = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("Times[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSpecEqual(t *testing.T) {
	t.Parallel()
	a, _ := Parse("15m", "UTC")
	b, _ := Parse("every:15m", "UTC")
	c, _ := Parse("30m", "UTC")
	d, _ := Parse("15m", "Asia/Manila")
	if !a.Equal(b) {
		t.Fatal("identical interval specs should be equal")
	}
	if a.Equal(c) {
		t.Fatal("different periods should not be equal")
	}
	if a.Equal(d) {
		t.Fatal("different timezones should not be equal")
	}
}

func TestSpecString(t *testing.T) {
	t.Parallel()
	spec, err := Parse("08:00,12:30", "Asia/Manila")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	want := "daily at 08:00, 12:30 (Asia/Manila)"
	if got := spec.String(); got != want {
		t.Fatalf("String = %q, want %q", got, want)
	}
}
