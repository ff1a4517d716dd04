package cadence

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Kind is the normalized cadence kind of a Spec.
type Kind int

const (
	KindInterval Kind = iota
	KindDaily
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindInterval:
		return "interval"
	case KindDaily:
		return "daily"
	case KindCron:
		return "cron"
	default:
		return "unknown"
	}
}

// TimeOfDay is a wall-clock HH:MM in a Spec's timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// minutes returns the offset from midnight, used for ordering.
func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

// Spec is an immutable recurrence description: a cadence plus a timezone.
//
// Construct via Interval, Daily, Cron or Parse. The zero Spec is invalid;
// all constructors validate their inputs so a held Spec always resolves to
// a strictly increasing sequence of trigger instants.
type Spec struct {
	kind  Kind
	every time.Duration
	times []TimeOfDay
	expr  string
	sched cronlib.Schedule
	loc   *time.Location
	tz    string
}

// cronParser matches the standard 5-field crontab format plus descriptors
// like @hourly. Seconds-resolution cron is intentionally not supported.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Interval builds a fixed-period Spec. The period must be at least one
// second: triggers are computed on an epoch-anchored grid and the scheduler
// ticks at one-second resolution, so anything finer cannot be honored.
func Interval(every time.Duration, tz string) (Spec, error) {
	if every <= 0 {
		return Spec{}, fmt.Errorf("cadence: interval must be > 0, got %v", every)
	}
	if every < time.Second {
		return Spec{}, fmt.Errorf("cadence: interval must be >= 1s, got %v", every)
	}
	loc, name, err := loadLocation(tz)
	if err != nil {
		return Spec{}, err
	}
	return Spec{kind: KindInterval, every: every, loc: loc, tz: name}, nil
}

// Daily builds a time-of-day Spec firing at each listed time every day.
// Times are deduplicated and ordered; at least one is required.
func Daily(times []TimeOfDay, tz string) (Spec, error) {
	if len(times) == 0 {
		return Spec{}, fmt.Errorf("cadence: daily cadence requires at least one time")
	}
	loc, name, err := loadLocation(tz)
	if err != nil {
		return Spec{}, err
	}
	norm := make([]TimeOfDay, 0, len(times))
	seen := map[int]bool{}
	for _, t := range times {
		if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
			return Spec{}, fmt.Errorf("cadence: invalid time-of-day %02d:%02d", t.Hour, t.Minute)
		}
		if seen[t.minutes()] {
			continue
		}
		seen[t.minutes()] = true
		norm = append(norm, t)
	}
	sort.Slice(norm, func(i, j int) bool { return norm[i].minutes() < norm[j].minutes() })
	return Spec{kind: KindDaily, times: norm, loc: loc, tz: name}, nil
}

// Cron builds a Spec from a 5-field cron expression (or @descriptor).
func Cron(expr, tz string) (Spec, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Spec{}, fmt.Errorf("cadence: cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("cadence: invalid cron expression %q: %w", expr, err)
	}
	loc, name, err := loadLocation(tz)
	if err != nil {
		return Spec{}, err
	}
	return Spec{kind: KindCron, expr: expr, sched: sched, loc: loc, tz: name}, nil
}

var reDailyTimes = regexp.MustCompile(`^\s*\d{1,2}:\d{2}(\s*,\s*\d{1,2}:\d{2})*\s*$`)

// Parse normalizes a schedule string into a Spec.
//
// Supported forms:
//   - Cron: "*/15 * * * *", "30 8 * * 1-5", "@hourly"
//   - Daily times: "08:00" or a comma list "08:00,12:30,18:00"
//   - Interval duration: "15m", "2h30m"
//
// Optional prefixes force a kind: "cron:", "daily:", "every:"/"interval:".
// Bare HH:MM means time-of-day here (reports fire at local send times);
// use "every:" when an HH:MM-shaped duration is really meant.
func Parse(raw, tz string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("cadence: schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return Cron(s[len("cron:"):], tz)
	case strings.HasPrefix(low, "daily:"):
		times, err := parseTimesList(s[len("daily:"):])
		if err != nil {
			return Spec{}, err
		}
		return Daily(times, tz)
	case strings.HasPrefix(low, "every:"):
		d, err := parseIntervalValue(s[len("every:"):])
		if err != nil {
			return Spec{}, err
		}
		return Interval(d, tz)
	case strings.HasPrefix(low, "interval:"):
		d, err := parseIntervalValue(s[len("interval:"):])
		if err != nil {
			return Spec{}, err
		}
		return Interval(d, tz)
	}

	// Heuristics: whitespace or '@' means cron; HH:MM lists mean daily;
	// otherwise try a Go duration.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return Cron(s, tz)
	}
	if reDailyTimes.MatchString(s) {
		times, err := parseTimesList(s)
		if err != nil {
			return Spec{}, err
		}
		return Daily(times, tz)
	}
	if d, err := time.ParseDuration(s); err == nil {
		return Interval(d, tz)
	}
	return Spec{}, fmt.Errorf(
		"cadence: invalid schedule %q (use cron like '*/15 * * * *', times like '08:00,12:30', or a duration like '15m')",
		raw,
	)
}

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// parseIntervalValue accepts a Go duration or an HH:MM-shaped duration
// ("02:30" = 2h30m) after an explicit every:/interval: prefix.
func parseIntervalValue(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("cadence: interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("cadence: invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, fmt.Errorf("cadence: interval must be > 0")
		}
		return d, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("cadence: invalid interval %q (use HH:MM or a Go duration like '15m'/'2h30m')", v)
	}
	return d, nil
}

func parseTimesList(v string) ([]TimeOfDay, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, fmt.Errorf("cadence: at least one HH:MM time required")
	}
	parts := strings.Split(v, ",")
	times := make([]TimeOfDay, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		m := reHHMM.FindStringSubmatch(p)
		if m == nil {
			return nil, fmt.Errorf("cadence: invalid time-of-day %q (want HH:MM)", p)
		}
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if hh > 23 || mm > 59 {
			return nil, fmt.Errorf("cadence: invalid time-of-day %q", p)
		}
		times = append(times, TimeOfDay{Hour: hh, Minute: mm})
	}
	return times, nil
}

func loadLocation(tz string) (*time.Location, string, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, "UTC", nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, "", fmt.Errorf("cadence: invalid timezone %q: %w", tz, err)
	}
	return loc, tz, nil
}

// Kind reports the cadence kind.
func (s Spec) Kind() Kind { return s.kind }

// Every reports the period of an interval Spec (zero otherwise).
func (s Spec) Every() time.Duration { return s.every }

// Times reports the time-of-day list of a daily Spec (nil otherwise).
func (s Spec) Times() []TimeOfDay {
	out := make([]TimeOfDay, len(s.times))
	copy(out, s.times)
	return out
}

// Location reports the spec's timezone.
func (s Spec) Location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

// IsZero reports whether s is the invalid zero Spec.
func (s Spec) IsZero() bool { return s.loc == nil }

// Equal reports whether two specs describe the same recurrence.
func (s Spec) Equal(o Spec) bool {
	if s.kind != o.kind || s.tz != o.tz {
		return false
	}
	switch s.kind {
	case KindInterval:
		return s.every == o.every
	case KindDaily:
		if len(s.times) != len(o.times) {
			return false
		}
		for i := range s.times {
			if s.times[i] != o.times[i] {
				return false
			}
		}
		return true
	case KindCron:
		return s.expr == o.expr
	}
	return false
}

// String renders a one-line human description, e.g. "every 15m (UTC)" or
// "daily at 08:00, 12:30 (Asia/Manila)".
func (s Spec) String() string {
	if s.IsZero() {
		return "unset"
	}
	switch s.kind {
	case KindInterval:
		return fmt.Sprintf("every %s (%s)", s.every, s.tz)
	case KindDaily:
		parts := make([]string, len(s.times))
		for i, t := range s.times {
			parts[i] = t.String()
		}
		return fmt.Sprintf("daily at %s (%s)", strings.Join(parts, ", "), s.tz)
	case KindCron:
		return fmt.Sprintf("cron %q (%s)", s.expr, s.tz)
	default:
		return "unknown"
	}
}
