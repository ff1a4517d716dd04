package cadence

import "time"

// Next returns the next trigger instant strictly after the given time.
//
// Interval cadence lands on the epoch-anchored grid (multiples of the period
// from the Unix epoch), so the sequence is independent of process start and
// restarts do not drift. Daily cadence picks the earliest upcoming
// time-of-day in the spec's timezone. Cron cadence delegates to robfig/cron.
//
// A zero return means the spec cannot produce a future instant (only
// possible for pathological cron expressions); callers must treat that as
// "no next run".
func (s Spec) Next(after time.Time) time.Time {
	switch s.kind {
	case KindInterval:
		return s.nextInterval(after)
	case KindDaily:
		return s.nextDaily(after)
	case KindCron:
		if s.sched == nil {
			return time.Time{}
		}
		return s.sched.Next(after.In(s.Location()))
	default:
		return time.Time{}
	}
}

func (s Spec) nextInterval(after time.Time) time.Time {
	everyMs := s.every.Milliseconds()
	if everyMs < 1 {
		return time.Time{}
	}
	// Grid anchor is the Unix epoch; floor division keeps the math correct
	// for instants before it as well.
	steps := floorDiv(after.UnixMilli(), everyMs) + 1
	return time.UnixMilli(steps * everyMs).In(s.Location())
}

func (s Spec) nextDaily(after time.Time) time.Time {
	loc := s.Location()
	local := after.In(loc)
	// Scan a few days forward: DST transitions can shift or swallow a
	// wall-clock time, so a candidate on a given day may not land after it.
	for day := 0; day <= 3; day++ {
		y, m, d := local.AddDate(0, 0, day).Date()
		for _, t := range s.times {
			cand := time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
			if cand.After(after) {
				return cand
			}
		}
	}
	return time.Time{}
}

// Preview returns the next n trigger instants after the given time,
// used by schedule inspection output.
func (s Spec) Preview(after time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	cur := after
	for i := 0; i < n; i++ {
		next := s.Next(cur)
		if next.IsZero() {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
