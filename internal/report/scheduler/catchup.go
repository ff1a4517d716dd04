package scheduler

import (
	"context"
	"time"

	"kpibot/internal/report"
	"kpibot/pkg/cadence"
	logx "kpibot/pkg/logx"
)

// runCatchUp applies the configured policy to boundaries that elapsed while
// the process was down. The backlog is never replayed: a KPI snapshot is
// only meaningful at collection time, so at most the single most recent
// missed boundary runs, and only under "run-once".
func (s *Service) runCatchUp(ctx context.Context, now time.Time) {
	s.mu.Lock()
	hw := s.highWater
	spec := s.spec
	policy := s.policy
	limit := s.catchMax
	mode := s.mode
	s.mu.Unlock()

	if hw.IsZero() {
		// first boot, nothing to measure downtime against
		return
	}

	missed, total := missedBoundaries(spec, hw, now, limit+1)
	if total == 0 {
		return
	}

	latest := missed[len(missed)-1]
	records := missed
	runLatest := policy == CatchUpRunOnce
	if runLatest {
		records = records[:len(records)-1]
	}
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	overflow := total - len(records)
	if runLatest {
		overflow--
	}

	for _, trigger := range records {
		s.recordSkip(ctx, report.StatusSkippedMissed, report.OriginCatchUp, mode, trigger)
	}
	if overflow > 0 {
		s.log.Warn("missed boundaries exceed record cap",
			logx.Int("missed", total),
			logx.Int("recorded", len(records)),
			logx.Int("unrecorded", overflow),
		)
	}
	s.log.Info("catch-up applied",
		logx.String("policy", policy),
		logx.Int("missed", total),
		logx.Time("latest", latest),
	)

	if runLatest {
		select {
		case s.queue <- report.Request{Mode: mode, Origin: report.OriginCatchUp, Trigger: latest}:
		case <-ctx.Done():
		}
	}
}

// missedBoundaries walks the cadence grid from after (exclusive) to until
// (inclusive), returning the newest keep boundaries in order plus the total
// count.
func missedBoundaries(spec cadence.Spec, after, until time.Time, keep int) ([]time.Time, int) {
	if keep < 1 {
		keep = 1
	}
	ring := make([]time.Time, keep)
	total := 0
	prev := after
	for b := spec.Next(prev); !b.IsZero() && !b.After(until); b = spec.Next(prev) {
		if !b.After(prev) {
			// a grid that stops advancing would loop forever
			break
		}
		prev = b
		ring[total%keep] = b
		total++
	}
	if total == 0 {
		return nil, 0
	}

	n := min(total, keep)
	start := 0
	if total > keep {
		start = total % keep
	}
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ring[(start+i)%keep])
	}
	return out, total
}
