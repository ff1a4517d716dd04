package scheduler

import (
	"fmt"
	"time"

	"kpibot/internal/report"
	"kpibot/internal/storage"
	"kpibot/pkg/cadence"
)

// Snapshot is a point-in-time projection of scheduler state for the
// describe surface. It has no side effects and is safe to serialize.
type Snapshot struct {
	Cadence   string       `json:"cadence"`
	Timezone  string       `json:"timezone"`
	NextDue   time.Time    `json:"next_due"`
	Upcoming  []time.Time  `json:"upcoming,omitempty"`
	HighWater time.Time    `json:"high_water"`
	Last      *LastOutcome `json:"last,omitempty"`
	Busy      bool         `json:"busy"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	spec := s.spec
	next := s.nextDue
	hw := s.highWater
	var last *LastOutcome
	if s.last != nil {
		cp := *s.last
		last = &cp
	}
	s.mu.Unlock()

	return Snapshot{
		Cadence:   spec.String(),
		Timezone:  spec.Location().String(),
		NextDue:   next,
		Upcoming:  spec.Preview(s.now(), 3),
		HighWater: hw,
		Last:      last,
		Busy:      s.exec.Busy(),
	}
}

// Describe projects a schedule without a running Service. The CLI's
// show-schedule path loads persisted state and calls this directly, so
// describing a schedule needs neither a Telegram token nor a browser.
func Describe(cfg Config, st storage.State, now time.Time) (Snapshot, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return Snapshot{}, err
	}
	spec, err := cadence.Parse(cfg.Cadence, cfg.Timezone)
	if err != nil {
		return Snapshot{}, fmt.Errorf("schedule cadence: %w", err)
	}

	snap := Snapshot{
		Cadence:   spec.String(),
		Timezone:  spec.Location().String(),
		NextDue:   spec.Next(now),
		Upcoming:  spec.Preview(now, 3),
		HighWater: st.HighWater,
	}
	if st.LastRunID != "" {
		snap.Last = &LastOutcome{
			RunID:   st.LastRunID,
			Status:  report.Status(st.LastStatus),
			Trigger: st.LastTrigger,
			Err:     st.LastError,
		}
	}
	return snap, nil
}
