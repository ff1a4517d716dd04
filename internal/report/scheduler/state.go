package scheduler

import (
	"context"
	"fmt"
	"time"

	"kpibot/internal/eventbus"
	"kpibot/internal/report"
	"kpibot/internal/storage"
	logx "kpibot/pkg/logx"
)

// completed folds a terminal run into scheduler state and persists it. The
// high-water mark never moves backwards, so a skip recorded for a later
// boundary is not undone by an earlier run finishing afterwards.
func (s *Service) completed(ctx context.Context, run report.Run) {
	if !run.Status.Terminal() {
		return
	}
	s.mu.Lock()
	if run.Trigger.After(s.highWater) {
		s.highWater = run.Trigger
	}
	s.last = &LastOutcome{
		RunID:   run.ID,
		Status:  run.Status,
		Trigger: run.Trigger,
		EndedAt: run.EndedAt,
		Err:     run.Err,
	}
	st := s.stateLocked()
	s.mu.Unlock()

	s.saveState(ctx, st)
}

// recordSkip synthesizes a terminal run for a boundary that never executed,
// records and publishes it, and advances the high-water mark past it.
func (s *Service) recordSkip(ctx context.Context, status report.Status, origin report.Origin, mode report.Mode, trigger time.Time) {
	now := s.now()
	run := report.Run{
		ID:        s.newRunID(now),
		Mode:      mode,
		Origin:    origin,
		Trigger:   trigger,
		StartedAt: now,
		EndedAt:   now,
		Status:    status,
	}
	if run.Mode == "" {
		run.Mode = report.ModeRendered
	}

	if s.rec != nil {
		if err := s.rec.AppendRun(context.WithoutCancel(ctx), run); err != nil {
			s.log.Warn("run record failed", logx.String("run_id", run.ID), logx.Err(err))
		}
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.EventRunSkipped,
			Time: now,
			Data: eventbus.RunData{
				RunID:   run.ID,
				Mode:    string(run.Mode),
				Status:  string(run.Status),
				Trigger: run.Trigger,
			},
		})
	}

	if status == report.StatusSkippedOverlap {
		s.log.Warn("trigger dropped, previous run still in flight",
			logx.String("run_id", run.ID),
			logx.Time("trigger", trigger),
		)
	} else {
		s.log.Info("missed boundary recorded",
			logx.String("run_id", run.ID),
			logx.Time("trigger", trigger),
		)
	}

	s.completed(ctx, run)
}

func (s *Service) stateLocked() storage.State {
	st := storage.State{HighWater: s.highWater}
	if s.last != nil {
		st.LastRunID = s.last.RunID
		st.LastStatus = string(s.last.Status)
		st.LastTrigger = s.last.Trigger
		st.LastError = s.last.Err
	}
	return st
}

// restoreState loads the persisted high-water mark. A load failure starts
// fresh rather than blocking startup.
func (s *Service) restoreState(ctx context.Context) {
	if s.store == nil {
		return
	}
	st, ok, err := s.store.LoadState(ctx)
	if err != nil {
		s.log.Warn("scheduler state load failed, starting fresh", logx.Err(err))
		return
	}
	if !ok {
		return
	}

	s.mu.Lock()
	s.highWater = st.HighWater
	if st.LastRunID != "" {
		s.last = &LastOutcome{
			RunID:   st.LastRunID,
			Status:  report.Status(st.LastStatus),
			Trigger: st.LastTrigger,
			Err:     st.LastError,
		}
	}
	s.mu.Unlock()

	s.log.Info("scheduler state restored", logx.Time("high_water", st.HighWater))
}

func (s *Service) saveState(ctx context.Context, st storage.State) {
	if s.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.store.SaveState(sctx, st); err != nil {
		s.log.Warn("scheduler state save failed", logx.Err(err))
	}
}

// flushState writes the final state snapshot during shutdown.
func (s *Service) flushState() {
	s.mu.Lock()
	st := s.stateLocked()
	s.mu.Unlock()
	if st.HighWater.IsZero() && st.LastRunID == "" {
		return
	}
	s.saveState(context.Background(), st)
}

func (s *Service) newRunID(now time.Time) string {
	return fmt.Sprintf("run-%x-%x", now.UnixNano(), s.seq.Add(1))
}
