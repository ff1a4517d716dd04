package scheduler

import (
	"context"
	"fmt"
	"time"

	"kpibot/internal/eventbus"
	"kpibot/internal/report"
	"kpibot/pkg/cadence"
	logx "kpibot/pkg/logx"
)

// Run drives the scheduler until ctx is cancelled: restore persisted state,
// apply the catch-up policy, arm the next due time, then check the clock
// once per tick. Execution happens on a single worker goroutine so a slow
// render never blocks the clock; Run returns once the worker has drained.
func (s *Service) Run(ctx context.Context) error {
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.worker(ctx)
	}()

	now := s.now()
	s.restoreState(ctx)
	s.runCatchUp(ctx, now)
	s.arm(now)

	t := time.NewTicker(s.tickEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			<-workerDone
			s.flushState()
			s.log.Info("scheduler stopped")
			return nil
		case <-t.C:
			s.tick(ctx, s.now())
		}
	}
}

// worker executes queued run requests one at a time.
func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.queue:
			run := s.exec.Execute(ctx, req)
			s.completed(ctx, run)
		}
	}
}

// tick drains every boundary the clock has passed. The most recent one is
// handed to the worker; older ones (the process stalled for longer than a
// full period, not normal operation) are recorded as missed, mirroring the
// startup catch-up rule that a backlog is never replayed.
func (s *Service) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if s.nextDue.IsZero() || now.Before(s.nextDue) {
		s.mu.Unlock()
		return
	}
	var due []time.Time
	for !s.nextDue.IsZero() && !now.Before(s.nextDue) && len(due) <= s.catchMax {
		due = append(due, s.nextDue)
		next := s.spec.Next(s.nextDue)
		if !next.After(s.nextDue) {
			// a grid that stops advancing would loop forever
			next = time.Time{}
		}
		s.nextDue = next
	}
	mode := s.mode
	s.mu.Unlock()

	for _, trigger := range due[:len(due)-1] {
		s.recordSkip(ctx, report.StatusSkippedMissed, report.OriginSchedule, mode, trigger)
	}

	trigger := due[len(due)-1]
	req := report.Request{Mode: mode, Origin: report.OriginSchedule, Trigger: trigger}
	select {
	case s.queue <- req:
		s.log.Debug("run dispatched", logx.Time("trigger", trigger))
	default:
		s.recordSkip(ctx, report.StatusSkippedOverlap, report.OriginSchedule, mode, trigger)
	}
	s.publishArmed()
}

// arm computes the first due boundary and opens scheduling.
func (s *Service) arm(now time.Time) {
	s.mu.Lock()
	s.nextDue = s.spec.Next(now)
	spec := s.spec
	next := s.nextDue
	s.mu.Unlock()

	s.armedOnce.Do(func() { close(s.armedCh) })
	s.log.Info("schedule armed",
		logx.String("cadence", spec.String()),
		logx.String("tz", spec.Location().String()),
		logx.Time("next_due", next),
	)
	s.publishArmed()
}

// Armed is closed once the first due time has been computed. The daemon
// gates its readiness signal on it.
func (s *Service) Armed() <-chan struct{} { return s.armedCh }

// Apply swaps in a changed schedule at runtime. A cadence or timezone change
// re-arms the next due time from now; mode and catch-up changes take effect
// on the next trigger.
func (s *Service) Apply(cfg Config) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}
	spec, err := cadence.Parse(cfg.Cadence, cfg.Timezone)
	if err != nil {
		return fmt.Errorf("schedule cadence: %w", err)
	}

	s.mu.Lock()
	rearm := !spec.Equal(s.spec) && !s.nextDue.IsZero()
	s.spec = spec
	s.mode = cfg.Mode
	s.policy = cfg.CatchUp
	s.catchMax = cfg.CatchUpMax
	var next time.Time
	if rearm {
		s.nextDue = spec.Next(s.now())
		next = s.nextDue
	}
	s.mu.Unlock()

	if rearm {
		s.log.Info("schedule re-armed",
			logx.String("cadence", spec.String()),
			logx.Time("next_due", next),
		)
		s.publishArmed()
	}
	return nil
}

func (s *Service) publishArmed() {
	if s.bus == nil {
		return
	}
	s.mu.Lock()
	spec, next := s.spec, s.nextDue
	s.mu.Unlock()
	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventScheduleArmed,
		Time: s.now(),
		Data: eventbus.ScheduleData{Cadence: spec.String(), NextDue: next},
	})
}

// Spec returns the active cadence.
func (s *Service) Spec() cadence.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}
