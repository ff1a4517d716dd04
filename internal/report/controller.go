package report

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"kpibot/internal/eventbus"
	logx "kpibot/pkg/logx"
)

// execToken is the single-permit mutual exclusion guard: at most one run
// executes at any instant, system-wide.
type execToken struct {
	mu       sync.Mutex
	inflight bool
}

func (t *execToken) tryAcquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight {
		return false
	}
	t.inflight = true
	return true
}

func (t *execToken) release() {
	t.mu.Lock()
	t.inflight = false
	t.mu.Unlock()
}

func (t *execToken) held() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight
}

// Config bounds one execution. Zero values fall back to defaults.
type Config struct {
	RetryMax       int           // additional attempts per phase (default 2)
	RetryBase      time.Duration // default 2s
	RetryMaxDelay  time.Duration // default 30s
	RenderTimeout  time.Duration // default 45s
	DeliverTimeout time.Duration // default 60s
}

func (c Config) withDefaults() Config {
	if c.RetryMax == 0 {
		c.RetryMax = 2
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 45 * time.Second
	}
	if c.DeliverTimeout <= 0 {
		c.DeliverTimeout = 60 * time.Second
	}
	return c
}

// Deps are the Controller's collaborators. Renderer and Gateway are
// required; Bus and Recorder may be nil.
type Deps struct {
	Log      logx.Logger
	Bus      eventbus.Bus
	Renderer Renderer
	Gateway  Gateway
	Recorder Recorder
}

// Controller executes runs one at a time. Safe for concurrent Execute calls;
// losers of the token race come back skipped-overlap immediately.
type Controller struct {
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	rend Renderer
	gw   Gateway
	rec  Recorder

	token execToken
	idSeq atomic.Uint64

	// rng is only touched while the token is held.
	rng *rand.Rand

	now func() time.Time
}

func NewController(cfg Config, deps Deps) (*Controller, error) {
	if deps.Renderer == nil {
		return nil, errors.New("report: renderer is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("report: gateway is required")
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{
		cfg:  cfg.withDefaults(),
		log:  log,
		bus:  deps.Bus,
		rend: deps.Renderer,
		gw:   deps.Gateway,
		rec:  deps.Recorder,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		now:  time.Now,
	}, nil
}

// Busy reports whether a run currently holds the execution token.
func (c *Controller) Busy() bool { return c.token.held() }

// Execute runs one report end to end and returns the terminal Run. It never
// returns an error: every failure lands in the Run's status and error detail
// so the caller's loop cannot crash on a bad run.
func (c *Controller) Execute(ctx context.Context, req Request) Run {
	now := c.now()
	run := Run{
		ID:      c.newRunID(now),
		Mode:    req.Mode,
		Origin:  req.Origin,
		Trigger: req.Trigger,
		Status:  StatusPending,
	}
	if run.Mode == "" {
		run.Mode = ModeRendered
	}
	if run.Origin == "" {
		run.Origin = OriginManual
	}
	if run.Trigger.IsZero() {
		run.Trigger = now
	}

	if !c.token.tryAcquire() {
		run.Status = StatusSkippedOverlap
		run.StartedAt = now
		run.EndedAt = now
		c.log.Warn("run skipped, another run in flight",
			logx.String("run_id", run.ID),
			logx.Time("trigger", run.Trigger),
		)
		c.finish(ctx, &run)
		return run
	}
	defer c.token.release()

	run.Status = StatusRunning
	run.StartedAt = c.now()
	c.log.Info("run started",
		logx.String("run_id", run.ID),
		logx.String("mode", string(run.Mode)),
		logx.String("origin", string(run.Origin)),
		logx.Time("trigger", run.Trigger),
	)
	c.publish(eventbus.EventRunStarted, run)

	art, err := c.renderWithRetry(ctx, &run)
	if err == nil {
		run.ArtifactPath = art.ImagePath
		err = c.deliverWithRetry(ctx, &run, art)
	}
	if err == nil {
		if l, ok := c.rend.(DeliveryListener); ok {
			l.ArtifactDelivered(ctx, art)
		}
	}

	run.EndedAt = c.now()
	if err != nil {
		run.Status = StatusFailed
		run.Err = err.Error()
	} else {
		run.Status = StatusSucceeded
	}
	c.finish(ctx, &run)
	return run
}

// renderWithRetry invokes the renderer under a per-attempt timeout, retrying
// with backoff. A missing browser capability fails immediately. Cancellation
// is honored between attempts, never mid-render.
func (c *Controller) renderWithRetry(ctx context.Context, run *Run) (*Artifact, error) {
	retry := newRetryState(retryPolicy{
		Max:      c.cfg.RetryMax,
		Base:     c.cfg.RetryBase,
		MaxDelay: c.cfg.RetryMaxDelay,
	}, c.rng)

	for {
		// The attempt is bounded by its own timeout only; caller
		// cancellation is picked up after it returns.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RenderTimeout)
		art, err := c.rend.Render(rctx, run.Mode)
		cancel()
		if err == nil {
			if verr := art.validate(); verr != nil {
				return nil, verr
			}
			return art, nil
		}

		if errors.Is(err, ErrBrowserUnavailable) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("render aborted: %w", ctx.Err())
		}
		wait, ok := retry.next()
		if !ok {
			return nil, err
		}
		run.Retries++
		c.log.Warn("render failed, retrying",
			logx.String("run_id", run.ID),
			logx.Int("attempt", retry.attempt),
			logx.Duration("backoff", wait),
			logx.Err(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("render aborted: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// deliverWithRetry ships the artifact, retrying with a fresh backoff budget.
// The artifact is reused across attempts, never regenerated.
func (c *Controller) deliverWithRetry(ctx context.Context, run *Run, art *Artifact) error {
	retry := newRetryState(retryPolicy{
		Max:      c.cfg.RetryMax,
		Base:     c.cfg.RetryBase,
		MaxDelay: c.cfg.RetryMaxDelay,
	}, c.rng)

	for {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.DeliverTimeout)
		err := c.gw.Deliver(dctx, art)
		cancel()
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("%w: aborted: %v", ErrDeliveryFailed, ctx.Err())
		}
		wait, ok := retry.next()
		if !ok {
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
		run.Retries++
		c.log.Warn("delivery failed, retrying",
			logx.String("run_id", run.ID),
			logx.Int("attempt", retry.attempt),
			logx.Duration("backoff", wait),
			logx.Err(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: aborted: %v", ErrDeliveryFailed, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// finish records the terminal run and publishes its lifecycle event. Both
// are best-effort; the run outcome stands regardless. Recording is detached
// from caller cancellation so a run finishing during shutdown still lands
// in the history.
func (c *Controller) finish(ctx context.Context, run *Run) {
	ctx = context.WithoutCancel(ctx)
	if c.rec != nil {
		if err := c.rec.AppendRun(ctx, *run); err != nil {
			c.log.Warn("run record failed", logx.String("run_id", run.ID), logx.Err(err))
		}
	}

	evType := eventbus.EventRunFinished
	if run.Status == StatusSkippedOverlap || run.Status == StatusSkippedMissed {
		evType = eventbus.EventRunSkipped
	}
	c.publish(evType, *run)

	switch run.Status {
	case StatusSucceeded:
		c.log.Info("run succeeded",
			logx.String("run_id", run.ID),
			logx.String("mode", string(run.Mode)),
			logx.Duration("took", run.Duration()),
			logx.Int("retries", run.Retries),
		)
	case StatusFailed:
		c.log.Error("run failed",
			logx.String("run_id", run.ID),
			logx.String("mode", string(run.Mode)),
			logx.Duration("took", run.Duration()),
			logx.Int("retries", run.Retries),
			logx.String("err", run.Err),
		)
	}
}

func (c *Controller) publish(evType string, run Run) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{
		Type: evType,
		Data: eventbus.RunData{
			RunID:   run.ID,
			Mode:    string(run.Mode),
			Status:  string(run.Status),
			Trigger: run.Trigger,
			Err:     run.Err,
		},
	})
}

func (c *Controller) newRunID(now time.Time) string {
	seq := c.idSeq.Add(1)
	return fmt.Sprintf("run-%x-%x", now.UnixNano(), seq)
}
