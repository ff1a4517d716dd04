package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kpibot/internal/eventbus"
	"kpibot/internal/report"
	"kpibot/internal/storage"
	"kpibot/pkg/cadence"
	logx "kpibot/pkg/logx"
)

// Catch-up policies for boundaries missed while the daemon was down.
const (
	CatchUpSkip    = "skip"
	CatchUpRunOnce = "run-once"
)

const (
	defaultCatchUpMax = 100
	defaultTickEvery  = time.Second
)

// Config describes the schedule. Cadence accepts an interval ("15m"),
// a daily time list ("09:00,18:00"), or a cron expression.
type Config struct {
	Cadence    string
	Timezone   string
	CatchUp    string // "skip" (default) or "run-once"
	CatchUpMax int    // cap on recorded missed boundaries (default 100)
	Mode       report.Mode
}

func (c Config) normalize() (Config, error) {
	c.CatchUp = strings.ToLower(strings.TrimSpace(c.CatchUp))
	switch c.CatchUp {
	case "":
		c.CatchUp = CatchUpSkip
	case CatchUpSkip, CatchUpRunOnce:
	default:
		return c, fmt.Errorf("unknown catch-up policy %q", c.CatchUp)
	}
	if c.CatchUpMax <= 0 {
		c.CatchUpMax = defaultCatchUpMax
	}
	if c.Mode == "" {
		c.Mode = report.ModeRendered
	}
	return c, nil
}

// Validate reports whether the config could arm a schedule, without building
// a Service. The config reload validator runs it against candidate configs.
func (c Config) Validate() error {
	if _, err := c.normalize(); err != nil {
		return err
	}
	if _, err := cadence.Parse(c.Cadence, c.Timezone); err != nil {
		return fmt.Errorf("schedule cadence: %w", err)
	}
	return nil
}

// Executor runs a single report end to end. *report.Controller satisfies it.
type Executor interface {
	Execute(ctx context.Context, req report.Request) report.Run
	Busy() bool
}

// StateStore persists scheduler state across restarts. storage.Store
// satisfies it; nil means state lives for the process only.
type StateStore interface {
	LoadState(ctx context.Context) (st storage.State, ok bool, err error)
	SaveState(ctx context.Context, st storage.State) error
}

// Deps are the Service's collaborators. Exec is required; the rest may be
// nil.
type Deps struct {
	Log      logx.Logger
	Bus      eventbus.Bus
	Exec     Executor
	Store    StateStore
	Recorder report.Recorder
}

// LastOutcome summarizes the most recent terminal run the scheduler
// dispatched.
type LastOutcome struct {
	RunID   string        `json:"run_id"`
	Status  report.Status `json:"status"`
	Trigger time.Time     `json:"trigger"`
	EndedAt time.Time     `json:"ended_at,omitempty"`
	Err     string        `json:"error,omitempty"`
}

// Service computes due times and emits run requests. All mutable schedule
// state sits behind mu; execution happens on one worker goroutine fed by an
// unbuffered queue, so a trigger that finds the worker occupied is dropped
// as skipped-overlap instead of piling up behind it.
type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	exec  Executor
	store StateStore
	rec   report.Recorder

	queue chan report.Request
	now   func() time.Time
	seq   atomic.Uint64

	tickEvery time.Duration
	armedOnce sync.Once
	armedCh   chan struct{}

	mu        sync.Mutex
	spec      cadence.Spec
	mode      report.Mode
	policy    string
	catchMax  int
	nextDue   time.Time
	highWater time.Time
	last      *LastOutcome
}

// New builds the Service and fails fast on a malformed schedule.
func New(cfg Config, deps Deps) (*Service, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	spec, err := cadence.Parse(cfg.Cadence, cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule cadence: %w", err)
	}
	if deps.Exec == nil {
		return nil, errors.New("scheduler requires an executor")
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	return &Service{
		log:       log,
		bus:       deps.Bus,
		exec:      deps.Exec,
		store:     deps.Store,
		rec:       deps.Recorder,
		queue:     make(chan report.Request),
		now:       time.Now,
		tickEvery: defaultTickEvery,
		armedCh:   make(chan struct{}),
		spec:      spec,
		mode:      cfg.Mode,
		policy:    cfg.CatchUp,
		catchMax:  cfg.CatchUpMax,
	}, nil
}
