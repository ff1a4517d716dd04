package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kpibot/internal/kpi"
	"kpibot/internal/report"
	logx "kpibot/pkg/logx"
)

// Screenshotter captures the dashboard and returns the image path. *Browser
// is the production implementation; tests inject fakes.
type Screenshotter interface {
	Capture(ctx context.Context) (string, error)
}

// Engine builds artifacts for both run modes. Stateless per invocation apart
// from the pending-snapshot handoff: snapshot history is committed only after
// the Controller confirms delivery, so a failed send never shifts the deltas
// of the next report.
type Engine struct {
	log     logx.Logger
	source  kpi.Source
	history *kpi.History
	sum     kpi.Summarizer
	shooter Screenshotter

	mu          sync.Mutex
	pendingSnap *kpi.Snapshot
	pendingArt  *report.Artifact

	now func() time.Time
}

func NewEngine(log logx.Logger, source kpi.Source, history *kpi.History, sum kpi.Summarizer, shooter Screenshotter) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		log:     log,
		source:  source,
		history: history,
		sum:     sum,
		shooter: shooter,
		now:     time.Now,
	}
}

// Render implements report.Renderer.
func (e *Engine) Render(ctx context.Context, mode report.Mode) (*report.Artifact, error) {
	snap, err := e.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", report.ErrRenderFailed, err)
	}

	var prev *kpi.Snapshot
	if e.history != nil {
		prev, err = e.history.Load()
		if err != nil {
			e.log.Warn("previous snapshot unreadable, reporting without deltas", logx.Err(err))
			prev = nil
		}
	}

	now := e.now()
	text := e.sum.Build(snap, prev, now)

	var art *report.Artifact
	switch mode {
	case report.ModeTextOnly:
		art = &report.Artifact{Mode: mode, Text: text, GeneratedAt: now}
	case report.ModeRendered:
		if e.shooter == nil {
			return nil, fmt.Errorf("%w: no capture capability wired", report.ErrBrowserUnavailable)
		}
		shot, err := e.shooter.Capture(ctx)
		if err != nil {
			return nil, err
		}
		art = &report.Artifact{Mode: mode, ImagePath: shot, Caption: text, GeneratedAt: now}
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", report.ErrRenderFailed, mode)
	}

	e.mu.Lock()
	e.pendingSnap = snap
	e.pendingArt = art
	e.mu.Unlock()
	return art, nil
}

// ArtifactDelivered implements report.DeliveryListener: the snapshot behind
// a delivered artifact becomes the comparison baseline for the next report.
func (e *Engine) ArtifactDelivered(ctx context.Context, a *report.Artifact) {
	e.mu.Lock()
	snap := e.pendingSnap
	match := a != nil && e.pendingArt == a
	if match {
		e.pendingSnap = nil
		e.pendingArt = nil
	}
	e.mu.Unlock()

	if !match || snap == nil || e.history == nil {
		return
	}
	if err := e.history.Save(snap); err != nil {
		e.log.Warn("snapshot history save failed", logx.Err(err))
	}
}
