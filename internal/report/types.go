package report

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Mode selects how a report is produced.
type Mode string

const (
	// ModeRendered captures a headless-browser snapshot of the dashboard
	// with a caption derived from current metrics.
	ModeRendered Mode = "rendered"
	// ModeTextOnly formats the metrics as plain text. It must succeed even
	// when no browser is available.
	ModeTextOnly Mode = "text-only"
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeRendered):
		return ModeRendered, nil
	case string(ModeTextOnly), "text":
		return ModeTextOnly, nil
	default:
		return "", fmt.Errorf("unknown report mode %q", s)
	}
}

// Status is a run's lifecycle state. Once it leaves running it never
// changes again.
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusSkippedOverlap Status = "skipped-overlap"
	StatusSkippedMissed  Status = "skipped-missed"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkippedOverlap, StatusSkippedMissed:
		return true
	default:
		return false
	}
}

// Origin records what asked for the run.
type Origin string

const (
	OriginSchedule Origin = "schedule"
	OriginManual   Origin = "manual"
	OriginCatchUp  Origin = "catch-up"
)

// Run is one scheduled or ad-hoc execution attempt. Created by the scheduler
// (or an immediate-run request), mutated only by the Controller executing it.
type Run struct {
	ID           string    `json:"id"`
	Mode         Mode      `json:"mode"`
	Origin       Origin    `json:"origin"`
	Trigger      time.Time `json:"trigger"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
	Status       Status    `json:"status"`
	Err          string    `json:"error,omitempty"`
	Retries      int       `json:"retries,omitempty"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
}

func (r Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Artifact is the output of a successful render. Rendered artifacts carry
// the screenshot path plus caption; text artifacts carry the body. Never
// partially populated.
type Artifact struct {
	Mode        Mode
	ImagePath   string
	Caption     string
	Text        string
	GeneratedAt time.Time
}

func (a *Artifact) validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil artifact", ErrRenderFailed)
	}
	switch a.Mode {
	case ModeRendered:
		if a.ImagePath == "" || a.Caption == "" {
			return fmt.Errorf("%w: rendered artifact missing image or caption", ErrRenderFailed)
		}
	case ModeTextOnly:
		if a.Text == "" {
			return fmt.Errorf("%w: text artifact missing body", ErrRenderFailed)
		}
	default:
		return fmt.Errorf("%w: artifact has unknown mode %q", ErrRenderFailed, a.Mode)
	}
	return nil
}

// Request asks the Controller for one execution.
type Request struct {
	Mode    Mode
	Origin  Origin
	Trigger time.Time // due instant; zero means "now"
}

// Renderer produces an artifact for a mode. Implementations honor ctx
// deadlines and return typed errors (ErrRenderTimeout, ErrBrowserUnavailable).
type Renderer interface {
	Render(ctx context.Context, mode Mode) (*Artifact, error)
}

// Gateway ships a finished artifact. The Controller retries delivery
// independently of rendering, reusing the same artifact.
type Gateway interface {
	Deliver(ctx context.Context, a *Artifact) error
}

// DeliveryListener is an optional Renderer upgrade: the Controller notifies
// it once an artifact has been delivered, so the renderer can commit state
// that must only advance for delivered reports (snapshot history).
type DeliveryListener interface {
	ArtifactDelivered(ctx context.Context, a *Artifact)
}

// Recorder persists terminal runs. Record failures are logged, never
// escalated into run failure.
type Recorder interface {
	AppendRun(ctx context.Context, run Run) error
}
