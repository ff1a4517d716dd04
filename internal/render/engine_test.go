package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kpibot/internal/kpi"
	"kpibot/internal/report"
	logx "kpibot/pkg/logx"
)

type fakeShooter struct {
	path  string
	err   error
	calls int
}

func (f *fakeShooter) Capture(ctx context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

func fileSource(t *testing.T, doc string) kpi.Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kpi.json")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return kpi.NewFileSource(path)
}

const testDoc = `{
  "date": "2026-08-25",
  "agents": {
    "alice": { "spend": 500, "register": 20, "ftd": 4 }
  }
}`

func TestRenderTextOnlyWithoutBrowser(t *testing.T) {
	t.Parallel()

	e := NewEngine(logx.Nop(), fileSource(t, testDoc), nil, kpi.Summarizer{Label: "TEST"}, nil)

	art, err := e.Render(context.Background(), report.ModeTextOnly)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if art.Mode != report.ModeTextOnly || art.Text == "" {
		t.Fatalf("artifact = %+v", art)
	}
	if art.ImagePath != "" {
		t.Fatal("text artifact must not carry an image path")
	}
	if !strings.Contains(art.Text, "TEST") {
		t.Fatalf("summary missing label:\n%s", art.Text)
	}
}

func TestRenderRenderedWithoutCapabilityFails(t *testing.T) {
	t.Parallel()

	e := NewEngine(logx.Nop(), fileSource(t, testDoc), nil, kpi.Summarizer{}, nil)

	_, err := e.Render(context.Background(), report.ModeRendered)
	if !errors.Is(err, report.ErrBrowserUnavailable) {
		t.Fatalf("err = %v, want ErrBrowserUnavailable", err)
	}
}

func TestRenderRendered(t *testing.T) {
	t.Parallel()

	shot := &fakeShooter{path: "/tmp/dashboard_x.png"}
	e := NewEngine(logx.Nop(), fileSource(t, testDoc), nil, kpi.Summarizer{}, shot)

	art, err := e.Render(context.Background(), report.ModeRendered)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if art.Mode != report.ModeRendered || art.ImagePath != shot.path || art.Caption == "" {
		t.Fatalf("artifact = %+v", art)
	}
}

func TestRenderSourceFailureIsRenderFailed(t *testing.T) {
	t.Parallel()

	e := NewEngine(logx.Nop(), kpi.NewFileSource(filepath.Join(t.TempDir(), "absent.json")), nil, kpi.Summarizer{}, nil)

	_, err := e.Render(context.Background(), report.ModeTextOnly)
	if !errors.Is(err, report.ErrRenderFailed) {
		t.Fatalf("err = %v, want ErrRenderFailed", err)
	}
}

func TestRenderCapturePropagatesTypedErrors(t *testing.T) {
	t.Parallel()

	shot := &fakeShooter{err: fmt.Errorf("%w: slow page", report.ErrRenderTimeout)}
	e := NewEngine(logx.Nop(), fileSource(t, testDoc), nil, kpi.Summarizer{}, shot)

	_, err := e.Render(context.Background(), report.ModeRendered)
	if !errors.Is(err, report.ErrRenderTimeout) {
		t.Fatalf("err = %v, want ErrRenderTimeout", err)
	}
}

func TestHistoryCommittedOnlyAfterDelivery(t *testing.T) {
	t.Parallel()

	hist := kpi.NewHistory(filepath.Join(t.TempDir(), "last_report_data.json"))
	e := NewEngine(logx.Nop(), fileSource(t, testDoc), hist, kpi.Summarizer{}, nil)

	art, err := e.Render(context.Background(), report.ModeTextOnly)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	// Not delivered yet: baseline must stay empty.
	if prev, _ := hist.Load(); prev != nil {
		t.Fatal("history advanced before delivery confirmation")
	}

	e.ArtifactDelivered(context.Background(), art)
	prev, err := hist.Load()
	if err != nil || prev == nil {
		t.Fatalf("history after delivery = (%v, %v)", prev, err)
	}
	if prev.Agents["alice"].Spend != 500 {
		t.Fatalf("stored snapshot = %+v", prev)
	}

	// Stale or foreign artifacts never commit.
	e.ArtifactDelivered(context.Background(), &report.Artifact{Mode: report.ModeTextOnly, Text: "x"})
}

func TestSecondRenderCarriesDeltas(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	docPath := filepath.Join(dir, "kpi.json")
	if err := os.WriteFile(docPath, []byte(testDoc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	hist := kpi.NewHistory(filepath.Join(dir, "last_report_data.json"))
	e := NewEngine(logx.Nop(), kpi.NewFileSource(docPath), hist, kpi.Summarizer{}, nil)

	art1, err := e.Render(context.Background(), report.ModeTextOnly)
	if err != nil {
		t.Fatalf("first render: %v", err)
	}
	e.ArtifactDelivered(context.Background(), art1)

	// alice's spend moves up before the second report.
	updated := strings.Replace(testDoc, `"spend": 500`, `"spend": 750`, 1)
	if err := os.WriteFile(docPath, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	art2, err := e.Render(context.Background(), report.ModeTextOnly)
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if !strings.Contains(art2.Text, "↑") {
		t.Fatalf("expected up indicator in second report:\n%s", art2.Text)
	}
}
