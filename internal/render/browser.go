package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"kpibot/internal/report"
	logx "kpibot/pkg/logx"
)

// browserNames are probed on PATH when config leaves render.browser_path
// empty, most specific first.
var browserNames = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"chrome",
	"headless-shell",
}

// BrowserConfig shapes one capture. Zero values fall back to defaults.
type BrowserConfig struct {
	Path           string        // binary; empty probes browserNames
	ScreenshotDir  string        // default "./screenshots"
	ViewportWidth  int           // default 1400
	ViewportHeight int           // default 3000 (tall page without scrolling)
	SettleBudget   time.Duration // virtual time budget, default 10s
	KeepFor        time.Duration // screenshot retention, 0 disables the sweep
}

func (c BrowserConfig) withDefaults() BrowserConfig {
	if strings.TrimSpace(c.ScreenshotDir) == "" {
		c.ScreenshotDir = "./screenshots"
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1400
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 3000
	}
	if c.SettleBudget <= 0 {
		c.SettleBudget = 10 * time.Second
	}
	return c
}

// Browser captures dashboard screenshots by invoking a headless Chromium
// binary per snapshot. One capture runs at a time (callers hold the
// execution token), so no browser process outlives its run.
type Browser struct {
	cfg BrowserConfig
	url string
	log logx.Logger
	now func() time.Time
}

func NewBrowser(cfg BrowserConfig, dashboardURL string, log logx.Logger) *Browser {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Browser{cfg: cfg.withDefaults(), url: dashboardURL, log: log, now: time.Now}
}

// Capture renders the dashboard and returns the screenshot path. The ctx
// deadline bounds the whole browser invocation; exceeding it is a render
// timeout, not a crash.
func (b *Browser) Capture(ctx context.Context) (string, error) {
	bin, err := b.resolveBinary()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(b.url) == "" {
		return "", fmt.Errorf("%w: dashboard url not configured", report.ErrRenderFailed)
	}

	if err := os.MkdirAll(b.cfg.ScreenshotDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: screenshot dir: %v", report.ErrRenderFailed, err)
	}

	now := b.now()
	out := filepath.Join(b.cfg.ScreenshotDir, fmt.Sprintf("dashboard_%s.png", now.Format("20060102_150405")))

	args := []string{
		"--headless=new",
		"--disable-gpu",
		// Server deployments commonly lack the sandbox helper and /dev/shm space.
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--hide-scrollbars",
		fmt.Sprintf("--window-size=%d,%d", b.cfg.ViewportWidth, b.cfg.ViewportHeight),
		fmt.Sprintf("--virtual-time-budget=%d", b.cfg.SettleBudget.Milliseconds()),
		"--screenshot=" + out,
		b.url,
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(out)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: browser exceeded capture budget", report.ErrRenderTimeout)
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: capture canceled", report.ErrRenderFailed)
		}
		return "", fmt.Errorf("%w: %v: %s", report.ErrRenderFailed, err, tailOf(output, 300))
	}

	st, err := os.Stat(out)
	if err != nil || st.Size() == 0 {
		_ = os.Remove(out)
		return "", fmt.Errorf("%w: browser exited clean but wrote no screenshot", report.ErrRenderFailed)
	}

	b.log.Debug("dashboard captured",
		logx.String("path", out),
		logx.Int64("bytes", st.Size()),
	)

	b.sweep(now)
	return out, nil
}

// Available reports whether a usable browser binary can be resolved.
func (b *Browser) Available() bool {
	_, err := b.resolveBinary()
	return err == nil
}

func (b *Browser) resolveBinary() (string, error) {
	if p := strings.TrimSpace(b.cfg.Path); p != "" {
		found, err := exec.LookPath(p)
		if err != nil {
			return "", fmt.Errorf("%w: %q not usable: %v", report.ErrBrowserUnavailable, p, err)
		}
		return found, nil
	}
	for _, name := range browserNames {
		if found, err := exec.LookPath(name); err == nil {
			return found, nil
		}
	}
	return "", fmt.Errorf("%w: no chromium binary on PATH", report.ErrBrowserUnavailable)
}

// sweep removes screenshots older than the retention window. Best-effort;
// failures only log.
func (b *Browser) sweep(now time.Time) {
	if b.cfg.KeepFor <= 0 {
		return
	}
	cutoff := now.Add(-b.cfg.KeepFor)

	entries, err := os.ReadDir(b.cfg.ScreenshotDir)
	if err != nil {
		b.log.Debug("screenshot sweep skipped", logx.Err(err))
		return
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "dashboard_") || !strings.HasSuffix(name, ".png") {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(b.cfg.ScreenshotDir, name)); err == nil {
			removed++
		}
	}
	if removed > 0 {
		b.log.Debug("old screenshots removed", logx.Int("count", removed))
	}
}

func tailOf(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
