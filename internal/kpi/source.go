package kpi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrNoData marks a snapshot with zero agent rows. A report cannot be built
// from it; the run fails and the schedule moves on.
var ErrNoData = errors.New("kpi: snapshot has no agent rows")

// Source fetches the current metric snapshot.
type Source interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// NewSource builds a Source from config values. kind is "file" (default) or
// "http".
func NewSource(kind, path, url string, timeout time.Duration) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "file":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("kpi: file source requires kpi.path")
		}
		return &FileSource{path: path}, nil
	case "http":
		if strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("kpi: http source requires kpi.url")
		}
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		return &HTTPSource{url: url, client: &http.Client{Timeout: timeout}}, nil
	default:
		return nil, fmt.Errorf("kpi: unknown source kind %q", kind)
	}
}

// FileSource reads the snapshot document the upstream pipeline drops on disk.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource { return &FileSource{path: path} }

func (s *FileSource) Fetch(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("kpi: read %s: %w", s.path, err)
	}
	return parseSnapshot(b)
}

// HTTPSource fetches the snapshot document from a JSON endpoint.
type HTTPSource struct {
	url    string
	client *http.Client
}

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPSource{url: url, client: &http.Client{Timeout: timeout}}
}

const maxSnapshotBytes = 8 << 20

func (s *HTTPSource) Fetch(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("kpi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kpi: fetch %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kpi: fetch %s: unexpected status %s", s.url, resp.Status)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("kpi: read body: %w", err)
	}
	return parseSnapshot(b)
}

// parseSnapshot is deliberately lenient about unknown fields (the upstream
// document evolves independently) but strict about having data to report on.
func parseSnapshot(b []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("kpi: decode snapshot: %w", err)
	}
	if len(snap.Agents) == 0 {
		return nil, ErrNoData
	}
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = time.Now()
	}
	return &snap, nil
}
