package kpi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// History persists the last delivered snapshot so the next report can show
// per-agent deltas. Lives next to the state store.
type History struct {
	mu   sync.Mutex
	path string
}

func NewHistory(path string) *History { return &History{path: path} }

// Load returns the previous snapshot, or (nil, nil) when none was saved yet.
// A corrupt file is an error; callers typically log it and report without
// deltas.
func (h *History) Load() (*Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("kpi: read history %s: %w", h.path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("kpi: decode history %s: %w", h.path, err)
	}
	return &snap, nil
}

// Save atomically replaces the stored snapshot (write temp, rename).
func (h *History) Save(snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	tmp := h.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, h.path)
}
