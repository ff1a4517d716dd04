package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"kpibot/internal/report"
	logx "kpibot/pkg/logx"
)

const defaultKeepRuns = 500

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.json (scheduler state, rewritten atomically on save)
//   - <prefix>.runs.jsonl (append-only JSON Lines run log)
//
// The run log is compacted to the newest keepRuns entries once it grows
// past twice that size.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath string
	runsPath  string
	runsFile  *os.File
	keepRuns  int
	runLines  int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	statePath := prefix + ".state.json"
	runsPath := prefix + ".runs.jsonl"

	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	lines, err := countLines(runsPath)
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	keep := cfg.KeepRuns
	if keep <= 0 {
		keep = defaultKeepRuns
	}

	return &fileStore{
		log:       log,
		statePath: statePath,
		runsPath:  runsPath,
		runsFile:  rf,
		keepRuns:  keep,
		runLines:  lines,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return nil
	}
	err := s.runsFile.Close()
	s.runsFile = nil
	return err
}

func (s *fileStore) LoadState(ctx context.Context) (State, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

func (s *fileStore) SaveState(ctx context.Context, st State) error {
	_ = ctx
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func (s *fileStore) AppendRun(ctx context.Context, run report.Run) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return ErrDisabled
	}
	if err := json.NewEncoder(s.runsFile).Encode(run); err != nil {
		return err
	}
	s.runLines++
	if s.runLines > 2*s.keepRuns {
		if err := s.pruneLocked(); err != nil {
			s.log.Debug("run log prune failed", logx.Err(err))
		}
	}
	return nil
}

// RecentRuns returns up to limit retained runs, newest first.
// limit <= 0 returns everything currently retained.
func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]report.Run, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := readRunLog(s.runsPath)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[len(runs)-limit:]
	}
	// newest first
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	return runs, nil
}

// pruneLocked rewrites the run log keeping only the newest keepRuns lines.
func (s *fileStore) pruneLocked() error {
	lines, err := readRunLines(s.runsPath)
	if err != nil {
		return err
	}
	if len(lines) > s.keepRuns {
		lines = lines[len(lines)-s.keepRuns:]
	}

	tmp := s.runsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, ln := range lines {
		if _, err := w.WriteString(ln + "\n"); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := s.runsFile.Close(); err != nil {
		return err
	}
	s.runsFile = nil
	if err := os.Rename(tmp, s.runsPath); err != nil {
		// restore an append handle so later writes still land somewhere
		s.runsFile, _ = os.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		return err
	}
	rf, err := os.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.runsFile = rf
	s.runLines = len(lines)
	return nil
}

func readRunLog(path string) ([]report.Run, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var runs []report.Run
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r report.Run
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.ID == "" {
			continue
		}
		runs = append(runs, r)
	}
	return runs, sc.Err()
}

func readRunLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func countLines(path string) (int, error) {
	lines, err := readRunLines(path)
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}
