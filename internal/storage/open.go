package storage

import (
	"context"
	"fmt"
	"strings"

	"kpibot/internal/report"
	logx "kpibot/pkg/logx"
)

// Store persists scheduler state and the run log. AppendRun doubles as the
// report.Recorder implementation, so the pipeline records outcomes without
// knowing which driver is behind it.
type Store interface {
	LoadState(ctx context.Context) (st State, ok bool, err error)
	SaveState(ctx context.Context, st State) error
	AppendRun(ctx context.Context, run report.Run) error
	RecentRuns(ctx context.Context, limit int) ([]report.Run, error)
	Close() error
}

// Open builds the store named by cfg.Driver. A disabled config ("" or
// "none") yields (nil, nil); callers treat a nil Store as "don't persist".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
