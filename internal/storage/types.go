package storage

import (
	"errors"
	"time"
)

// ErrDisabled is returned by store methods called after Close or on a store
// that never opened.
var ErrDisabled = errors.New("storage disabled")

// Config selects and tunes a driver.
//
//   - "file": JSON state snapshot plus a JSONL run log, no build deps
//   - "sqlite": single database file, requires the sqlite build tag
//   - "" or "none": persistence off; Open returns (nil, nil)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
	KeepRuns    int           // run-log entries kept after pruning; 0 means default
}

// State is the part of scheduler state that survives restarts. HighWater is
// the trigger time of the newest boundary handled by a scheduled run;
// startup catch-up measures the outage window against it.
type State struct {
	HighWater   time.Time `json:"high_water"`
	LastRunID   string    `json:"last_run_id,omitempty"`
	LastStatus  string    `json:"last_status,omitempty"`
	LastTrigger time.Time `json:"last_trigger,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
