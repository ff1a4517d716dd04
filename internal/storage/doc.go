// Package storage persists what the scheduler must not lose across
// restarts: the state snapshot (high-water mark plus last outcome) and an
// append-only, pruned run history. The file driver is the default; sqlite
// is available behind a build tag.
package storage
