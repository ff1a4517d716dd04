// Package cadence describes report recurrence and computes trigger times.
//
// A Spec is immutable once constructed and supports three kinds:
//   - interval: fixed period on an epoch-anchored grid (restart-safe)
//   - daily: one or more HH:MM times-of-day in the spec's timezone
//   - cron: standard 5-field cron expression (robfig/cron)
//
// Next() is a pure function so trigger sequences are testable without a
// clock or a running scheduler.
package cadence
