// Package kpi models the metric snapshots a report describes: per-agent ad
// spend, registrations and first-time deposits, plus derived team totals.
//
// Snapshots come from a pluggable Source (local JSON file or HTTP endpoint),
// the previous delivered snapshot is persisted via History so each report can
// show per-agent deltas, and Summarizer turns a snapshot pair into the
// Telegram-HTML text block used for captions and text-only reports.
package kpi
