package eventbus

import "time"

// Event types published by the report scheduler and pipeline.
const (
	EventRunStarted    = "run.started"
	EventRunFinished   = "run.finished"
	EventRunSkipped    = "run.skipped"
	EventScheduleArmed = "schedule.armed"
)

// RunData is the payload carried by run lifecycle events. Kept as plain
// strings/times so subscribers don't import the report package.
type RunData struct {
	RunID   string
	Mode    string
	Status  string
	Trigger time.Time
	Err     string
}

// ScheduleData is the payload carried by schedule.armed events.
type ScheduleData struct {
	Cadence string
	NextDue time.Time
}
