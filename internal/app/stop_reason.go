package app

// StopReason labels why the daemon is shutting down; it ends up in the final
// log lines and nothing else.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal-error"
	StopRunDone    StopReason = "run-done"
)
