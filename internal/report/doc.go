// Package report owns one report execution end to end: acquire the single
// execution token, render with bounded retry, deliver the artifact, record
// the terminal outcome. Scheduling lives in report/scheduler; this package
// never decides when a run is due.
package report
