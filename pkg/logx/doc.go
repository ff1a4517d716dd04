// Package logx is kpibot's structured logging layer: a thin Logger on top
// of zerolog whose sinks (console, JSON file, operator-chat alerts) can be
// swapped at runtime through Service.Apply. Components hold a Logger and
// never notice a reload.
package logx
