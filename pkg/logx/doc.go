// Package logx is taskminder's logging layer: a small value-type Logger over
// zerolog whose sinks and level can be swapped while the daemon runs.
//
// Console lines are human readable with a short caller; the optional log file
// gets one JSON object per line. Task, reminder and sink identifiers use the
// shared keys in fields.go so one grep follows a task through every package.
package logx
