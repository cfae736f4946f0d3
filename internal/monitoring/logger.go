// Package monitoring holds the process-wide diagnostic loggers used by the
// splat pipeline.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf reports decisions worth an operator's attention, such as a stage
// falling back to its input. It defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces Logf. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose enables or disables Debugf output.
func SetVerbose(on bool) { verbose.Store(on) }

// Debugf forwards to Logf when verbose output is enabled. Per-stage point
// counts are logged here.
func Debugf(format string, v ...interface{}) {
	if verbose.Load() {
		Logf(format, v...)
	}
}
