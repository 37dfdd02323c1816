// Package monitoring holds the process-wide logger for the parts of
// posefusion that sit outside the fusion layers: sqlite persistence,
// measurement ingest and the commands. The layers themselves log through
// fusion.Opsf, Diagf and Tracef.
package monitoring

import "log"

// Logf receives every adapter log line. It defaults to log.Printf; the
// posefusion command points it at stderr and tests mute it with
// SetLogger(nil).
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. A nil f discards all lines.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Component returns a logger that tags each line with "[name] " and
// forwards to whatever Logf is at call time, so a later SetLogger still
// takes effect.
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
