// Package monitoring carries the process-wide diagnostic logging hook.
package monitoring

import "log"

// Logf is the package-level diagnostic logger, defaulting to log.Printf.
// Quality warnings from the extractors and fallback notices from the
// integrity layer go through it so tests can capture or mute them.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil argument installs a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
