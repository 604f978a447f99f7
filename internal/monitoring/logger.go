// Package monitoring holds the diagnostic logger shared by the node packages.
package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be replaced by SetLogger so tests can capture or mute output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Component returns a logger that tags every line with the component name,
// e.g. "[upload] batch sent". It resolves Logf on each call so a later
// SetLogger still takes effect.
func Component(name string) func(format string, v ...interface{}) {
	tag := fmt.Sprintf("[%s] ", name)
	return func(format string, v ...interface{}) {
		Logf(tag+format, v...)
	}
}
