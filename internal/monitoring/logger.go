// Package monitoring is the gateway's logging hook. Every component logs
// through Logf with a "component: " prefix.
package monitoring

import (
	"log"
	"sync/atomic"
)

// LogFunc is the signature of the pluggable logger.
type LogFunc = func(format string, v ...interface{})

var (
	logger atomic.Pointer[LogFunc]
	debug  atomic.Bool
)

func init() {
	SetLogger(log.Printf)
}

// Logf logs through the current logger, log.Printf unless replaced with
// SetLogger. Safe to call while another goroutine swaps the logger.
func Logf(format string, v ...interface{}) {
	(*logger.Load())(format, v...)
}

// Logger returns the current logger so callers can restore it later.
func Logger() LogFunc {
	return *logger.Load()
}

// SetLogger swaps the logger. nil mutes logging.
func SetLogger(f LogFunc) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	logger.Store(&f)
}

// SetDebug toggles Debugf output. Safe to call while other goroutines log.
func SetDebug(on bool) {
	debug.Store(on)
}

// DebugEnabled reports whether Debugf currently logs.
func DebugEnabled() bool {
	return debug.Load()
}

// Debugf logs through Logf only while debug output is enabled. Per-frame
// chatter (rejected lines, unrecognised telegrams) goes here.
func Debugf(format string, v ...interface{}) {
	if debug.Load() {
		Logf(format, v...)
	}
}
