// Package lifecycle holds process-wide readiness and drain flags read by /health.
package lifecycle

import (
	"sync/atomic"
	"time"
)

var (
	shuttingDown atomic.Bool
	readyAt      atomic.Int64 // unix nanos; 0 means not ready
)

// SetShuttingDown sets the drain flag. Call when SIGTERM/SIGINT is received.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// MarkReady records that wiring finished and the listener is up.
func MarkReady(at time.Time) {
	readyAt.Store(at.UnixNano())
}

// IsReady reports whether MarkReady has been called and delay has elapsed since.
func IsReady(now time.Time, delay time.Duration) bool {
	at := readyAt.Load()
	if at == 0 {
		return false
	}
	return now.Sub(time.Unix(0, at)) >= delay
}

// Reset clears both flags. For tests only.
func Reset() {
	shuttingDown.Store(false)
	readyAt.Store(0)
}
