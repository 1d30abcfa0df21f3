// Package heartbeat tracks the last time any authenticated agent reported
// in. The signal is deliberately process-global rather than per-agent: with
// several agents connected it answers "is at least one agent alive".
package heartbeat

import (
	"sync/atomic"
	"time"
)

// DefaultWindow is how recent the last heartbeat must be for the proxy
// layer to count as healthy.
const DefaultWindow = 30 * time.Second

// Monitor holds the shared last-seen timestamp. Construct one at startup
// and pass it to the handlers that need it; the zero value is usable.
type Monitor struct {
	lastUnixNano atomic.Int64
	window       time.Duration
}

func NewMonitor(window time.Duration) *Monitor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Monitor{window: window}
}

// Beat records a heartbeat at now. Last write wins.
func (m *Monitor) Beat(now time.Time) {
	m.lastUnixNano.Store(now.UnixNano())
}

// LastSeen returns the most recent heartbeat time, or a zero time when no
// heartbeat has ever arrived.
func (m *Monitor) LastSeen() (time.Time, bool) {
	ns := m.lastUnixNano.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// Healthy reports whether a heartbeat arrived within the window. Unknown
// (never seen) counts as unhealthy.
func (m *Monitor) Healthy(now time.Time) bool {
	last, ok := m.LastSeen()
	if !ok {
		return false
	}
	window := m.window
	if window <= 0 {
		window = DefaultWindow
	}
	return now.Sub(last) < window
}
