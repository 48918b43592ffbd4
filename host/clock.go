package host

import "sync/atomic"

// clock is the process-wide modification counter.
var clock atomic.Uint64

// Tick advances the modification clock and returns the new time.
func Tick() uint64 {
	return clock.Add(1)
}

// MTimer reports the last modification time of an object.
type MTimer interface {
	MTime() uint64
}

// Modified is embedded by collaborators to track their modification time.
// The zero value is "never modified".
type Modified struct {
	mtime atomic.Uint64
}

// Touch records a modification.
func (m *Modified) Touch() {
	m.mtime.Store(Tick())
}

// MTime returns the last modification time.
func (m *Modified) MTime() uint64 {
	return m.mtime.Load()
}

// MaxMTime returns the latest modification time of the non-nil timers.
func MaxMTime(ts ...MTimer) uint64 {
	var m uint64
	for _, t := range ts {
		if t == nil {
			continue
		}
		if v := t.MTime(); v > m {
			m = v
		}
	}
	return m
}
