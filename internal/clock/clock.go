// Package clock provides the time and identity sources shared by the
// inspector channels.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock reports monotonic time as an offset from an arbitrary fixed origin.
type Clock interface {
	Now() time.Duration
}

// Monotonic is a Clock backed by the runtime's monotonic clock reading.
type Monotonic struct {
	origin time.Time
}

// NewMonotonic creates a Monotonic clock whose origin is the current instant.
func NewMonotonic() *Monotonic {
	return &Monotonic{origin: time.Now()}
}

// Now returns the time elapsed since the clock was created.
func (m *Monotonic) Now() time.Duration {
	return time.Since(m.origin)
}

// Manual is a Clock that only moves when told to. Used in tests.
type Manual struct {
	mu  sync.Mutex
	now time.Duration
}

// NewManual creates a Manual clock reading start.
func NewManual(start time.Duration) *Manual {
	return &Manual{now: start}
}

// Now returns the current reading.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d. Negative values are ignored.
func (m *Manual) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	m.now += d
	m.mu.Unlock()
}

// Seconds converts a clock reading to the fractional seconds used on the wire.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

// IDAllocator hands out monotonically increasing identifiers starting at 1.
// Identifiers are never reused for the lifetime of the allocator.
type IDAllocator struct {
	last atomic.Uint64
}

// Next returns the next identifier.
func (a *IDAllocator) Next() uint64 {
	return a.last.Add(1)
}

// Last returns the most recently allocated identifier, or 0 if none.
func (a *IDAllocator) Last() uint64 {
	return a.last.Load()
}
