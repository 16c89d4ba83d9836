// Package clock provides crawler.Clock implementations: the wall clock and a
// manually advanced clock for tests.
package clock

import (
	"sync"
	"time"
)

// System implements crawler.Clock using time.Now in UTC.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a clock that only moves when told to. Each Now call may advance it
// by a fixed step so successive readings are distinct.
type Manual struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewManual starts a Manual clock at start, advancing by step after every Now.
func NewManual(start time.Time, step time.Duration) *Manual {
	return &Manual{now: start.UTC(), step: step}
}

// Now returns the current reading and then advances by the step.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now
	m.now = m.now.Add(m.step)
	return now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
