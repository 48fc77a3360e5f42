// Package clock provides the wall-clock abstraction used by the timer
// engine. Production code reads time through a Clock so tests can advance
// it deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock yields the current instant in UTC with millisecond resolution.
type Clock interface {
	Now() time.Time
}

// System returns the production clock backed by the OS wall clock.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Mock is a settable Clock for tests. The zero value starts at the Unix
// epoch; use Set to pick a base instant and Advance to move forward.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock returns a Mock pinned to the given instant.
func NewMock(now time.Time) *Mock {
	return &Mock{now: now.UTC().Truncate(time.Millisecond)}
}

// Now returns the mock's current instant.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set pins the mock to the given instant.
func (m *Mock) Set(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now.UTC().Truncate(time.Millisecond)
}

// Advance moves the mock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
