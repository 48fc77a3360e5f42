// Package memory provides an in-memory implementation of the timer store.
//
// It honors the same state-machine contracts as the durable adapters and
// is suitable for tests, development, and single-node tooling where
// persistence across restarts is not required.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/serviceweave/timer/runtime/timer"
)

// Store is an in-memory implementation of timer.Store. It is safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[timer.Key]timer.TimerEntry
}

// Compile-time check that Store implements timer.Store.
var _ timer.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{entries: make(map[timer.Key]timer.TimerEntry)}
}

// Save upserts a Scheduled entry. An existing Reached entry is left
// untouched and the call succeeds as a no-op.
func (s *Store) Save(ctx context.Context, scheduled timer.ScheduledTimer) error {
	if err := ctx.Err(); err != nil {
		return &timer.PersistenceError{Op: "save", Cause: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scheduled.Key()
	if existing, ok := s.entries[key]; ok && timer.IsReached(existing) {
		return nil
	}
	s.entries[key] = scheduled
	return nil
}

// Find returns the entry in whichever state it holds.
func (s *Store) Find(ctx context.Context, key timer.Key) (timer.TimerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &timer.PersistenceError{Op: "find", Cause: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, timer.ErrNotFound
	}
	return entry, nil
}

// FindScheduled returns the entry only if it is still Scheduled.
func (s *Store) FindScheduled(ctx context.Context, key timer.Key) (timer.ScheduledTimer, error) {
	if err := ctx.Err(); err != nil {
		return timer.ScheduledTimer{}, &timer.PersistenceError{Op: "findScheduled", Cause: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	scheduled, ok := s.entries[key].(timer.ScheduledTimer)
	if !ok {
		return timer.ScheduledTimer{}, timer.ErrNotFound
	}
	return scheduled, nil
}

// FindDue returns every Scheduled entry due at now, ordered by
// (DueAt, RegisteredAt, ServiceCallID) ascending.
func (s *Store) FindDue(ctx context.Context, now time.Time) ([]timer.ScheduledTimer, error) {
	if err := ctx.Err(); err != nil {
		return nil, &timer.PersistenceError{Op: "findDue", Cause: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []timer.ScheduledTimer
	for _, entry := range s.entries {
		scheduled, ok := entry.(timer.ScheduledTimer)
		if !ok {
			continue
		}
		if scheduled.IsDue(now) {
			due = append(due, scheduled)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if !a.DueAt.Equal(b.DueAt) {
			return a.DueAt.Before(b.DueAt)
		}
		if !a.RegisteredAt.Equal(b.RegisteredAt) {
			return a.RegisteredAt.Before(b.RegisteredAt)
		}
		return a.ServiceCallID.String() < b.ServiceCallID.String()
	})
	return due, nil
}

// MarkFired transitions a Scheduled entry to Reached. Already Reached or
// absent entries are left untouched and the call succeeds.
func (s *Store) MarkFired(ctx context.Context, key timer.Key, reachedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return &timer.PersistenceError{Op: "markFired", Cause: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	scheduled, ok := s.entries[key].(timer.ScheduledTimer)
	if !ok {
		return nil
	}
	s.entries[key] = scheduled.MarkReached(reachedAt)
	return nil
}

// Delete removes the entry in any state. Absent entries succeed.
func (s *Store) Delete(ctx context.Context, key timer.Key) error {
	if err := ctx.Err(); err != nil {
		return &timer.PersistenceError{Op: "delete", Cause: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Reset clears all entries (useful in tests).
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[timer.Key]timer.TimerEntry)
}
