package timer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Find and FindScheduled when no matching entry
// exists (for FindScheduled, a Reached entry counts as absent).
var ErrNotFound = errors.New("timer not found")

// Store persists timer entries keyed by (tenant, service call). It is the
// single shared mutable resource of the module: the schedule workflow and
// the polling worker mutate it concurrently and rely on the atomicity of
// the individual operations, never on a higher-level lock.
type Store interface {
	// Save upserts a Scheduled entry. A missing row is inserted; an
	// existing Scheduled row is overwritten in full (re-arming is
	// allowed); an existing Reached row is left untouched and the call
	// succeeds as a no-op. The terminal-state rule is enforced here, at
	// the storage layer, not in caller code.
	Save(ctx context.Context, s ScheduledTimer) error

	// Find returns the entry in whichever state it holds, or ErrNotFound.
	// Used only for observability.
	Find(ctx context.Context, key Key) (TimerEntry, error)

	// FindScheduled returns the entry only if it is still Scheduled;
	// absent and Reached rows both yield ErrNotFound.
	FindScheduled(ctx context.Context, key Key) (ScheduledTimer, error)

	// FindDue returns every Scheduled entry with DueAt <= now, ordered by
	// (DueAt, RegisteredAt, ServiceCallID) ascending. The third key is a
	// total tie-breaker because IDs are unique; the poller relies on this
	// order for replay determinism.
	FindDue(ctx context.Context, now time.Time) ([]ScheduledTimer, error)

	// MarkFired transitions a Scheduled entry to Reached at reachedAt.
	// Rows already Reached or absent are left untouched and the call
	// succeeds, making firing idempotent under at-least-once delivery.
	MarkFired(ctx context.Context, key Key, reachedAt time.Time) error

	// Delete removes the entry in any state. Deleting an absent entry
	// succeeds.
	Delete(ctx context.Context, key Key) error
}

// PersistenceError is the single failure kind surfaced by Store
// operations. Op names the failed operation; Cause is the underlying
// storage error.
type PersistenceError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("timer store %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying storage error.
func (e *PersistenceError) Unwrap() error { return e.Cause }

// IsPersistence reports whether err is (or wraps) a PersistenceError.
// The subscription retry policy uses it to retry transient storage
// failures only.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// ValidationError reports a malformed command or key. It is never wrapped
// as a PersistenceError and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
