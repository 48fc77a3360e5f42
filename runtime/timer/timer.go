// Package timer holds the timer domain model: the two-state timer
// aggregate, the command and event messages it exchanges with the rest of
// the platform, and the store port that persists it.
//
// A timer is created Scheduled and either fires (transitioning to Reached,
// which is terminal) or is deleted. Fired timers remain in the store as
// audit records; re-scheduling a fired timer requires an explicit delete
// followed by a fresh save.
package timer

import (
	"fmt"
	"time"

	"github.com/serviceweave/timer/runtime/timer/identity"
)

type (
	// Key is the composite primary key of a timer: at most one entry
	// exists per (tenant, service call) pair.
	Key struct {
		TenantID      identity.TenantID
		ServiceCallID identity.ServiceCallID
	}

	// TimerEntry is the sealed sum of the two timer states. The concrete
	// type is either ScheduledTimer or ReachedTimer.
	TimerEntry interface {
		// Key returns the entry's composite primary key.
		Key() Key

		entry()
	}

	// ScheduledTimer is a timer waiting for its due time.
	ScheduledTimer struct {
		TenantID      identity.TenantID
		ServiceCallID identity.ServiceCallID
		// DueAt is the instant at or after which the timer fires.
		DueAt time.Time
		// RegisteredAt is the instant the timer was created.
		RegisteredAt time.Time
		// CorrelationID links the timer back to the trace that scheduled
		// it, if one was supplied.
		CorrelationID *identity.CorrelationID
	}

	// ReachedTimer is a fired timer. Reached is terminal: no field ever
	// changes once the transition happened.
	ReachedTimer struct {
		ScheduledTimer
		// ReachedAt is the instant the poller fired the timer. Always at
		// or after DueAt.
		ReachedAt time.Time
	}
)

func (s ScheduledTimer) entry() {}
func (r ReachedTimer) entry()   {}

// Key returns the timer's composite primary key.
func (s ScheduledTimer) Key() Key {
	return Key{TenantID: s.TenantID, ServiceCallID: s.ServiceCallID}
}

// IsDue reports whether the timer is eligible to fire at now.
func (s ScheduledTimer) IsDue(now time.Time) bool {
	return !now.Before(s.DueAt)
}

// MarkReached returns the terminal Reached form of the timer without
// mutating the receiver.
func (s ScheduledTimer) MarkReached(reachedAt time.Time) ReachedTimer {
	return ReachedTimer{
		ScheduledTimer: s,
		ReachedAt:      reachedAt.UTC(),
	}
}

// Make builds a ScheduledTimer from an accepted command. Past-due commands
// are accepted as-is; the resulting timer fires on the next poll.
func Make(cmd ScheduleTimer, now time.Time, correlationID *identity.CorrelationID) ScheduledTimer {
	return ScheduledTimer{
		TenantID:      cmd.TenantID,
		ServiceCallID: cmd.ServiceCallID,
		DueAt:         cmd.DueAt.UTC(),
		RegisteredAt:  now.UTC(),
		CorrelationID: correlationID,
	}
}

// IsScheduled reports whether the entry is in the Scheduled state.
func IsScheduled(e TimerEntry) bool {
	_, ok := e.(ScheduledTimer)
	return ok
}

// IsReached reports whether the entry is in the terminal Reached state.
func IsReached(e TimerEntry) bool {
	_, ok := e.(ReachedTimer)
	return ok
}

// String renders the key for logs.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.TenantID, k.ServiceCallID)
}
