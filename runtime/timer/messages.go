package timer

import (
	"time"

	"github.com/serviceweave/timer/runtime/timer/identity"
)

// Payload tags. The envelope codec requires the envelope type field to
// match the payload tag exactly.
const (
	TagScheduleTimer  = "ScheduleTimer"
	TagDueTimeReached = "DueTimeReached"
)

type (
	// ScheduleTimer is the inbound command asking the module to arm a
	// timer for a service call.
	ScheduleTimer struct {
		TenantID      identity.TenantID
		ServiceCallID identity.ServiceCallID
		DueAt         time.Time
	}

	// DueTimeReached is the outbound event emitted when a timer fires.
	DueTimeReached struct {
		TenantID      identity.TenantID
		ServiceCallID identity.ServiceCallID
		ReachedAt     time.Time
	}
)

// Tag returns the command's payload tag.
func (ScheduleTimer) Tag() string { return TagScheduleTimer }

// Tag returns the event's payload tag.
func (DueTimeReached) Tag() string { return TagDueTimeReached }

// Validate checks the command's shape. Violations surface as
// ValidationError, never as persistence failures.
func (c ScheduleTimer) Validate() error {
	if c.TenantID.IsZero() {
		return &ValidationError{Field: "tenantId", Reason: "is required"}
	}
	if c.ServiceCallID.IsZero() {
		return &ValidationError{Field: "serviceCallId", Reason: "is required"}
	}
	if c.DueAt.IsZero() {
		return &ValidationError{Field: "dueAt", Reason: "is required"}
	}
	return nil
}
