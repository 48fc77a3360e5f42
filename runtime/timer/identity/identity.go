// Package identity defines the typed identifiers used by the timer module
// and the UUIDv7 generator that mints them. All identifiers share the same
// 128-bit time-ordered representation but are distinct types so that a
// tenant ID can never be passed where a service call ID is expected.
package identity

import (
	"fmt"

	"github.com/google/uuid"
)

type (
	// TenantID is the partition and isolation key. Every timer belongs to
	// exactly one tenant.
	TenantID struct{ uuid.UUID }

	// ServiceCallID identifies the service call a timer is attached to. It
	// doubles as the timer identity and as the broker partition key.
	ServiceCallID struct{ uuid.UUID }

	// EnvelopeID uniquely identifies a message on the wire. Downstream
	// events use it as their causation anchor.
	EnvelopeID struct{ uuid.UUID }

	// CorrelationID is the end-to-end trace identifier propagated across
	// modules.
	CorrelationID struct{ uuid.UUID }
)

// ParseTenantID parses the lowercase dashed hex rendering of a tenant ID.
func ParseTenantID(s string) (TenantID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TenantID{}, fmt.Errorf("parse tenant id: %w", err)
	}
	return TenantID{u}, nil
}

// ParseServiceCallID parses the lowercase dashed hex rendering of a service
// call ID.
func ParseServiceCallID(s string) (ServiceCallID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ServiceCallID{}, fmt.Errorf("parse service call id: %w", err)
	}
	return ServiceCallID{u}, nil
}

// ParseEnvelopeID parses the lowercase dashed hex rendering of an envelope ID.
func ParseEnvelopeID(s string) (EnvelopeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EnvelopeID{}, fmt.Errorf("parse envelope id: %w", err)
	}
	return EnvelopeID{u}, nil
}

// ParseCorrelationID parses the lowercase dashed hex rendering of a
// correlation ID.
func ParseCorrelationID(s string) (CorrelationID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return CorrelationID{}, fmt.Errorf("parse correlation id: %w", err)
	}
	return CorrelationID{u}, nil
}

// IsZero reports whether the ID is the zero UUID.
func (id TenantID) IsZero() bool { return id.UUID == uuid.Nil }

// IsZero reports whether the ID is the zero UUID.
func (id ServiceCallID) IsZero() bool { return id.UUID == uuid.Nil }

// IsZero reports whether the ID is the zero UUID.
func (id EnvelopeID) IsZero() bool { return id.UUID == uuid.Nil }

// IsZero reports whether the ID is the zero UUID.
func (id CorrelationID) IsZero() bool { return id.UUID == uuid.Nil }
