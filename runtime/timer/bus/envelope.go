// Package bus defines the event bus port of the timer module, the JSON
// envelope codec used on the wire, and the timer-specific adapter that
// publishes DueTimeReached events and subscribes to ScheduleTimer
// commands.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/serviceweave/timer/runtime/timer"
	"github.com/serviceweave/timer/runtime/timer/identity"
)

// Topic is a named broker channel. Naming follows {module}.{class}.
type Topic string

// Topics owned by the timer module.
const (
	TopicTimerCommands Topic = "timer.commands"
	TopicTimerEvents   Topic = "timer.events"
)

type (
	// Payload is a domain message carried by an envelope. The tag doubles
	// as the envelope type discriminator.
	Payload interface {
		Tag() string
	}

	// Envelope is the wire-level unit exchanged with the broker.
	Envelope struct {
		// ID uniquely identifies the message and anchors causation of
		// downstream events.
		ID identity.EnvelopeID
		// Type is the discriminator; always equal to Payload.Tag().
		Type string
		// TenantID is the isolation key.
		TenantID identity.TenantID
		// AggregateID is the broker partition key, when per-entity
		// ordering matters. For timer messages it is the service call ID.
		AggregateID *identity.ServiceCallID
		// CorrelationID is the end-to-end trace identifier, if known.
		CorrelationID *identity.CorrelationID
		// CausationID is the envelope that directly caused this one, if
		// any.
		CausationID *identity.EnvelopeID
		// Timestamp is the publish-time instant stamped by the
		// infrastructure. It is distinct from any domain timestamp in the
		// payload; the gap is observable publishing latency.
		Timestamp time.Time
		// Payload is the domain message.
		Payload Payload
	}

	// DecodeError reports an envelope or payload that failed validation.
	// Decode failures are dropped and reported at the subscription edge,
	// never propagated to handlers.
	DecodeError struct {
		Reason string
		Cause  error
	}
)

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("decode envelope: %s", e.Reason)
}

// Unwrap returns the underlying cause, if any.
func (e *DecodeError) Unwrap() error { return e.Cause }

// Wire shapes. Domain instants travel as ISO 8601 UTC strings; the
// envelope timestamp travels as epoch milliseconds.
type (
	envelopeDoc struct {
		ID            string          `json:"id"`
		Type          string          `json:"type"`
		TenantID      string          `json:"tenantId"`
		AggregateID   *string         `json:"aggregateId,omitempty"`
		CorrelationID *string         `json:"correlationId,omitempty"`
		CausationID   *string         `json:"causationId,omitempty"`
		TimestampMs   int64           `json:"timestampMs"`
		Payload       json.RawMessage `json:"payload"`
	}

	scheduleTimerDoc struct {
		Tag           string    `json:"_tag"`
		TenantID      string    `json:"tenantId"`
		ServiceCallID string    `json:"serviceCallId"`
		DueAt         time.Time `json:"dueAt"`
	}

	dueTimeReachedDoc struct {
		Tag           string    `json:"_tag"`
		TenantID      string    `json:"tenantId"`
		ServiceCallID string    `json:"serviceCallId"`
		ReachedAt     time.Time `json:"reachedAt"`
	}
)

// Encode serializes the envelope to its JSON wire form. The envelope type
// must match the payload tag.
func Encode(env Envelope) ([]byte, error) {
	if env.Payload == nil {
		return nil, fmt.Errorf("encode envelope: payload is required")
	}
	if env.Type != env.Payload.Tag() {
		return nil, fmt.Errorf("encode envelope: type %q does not match payload tag %q", env.Type, env.Payload.Tag())
	}
	raw, err := encodePayload(env.Payload)
	if err != nil {
		return nil, err
	}
	doc := envelopeDoc{
		ID:          env.ID.String(),
		Type:        env.Type,
		TenantID:    env.TenantID.String(),
		TimestampMs: env.Timestamp.UnixMilli(),
		Payload:     raw,
	}
	if env.AggregateID != nil {
		s := env.AggregateID.String()
		doc.AggregateID = &s
	}
	if env.CorrelationID != nil {
		s := env.CorrelationID.String()
		doc.CorrelationID = &s
	}
	if env.CausationID != nil {
		s := env.CausationID.String()
		doc.CausationID = &s
	}
	return json.Marshal(doc)
}

func encodePayload(p Payload) (json.RawMessage, error) {
	switch m := p.(type) {
	case timer.ScheduleTimer:
		return json.Marshal(scheduleTimerDoc{
			Tag:           m.Tag(),
			TenantID:      m.TenantID.String(),
			ServiceCallID: m.ServiceCallID.String(),
			DueAt:         m.DueAt.UTC(),
		})
	case timer.DueTimeReached:
		return json.Marshal(dueTimeReachedDoc{
			Tag:           m.Tag(),
			TenantID:      m.TenantID.String(),
			ServiceCallID: m.ServiceCallID.String(),
			ReachedAt:     m.ReachedAt.UTC(),
		})
	default:
		return nil, fmt.Errorf("encode envelope: unknown payload tag %q", p.Tag())
	}
}

// PeekTag extracts the envelope type without decoding the payload. The
// subscription edge uses it to skip messages it does not handle before
// paying for a full decode.
func PeekTag(data []byte) (string, error) {
	var doc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", &DecodeError{Reason: "malformed JSON", Cause: err}
	}
	return doc.Type, nil
}

// Decode parses and validates the JSON wire form. It fails when the type
// does not match the payload tag, when required identifiers are missing or
// malformed, or when the payload matches no known domain message.
func Decode(data []byte) (Envelope, error) {
	var doc envelopeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Envelope{}, &DecodeError{Reason: "malformed JSON", Cause: err}
	}
	id, err := identity.ParseEnvelopeID(doc.ID)
	if err != nil {
		return Envelope{}, &DecodeError{Reason: "invalid id", Cause: err}
	}
	tenantID, err := identity.ParseTenantID(doc.TenantID)
	if err != nil {
		return Envelope{}, &DecodeError{Reason: "invalid tenantId", Cause: err}
	}
	env := Envelope{
		ID:        id,
		Type:      doc.Type,
		TenantID:  tenantID,
		Timestamp: time.UnixMilli(doc.TimestampMs).UTC(),
	}
	if doc.AggregateID != nil {
		agg, err := identity.ParseServiceCallID(*doc.AggregateID)
		if err != nil {
			return Envelope{}, &DecodeError{Reason: "invalid aggregateId", Cause: err}
		}
		env.AggregateID = &agg
	}
	if doc.CorrelationID != nil {
		corr, err := identity.ParseCorrelationID(*doc.CorrelationID)
		if err != nil {
			return Envelope{}, &DecodeError{Reason: "invalid correlationId", Cause: err}
		}
		env.CorrelationID = &corr
	}
	if doc.CausationID != nil {
		cause, err := identity.ParseEnvelopeID(*doc.CausationID)
		if err != nil {
			return Envelope{}, &DecodeError{Reason: "invalid causationId", Cause: err}
		}
		env.CausationID = &cause
	}
	payload, tag, err := decodePayload(doc.Payload)
	if err != nil {
		return Envelope{}, err
	}
	if doc.Type != tag {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("type %q does not match payload tag %q", doc.Type, tag)}
	}
	env.Payload = payload
	return env, nil
}

func decodePayload(raw json.RawMessage) (Payload, string, error) {
	var head struct {
		Tag string `json:"_tag"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, "", &DecodeError{Reason: "malformed payload", Cause: err}
	}
	switch head.Tag {
	case timer.TagScheduleTimer:
		var doc scheduleTimerDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, "", &DecodeError{Reason: "malformed ScheduleTimer payload", Cause: err}
		}
		tenantID, err := identity.ParseTenantID(doc.TenantID)
		if err != nil {
			return nil, "", &DecodeError{Reason: "invalid payload tenantId", Cause: err}
		}
		serviceCallID, err := identity.ParseServiceCallID(doc.ServiceCallID)
		if err != nil {
			return nil, "", &DecodeError{Reason: "invalid payload serviceCallId", Cause: err}
		}
		if doc.DueAt.IsZero() {
			return nil, "", &DecodeError{Reason: "missing payload dueAt"}
		}
		return timer.ScheduleTimer{
			TenantID:      tenantID,
			ServiceCallID: serviceCallID,
			DueAt:         doc.DueAt.UTC(),
		}, head.Tag, nil
	case timer.TagDueTimeReached:
		var doc dueTimeReachedDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, "", &DecodeError{Reason: "malformed DueTimeReached payload", Cause: err}
		}
		tenantID, err := identity.ParseTenantID(doc.TenantID)
		if err != nil {
			return nil, "", &DecodeError{Reason: "invalid payload tenantId", Cause: err}
		}
		serviceCallID, err := identity.ParseServiceCallID(doc.ServiceCallID)
		if err != nil {
			return nil, "", &DecodeError{Reason: "invalid payload serviceCallId", Cause: err}
		}
		return timer.DueTimeReached{
			TenantID:      tenantID,
			ServiceCallID: serviceCallID,
			ReachedAt:     doc.ReachedAt.UTC(),
		}, head.Tag, nil
	default:
		return nil, "", &DecodeError{Reason: fmt.Sprintf("unknown payload tag %q", head.Tag)}
	}
}
