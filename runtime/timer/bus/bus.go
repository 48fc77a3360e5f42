package bus

import "context"

type (
	// Handler processes one decoded envelope. Returning an error signals
	// the broker adapter that processing failed; delivery is at least
	// once and the adapter may redeliver.
	Handler func(ctx context.Context, env Envelope) error

	// EventBus is the generic broker port. Implementations must preserve
	// publish order for envelopes sharing an AggregateID within a topic.
	EventBus interface {
		// Publish sends the envelopes to the topic.
		Publish(ctx context.Context, topic Topic, envs ...Envelope) error
		// Subscribe delivers the topic's envelopes to h until ctx is
		// canceled or the subscription fails. It blocks for the lifetime
		// of the subscription. Envelopes that fail to decode are dropped
		// and reported by the implementation, not delivered.
		Subscribe(ctx context.Context, topic Topic, h Handler) error
	}

	// PublishError reports a publish the broker rejected.
	PublishError struct {
		Cause error
	}

	// SubscribeError reports a subscription that could not be
	// established.
	SubscribeError struct {
		Cause error
	}
)

// Error implements the error interface.
func (e *PublishError) Error() string { return "publish: " + e.Cause.Error() }

// Unwrap returns the broker error.
func (e *PublishError) Unwrap() error { return e.Cause }

// Error implements the error interface.
func (e *SubscribeError) Error() string { return "subscribe: " + e.Cause.Error() }

// Unwrap returns the broker error.
func (e *SubscribeError) Unwrap() error { return e.Cause }
