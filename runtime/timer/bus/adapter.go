package bus

import (
	"context"
	"errors"

	"goa.design/clue/log"

	"github.com/serviceweave/timer/runtime/timer"
	"github.com/serviceweave/timer/runtime/timer/clock"
	"github.com/serviceweave/timer/runtime/timer/identity"
	"github.com/serviceweave/timer/runtime/timer/meta"
)

// ErrMetadataMissing reports a publish attempted without a metadata
// binding in the context. That is a programming error at the call site,
// surfaced as a fail-fast error.
var ErrMetadataMissing = errors.New("message metadata missing from context")

// CommandHandler processes one accepted ScheduleTimer command. The
// context carries the metadata extracted from the inbound envelope.
type CommandHandler func(ctx context.Context, cmd timer.ScheduleTimer) error

// Adapter wraps the generic event bus port with the two timer-specific
// operations: publishing DueTimeReached events and subscribing to
// ScheduleTimer commands.
type Adapter struct {
	bus EventBus
	clk clock.Clock
	ids identity.Generator
}

// NewAdapter builds the timer event bus adapter. All dependencies are
// required.
func NewAdapter(eventBus EventBus, clk clock.Clock, ids identity.Generator) (*Adapter, error) {
	if eventBus == nil {
		return nil, errors.New("event bus is required")
	}
	if clk == nil {
		return nil, errors.New("clock is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	return &Adapter{bus: eventBus, clk: clk, ids: ids}, nil
}

// PublishDueTimeReached wraps the event in a fresh envelope and publishes
// it to the timer events topic. The envelope's correlation and causation
// identifiers come from the ambient metadata, its aggregate ID is the
// service call ID, and its timestamp is the infrastructure clock's now,
// intentionally distinct from the domain's ReachedAt.
func (a *Adapter) PublishDueTimeReached(ctx context.Context, event timer.DueTimeReached) error {
	md, ok := meta.From(ctx)
	if !ok {
		return ErrMetadataMissing
	}
	aggregateID := event.ServiceCallID
	env := Envelope{
		ID:            identity.EnvelopeID{UUID: a.ids.New()},
		Type:          event.Tag(),
		TenantID:      event.TenantID,
		AggregateID:   &aggregateID,
		CorrelationID: md.CorrelationID,
		CausationID:   md.CausationID,
		Timestamp:     a.clk.Now(),
		Payload:       event,
	}
	return a.bus.Publish(ctx, TopicTimerEvents, env)
}

// SubscribeToScheduleTimerCommands subscribes to the timer commands topic
// and invokes h for each ScheduleTimer command. Envelopes carrying any
// other payload are ignored at debug level, never treated as errors. The
// handler context carries metadata with the envelope's correlation ID and
// the envelope ID as causation. Blocks until ctx is canceled or the
// subscription ends.
func (a *Adapter) SubscribeToScheduleTimerCommands(ctx context.Context, h CommandHandler) error {
	return a.bus.Subscribe(ctx, TopicTimerCommands, func(ctx context.Context, env Envelope) error {
		cmd, ok := env.Payload.(timer.ScheduleTimer)
		if !ok {
			log.Debugf(ctx, "ignoring %s envelope on %s", env.Type, TopicTimerCommands)
			return nil
		}
		causationID := env.ID
		md := meta.Metadata{
			CorrelationID: env.CorrelationID,
			CausationID:   &causationID,
		}
		return h(meta.With(ctx, md), cmd)
	})
}
