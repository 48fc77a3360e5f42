// Package pulse implements the timer event bus port on goa.design/pulse
// streams. Topics map one-to-one onto Redis streams, so stream append
// order provides the per-aggregate publish ordering the port requires.
package pulse

import (
	"context"
	"errors"

	"goa.design/clue/log"
	"goa.design/pulse/streaming"

	clientspulse "github.com/serviceweave/timer/features/bus/pulse/clients/pulse"
	"github.com/serviceweave/timer/runtime/timer"
	"github.com/serviceweave/timer/runtime/timer/bus"
)

const defaultSinkName = "timer_engine"

type (
	// Options configures the Pulse-backed event bus.
	Options struct {
		// Client is the Pulse client. Required.
		Client clientspulse.Client
		// SinkName identifies the consumer group used by Subscribe.
		// Defaults to "timer_engine".
		SinkName string
	}

	// Bus implements bus.EventBus over Pulse streams.
	Bus struct {
		client   clientspulse.Client
		sinkName string
	}
)

var _ bus.EventBus = (*Bus)(nil)

// New constructs a Pulse-backed event bus.
func New(opts Options) (*Bus, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkName := opts.SinkName
	if sinkName == "" {
		sinkName = defaultSinkName
	}
	return &Bus{client: opts.Client, sinkName: sinkName}, nil
}

// Publish encodes and appends the envelopes to the topic stream in order.
func (b *Bus) Publish(ctx context.Context, topic bus.Topic, envs ...bus.Envelope) error {
	str, err := b.client.Stream(string(topic))
	if err != nil {
		return &bus.PublishError{Cause: err}
	}
	for _, env := range envs {
		data, err := bus.Encode(env)
		if err != nil {
			return &bus.PublishError{Cause: err}
		}
		if _, err := str.Add(ctx, env.Type, data); err != nil {
			return &bus.PublishError{Cause: err}
		}
	}
	return nil
}

// Subscribe consumes the topic through an acknowledging sink and delivers
// decoded envelopes to h until ctx is canceled. Envelopes that fail to
// decode are reported and dropped; handler failures leave the event
// unacknowledged so the broker redelivers it.
func (b *Bus) Subscribe(ctx context.Context, topic bus.Topic, h bus.Handler) error {
	str, err := b.client.Stream(string(topic))
	if err != nil {
		return &bus.SubscribeError{Cause: err}
	}
	sink, err := str.NewSink(ctx, b.sinkName)
	if err != nil {
		return &bus.SubscribeError{Cause: err}
	}
	defer sink.Close(context.Background())

	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(ctx, sink, evt, h)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, sink clientspulse.Sink, evt *streaming.Event, h bus.Handler) {
	tag, err := bus.PeekTag(evt.Payload)
	if err == nil && !knownTag(tag) {
		// Foreign message kinds on a shared topic are not errors.
		log.Debugf(ctx, "ignoring envelope with unknown type %q", tag)
		b.ack(ctx, sink, evt)
		return
	}
	env, err := bus.Decode(evt.Payload)
	if err != nil {
		// Malformed envelopes can never succeed; report and drop.
		log.Error(ctx, err, log.KV{K: "msg", V: "drop undecodable envelope"},
			log.KV{K: "event", V: evt.EventName})
		b.ack(ctx, sink, evt)
		return
	}
	if err := h(ctx, env); err != nil {
		// Leave unacked so the sink redelivers.
		log.Error(ctx, err, log.KV{K: "msg", V: "envelope handler failed"},
			log.KV{K: "envelope", V: env.ID.String()})
		return
	}
	b.ack(ctx, sink, evt)
}

func knownTag(tag string) bool {
	switch tag {
	case timer.TagScheduleTimer, timer.TagDueTimeReached:
		return true
	}
	return false
}

func (b *Bus) ack(ctx context.Context, sink clientspulse.Sink, evt *streaming.Event) {
	if err := sink.Ack(ctx, evt); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "ack failed"},
			log.KV{K: "event", V: evt.EventName})
	}
}
