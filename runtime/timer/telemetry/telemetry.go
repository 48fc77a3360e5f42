// Package telemetry instruments the timer engine with OTEL metrics and
// traces. It uses the global providers; configure them at process startup
// (typically via clue.ConfigureOpenTelemetry) before the engine runs.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/serviceweave/timer/runtime/timer"

// Instruments records poll-loop activity. The zero value is unusable;
// build one with New.
type Instruments struct {
	tracer trace.Tracer

	ticks    metric.Int64Counter
	fired    metric.Int64Counter
	failures metric.Int64Counter
}

// New builds the engine instruments against the global meter and tracer
// providers.
func New() (*Instruments, error) {
	meter := otel.Meter(scope)
	ticks, err := meter.Int64Counter("timer.poll.ticks",
		metric.WithDescription("Number of poll ticks executed"))
	if err != nil {
		return nil, fmt.Errorf("create tick counter: %w", err)
	}
	fired, err := meter.Int64Counter("timer.fired",
		metric.WithDescription("Number of timers fired"))
	if err != nil {
		return nil, fmt.Errorf("create fired counter: %w", err)
	}
	failures, err := meter.Int64Counter("timer.fire.failures",
		metric.WithDescription("Number of per-timer fire failures, by stage"))
	if err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}
	return &Instruments{
		tracer:   otel.Tracer(scope),
		ticks:    ticks,
		fired:    fired,
		failures: failures,
	}, nil
}

// StartTick opens a span for one poll tick and counts it. The returned
// function ends the span.
func (i *Instruments) StartTick(ctx context.Context) (context.Context, func()) {
	if i == nil {
		return ctx, func() {}
	}
	i.ticks.Add(ctx, 1)
	ctx, span := i.tracer.Start(ctx, "timer.poll.tick")
	return ctx, func() { span.End() }
}

// TimerFired counts one successful publish-then-mark pair.
func (i *Instruments) TimerFired(ctx context.Context) {
	if i == nil {
		return
	}
	i.fired.Add(ctx, 1)
}

// FireFailed counts one per-timer failure at the given stage ("publish"
// or "mark").
func (i *Instruments) FireFailed(ctx context.Context, stage string) {
	if i == nil {
		return
	}
	i.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
