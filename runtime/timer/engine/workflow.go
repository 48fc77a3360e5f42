// Package engine composes the timer module's moving parts: the schedule
// workflow that persists accepted commands, the polling worker that fires
// due timers, and the service that runs both under one scope.
package engine

import (
	"context"
	"errors"

	"goa.design/clue/log"

	"github.com/serviceweave/timer/runtime/timer"
	"github.com/serviceweave/timer/runtime/timer/clock"
	"github.com/serviceweave/timer/runtime/timer/meta"
)

// Workflow translates a validated ScheduleTimer command into a persisted
// ScheduledTimer.
type Workflow struct {
	store timer.Store
	clk   clock.Clock
}

// NewWorkflow builds the schedule workflow. Both dependencies are
// required.
func NewWorkflow(store timer.Store, clk clock.Clock) (*Workflow, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if clk == nil {
		return nil, errors.New("clock is required")
	}
	return &Workflow{store: store, clk: clk}, nil
}

// Handle persists the command as a Scheduled timer, picking the
// correlation ID up from the ambient metadata. Terminal-state semantics of
// Save mean a redelivered command for an already fired timer is silently
// absorbed, while a command for a still scheduled timer re-arms it.
// Persistence failures propagate to the caller, which owns the retry
// policy.
func (w *Workflow) Handle(ctx context.Context, cmd timer.ScheduleTimer) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	md, _ := meta.From(ctx)
	scheduled := timer.Make(cmd, w.clk.Now(), md.CorrelationID)
	if err := w.store.Save(ctx, scheduled); err != nil {
		return err
	}
	log.Debug(ctx, log.KV{K: "msg", V: "timer scheduled"},
		log.KV{K: "timer", V: scheduled.Key().String()},
		log.KV{K: "due_at", V: scheduled.DueAt})
	return nil
}
