package engine

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/serviceweave/timer/runtime/timer"
	"github.com/serviceweave/timer/runtime/timer/bus"
	"github.com/serviceweave/timer/runtime/timer/clock"
	"github.com/serviceweave/timer/runtime/timer/identity"
	"github.com/serviceweave/timer/runtime/timer/retry"
	"github.com/serviceweave/timer/runtime/timer/telemetry"
)

type (
	// Options configures the timer service. Store and Bus are required;
	// everything else has production defaults.
	Options struct {
		// Store persists timer entries. Required.
		Store timer.Store
		// Bus is the broker port. Required.
		Bus bus.EventBus
		// Clock defaults to the system wall clock.
		Clock clock.Clock
		// IDs defaults to the production UUIDv7 generator.
		IDs identity.Generator
		// PollInterval defaults to DefaultPollInterval.
		PollInterval time.Duration
		// Retry overrides the subscription handler retry policy.
		Retry *retry.Config
		// Instruments enables telemetry when set.
		Instruments *telemetry.Instruments
	}

	// Service is the timer module's entry point: it owns the schedule
	// workflow, the polling worker, and the command subscription.
	Service struct {
		workflow *Workflow
		poller   *Poller
		adapter  *bus.Adapter
		retryCfg retry.Config
	}
)

// New composes the timer service from its dependencies.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("event bus is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	ids := opts.IDs
	if ids == nil {
		ids = identity.NewGenerator()
	}
	adapter, err := bus.NewAdapter(opts.Bus, clk, ids)
	if err != nil {
		return nil, err
	}
	workflow, err := NewWorkflow(opts.Store, clk)
	if err != nil {
		return nil, err
	}
	poller, err := NewPoller(opts.Store, adapter, clk, opts.PollInterval, opts.Instruments)
	if err != nil {
		return nil, err
	}
	retryCfg := retry.DefaultConfig()
	if opts.Retry != nil {
		retryCfg = *opts.Retry
	}
	if retryCfg.RetryIf == nil {
		// Only transient storage failures are worth retrying; malformed
		// commands and other structural failures are not.
		retryCfg.RetryIf = timer.IsPersistence
	}
	return &Service{
		workflow: workflow,
		poller:   poller,
		adapter:  adapter,
		retryCfg: retryCfg,
	}, nil
}

// Run forks the polling worker and blocks on the command subscription
// until ctx is canceled or the subscription ends. Shutdown is
// cooperative: canceling ctx interrupts the poller between ticks and
// stops the subscription; in-flight publish-then-mark pairs complete.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.poller.Run(ctx)
	})
	g.Go(func() error {
		return s.adapter.SubscribeToScheduleTimerCommands(ctx, s.handleCommand)
	})
	return g.Wait()
}

// Poller exposes the polling worker, mainly so callers can drive single
// ticks in tests and tooling.
func (s *Service) Poller() *Poller { return s.poller }

// Workflow exposes the schedule workflow.
func (s *Service) Workflow() *Workflow { return s.workflow }

// handleCommand runs the schedule workflow under the bounded retry
// policy.
func (s *Service) handleCommand(ctx context.Context, cmd timer.ScheduleTimer) error {
	return retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.workflow.Handle(ctx, cmd)
	})
}
