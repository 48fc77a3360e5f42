package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/serviceweave/timer/runtime/timer"
	"github.com/serviceweave/timer/runtime/timer/clock"
	"github.com/serviceweave/timer/runtime/timer/meta"
	"github.com/serviceweave/timer/runtime/timer/telemetry"
)

// DefaultPollInterval is the tick rate used when no interval is
// configured.
const DefaultPollInterval = 5 * time.Second

// Publisher is the slice of the timer event bus adapter the poller needs.
type Publisher interface {
	PublishDueTimeReached(ctx context.Context, event timer.DueTimeReached) error
}

// Poller is the long-running worker that fires due timers. It ticks at a
// fixed rate: the first tick runs immediately on start, subsequent ticks
// every interval regardless of per-tick duration. A tick never starts
// while the previous one is still running; late ticks are skipped, not
// queued.
type Poller struct {
	store    timer.Store
	pub      Publisher
	clk      clock.Clock
	interval time.Duration
	inst     *telemetry.Instruments

	mu sync.Mutex // held for the duration of one tick
}

// NewPoller builds the polling worker. Instruments may be nil; an
// interval of zero selects DefaultPollInterval.
func NewPoller(store timer.Store, pub Publisher, clk clock.Clock, interval time.Duration, inst *telemetry.Instruments) (*Poller, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if clk == nil {
		return nil, errors.New("clock is required")
	}
	if interval < 0 {
		return nil, errors.New("interval must not be negative")
	}
	if interval == 0 {
		interval = DefaultPollInterval
	}
	return &Poller{store: store, pub: pub, clk: clk, interval: interval, inst: inst}, nil
}

// Run ticks until ctx is canceled. Polling is self-healing: no tick
// failure stops the loop.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one poll iteration: read the clock, collect due timers in
// deterministic order, and fire each one. A failed FindDue aborts the
// tick; a failure for one timer is logged and attributed but does not
// stop the rest of the batch. Cancellation stops the batch between
// timers; the in-flight publish-then-mark pair is allowed to complete.
func (p *Poller) Tick(ctx context.Context) {
	if !p.mu.TryLock() {
		log.Debugf(ctx, "poll tick skipped: previous tick still running")
		return
	}
	defer p.mu.Unlock()

	ctx, end := p.inst.StartTick(ctx)
	defer end()

	now := p.clk.Now()
	due, err := p.store.FindDue(ctx, now)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "find due timers"})
		return
	}
	for _, t := range due {
		if ctx.Err() != nil {
			return
		}
		if err := p.fire(ctx, t, now); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "fire timer"},
				log.KV{K: "timer", V: t.Key().String()})
		}
	}
}

// fire publishes DueTimeReached and then marks the timer Reached.
// Publishing first yields at-least-once semantics: a crash between the
// two steps makes the next tick re-publish with a fresh envelope ID and
// the same aggregate ID, which downstream consumers absorb.
func (p *Poller) fire(ctx context.Context, t timer.ScheduledTimer, now time.Time) error {
	// The pair must survive scope cancellation once started.
	ctx = context.WithoutCancel(ctx)
	ctx = meta.With(ctx, meta.Metadata{CorrelationID: t.CorrelationID})
	event := timer.DueTimeReached{
		TenantID:      t.TenantID,
		ServiceCallID: t.ServiceCallID,
		ReachedAt:     now,
	}
	if err := p.pub.PublishDueTimeReached(ctx, event); err != nil {
		p.inst.FireFailed(ctx, "publish")
		return fmt.Errorf("publish due time reached: %w", err)
	}
	if err := p.store.MarkFired(ctx, t.Key(), now); err != nil {
		p.inst.FireFailed(ctx, "mark")
		return fmt.Errorf("mark fired: %w", err)
	}
	p.inst.TimerFired(ctx)
	return nil
}
