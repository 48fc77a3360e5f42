package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/serviceweave/timer/runtime/timer"
	"github.com/serviceweave/timer/runtime/timer/identity"
	"github.com/serviceweave/timer/runtime/timer/meta"
)

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newCommand(due time.Time) timer.ScheduleTimer {
	return timer.ScheduleTimer{
		TenantID:      identity.TenantID{UUID: uuid.New()},
		ServiceCallID: identity.ServiceCallID{UUID: uuid.New()},
		DueAt:         due,
	}
}

// published captures one PublishDueTimeReached call together with the
// ambient metadata the publisher saw.
type published struct {
	event timer.DueTimeReached
	md    meta.Metadata
	mdOK  bool
}

// fakePublisher records published events and can fail selected service
// calls.
type fakePublisher struct {
	mu     sync.Mutex
	events []published
	fail   map[identity.ServiceCallID]error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{fail: make(map[identity.ServiceCallID]error)}
}

func (p *fakePublisher) PublishDueTimeReached(ctx context.Context, event timer.DueTimeReached) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.fail[event.ServiceCallID]; ok {
		return err
	}
	md, ok := meta.From(ctx)
	p.events = append(p.events, published{event: event, md: md, mdOK: ok})
	return nil
}

func (p *fakePublisher) published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.events))
	copy(out, p.events)
	return out
}

// flakyStore wraps a timer.Store and fails selected operations.
type flakyStore struct {
	timer.Store

	mu           sync.Mutex
	saveErrs     []error // consumed one per Save call
	findDueErr   error
	findDueCalls int
	markFiredErr map[identity.ServiceCallID]error
}

func newFlakyStore(inner timer.Store) *flakyStore {
	return &flakyStore{
		Store:        inner,
		markFiredErr: make(map[identity.ServiceCallID]error),
	}
}

func (s *flakyStore) Save(ctx context.Context, scheduled timer.ScheduledTimer) error {
	s.mu.Lock()
	var err error
	if len(s.saveErrs) > 0 {
		err, s.saveErrs = s.saveErrs[0], s.saveErrs[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Save(ctx, scheduled)
}

func (s *flakyStore) FindDue(ctx context.Context, now time.Time) ([]timer.ScheduledTimer, error) {
	s.mu.Lock()
	s.findDueCalls++
	err := s.findDueErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.FindDue(ctx, now)
}

func (s *flakyStore) findDueCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findDueCalls
}

func (s *flakyStore) MarkFired(ctx context.Context, key timer.Key, reachedAt time.Time) error {
	s.mu.Lock()
	err, ok := s.markFiredErr[key.ServiceCallID]
	s.mu.Unlock()
	if ok {
		return err
	}
	return s.Store.MarkFired(ctx, key, reachedAt)
}
