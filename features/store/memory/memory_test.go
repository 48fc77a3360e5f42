package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/serviceweave/timer/runtime/timer"
	"github.com/serviceweave/timer/runtime/timer/identity"
)

func newScheduled(due, registered time.Time) timer.ScheduledTimer {
	return timer.ScheduledTimer{
		TenantID:      identity.TenantID{UUID: uuid.New()},
		ServiceCallID: identity.ServiceCallID{UUID: uuid.New()},
		DueAt:         due,
		RegisteredAt:  registered,
	}
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSaveAndFind(t *testing.T) {
	store := New()
	ctx := context.Background()
	scheduled := newScheduled(base.Add(5*time.Minute), base)

	require.NoError(t, store.Save(ctx, scheduled))

	entry, err := store.Find(ctx, scheduled.Key())
	require.NoError(t, err)
	require.Equal(t, scheduled, entry)

	got, err := store.FindScheduled(ctx, scheduled.Key())
	require.NoError(t, err)
	require.Equal(t, scheduled, got)
}

func TestFindMissing(t *testing.T) {
	store := New()
	ctx := context.Background()
	key := newScheduled(base, base).Key()

	_, err := store.Find(ctx, key)
	require.ErrorIs(t, err, timer.ErrNotFound)
	_, err = store.FindScheduled(ctx, key)
	require.ErrorIs(t, err, timer.ErrNotFound)
}

func TestSaveReArmsScheduled(t *testing.T) {
	store := New()
	ctx := context.Background()
	scheduled := newScheduled(base.Add(5*time.Minute), base)
	require.NoError(t, store.Save(ctx, scheduled))

	rearmed := scheduled
	rearmed.DueAt = base.Add(10 * time.Minute)
	require.NoError(t, store.Save(ctx, rearmed))

	got, err := store.FindScheduled(ctx, scheduled.Key())
	require.NoError(t, err)
	require.True(t, got.DueAt.Equal(rearmed.DueAt))
}

func TestSaveIsNoOpOnReached(t *testing.T) {
	store := New()
	ctx := context.Background()
	scheduled := newScheduled(base.Add(time.Minute), base)
	require.NoError(t, store.Save(ctx, scheduled))
	reachedAt := base.Add(2 * time.Minute)
	require.NoError(t, store.MarkFired(ctx, scheduled.Key(), reachedAt))

	rearmed := scheduled
	rearmed.DueAt = base.Add(time.Hour)
	require.NoError(t, store.Save(ctx, rearmed), "save on Reached succeeds")

	entry, err := store.Find(ctx, scheduled.Key())
	require.NoError(t, err)
	reached, ok := entry.(timer.ReachedTimer)
	require.True(t, ok, "row stays Reached")
	require.True(t, reached.ReachedAt.Equal(reachedAt))
	require.True(t, reached.DueAt.Equal(scheduled.DueAt), "no column changed")
}

func TestMarkFiredIsIdempotent(t *testing.T) {
	store := New()
	ctx := context.Background()
	scheduled := newScheduled(base.Add(time.Minute), base)
	require.NoError(t, store.Save(ctx, scheduled))

	first := base.Add(2 * time.Minute)
	require.NoError(t, store.MarkFired(ctx, scheduled.Key(), first))
	require.NoError(t, store.MarkFired(ctx, scheduled.Key(), base.Add(3*time.Minute)))

	entry, err := store.Find(ctx, scheduled.Key())
	require.NoError(t, err)
	reached, ok := entry.(timer.ReachedTimer)
	require.True(t, ok)
	require.True(t, reached.ReachedAt.Equal(first), "earlier reachedAt wins")
}

func TestMarkFiredOnMissingSucceeds(t *testing.T) {
	store := New()
	require.NoError(t, store.MarkFired(context.Background(), newScheduled(base, base).Key(), base))
}

func TestFindScheduledFiltersReached(t *testing.T) {
	store := New()
	ctx := context.Background()
	scheduled := newScheduled(base.Add(time.Minute), base)
	require.NoError(t, store.Save(ctx, scheduled))
	require.NoError(t, store.MarkFired(ctx, scheduled.Key(), base.Add(time.Minute)))

	_, err := store.FindScheduled(ctx, scheduled.Key())
	require.ErrorIs(t, err, timer.ErrNotFound)
}

func TestFindDueFiltersAndOrders(t *testing.T) {
	store := New()
	ctx := context.Background()

	early := newScheduled(base.Add(time.Minute), base)
	late := newScheduled(base.Add(time.Hour), base)
	fired := newScheduled(base.Add(time.Minute), base)
	require.NoError(t, store.Save(ctx, early))
	require.NoError(t, store.Save(ctx, late))
	require.NoError(t, store.Save(ctx, fired))
	require.NoError(t, store.MarkFired(ctx, fired.Key(), base.Add(time.Minute)))

	due, err := store.FindDue(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, early.Key(), due[0].Key())
}

func TestFindDueTieBreaksOnRegisteredAtThenID(t *testing.T) {
	store := New()
	ctx := context.Background()
	due := base.Add(time.Minute)

	// Same dueAt, distinct registeredAt: registration order wins.
	s2 := newScheduled(due, base)
	s1 := newScheduled(due, base.Add(time.Second))
	s3 := newScheduled(due, base.Add(2*time.Second))
	for _, s := range []timer.ScheduledTimer{s1, s2, s3} {
		require.NoError(t, store.Save(ctx, s))
	}

	got, err := store.FindDue(ctx, due)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, s2.Key(), got[0].Key())
	require.Equal(t, s1.Key(), got[1].Key())
	require.Equal(t, s3.Key(), got[2].Key())

	// Same dueAt and registeredAt: service call ID is the total tiebreak.
	store.Reset()
	var timers []timer.ScheduledTimer
	for i := 0; i < 3; i++ {
		timers = append(timers, newScheduled(due, base))
	}
	for _, s := range timers {
		require.NoError(t, store.Save(ctx, s))
	}
	got, err = store.FindDue(ctx, due)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1].ServiceCallID.String(), got[i].ServiceCallID.String())
	}
}

func TestDeleteIsIdempotentAndAllowsReschedule(t *testing.T) {
	store := New()
	ctx := context.Background()
	scheduled := newScheduled(base.Add(time.Minute), base)
	require.NoError(t, store.Save(ctx, scheduled))
	require.NoError(t, store.MarkFired(ctx, scheduled.Key(), base.Add(time.Minute)))

	require.NoError(t, store.Delete(ctx, scheduled.Key()))
	require.NoError(t, store.Delete(ctx, scheduled.Key()), "double delete succeeds")

	// Delete then save re-arms a previously fired key.
	rearmed := scheduled
	rearmed.DueAt = base.Add(time.Hour)
	require.NoError(t, store.Save(ctx, rearmed))
	got, err := store.FindScheduled(ctx, scheduled.Key())
	require.NoError(t, err)
	require.True(t, got.DueAt.Equal(rearmed.DueAt))
}

func TestCanceledContextSurfacesPersistenceError(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Save(ctx, newScheduled(base, base))
	require.True(t, timer.IsPersistence(err))
}
