// Package mongo provides the MongoDB implementation of the timer store.
//
// The two-state lifecycle is enforced with conditional writes: Save
// refuses to touch Reached rows by filtering on state and absorbing the
// resulting duplicate-key insert, and MarkFired only matches rows still
// Scheduled. Both rules live here, at the storage layer, so caller code
// never has to re-check terminality.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/serviceweave/timer/runtime/timer"
	"github.com/serviceweave/timer/runtime/timer/identity"
)

const (
	defaultCollection = "timer_schedules"
	defaultOpTimeout  = 5 * time.Second
	storeClientName   = "timer-mongo"

	stateScheduled = "Scheduled"
	stateReached   = "Reached"
)

// Options configures the Mongo timer store.
type Options struct {
	// Client is the connected Mongo client. Required.
	Client *mongodriver.Client
	// Database is the database name. Required.
	Database string
	// Collection defaults to "timer_schedules".
	Collection string
	// Timeout bounds individual operations. Defaults to 5s.
	Timeout time.Duration
}

// Store is the MongoDB implementation of timer.Store. It also implements
// clue's health.Pinger so deployments can surface store connectivity.
type Store struct {
	mongo   *mongodriver.Client
	timers  collection
	timeout time.Duration
}

var (
	_ timer.Store   = (*Store)(nil)
	_ health.Pinger = (*Store)(nil)
)

// New returns a Store backed by MongoDB. It creates the unique key index
// and the due-scan index up front.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(collName)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return newStoreWithCollection(opts.Client, coll, timeout)
}

// Name identifies the store in health reports.
func (s *Store) Name() string { return storeClientName }

// Ping verifies connectivity to the primary.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Save upserts a Scheduled row. The filter excludes Reached rows; when
// the row is Reached the update matches nothing and the upsert attempts
// an insert that the unique key index rejects. A duplicate key can also
// mean Save lost a concurrent first insert for the same key, so the
// conditional update is re-applied once without the upsert: it lands on a
// Scheduled row and matches nothing on a Reached one.
func (s *Store) Save(ctx context.Context, scheduled timer.ScheduledTimer) error {
	doc := fromScheduled(scheduled)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{
		"tenant_id":       doc.TenantID,
		"service_call_id": doc.ServiceCallID,
		"state":           bson.M{"$ne": stateReached},
	}
	update := bson.M{
		"$set": bson.M{
			"due_at":         doc.DueAt,
			"registered_at":  doc.RegisteredAt,
			"correlation_id": doc.CorrelationID,
			"state":          stateScheduled,
		},
		"$setOnInsert": bson.M{
			"tenant_id":       doc.TenantID,
			"service_call_id": doc.ServiceCallID,
		},
	}
	if _, err := s.timers.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		if !mongodriver.IsDuplicateKeyError(err) {
			return &timer.PersistenceError{Op: "save", Cause: err}
		}
		if _, err := s.timers.UpdateOne(ctx, filter, update); err != nil {
			return &timer.PersistenceError{Op: "save", Cause: err}
		}
	}
	return nil
}

// Find returns the entry in whichever state it holds.
func (s *Store) Find(ctx context.Context, key timer.Key) (timer.TimerEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc timerDocument
	if err := s.timers.FindOne(ctx, keyFilter(key)).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, timer.ErrNotFound
		}
		return nil, &timer.PersistenceError{Op: "find", Cause: err}
	}
	return doc.toEntry()
}

// FindScheduled returns the entry only if it is still Scheduled.
func (s *Store) FindScheduled(ctx context.Context, key timer.Key) (timer.ScheduledTimer, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := keyFilter(key)
	filter["state"] = stateScheduled
	var doc timerDocument
	if err := s.timers.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return timer.ScheduledTimer{}, timer.ErrNotFound
		}
		return timer.ScheduledTimer{}, &timer.PersistenceError{Op: "findScheduled", Cause: err}
	}
	return doc.toScheduled()
}

// FindDue returns every Scheduled row due at now in
// (due_at, registered_at, service_call_id) ascending order. The
// (state, due_at, tenant_id) index makes this a range scan.
func (s *Store) FindDue(ctx context.Context, now time.Time) ([]timer.ScheduledTimer, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{
		"state":  stateScheduled,
		"due_at": bson.M{"$lte": now.UTC()},
	}
	sort := bson.D{
		{Key: "due_at", Value: 1},
		{Key: "registered_at", Value: 1},
		{Key: "service_call_id", Value: 1},
	}
	cur, err := s.timers.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, &timer.PersistenceError{Op: "findDue", Cause: err}
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var due []timer.ScheduledTimer
	for cur.Next(ctx) {
		var doc timerDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, &timer.PersistenceError{Op: "findDue", Cause: err}
		}
		scheduled, err := doc.toScheduled()
		if err != nil {
			return nil, err
		}
		due = append(due, scheduled)
	}
	if err := cur.Err(); err != nil {
		return nil, &timer.PersistenceError{Op: "findDue", Cause: err}
	}
	return due, nil
}

// MarkFired transitions a Scheduled row to Reached. The state filter
// makes the call a no-op when the row is already Reached or absent.
func (s *Store) MarkFired(ctx context.Context, key timer.Key, reachedAt time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := keyFilter(key)
	filter["state"] = stateScheduled
	update := bson.M{
		"$set": bson.M{
			"state":      stateReached,
			"reached_at": reachedAt.UTC(),
		},
	}
	if _, err := s.timers.UpdateOne(ctx, filter, update); err != nil {
		return &timer.PersistenceError{Op: "markFired", Cause: err}
	}
	return nil
}

// Delete removes the row in any state. Absent rows succeed.
func (s *Store) Delete(ctx context.Context, key timer.Key) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.timers.DeleteOne(ctx, keyFilter(key)); err != nil {
		return &timer.PersistenceError{Op: "delete", Cause: err}
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func keyFilter(key timer.Key) bson.M {
	return bson.M{
		"tenant_id":       key.TenantID.String(),
		"service_call_id": key.ServiceCallID.String(),
	}
}

// timerDocument is the MongoDB representation of a timer entry.
type timerDocument struct {
	TenantID      string     `bson:"tenant_id"`
	ServiceCallID string     `bson:"service_call_id"`
	CorrelationID *string    `bson:"correlation_id,omitempty"`
	DueAt         time.Time  `bson:"due_at"`
	RegisteredAt  time.Time  `bson:"registered_at"`
	ReachedAt     *time.Time `bson:"reached_at,omitempty"`
	State         string     `bson:"state"`
}

func fromScheduled(scheduled timer.ScheduledTimer) timerDocument {
	doc := timerDocument{
		TenantID:      scheduled.TenantID.String(),
		ServiceCallID: scheduled.ServiceCallID.String(),
		DueAt:         scheduled.DueAt.UTC(),
		RegisteredAt:  scheduled.RegisteredAt.UTC(),
		State:         stateScheduled,
	}
	if scheduled.CorrelationID != nil {
		s := scheduled.CorrelationID.String()
		doc.CorrelationID = &s
	}
	return doc
}

func (doc timerDocument) toScheduled() (timer.ScheduledTimer, error) {
	tenantID, err := identity.ParseTenantID(doc.TenantID)
	if err != nil {
		return timer.ScheduledTimer{}, &timer.ValidationError{Field: "tenant_id", Reason: err.Error()}
	}
	serviceCallID, err := identity.ParseServiceCallID(doc.ServiceCallID)
	if err != nil {
		return timer.ScheduledTimer{}, &timer.ValidationError{Field: "service_call_id", Reason: err.Error()}
	}
	scheduled := timer.ScheduledTimer{
		TenantID:      tenantID,
		ServiceCallID: serviceCallID,
		DueAt:         doc.DueAt.UTC(),
		RegisteredAt:  doc.RegisteredAt.UTC(),
	}
	if doc.CorrelationID != nil {
		corr, err := identity.ParseCorrelationID(*doc.CorrelationID)
		if err != nil {
			return timer.ScheduledTimer{}, &timer.ValidationError{Field: "correlation_id", Reason: err.Error()}
		}
		scheduled.CorrelationID = &corr
	}
	return scheduled, nil
}

func (doc timerDocument) toEntry() (timer.TimerEntry, error) {
	scheduled, err := doc.toScheduled()
	if err != nil {
		return nil, err
	}
	if doc.State == stateReached {
		if doc.ReachedAt == nil {
			return nil, &timer.ValidationError{Field: "reached_at", Reason: "missing on Reached row"}
		}
		return scheduled.MarkReached(*doc.ReachedAt), nil
	}
	return scheduled, nil
}

func ensureIndexes(ctx context.Context, coll collection) error {
	keyIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "service_call_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, keyIndex); err != nil {
		return err
	}
	dueIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "state", Value: 1},
			{Key: "due_at", Value: 1},
			{Key: "tenant_id", Value: 1},
		},
	}
	if _, err := coll.Indexes().CreateOne(ctx, dueIndex); err != nil {
		return err
	}
	return nil
}

func newStoreWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*Store, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{
		mongo:   mongoClient,
		timers:  coll,
		timeout: timeout,
	}, nil
}
