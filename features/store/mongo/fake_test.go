package mongo

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fakeCollection emulates the slice of collection behavior the store
// relies on: filtered conditional updates with upsert, the unique
// (tenant_id, service_call_id) index, filtered finds with sorting, and
// deletes. Errors can be injected per operation.
type fakeCollection struct {
	docs    map[string]timerDocument
	indexes []mongodriver.IndexModel

	findOneErr error
	findErr    error
	updateErr  error
	deleteErr  error
	indexErr   error

	// raceDoc, when set, commits as a concurrent insert during the next
	// UpdateOne and fails that call with a duplicate-key error.
	raceDoc *timerDocument
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]timerDocument)}
}

func docKey(doc timerDocument) string {
	return doc.TenantID + "/" + doc.ServiceCallID
}

// matches applies the subset of filter operators the store uses: string
// equality, {$ne: string} on state, and {$lte: time} on due_at.
func matches(doc timerDocument, filter bson.M) bool {
	for field, want := range filter {
		var have any
		switch field {
		case "tenant_id":
			have = doc.TenantID
		case "service_call_id":
			have = doc.ServiceCallID
		case "state":
			have = doc.State
		case "due_at":
			have = doc.DueAt
		default:
			return false
		}
		switch want := want.(type) {
		case string:
			if have != want {
				return false
			}
		case bson.M:
			for op, operand := range want {
				switch op {
				case "$ne":
					if have == operand {
						return false
					}
				case "$lte":
					bound, ok := operand.(time.Time)
					if !ok || doc.DueAt.After(bound) {
						return false
					}
				default:
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}

func applySet(doc *timerDocument, set bson.M) {
	for field, value := range set {
		switch field {
		case "tenant_id":
			doc.TenantID = value.(string)
		case "service_call_id":
			doc.ServiceCallID = value.(string)
		case "due_at":
			doc.DueAt = value.(time.Time)
		case "registered_at":
			doc.RegisteredAt = value.(time.Time)
		case "correlation_id":
			doc.CorrelationID, _ = value.(*string)
		case "state":
			doc.State = value.(string)
		case "reached_at":
			at := value.(time.Time)
			doc.ReachedAt = &at
		}
	}
}

func (c *fakeCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) singleResult {
	if c.findOneErr != nil {
		return fakeSingleResult{err: c.findOneErr}
	}
	for _, doc := range c.docs {
		if matches(doc, filter.(bson.M)) {
			return fakeSingleResult{doc: doc}
		}
	}
	return fakeSingleResult{err: mongodriver.ErrNoDocuments}
}

func (c *fakeCollection) Find(_ context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	if c.findErr != nil {
		return nil, c.findErr
	}
	var out []timerDocument
	for _, doc := range c.docs {
		if matches(doc, filter.(bson.M)) {
			out = append(out, doc)
		}
	}
	for _, opt := range opts {
		if keys, ok := opt.Sort.(bson.D); ok {
			sortDocs(out, keys)
		}
	}
	return &fakeCursor{docs: out, pos: -1}, nil
}

func sortDocs(docs []timerDocument, keys bson.D) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, key := range keys {
			var a, b any
			switch key.Key {
			case "due_at":
				a, b = docs[i].DueAt, docs[j].DueAt
			case "registered_at":
				a, b = docs[i].RegisteredAt, docs[j].RegisteredAt
			case "service_call_id":
				a, b = docs[i].ServiceCallID, docs[j].ServiceCallID
			default:
				continue
			}
			switch a := a.(type) {
			case time.Time:
				bt := b.(time.Time)
				if !a.Equal(bt) {
					return a.Before(bt)
				}
			case string:
				bs := b.(string)
				if a != bs {
					return a < bs
				}
			}
		}
		return false
	})
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter any, update any,
	opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	if c.updateErr != nil {
		return nil, c.updateErr
	}
	if c.raceDoc != nil {
		doc := *c.raceDoc
		c.raceDoc = nil
		c.docs[docKey(doc)] = doc
		return nil, mongodriver.WriteException{
			WriteErrors: mongodriver.WriteErrors{{Code: 11000, Message: "duplicate key"}},
		}
	}
	f := filter.(bson.M)
	u := update.(bson.M)
	set, _ := u["$set"].(bson.M)
	for key, doc := range c.docs {
		if matches(doc, f) {
			applySet(&doc, set)
			c.docs[key] = doc
			return &mongodriver.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}
	upsert := false
	for _, opt := range opts {
		if opt.Upsert != nil && *opt.Upsert {
			upsert = true
		}
	}
	if !upsert {
		return &mongodriver.UpdateResult{}, nil
	}
	var doc timerDocument
	if setOnInsert, ok := u["$setOnInsert"].(bson.M); ok {
		applySet(&doc, setOnInsert)
	}
	applySet(&doc, set)
	if _, exists := c.docs[docKey(doc)]; exists {
		// The unique (tenant_id, service_call_id) index rejects the insert.
		return nil, mongodriver.WriteException{
			WriteErrors: mongodriver.WriteErrors{{Code: 11000, Message: "duplicate key"}},
		}
	}
	c.docs[docKey(doc)] = doc
	return &mongodriver.UpdateResult{UpsertedCount: 1}, nil
}

func (c *fakeCollection) DeleteOne(_ context.Context, filter any,
	_ ...*options.DeleteOptions) (*mongodriver.DeleteResult, error) {
	if c.deleteErr != nil {
		return nil, c.deleteErr
	}
	for key, doc := range c.docs {
		if matches(doc, filter.(bson.M)) {
			delete(c.docs, key)
			return &mongodriver.DeleteResult{DeletedCount: 1}, nil
		}
	}
	return &mongodriver.DeleteResult{}, nil
}

func (c *fakeCollection) Indexes() indexView { return fakeIndexView{coll: c} }

type fakeIndexView struct {
	coll *fakeCollection
}

func (v fakeIndexView) CreateOne(_ context.Context, model mongodriver.IndexModel,
	_ ...*options.CreateIndexesOptions) (string, error) {
	if v.coll.indexErr != nil {
		return "", v.coll.indexErr
	}
	v.coll.indexes = append(v.coll.indexes, model)
	return "", nil
}

type fakeSingleResult struct {
	doc timerDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	*val.(*timerDocument) = r.doc
	return nil
}

type fakeCursor struct {
	docs []timerDocument
	pos  int
	err  error
}

func (c *fakeCursor) Close(context.Context) error { return nil }

func (c *fakeCursor) Decode(val any) error {
	*val.(*timerDocument) = c.docs[c.pos]
	return nil
}

func (c *fakeCursor) Err() error { return c.err }

func (c *fakeCursor) Next(context.Context) bool {
	c.pos++
	return c.pos < len(c.docs)
}
