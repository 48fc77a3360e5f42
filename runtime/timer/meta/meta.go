// Package meta carries message metadata through the call chain. The
// subscription edge binds correlation and causation identifiers into the
// context; the publish edge reads them back to stamp outbound envelopes.
package meta

import (
	"context"

	"github.com/serviceweave/timer/runtime/timer/identity"
)

// Metadata holds the ambient identifiers attached to the processing of a
// single message. Either field may be absent.
type Metadata struct {
	// CorrelationID is the end-to-end trace identifier, if known.
	CorrelationID *identity.CorrelationID
	// CausationID is the envelope ID of the message that directly caused
	// the current processing, if any. Autonomous activity (such as the
	// polling worker) carries none.
	CausationID *identity.EnvelopeID
}

type ctxKey struct{}

// With returns a context carrying the given metadata. Any previous binding
// is replaced.
func With(ctx context.Context, md Metadata) context.Context {
	return context.WithValue(ctx, ctxKey{}, md)
}

// From extracts the metadata bound to ctx. The second return value is
// false when no binding exists; publishing without one is a programming
// error and callers must fail fast.
func From(ctx context.Context) (Metadata, bool) {
	md, ok := ctx.Value(ctxKey{}).(Metadata)
	return md, ok
}
