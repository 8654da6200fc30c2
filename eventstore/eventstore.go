// Package eventstore declares the narrow surface the projector consumes
// from the event store. The event store itself — append, load,
// merge-load, stream existence, stream deletion — is an external
// collaborator; this package only pins down the contract and ships an
// in-memory fake for tests.
package eventstore

import "context"

// Event is a single entry in a stream.
//
// No is per-stream monotonic, starting at 1.
type Event struct {
	No       int64
	Name     string
	Payload  []byte
	Metadata Metadata
}

// Metadata carries the stream the event was appended to.
type Metadata struct {
	Stream string
}

// Matcher is an opaque predicate over event fields, passed through to
// the event store untouched.
type Matcher func(Event) bool

// StreamQuery selects one stream's events from a given point onward.
type StreamQuery struct {
	Stream     string
	FromNumber int64
	Matcher    Matcher
}

// Store is the subset of the event store the projector depends on.
type Store interface {
	HasStream(ctx context.Context, stream string) (bool, error)
	CreateStream(ctx context.Context, stream string) error
	DeleteStream(ctx context.Context, stream string) error
	AppendTo(ctx context.Context, stream string, events []Event) error
	// MergeAndLoad returns a finite batch of events across the given
	// queries, merged in an order the store itself is responsible for.
	// It is re-issued on every pass of the projector's main loop.
	MergeAndLoad(ctx context.Context, queries ...StreamQuery) ([]Event, error)
	// StreamNames lists every real (non-internal) stream name known to
	// the store, used when a projection queries "all" streams.
	StreamNames(ctx context.Context) ([]string, error)
}
