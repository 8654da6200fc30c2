// Package memory is an in-memory eventstore.Store fake used by tests.
// It is not a production backend: the real event store is an external
// collaborator (see eventstore.Store) and out of this module's scope.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/quintans/projector/eventstore"
)

// Store is a goroutine-safe, in-memory implementation of eventstore.Store.
type Store struct {
	mu      sync.Mutex
	streams map[string][]eventstore.Event
}

// New creates an empty in-memory event store.
func New() *Store {
	return &Store{streams: map[string][]eventstore.Event{}}
}

func (s *Store) HasStream(ctx context.Context, stream string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.streams[stream]
	return ok, nil
}

func (s *Store) CreateStream(ctx context.Context, stream string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[stream]; !ok {
		s.streams[stream] = []eventstore.Event{}
	}
	return nil
}

func (s *Store) DeleteStream(ctx context.Context, stream string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, stream)
	return nil
}

func (s *Store) AppendTo(ctx context.Context, stream string, events []eventstore.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.streams[stream]
	no := int64(len(existing))
	for i := range events {
		no++
		events[i].No = no
		events[i].Metadata.Stream = stream
		existing = append(existing, events[i])
	}
	s.streams[stream] = existing
	return nil
}

// Append is a test helper that seeds a stream with events, assigning
// sequential numbers starting at 1, bypassing the public AppendTo copy
// semantics so tests can build fixtures directly.
func (s *Store) Append(stream string, names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.streams[stream]
	no := int64(len(existing))
	for _, name := range names {
		no++
		existing = append(existing, eventstore.Event{
			No:       no,
			Name:     name,
			Metadata: eventstore.Metadata{Stream: stream},
		})
	}
	s.streams[stream] = existing
}

// MergeAndLoad implements this fake's merge policy: streams are visited
// in query order and each contributes its own events in ascending
// order. Event numbers are per-stream, not global, so there is no
// cross-stream sequence to sort by; the merge does not reorder across
// streams.
func (s *Store) MergeAndLoad(ctx context.Context, queries ...eventstore.StreamQuery) ([]eventstore.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var merged []eventstore.Event
	for _, q := range queries {
		for _, e := range s.streams[q.Stream] {
			if e.No <= q.FromNumber {
				continue
			}
			if q.Matcher != nil && !q.Matcher(e) {
				continue
			}
			merged = append(merged, e)
		}
	}
	return merged, nil
}

func (s *Store) StreamNames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.streams))
	for name := range s.streams {
		if strings.HasPrefix(name, "$") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

var _ eventstore.Store = (*Store)(nil)
