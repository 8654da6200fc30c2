package projector

import "context"

// ReadModel is the external, user-owned materialized view a read-model
// projection drives. It is consumed, never implemented, by this
// package.
type ReadModel interface {
	Init(ctx context.Context) error
	IsInitialized(ctx context.Context) (bool, error)
	Persist(ctx context.Context) error
	Reset(ctx context.Context) error
	Delete(ctx context.Context) error
}

// sink is the small capability that lets the plain projector and the
// read-model projector share one engine, differing only in these four
// hooks, instead of being modeled as a class hierarchy.
type sink interface {
	onInit(ctx context.Context) error
	onPersist(ctx context.Context) error
	onReset(ctx context.Context) error
	onDelete(ctx context.Context, flag bool) error
}

// noopSink is the plain projector's sink: the in-memory state *is* the
// projection, so there is nothing external to initialize, persist, or
// reset. Its only real behavior is deletion: when deleteEmittedEvents
// is set, it removes the projection's own emitted-events stream — a
// concern that is specific to the plain projector and must not leak
// into a read-model projector's delete.
type noopSink struct {
	p *Projector
}

func (noopSink) onInit(ctx context.Context) error    { return nil }
func (noopSink) onPersist(ctx context.Context) error { return nil }
func (noopSink) onReset(ctx context.Context) error   { return nil }

func (s noopSink) onDelete(ctx context.Context, deleteEmittedEvents bool) error {
	if !deleteEmittedEvents {
		return nil
	}
	return s.p.deleteEmittedStream(ctx)
}

// readModelSink adapts a ReadModel into a sink. Its onPersist runs
// before the control row is written, so the checkpoint never claims
// progress that hasn't been externalized. Its onDelete sense is
// deliberately independent of the plain projector's emitted-events
// deletion: the flag here means "also delete the read model", not
// "also delete the emitted-events stream" — a read-model projector
// never touches its emitted-events stream on delete.
type readModelSink struct {
	rm ReadModel
}

func (s readModelSink) onInit(ctx context.Context) error {
	initialized, err := s.rm.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}
	return s.rm.Init(ctx)
}

func (s readModelSink) onPersist(ctx context.Context) error {
	return s.rm.Persist(ctx)
}

func (s readModelSink) onReset(ctx context.Context) error {
	return s.rm.Reset(ctx)
}

func (s readModelSink) onDelete(ctx context.Context, deleteReadModel bool) error {
	if !deleteReadModel {
		return nil
	}
	return s.rm.Delete(ctx)
}
