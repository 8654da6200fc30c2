package projector

import (
	"context"

	"github.com/quintans/faults"

	"github.com/quintans/projector/eventstore"
)

// Emit appends event to the stream named after this projection,
// creating it on first use. streamCreated caches that creation so
// later calls skip the existence check.
func (p *Projector) Emit(ctx context.Context, event eventstore.Event) error {
	return p.appendTo(ctx, p.name, event, &p.streamCreated)
}

// LinkTo appends event to the given stream, creating it on demand. An
// empty stream name is the only case that falls back to the
// projection's own stream.
func (p *Projector) LinkTo(ctx context.Context, stream string, event eventstore.Event) error {
	if stream == "" {
		return p.Emit(ctx, event)
	}
	created := false
	return p.appendTo(ctx, stream, event, &created)
}

func (p *Projector) appendTo(ctx context.Context, stream string, event eventstore.Event, created *bool) error {
	if !*created {
		exists, err := p.store.HasStream(ctx, stream)
		if err != nil {
			return faults.Wrap(err)
		}
		if !exists {
			if err := p.store.CreateStream(ctx, stream); err != nil {
				return faults.Wrap(err)
			}
		}
		*created = true
	}
	if err := p.store.AppendTo(ctx, stream, []eventstore.Event{event}); err != nil {
		return faults.Wrap(err)
	}
	return nil
}

func (p *Projector) deleteEmittedStream(ctx context.Context) error {
	exists, err := p.store.HasStream(ctx, p.name)
	if err != nil {
		return faults.Wrap(err)
	}
	if !exists {
		return nil
	}
	return faults.Wrap(p.store.DeleteStream(ctx, p.name))
}
