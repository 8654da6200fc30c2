package projector

import (
	"context"

	"github.com/quintans/projector/eventstore"
)

// Handler folds one event into the projection's state, returning the
// new state. The engine deep-copies whatever it returns before it
// becomes the working state, so a Handler may safely return a mutated
// alias of the state it was given.
type Handler func(ctx context.Context, state interface{}, e eventstore.Event) (interface{}, error)

// handlerRegistry is a tagged variant: a catch-all handler or a
// mapping by event name, never both at once.
type handlerRegistry struct {
	any   Handler
	named map[string]Handler
}

func (h handlerRegistry) configured() bool {
	return h.any != nil || len(h.named) > 0
}

// find returns the handler for the given event name, if any. With a
// catch-all registered it always matches. With named handlers, an
// event whose name has no entry simply has no handler — the engine
// still advances its position for that stream.
func (h handlerRegistry) find(eventName string) (Handler, bool) {
	if h.any != nil {
		return h.any, true
	}
	fn, ok := h.named[eventName]
	return fn, ok
}
