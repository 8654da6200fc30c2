// Package projector implements the projection engine: a long-running
// loop that replays events from one or more streams through
// user-supplied handlers, maintains derived state, and coordinates
// with other runners of the same named projection through a shared
// control store.
package projector

import (
	"time"

	"github.com/quintans/faults"

	"github.com/quintans/projector/control"
	"github.com/quintans/projector/eventstore"
	"github.com/quintans/projector/internal/log"
)

const (
	defaultLockTimeout = time.Second
	defaultBlockSize   = 1000
	defaultIdleSleep   = 100 * time.Millisecond
)

// Projector is both the write-once configuration surface and the
// runtime instance: the same object is configured with
// Init/FromStream/When and then run with Run.
type Projector struct {
	name    string
	store   eventstore.Store
	ctrl    control.Store
	manager control.Manager
	logger  log.Logger
	sink    sink

	// write-once configuration, each guarded by its own bool: Go has no
	// cheap way to give a staged builder (a type per step) without heavy
	// code generation, so an explicit guard stands in for one.
	initSet bool
	query   querySpec
	fromSet bool
	handler handlerRegistry
	whenSet bool

	initThunk func() interface{}

	// tunables
	lockTimeout         time.Duration
	persistBlockSize    int
	updateLockThreshold time.Duration

	// runtime working copies
	streamPositions positionMap
	state           interface{}
	status          control.Status
	isStopped       bool
	eventCounter    int
	streamCreated   bool

	locks *control.LockManager
}

// Option configures tunables at construction time.
type Option func(*Projector)

// WithLockTimeout overrides the lease width (default 1s).
func WithLockTimeout(d time.Duration) Option {
	return func(p *Projector) { p.lockTimeout = d }
}

// WithPersistBlockSize overrides the number of events between forced
// checkpoints during a pass (default 1000).
func WithPersistBlockSize(n int) Option {
	return func(p *Projector) { p.persistBlockSize = n }
}

// WithUpdateLockThreshold overrides how often an idle pass refreshes
// the lease (default 0, meaning "always").
func WithUpdateLockThreshold(d time.Duration) Option {
	return func(p *Projector) { p.updateLockThreshold = d }
}

// WithLogger overrides the logger (default: a no-op logger).
func WithLogger(l log.Logger) Option {
	return func(p *Projector) { p.logger = l }
}

// New creates a plain, in-memory-state projector.
func New(name string, store eventstore.Store, ctrl control.Store, manager control.Manager, opts ...Option) *Projector {
	return newProjector(name, store, ctrl, manager, nil, opts...)
}

// NewReadModel creates a read-model projector: identical to New,
// additionally driving rm through its init/persist/reset/delete
// lifecycle.
func NewReadModel(name string, store eventstore.Store, ctrl control.Store, manager control.Manager, rm ReadModel, opts ...Option) *Projector {
	return newProjector(name, store, ctrl, manager, readModelSink{rm: rm}, opts...)
}

// newProjector wires up the given sink, or a noopSink bound to this
// instance when sk is nil (New's plain-projector path), since noopSink
// needs the projector itself to delete its emitted-events stream.
func newProjector(name string, store eventstore.Store, ctrl control.Store, manager control.Manager, sk sink, opts ...Option) *Projector {
	p := &Projector{
		name:                name,
		store:               store,
		ctrl:                ctrl,
		manager:             manager,
		logger:              log.Nop,
		lockTimeout:         defaultLockTimeout,
		persistBlockSize:    defaultBlockSize,
		updateLockThreshold: 0,
		status:              control.StatusIdle,
	}
	if sk == nil {
		sk = noopSink{p: p}
	}
	p.sink = sk
	for _, o := range opts {
		o(p)
	}
	p.locks = control.NewLockManager(p.ctrl, p.name, p.lockTimeout, p.updateLockThreshold)
	return p
}

// Name returns the projection's name, satisfying worker.Worker.
func (p *Projector) Name() string { return p.name }

// Init sets the function that produces the initial state, and
// evaluates it immediately to seed State(). May be called at most
// once.
func (p *Projector) Init(thunk func() interface{}) error {
	if p.initSet {
		return faults.Wrap(ErrAlreadyInitialized)
	}
	p.initSet = true
	p.initThunk = thunk
	p.state = thunk()
	return nil
}

// FromAll queries every stream the event store knows about. May be
// called at most once, and not alongside FromStream/FromStreams.
func (p *Projector) FromAll() error {
	if p.fromSet {
		return faults.Wrap(ErrFromAlreadyCalled)
	}
	p.fromSet = true
	p.query = querySpec{queryAll: true}
	return nil
}

// FromStream queries a single stream, optionally filtered by matcher
// (nil means "every event"). May be called at most once, and not
// alongside FromAll/FromStreams.
func (p *Projector) FromStream(stream string, matcher eventstore.Matcher) error {
	if p.fromSet {
		return faults.Wrap(ErrFromAlreadyCalled)
	}
	p.fromSet = true
	p.query = querySpec{
		queryStreams: []string{stream},
		matchers:     map[string]eventstore.Matcher{stream: matcher},
	}
	return nil
}

// StreamMatcher pairs a stream name with its optional matcher, for
// FromStreams.
type StreamMatcher struct {
	Stream  string
	Matcher eventstore.Matcher
}

// FromStreams queries the given set of streams, each with its own
// matcher. May be called at most once, and not alongside
// FromAll/FromStream.
func (p *Projector) FromStreams(streams ...StreamMatcher) error {
	if p.fromSet {
		return faults.Wrap(ErrFromAlreadyCalled)
	}
	p.fromSet = true
	names := make([]string, len(streams))
	matchers := make(map[string]eventstore.Matcher, len(streams))
	for i, sm := range streams {
		names[i] = sm.Stream
		matchers[sm.Stream] = sm.Matcher
	}
	p.query = querySpec{queryStreams: names, matchers: matchers}
	return nil
}

// When registers one handler per event name. May be called at most
// once, and not alongside WhenAny.
func (p *Projector) When(handlers map[string]Handler) error {
	if p.whenSet {
		return faults.Wrap(ErrWhenAlreadyCalled)
	}
	p.whenSet = true
	p.handler = handlerRegistry{named: handlers}
	return nil
}

// WhenAny registers a single catch-all handler for every event. May be
// called at most once, and not alongside When.
func (p *Projector) WhenAny(h Handler) error {
	if p.whenSet {
		return faults.Wrap(ErrWhenAlreadyCalled)
	}
	p.whenSet = true
	p.handler = handlerRegistry{any: h}
	return nil
}

// State returns the current working state (a defensive deep copy).
func (p *Projector) State() interface{} {
	clone, err := deepCopyState(p.state)
	if err != nil {
		return p.state
	}
	return clone
}

// Stop requests that the main loop break out at the next
// event/pass boundary.
func (p *Projector) Stop() {
	p.isStopped = true
}

// IsRunning reports whether the projector believes it is actively
// running, for worker.Worker.
func (p *Projector) IsRunning() bool {
	return !p.isStopped && p.status == control.StatusRunning
}
