package projector

import (
	"context"
	"sort"
	"time"

	"github.com/quintans/faults"

	"github.com/quintans/projector/control"
	"github.com/quintans/projector/eventstore"
)

// Run executes the projection runner's main sequence. If keepRunning
// is false it processes exactly one pass and returns; if true it loops
// until stopped locally (Stop) or remotely (a status transition to
// "stopping").
func (p *Projector) Run(ctx context.Context, keepRunning bool) (err error) {
	if !p.handler.configured() {
		return faults.Wrap(ErrNoHandler)
	}
	if !p.initSet {
		return faults.Wrap(ErrStateNotInitialised)
	}
	if !p.query.configured() {
		return faults.Wrap(ErrNoQuery)
	}

	done, err := p.preTransition(ctx, keepRunning)
	if err != nil || done {
		return err
	}

	exists, err := p.ctrl.Exists(ctx, p.name)
	if err != nil {
		return faults.Wrap(err)
	}
	if !exists {
		if err := p.ctrl.Create(ctx, p.name, control.StatusIdle); err != nil {
			return faults.Wrap(err)
		}
	}

	if err := p.locks.Acquire(ctx); err != nil {
		return faults.Wrap(err)
	}
	defer func() {
		if releaseErr := p.locks.Release(ctx, control.StatusIdle); releaseErr != nil {
			p.logger.WithError(releaseErr).Warnf("failed to release lock for %q", p.name)
		}
	}()

	if err := p.sink.onInit(ctx); err != nil {
		return faults.Wrap(err)
	}

	if err := p.preparePositions(ctx); err != nil {
		return faults.Wrap(err)
	}
	if err := p.loadCheckpoint(ctx); err != nil {
		return faults.Wrap(err)
	}

	p.isStopped = false
	for {
		if err := p.pass(ctx); err != nil {
			p.logger.WithError(err).Errorf("projection %q pass failed", p.name)
			return faults.Wrap(err)
		}

		if p.isStopped {
			return nil
		}

		done, err := p.postTransition(ctx)
		if err != nil {
			p.logger.WithError(err).Errorf("projection %q status transition failed", p.name)
			return faults.Wrap(err)
		}
		if done || !keepRunning {
			return nil
		}

		if err := p.preparePositions(ctx); err != nil {
			return faults.Wrap(err)
		}
	}
}

// preTransition implements the dispatch table used both before the
// loop starts and between passes.
func (p *Projector) preTransition(ctx context.Context, keepRunning bool) (done bool, err error) {
	status, err := p.fetchStatus(ctx)
	if err != nil {
		return false, err
	}

	switch status {
	case control.StatusStopping:
		if err := p.loadCheckpoint(ctx); err != nil {
			return true, err
		}
		p.stopLocal()
		return true, nil
	case control.StatusDeleting:
		return true, p.Delete(ctx, false)
	case control.StatusDeletingInclEmitted:
		return true, p.Delete(ctx, true)
	case control.StatusResetting:
		if err := p.reset(ctx); err != nil {
			return true, err
		}
		if keepRunning {
			if err := p.startAgain(ctx); err != nil {
				return true, err
			}
			return false, nil
		}
		return false, nil
	}
	return false, nil
}

func (p *Projector) postTransition(ctx context.Context) (done bool, err error) {
	return p.preTransition(ctx, true)
}

// fetchStatus reads the remote status. A read failure is swallowed
// and treated as "running" — a projection that cannot observe operator
// commands keeps working rather than self-stopping.
func (p *Projector) fetchStatus(ctx context.Context) (control.Status, error) {
	status, err := p.manager.FetchProjectionStatus(ctx, p.name)
	if err != nil {
		p.logger.WithError(err).Warnf("failed to fetch status for %q, assuming running", p.name)
		return control.StatusRunning, nil
	}
	p.status = status
	return status, nil
}

func (p *Projector) stopLocal() {
	p.isStopped = true
}

// preparePositions enumerates the streams the query wants, seeds each
// at 0, then overlays whatever is already in streamPositions —
// persisted positions always win.
func (p *Projector) preparePositions(ctx context.Context) error {
	var names []string
	if p.query.queryAll {
		all, err := p.manager.FetchAllStreamNames(ctx)
		if err != nil {
			return faults.Wrap(err)
		}
		names = all
	} else {
		names = p.query.queryStreams
	}

	if p.streamPositions == nil {
		p.streamPositions = positionMap{}
	}
	p.streamPositions = p.streamPositions.merge(names)
	return nil
}

func (p *Projector) loadCheckpoint(ctx context.Context) error {
	position, state, err := p.ctrl.Load(ctx, p.name)
	if err != nil {
		return faults.Wrap(err)
	}
	merged := positionMap(position)
	if p.streamPositions != nil {
		for k, v := range p.streamPositions {
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
	}
	p.streamPositions = merged

	decoded, err := decodeState(state)
	if err != nil {
		return err
	}
	// A freshly created control row always persists an empty state; in
	// that case the working state seeded by Init is the real starting
	// point and must not be clobbered by the empty placeholder. A row
	// that actually holds prior progress (a resumed projection) replaces
	// the working state as usual.
	if !isEmptyState(decoded) || p.state == nil {
		p.state = decoded
	}
	return nil
}

func isEmptyState(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	return ok && len(m) == 0
}

// pass runs one full drain of the merge-load sequence.
func (p *Projector) pass(ctx context.Context) error {
	p.eventCounter = 0

	// Streams are queried in the order the query names them, then any
	// others (FromAll, or streams only in the checkpoint) by name.
	order := make([]string, 0, len(p.streamPositions))
	seen := make(map[string]bool, len(p.streamPositions))
	for _, stream := range p.query.queryStreams {
		if _, ok := p.streamPositions[stream]; ok && !seen[stream] {
			seen[stream] = true
			order = append(order, stream)
		}
	}
	var rest []string
	for stream := range p.streamPositions {
		if !seen[stream] {
			rest = append(rest, stream)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)

	queries := make([]eventstore.StreamQuery, 0, len(order))
	for _, stream := range order {
		queries = append(queries, eventstore.StreamQuery{
			Stream:     stream,
			FromNumber: p.streamPositions[stream],
			Matcher:    p.query.matcherFor(stream),
		})
	}

	events, err := p.store.MergeAndLoad(ctx, queries...)
	if err != nil {
		return faults.Wrap(err)
	}

	for _, e := range events {
		if err := p.handleEvent(ctx, e); err != nil {
			return err
		}
		if p.isStopped {
			return nil
		}
		if p.persistBlockSize > 0 && p.eventCounter%p.persistBlockSize == 0 {
			if err := p.persist(ctx); err != nil {
				return err
			}
			if _, err := p.postTransition(ctx); err != nil {
				return err
			}
			if p.isStopped {
				// Already checkpointed at this block boundary; the
				// "after the sequence drains" step below only applies
				// when the sequence actually drained on its own.
				return nil
			}
		}
	}

	if p.eventCounter == 0 {
		time.Sleep(defaultIdleSleep)
		if err := p.locks.RefreshIfDue(ctx); err != nil {
			return faults.Wrap(err)
		}
	} else {
		if err := p.persist(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Projector) handleEvent(ctx context.Context, e eventstore.Event) error {
	p.streamPositions[e.Metadata.Stream] = e.No
	p.eventCounter++

	h, ok := p.handler.find(e.Name)
	if !ok {
		return nil
	}

	newState, err := h(ctx, p.state, e)
	if err != nil {
		return faults.Errorf("projector: handler for event %q failed: %w", e.Name, err)
	}
	clone, err := deepCopyState(newState)
	if err != nil {
		return err
	}
	p.state = clone
	return nil
}

// persist is the canonical checkpoint write. For a read-model
// projector the read model is persisted first, so the control row
// never claims progress that hasn't been externalized.
func (p *Projector) persist(ctx context.Context) error {
	if err := p.sink.onPersist(ctx); err != nil {
		return faults.Wrap(err)
	}

	body, err := encodeState(p.state)
	if err != nil {
		return err
	}

	until := time.Now().Add(p.lockTimeout)
	if err := p.ctrl.Persist(ctx, p.name, until, body, p.streamPositions); err != nil {
		return faults.Wrap(err)
	}
	return nil
}

// reset implements the "resetting" transition: positions and state are
// zeroed, the read model (if any) is reset, and the control row
// reflects status=idle with the lease cleared, so a following Acquire
// can take it. When the reset is observed between passes, the loop
// carries on without a lease until the next persist or idle refresh
// writes one again.
func (p *Projector) reset(ctx context.Context) error {
	p.streamPositions = positionMap{}
	p.state = p.initThunk()

	if err := p.sink.onReset(ctx); err != nil {
		return faults.Wrap(err)
	}

	if err := p.deleteEmittedStream(ctx); err != nil {
		// best-effort: failure is logged but does not abort the reset
		p.logger.WithError(err).Warnf("failed to delete emitted stream for %q during reset", p.name)
	}

	body, err := encodeState(p.state)
	if err != nil {
		return err
	}
	if err := p.ctrl.Persist(ctx, p.name, time.Now().Add(p.lockTimeout), body, p.streamPositions); err != nil {
		return faults.Wrap(err)
	}
	return p.ctrl.ClearLock(ctx, p.name, control.StatusIdle)
}

// startAgain flips the remote status back to "running" after a reset
// that should keep the loop going.
func (p *Projector) startAgain(ctx context.Context) error {
	p.isStopped = false
	return p.ctrl.UpdateStatus(ctx, p.name, control.StatusRunning)
}

// Delete takes an explicit flag rather than an implicit default: for
// the plain projector it controls whether the projection's own
// emitted-events stream is also removed; for a read-model projector it
// controls whether the read model is also removed. Both default false
// unless the caller opts in explicitly. The two are independent
// concerns routed entirely through the sink: a read-model projector's
// delete never touches its emitted-events stream, and a plain
// projector's delete never touches a read model it doesn't have.
func (p *Projector) Delete(ctx context.Context, deleteAlso bool) error {
	if err := p.sink.onDelete(ctx, deleteAlso); err != nil {
		return faults.Wrap(err)
	}
	if err := p.ctrl.Delete(ctx, p.name); err != nil {
		return faults.Wrap(err)
	}
	p.isStopped = true
	return nil
}

// Start begins running the projector with keepRunning=true in a new
// goroutine, satisfying worker.Worker. Errors surface only via the
// logger, since Worker.Start has no error return.
func (p *Projector) Start(ctx context.Context) bool {
	if p.IsRunning() {
		return false
	}
	p.isStopped = false
	go func() {
		if err := p.Run(ctx, true); err != nil {
			p.logger.WithError(err).Errorf("projection %q stopped", p.name)
		}
	}()
	return true
}
