package projector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quintans/projector/control"
	"github.com/quintans/projector/control/memory"
	"github.com/quintans/projector/eventstore"
	evmem "github.com/quintans/projector/eventstore/memory"
)

// fakeReadModel is a user-owned materialized view double: it only
// counts calls and optionally fails, so each hook can be exercised in
// isolation.
type fakeReadModel struct {
	initialized  bool
	initCalls    int
	persistCalls int
	resetCalls   int
	deleteCalls  int
	persistErr   error
}

func (r *fakeReadModel) Init(ctx context.Context) error {
	r.initCalls++
	r.initialized = true
	return nil
}

func (r *fakeReadModel) IsInitialized(ctx context.Context) (bool, error) {
	return r.initialized, nil
}

func (r *fakeReadModel) Persist(ctx context.Context) error {
	r.persistCalls++
	return r.persistErr
}

func (r *fakeReadModel) Reset(ctx context.Context) error {
	r.resetCalls++
	return nil
}

func (r *fakeReadModel) Delete(ctx context.Context) error {
	r.deleteCalls++
	return nil
}

func TestReadModelOnInitSkippedWhenAlreadyInitialized(t *testing.T) {
	store := evmem.New()
	ctrl := memory.New()
	manager := newTestManager(ctrl, store)
	rm := &fakeReadModel{initialized: true}

	p := NewReadModel("rm-init", store, ctrl, manager, rm)

	require.NoError(t, p.sink.onInit(context.Background()))
	assert.Equal(t, 0, rm.initCalls, "Init must not run when IsInitialized already reports true")
}

func TestReadModelOnInitRunsWhenNotInitialized(t *testing.T) {
	store := evmem.New()
	ctrl := memory.New()
	manager := newTestManager(ctrl, store)
	rm := &fakeReadModel{initialized: false}

	p := NewReadModel("rm-init", store, ctrl, manager, rm)

	require.NoError(t, p.sink.onInit(context.Background()))
	assert.Equal(t, 1, rm.initCalls)
}

// Persist must externalize the read model before the control row is
// written, so a checkpoint never claims progress the read model
// hasn't actually recorded. Proven here by failing the read-model
// write and confirming the control row was never touched.
func TestReadModelPersistRunsBeforeControlRow(t *testing.T) {
	store := evmem.New()
	ctrl := memory.New()
	manager := newTestManager(ctrl, store)
	rm := &fakeReadModel{persistErr: errors.New("read model unavailable")}

	require.NoError(t, ctrl.Create(context.Background(), "rm-persist", control.StatusIdle))

	p := NewReadModel("rm-persist", store, ctrl, manager, rm)
	p.streamPositions = positionMap{"s": 5}
	p.state = map[string]interface{}{"x": 1.0}

	err := p.persist(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, rm.persistCalls)

	position, _, _, _, ok := ctrl.Snapshot("rm-persist")
	require.True(t, ok)
	assert.Equal(t, map[string]int64{}, position, "control row must not advance when the read-model write failed")
}

func TestReadModelOnResetCalled(t *testing.T) {
	store := evmem.New()
	ctrl := memory.New()
	manager := newTestManager(ctrl, store)
	rm := &fakeReadModel{}

	p := NewReadModel("rm-reset", store, ctrl, manager, rm)

	require.NoError(t, p.sink.onReset(context.Background()))
	assert.Equal(t, 1, rm.resetCalls)
}

// Delete on a read-model projector must only ever touch the read
// model, never the emitted-events stream: that is the plain
// projector's resource, and the two delete flags are independent.
func TestReadModelDeleteOnlyDeletesReadModel(t *testing.T) {
	ctx := context.Background()
	store := evmem.New()
	ctrl := memory.New()
	manager := newTestManager(ctrl, store)
	rm := &fakeReadModel{}

	require.NoError(t, ctrl.Create(ctx, "rm-delete", control.StatusIdle))

	p := NewReadModel("rm-delete", store, ctrl, manager, rm)
	require.NoError(t, p.Emit(ctx, eventstore.Event{Name: "E"}))

	has, err := store.HasStream(ctx, "rm-delete")
	require.NoError(t, err)
	require.True(t, has, "test setup: emitted stream must exist before delete")

	require.NoError(t, p.Delete(ctx, true))
	assert.Equal(t, 1, rm.deleteCalls)

	has, err = store.HasStream(ctx, "rm-delete")
	require.NoError(t, err)
	assert.True(t, has, "read-model delete must not remove the emitted-events stream")

	exists, err := ctrl.Exists(ctx, "rm-delete")
	require.NoError(t, err)
	assert.False(t, exists, "control row must still be removed")
}

// The plain projector's delete is the mirror image: deleteAlso=true
// must remove the emitted-events stream.
func TestPlainProjectorDeleteRemovesEmittedStream(t *testing.T) {
	ctx := context.Background()
	store := evmem.New()
	ctrl := memory.New()
	manager := newTestManager(ctrl, store)

	require.NoError(t, ctrl.Create(ctx, "plain-delete", control.StatusIdle))

	p := New("plain-delete", store, ctrl, manager)
	require.NoError(t, p.Emit(ctx, eventstore.Event{Name: "E"}))

	has, err := store.HasStream(ctx, "plain-delete")
	require.NoError(t, err)
	require.True(t, has, "test setup: emitted stream must exist before delete")

	require.NoError(t, p.Delete(ctx, true))

	has, err = store.HasStream(ctx, "plain-delete")
	require.NoError(t, err)
	assert.False(t, has, "plain-projector delete(true) must remove the emitted-events stream")
}
