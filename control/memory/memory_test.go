package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quintans/projector/control"
	"github.com/quintans/projector/control/memory"
)

func TestCreateIsIdempotentAndSeedsEmptyRow(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "p", control.StatusIdle))
	require.NoError(t, s.Create(ctx, "p", control.StatusRunning)) // idempotent, ignores second status

	position, state, err := s.Load(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, position)
	assert.Equal(t, "{}", string(state))
}

func TestLoadUnknownProjectionFails(t *testing.T) {
	s := memory.New()
	_, _, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, control.ErrProjectionNotFound)
}

func TestPersistUpdatesPositionStateAndLock(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "p", control.StatusIdle))

	until := time.Now().Add(time.Minute)
	require.NoError(t, s.Persist(ctx, "p", until, []byte(`{"n":1}`), map[string]int64{"s": 1}))

	position, state, err := s.Load(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"s": 1}, position)
	assert.JSONEq(t, `{"n":1}`, string(state))

	_, _, _, locked, ok := s.Snapshot("p")
	require.True(t, ok)
	require.NotNil(t, locked)
	assert.True(t, locked.Equal(until))
}

func TestAcquireLockRejectsWhileHeld(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "p", control.StatusIdle))

	require.NoError(t, s.AcquireLock(ctx, "p", time.Minute))
	err := s.AcquireLock(ctx, "p", time.Minute)
	assert.ErrorIs(t, err, control.ErrLockNotAcquired)

	require.NoError(t, s.ClearLock(ctx, "p", control.StatusIdle))
	require.NoError(t, s.AcquireLock(ctx, "p", time.Minute))
}

func TestDeleteRemovesRow(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "p", control.StatusIdle))
	require.NoError(t, s.Delete(ctx, "p"))

	exists, err := s.Exists(ctx, "p")
	require.NoError(t, err)
	assert.False(t, exists)

	err = s.Delete(ctx, "p")
	assert.ErrorIs(t, err, control.ErrProjectionNotFound)
}
