package control

import (
	"context"
	"time"
)

// LockManager implements the advisory lease protocol for one
// projection: acquire, conditionally refresh, and release, on top of a
// Store.
type LockManager struct {
	store           Store
	name            string
	timeout         time.Duration
	updateThreshold time.Duration
	lastUpdate      time.Time
	now             func() time.Time
}

// NewLockManager builds a LockManager for the given projection name.
// timeout is the lease width; updateThreshold controls how often an
// idle pass refreshes the lease (0 means "always refresh on every idle
// pass"). Both are used as given; the projector passes 1s and 0 unless
// overridden.
func NewLockManager(store Store, name string, timeout, updateThreshold time.Duration) *LockManager {
	return &LockManager{
		store:           store,
		name:            name,
		timeout:         timeout,
		updateThreshold: updateThreshold,
		now:             time.Now,
	}
}

// Acquire takes the lease, failing with ErrLockNotAcquired if another
// runner currently holds it.
func (m *LockManager) Acquire(ctx context.Context) error {
	return m.store.AcquireLock(ctx, m.name, m.timeout)
}

// RefreshIfDue refreshes the lease when shouldUpdateLock says it's
// time to — called on every idle pass of the projection runner.
func (m *LockManager) RefreshIfDue(ctx context.Context) error {
	now := m.now()
	if !shouldUpdateLock(now, m.lastUpdate, m.updateThreshold) {
		return nil
	}
	if err := m.store.RefreshLock(ctx, m.name, m.timeout); err != nil {
		return err
	}
	m.lastUpdate = now
	return nil
}

// Release clears the lease and sets the final status.
func (m *LockManager) Release(ctx context.Context, status Status) error {
	return m.store.ClearLock(ctx, m.name, status)
}

// shouldUpdateLock decides whether an idle pass should refresh the
// lease: always when the threshold is zero or no refresh has happened
// yet, otherwise only once the threshold has elapsed since the last
// refresh.
func shouldUpdateLock(now, lastUpdate time.Time, threshold time.Duration) bool {
	if threshold <= 0 || lastUpdate.IsZero() {
		return true
	}
	return !now.Before(lastUpdate.Add(threshold))
}
