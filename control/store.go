// Package control manages the shared control row that coordinates
// projection runners across processes: CRUD over the row, the
// advisory lease protocol, and the remote-control poller.
package control

import (
	"context"
	"errors"
	"time"
)

// ErrProjectionNotFound is raised by any mutating operation that
// targets a control row that does not exist (zero rows affected).
var ErrProjectionNotFound = errors.New("control: projection not found")

// ErrLockNotAcquired is returned by Store.AcquireLock when the
// conditional update affected no rows — another runner currently holds
// the lease, or held it until a time still in the future. Checking the
// affected row count and surfacing this failure, rather than
// proceeding optimistically, is what keeps two concurrent runners from
// both believing they hold an expired lease.
var ErrLockNotAcquired = errors.New("control: lock not acquired")

// Record is the persisted control row for one projection.
type Record struct {
	Name        string
	Position    map[string]int64
	State       []byte // JSON-encoded projection state
	Status      Status
	LockedUntil *time.Time
}

// Store is the control-record CRUD surface plus the lease protocol,
// against the shared relational store (or an in-memory stand-in for
// tests).
type Store interface {
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, name string, status Status) error
	Load(ctx context.Context, name string) (position map[string]int64, state []byte, err error)

	// Persist is the canonical checkpoint write: it updates position,
	// state and refreshes the lease in one statement.
	Persist(ctx context.Context, name string, lockedUntil time.Time, state []byte, position map[string]int64) error

	UpdateStatus(ctx context.Context, name string, status Status) error
	// ClearLock releases the lease and sets status in one statement.
	ClearLock(ctx context.Context, name string, status Status) error
	Delete(ctx context.Context, name string) error

	// AcquireLock attempts to take the lease for timeout, conditional on
	// the lease being unheld or expired. It returns ErrLockNotAcquired
	// if it could not.
	AcquireLock(ctx context.Context, name string, timeout time.Duration) error
	// RefreshLock unconditionally extends the lease.
	RefreshLock(ctx context.Context, name string, timeout time.Duration) error

	// FetchStatus reads only the status column, used by the
	// remote-control poller.
	FetchStatus(ctx context.Context, name string) (Status, error)
}
