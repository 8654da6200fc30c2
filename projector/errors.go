package projector

import (
	"errors"

	"github.com/quintans/projector/control"
)

// Builder misuse errors. These are programmer errors: they arise
// before any I/O and are raised synchronously, never retried.
var (
	ErrAlreadyInitialized  = errors.New("projector: init already called")
	ErrFromAlreadyCalled   = errors.New("projector: from already called")
	ErrWhenAlreadyCalled   = errors.New("projector: when already called")
	ErrNoHandler           = errors.New("projector: no handler configured")
	ErrStateNotInitialised = errors.New("projector: state not initialised")

	// ErrNoQuery is raised at Run when neither FromAll nor FromStream/
	// FromStreams was ever called: the query is a required piece of
	// configuration and its absence is a programmer error, not a
	// runtime condition to tolerate.
	ErrNoQuery = errors.New("projector: no stream query configured")

	// ErrProjectionNotFound re-exports control.ErrProjectionNotFound so
	// callers of Builder/Run never need to import the control package
	// just to errors.Is against it.
	ErrProjectionNotFound = control.ErrProjectionNotFound

	// ErrLockNotAcquired re-exports control.ErrLockNotAcquired.
	ErrLockNotAcquired = control.ErrLockNotAcquired
)
