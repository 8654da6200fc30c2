// Package memory is an in-memory control.Store used by tests and by
// single-process deployments that don't need cross-process
// coordination.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/quintans/projector/control"
)

type row struct {
	position    map[string]int64
	state       []byte
	status      control.Status
	lockedUntil *time.Time
}

// Store is a goroutine-safe, in-memory implementation of control.Store.
type Store struct {
	mu   sync.Mutex
	rows map[string]*row
	now  func() time.Time
}

// New creates an empty in-memory control store.
func New() *Store {
	return &Store{rows: map[string]*row{}, now: time.Now}
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[name]
	return ok, nil
}

func (s *Store) Create(ctx context.Context, name string, status control.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[name]; ok {
		return nil
	}
	s.rows[name] = &row{
		position: map[string]int64{},
		state:    []byte("{}"),
		status:   status,
	}
	return nil
}

func (s *Store) Load(ctx context.Context, name string) (map[string]int64, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[name]
	if !ok {
		return nil, nil, control.ErrProjectionNotFound
	}
	position := make(map[string]int64, len(r.position))
	for k, v := range r.position {
		position[k] = v
	}
	state := make([]byte, len(r.state))
	copy(state, r.state)
	return position, state, nil
}

func (s *Store) Persist(ctx context.Context, name string, lockedUntil time.Time, state []byte, position map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[name]
	if !ok {
		return control.ErrProjectionNotFound
	}
	lu := lockedUntil
	r.lockedUntil = &lu
	r.state = append([]byte(nil), state...)
	r.position = make(map[string]int64, len(position))
	for k, v := range position {
		r.position[k] = v
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, name string, status control.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[name]
	if !ok {
		return control.ErrProjectionNotFound
	}
	r.status = status
	return nil
}

func (s *Store) ClearLock(ctx context.Context, name string, status control.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[name]
	if !ok {
		return control.ErrProjectionNotFound
	}
	r.lockedUntil = nil
	r.status = status
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[name]; !ok {
		return control.ErrProjectionNotFound
	}
	delete(s.rows, name)
	return nil
}

func (s *Store) AcquireLock(ctx context.Context, name string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[name]
	if !ok {
		return control.ErrProjectionNotFound
	}
	now := s.now()
	if r.lockedUntil != nil && r.lockedUntil.After(now) {
		return control.ErrLockNotAcquired
	}
	until := now.Add(timeout)
	r.lockedUntil = &until
	r.status = control.StatusRunning
	return nil
}

func (s *Store) RefreshLock(ctx context.Context, name string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[name]
	if !ok {
		return control.ErrProjectionNotFound
	}
	until := s.now().Add(timeout)
	r.lockedUntil = &until
	return nil
}

func (s *Store) FetchStatus(ctx context.Context, name string) (control.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[name]
	if !ok {
		return "", control.ErrProjectionNotFound
	}
	return r.status, nil
}

// Snapshot returns a decoded copy of the row for assertions in tests.
func (s *Store) Snapshot(name string) (position map[string]int64, state map[string]interface{}, status control.Status, lockedUntil *time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, found := s.rows[name]
	if !found {
		return nil, nil, "", nil, false
	}
	position = make(map[string]int64, len(r.position))
	for k, v := range r.position {
		position[k] = v
	}
	state = map[string]interface{}{}
	_ = json.Unmarshal(r.state, &state)
	return position, state, r.status, r.lockedUntil, true
}

var _ control.Store = (*Store)(nil)
