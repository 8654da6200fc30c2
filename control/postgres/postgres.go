// Package postgres is the relational implementation of control.Store:
// sqlx over database/sql, struct tags for scanning, and a *pq.Error
// code check to distinguish a constraint violation from any other
// failure.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/quintans/faults"

	"github.com/quintans/projector/control"
)

const (
	pgUniqueViolation = "23505"
	defaultTable      = "projections"
)

type pgRow struct {
	Name        string     `db:"name"`
	Position    []byte     `db:"position"`
	State       []byte     `db:"state"`
	Status      string     `db:"status"`
	LockedUntil *time.Time `db:"locked_until"`
}

// StoreOption configures a Store at construction time.
type StoreOption func(*Store)

// WithTableName overrides the control table name ("projections" by
// default).
func WithTableName(name string) StoreOption {
	return func(s *Store) {
		s.table = name
	}
}

// Store is a control.Store backed by Postgres.
type Store struct {
	db    *sqlx.DB
	table string
}

// New opens a new connection pool and returns a Store. Callers that
// want the schema managed for them should also call Migrate.
func New(cfg Config, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL())
	if err != nil {
		return nil, faults.Wrap(err)
	}
	return NewFromDB(db, opts...)
}

// NewFromDB wraps an existing *sql.DB, for callers that already hold a
// connection (tests, shared pools).
func NewFromDB(db *sql.DB, opts ...StoreOption) (*Store, error) {
	s := &Store{
		db:    sqlx.NewDb(db, "postgres"),
		table: defaultTable,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	q := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE name = $1)`, s.table)
	if err := s.db.GetContext(ctx, &exists, q, name); err != nil {
		return false, faults.Errorf("control/postgres: checking existence of %q: %w", name, err)
	}
	return exists, nil
}

func (s *Store) Create(ctx context.Context, name string, status control.Status) error {
	q := fmt.Sprintf(
		`INSERT INTO %s (name, position, state, status) VALUES ($1, '{}', '{}', $2) ON CONFLICT (name) DO NOTHING`,
		s.table,
	)
	_, err := s.db.ExecContext(ctx, q, name, string(status))
	if err != nil {
		if isPgDup(err) {
			// Idempotent: two runners racing to create the same row.
			return nil
		}
		return faults.Errorf("control/postgres: creating %q: %w", name, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, name string) (map[string]int64, []byte, error) {
	var row struct {
		Position []byte `db:"position"`
		State    []byte `db:"state"`
	}
	q := fmt.Sprintf(`SELECT position, state FROM %s WHERE name = $1`, s.table)
	err := s.db.GetContext(ctx, &row, q, name)
	if err == sql.ErrNoRows {
		return nil, nil, faults.Wrap(control.ErrProjectionNotFound)
	}
	if err != nil {
		return nil, nil, faults.Errorf("control/postgres: loading %q: %w", name, err)
	}

	position := map[string]int64{}
	if err := json.Unmarshal(row.Position, &position); err != nil {
		return nil, nil, faults.Errorf("control/postgres: decoding position for %q: %w", name, err)
	}
	return position, row.State, nil
}

func (s *Store) Persist(ctx context.Context, name string, lockedUntil time.Time, state []byte, position map[string]int64) error {
	posJSON, err := json.Marshal(position)
	if err != nil {
		return faults.Errorf("control/postgres: encoding position for %q: %w", name, err)
	}

	q := fmt.Sprintf(
		`UPDATE %s SET position = $2, state = $3, locked_until = $4 WHERE name = $1`,
		s.table,
	)
	res, err := s.db.ExecContext(ctx, q, name, posJSON, state, lockedUntil)
	if err != nil {
		return faults.Errorf("control/postgres: persisting %q: %w", name, err)
	}
	return checkAffected(res, name)
}

func (s *Store) UpdateStatus(ctx context.Context, name string, status control.Status) error {
	q := fmt.Sprintf(`UPDATE %s SET status = $2 WHERE name = $1`, s.table)
	res, err := s.db.ExecContext(ctx, q, name, string(status))
	if err != nil {
		return faults.Errorf("control/postgres: updating status of %q: %w", name, err)
	}
	return checkAffected(res, name)
}

func (s *Store) ClearLock(ctx context.Context, name string, status control.Status) error {
	q := fmt.Sprintf(`UPDATE %s SET locked_until = NULL, status = $2 WHERE name = $1`, s.table)
	res, err := s.db.ExecContext(ctx, q, name, string(status))
	if err != nil {
		return faults.Errorf("control/postgres: clearing lock on %q: %w", name, err)
	}
	return checkAffected(res, name)
}

func (s *Store) Delete(ctx context.Context, name string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, s.table)
	res, err := s.db.ExecContext(ctx, q, name)
	if err != nil {
		return faults.Errorf("control/postgres: deleting %q: %w", name, err)
	}
	return checkAffected(res, name)
}

// AcquireLock takes the lease conditional on it being unheld or
// expired, and checks the affected row count: a zero-row update means
// another runner already holds a live lease, and that must surface as
// ErrLockNotAcquired rather than proceed as if the lease were taken.
func (s *Store) AcquireLock(ctx context.Context, name string, timeout time.Duration) error {
	now := time.Now().UTC()
	until := lockUntilPG(now, timeout)
	q := fmt.Sprintf(
		`UPDATE %s SET locked_until = $2, status = $4 WHERE name = $1 AND (locked_until IS NULL OR locked_until < $3)`,
		s.table,
	)
	res, err := s.db.ExecContext(ctx, q, name, until, now, string(control.StatusRunning))
	if err != nil {
		return faults.Errorf("control/postgres: acquiring lock on %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return faults.Wrap(err)
	}
	if affected == 0 {
		return faults.Wrap(control.ErrLockNotAcquired)
	}
	return nil
}

func (s *Store) RefreshLock(ctx context.Context, name string, timeout time.Duration) error {
	until := lockUntilPG(time.Now().UTC(), timeout)
	q := fmt.Sprintf(`UPDATE %s SET locked_until = $2 WHERE name = $1`, s.table)
	res, err := s.db.ExecContext(ctx, q, name, until)
	if err != nil {
		return faults.Errorf("control/postgres: refreshing lock on %q: %w", name, err)
	}
	return checkAffected(res, name)
}

func (s *Store) FetchStatus(ctx context.Context, name string) (control.Status, error) {
	var status string
	q := fmt.Sprintf(`SELECT status FROM %s WHERE name = $1`, s.table)
	err := s.db.GetContext(ctx, &status, q, name)
	if err == sql.ErrNoRows {
		return "", faults.Wrap(control.ErrProjectionNotFound)
	}
	if err != nil {
		return "", faults.Errorf("control/postgres: fetching status of %q: %w", name, err)
	}
	return control.Status(status), nil
}

// lockUntilPG computes the lease expiry.
func lockUntilPG(now time.Time, timeout time.Duration) time.Time {
	return now.Add(timeout)
}

func checkAffected(res sql.Result, name string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return faults.Wrap(err)
	}
	if affected == 0 {
		return faults.Wrap(control.ErrProjectionNotFound)
	}
	return nil
}

func isPgDup(err error) bool {
	pgerr, ok := err.(*pq.Error)
	return ok && pgerr.Code == pgUniqueViolation
}

var _ control.Store = (*Store)(nil)
