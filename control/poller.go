package control

import "context"

// Manager is the higher-level facade the projector's remote-control
// poller and position preparation consume: status reads, an
// idle-projection convenience (not called by the projector engine),
// and stream-name discovery for "from all" queries.
//
// The polling behavior itself lives in the projector engine, which
// calls FetchProjectionStatus at every block boundary and pass
// boundary and treats any error as "running" — a projection that
// cannot observe operator commands keeps working rather than
// self-stopping.
type Manager interface {
	FetchProjectionStatus(ctx context.Context, name string) (Status, error)
	IdleProjection(ctx context.Context, name string) error
	FetchAllStreamNames(ctx context.Context) ([]string, error)
}

// StoreManager adapts a Store (and, for stream discovery, a stream
// lister) into a Manager.
type StoreManager struct {
	store   Store
	streams StreamLister
}

// StreamLister lists every stream name known to the underlying event
// store, used when a projection queries "all" streams. It is a narrow
// interface so either backend can supply it.
type StreamLister interface {
	StreamNames(ctx context.Context) ([]string, error)
}

func NewStoreManager(store Store, streams StreamLister) *StoreManager {
	return &StoreManager{store: store, streams: streams}
}

func (m *StoreManager) FetchProjectionStatus(ctx context.Context, name string) (Status, error) {
	return m.store.FetchStatus(ctx, name)
}

func (m *StoreManager) IdleProjection(ctx context.Context, name string) error {
	return m.store.UpdateStatus(ctx, name, StatusIdle)
}

func (m *StoreManager) FetchAllStreamNames(ctx context.Context) ([]string, error) {
	return m.streams.StreamNames(ctx)
}

var _ Manager = (*StoreManager)(nil)
