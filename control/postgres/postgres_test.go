package postgres_test

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/quintans/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/quintans/projector/control"
	"github.com/quintans/projector/control/postgres"
)

var dbConfig = postgres.Config{
	Database: "projector",
	Host:     "localhost",
	Port:     5432,
	Username: "postgres",
	Password: "postgres",
}

func TestMain(m *testing.M) {
	tearDown, err := setup()
	if err != nil {
		log.Fatal(err)
	}

	var code int
	func() {
		defer tearDown()
		code = m.Run()
	}()

	os.Exit(code)
}

func setup() (func(), error) {
	return bootstrapDBContainer(context.Background())
}

func bootstrapDBContainer(ctx context.Context) (func(), error) {
	tcpPort := strconv.Itoa(dbConfig.Port)
	natPort := nat.Port(tcpPort)

	req := testcontainers.ContainerRequest{
		Image:        "postgres:12.3",
		ExposedPorts: []string{tcpPort + "/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     dbConfig.Username,
			"POSTGRES_PASSWORD": dbConfig.Password,
			"POSTGRES_DB":       dbConfig.Database,
		},
		WaitingFor: wait.ForListeningPort(natPort),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, faults.Wrap(err)
	}

	tearDown := func() {
		container.Terminate(ctx)
	}

	ip, err := container.Host(ctx)
	if err != nil {
		tearDown()
		return nil, faults.Wrap(err)
	}
	port, err := container.MappedPort(ctx, natPort)
	if err != nil {
		tearDown()
		return nil, faults.Wrap(err)
	}

	dbConfig.Host = ip
	dbConfig.Port = port.Int()

	db, err := sql.Open("postgres", dbConfig.URL())
	if err != nil {
		tearDown()
		return nil, faults.Wrap(err)
	}
	defer db.Close()

	if err := postgres.Migrate(db, "projections"); err != nil {
		tearDown()
		return nil, faults.Wrap(err)
	}

	return tearDown, nil
}

func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	s, err := postgres.New(dbConfig)
	require.NoError(t, err)
	return s
}

// uniqueName gives each test its own projection name so repeated runs
// against the same container never collide on a stale row.
func uniqueName(prefix string) string {
	return prefix + "-" + uuid.New().String()
}

func TestCreateExistsLoad(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	name := uniqueName("create-exists-load")

	exists, err := s.Exists(ctx, name)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Create(ctx, name, control.StatusIdle))
	// idempotent
	require.NoError(t, s.Create(ctx, name, control.StatusIdle))

	exists, err = s.Exists(ctx, name)
	require.NoError(t, err)
	assert.True(t, exists)

	position, state, err := s.Load(ctx, name)
	require.NoError(t, err)
	assert.Empty(t, position)
	assert.Equal(t, "{}", string(state))
}

func TestLoadUnknownProjectionFails(t *testing.T) {
	s := newStore(t)
	name := uniqueName("does-not-exist")
	_, _, err := s.Load(context.Background(), name)
	assert.ErrorIs(t, err, control.ErrProjectionNotFound)
}

func TestPersistAndFetchStatus(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	name := uniqueName("persist-status")
	require.NoError(t, s.Create(ctx, name, control.StatusIdle))

	until := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	require.NoError(t, s.Persist(ctx, name, until, []byte(`{"n":1}`), map[string]int64{"s": 3}))

	position, state, err := s.Load(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"s": 3}, position)
	assert.JSONEq(t, `{"n":1}`, string(state))

	require.NoError(t, s.UpdateStatus(ctx, name, control.StatusStopping))
	status, err := s.FetchStatus(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, control.StatusStopping, status)
}

func TestAcquireLockIsExclusive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	name := uniqueName("exclusive-lock")
	require.NoError(t, s.Create(ctx, name, control.StatusIdle))

	require.NoError(t, s.AcquireLock(ctx, name, time.Minute))

	err := s.AcquireLock(ctx, name, time.Minute)
	assert.ErrorIs(t, err, control.ErrLockNotAcquired)

	require.NoError(t, s.ClearLock(ctx, name, control.StatusIdle))
	require.NoError(t, s.AcquireLock(ctx, name, time.Minute))
}

func TestDeleteMissingRowFails(t *testing.T) {
	s := newStore(t)
	name := uniqueName("never-created")
	err := s.Delete(context.Background(), name)
	assert.ErrorIs(t, err, control.ErrProjectionNotFound)
}
