package postgres

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/quintans/faults"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the projections table schema from the embedded
// migration files.
func Migrate(db *sql.DB, tableName string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return faults.Wrap(err)
	}

	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{
		MigrationsTable: tableName + "_schema_migrations",
	})
	if err != nil {
		return faults.Wrap(err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return faults.Wrap(err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return faults.Wrap(err)
	}
	return nil
}
