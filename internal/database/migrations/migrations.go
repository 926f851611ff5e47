// Package migrations owns the session database schema. Migration files are
// embedded so the binary can bring any session database up to date.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// Status describes where a session database stands against the embedded
// migrations. Current is 0 for a database that was never migrated.
type Status struct {
	Current uint
	Latest  uint
	Dirty   bool
}

// Err explains why the schema cannot be used, or returns nil when it is at
// the latest version.
func (s Status) Err() error {
	switch {
	case s.Dirty:
		return fmt.Errorf("session database is dirty at version %d; a previous migration failed", s.Current)
	case s.Current == 0:
		return errors.New("session database has no schema version")
	case s.Current < s.Latest:
		return fmt.Errorf("session database is at version %d, latest is %d", s.Current, s.Latest)
	case s.Current > s.Latest:
		return fmt.Errorf("session database version %d is newer than this binary (%d)", s.Current, s.Latest)
	default:
		return nil
	}
}

// ReadStatus reports the schema version of db without changing it.
func ReadStatus(db *sql.DB) (Status, error) {
	m, err := newMigrate(db)
	if err != nil {
		return Status{}, err
	}
	// m is not closed: closing it would close db, which the caller owns.
	return status(m)
}

// Up applies every pending migration and returns the resulting status.
// It fails if the schema is still not current afterwards.
func Up(db *sql.DB) (Status, error) {
	m, err := newMigrate(db)
	if err != nil {
		return Status{}, err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return Status{}, fmt.Errorf("applying session migrations: %w", err)
	}
	st, err := status(m)
	if err != nil {
		return Status{}, err
	}
	return st, st.Err()
}

func status(m *migrate.Migrate) (Status, error) {
	latest, err := latestVersion()
	if err != nil {
		return Status{}, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{Latest: latest}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("reading schema version: %w", err)
	}
	return Status{Current: version, Latest: latest, Dirty: dirty}, nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("wrapping session database: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

// latestVersion walks the embedded migrations to the last one.
func latestVersion() (uint, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("reading embedded migrations: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("no embedded migrations: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading migration after %d: %w", v, err)
		}
		v = next
	}
}
