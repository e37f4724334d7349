package database

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const migrationsDir = "migrations"

// ErrNoChange is returned when there is nothing to apply or roll back.
var ErrNoChange = migrate.ErrNoChange

// Migrator applies the embedded schema migrations.
type Migrator struct {
	m *migrate.Migrate
}

// MigrationSource opens the embedded migrations as a golang-migrate source.
func MigrationSource() (source.Driver, error) {
	driver, err := iofs.New(MigrationFS, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}
	return driver, nil
}

// NewMigrator connects golang-migrate to dsn using the embedded source.
func NewMigrator(dsn string) (*Migrator, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database url is required")
	}

	src, err := MigrationSource()
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies all pending migrations, or only steps of them when steps > 0.
func (r *Migrator) Up(steps int) error {
	var err error
	if steps > 0 {
		err = r.m.Steps(steps)
	} else {
		err = r.m.Up()
	}
	return normalizeMigrateError(err)
}

// Down rolls back steps migrations.
func (r *Migrator) Down(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("down requires a positive step count, got %d", steps)
	}
	return normalizeMigrateError(r.m.Steps(-steps))
}

// Force marks version as applied without running it, clearing the dirty flag.
func (r *Migrator) Force(version int) error {
	if err := r.m.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

// Version reports the current schema version and whether it is dirty.
func (r *Migrator) Version() (uint, bool, error) {
	version, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

// Close releases the source and database handles.
func (r *Migrator) Close() error {
	srcErr, dbErr := r.m.Close()
	return errors.Join(srcErr, dbErr)
}

// golang-migrate reports a step count past the last migration as a short
// limit or a bare not-exist error.
func normalizeMigrateError(err error) error {
	if err == nil {
		return nil
	}
	var short migrate.ErrShortLimit
	if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, os.ErrNotExist) || errors.As(err, &short) {
		return ErrNoChange
	}
	return fmt.Errorf("apply migrations: %w", err)
}
