package database

import (
	"context"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator handles database migrations
type Migrator struct {
	migrate *migrate.Migrate
}

// NewMigrator creates a migrator over the SQL files embedded in the binary.
func NewMigrator(db *DB) (*Migrator, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to open embedded migrations")
	}

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBConnection, "failed to create postgres driver")
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to create migrator")
	}

	return &Migrator{migrate: m}, nil
}

// Up runs all pending migrations
func (m *Migrator) Up() error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to run migrations")
	}
	version, _, _ := m.migrate.Version()
	logger.Info("Database migrations completed", "version", version)
	return nil
}

// Down rolls back all migrations
func (m *Migrator) Down() error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to rollback migrations")
	}
	logger.Info("Database migrations rolled back")
	return nil
}

// Version returns the current migration version
func (m *Migrator) Version() (uint, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to get migration version")
	}
	if dirty {
		return version, apperrors.Newf(apperrors.ErrCodeDBQuery, "database is in dirty state at version %d", version)
	}
	return version, nil
}

// Force sets the migration version without running migrations
func (m *Migrator) Force(version int) error {
	if err := m.migrate.Force(version); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to force migration version")
	}
	logger.Warn("Forced migration version", "version", version)
	return nil
}

// Close closes the migrator. The postgres driver closes the *sql.DB it was
// given as well, so only call it when the connection is no longer needed.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

// Migrate applies pending migrations over a dedicated connection and closes
// it, leaving the caller's pool untouched. It returns the resulting version.
func Migrate(ctx context.Context, cfg Config) (uint, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return 0, err
	}
	m, err := NewMigrator(db)
	if err != nil {
		db.Close()
		return 0, err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		return 0, err
	}
	return m.Version()
}
