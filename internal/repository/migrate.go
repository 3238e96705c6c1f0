package repository

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies every pending up migration for the database dialect.
// The migrator is not closed: closing it would close the shared *sql.DB.
func Migrate(db *DB, logger *slog.Logger) error {
	var (
		dir string
		drv database.Driver
		err error
	)
	switch db.Dialect {
	case dialect.Postgres:
		dir = "migrations/postgres"
		drv, err = migratepgx.WithInstance(db.DB, &migratepgx.Config{})
	case dialect.SQLite:
		dir = "migrations/sqlite"
		drv, err = migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	default:
		return fmt.Errorf("migrate: unsupported dialect %q", db.Dialect)
	}
	if err != nil {
		return fmt.Errorf("migrate: driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("migrate: source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, db.Dialect, drv)
	if err != nil {
		return fmt.Errorf("migrate: init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: up: %w", err)
	}
	version, dirty, verr := m.Version()
	if verr == nil {
		logger.Info("database migrated", "version", version, "dirty", dirty)
	}
	return nil
}
