package db

import (
	"database/sql"
	"errors"
	"fmt"

	"chat-fanout/internal/db/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// MigratePostgres applies the embedded Postgres migrations through pool.
func MigratePostgres(pool *pgxpool.Pool, log *zap.Logger) error {
	sqlDB := stdlib.OpenDBFromPool(pool)
	driver, err := pgxmigrate.WithInstance(sqlDB, &pgxmigrate.Config{})
	if err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("could not create migrate driver: %w", err)
	}
	return apply(driver, "postgres", "pgx5", log)
}

// MigrateSQLite applies the embedded SQLite migrations to the database file
// at path using a dedicated handle.
func MigrateSQLite(path string, log *zap.Logger) error {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("could not open db for migration: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(sqlDB, &sqlitemigrate.Config{})
	if err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("could not create migrate driver: %w", err)
	}
	return apply(driver, "sqlite", "sqlite", log)
}

// apply closes driver (and the handle it wraps) before returning.
func apply(driver database.Driver, dir, name string, log *zap.Logger) error {
	src, err := iofs.New(migrations.FS, dir)
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("could not read embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		_ = src.Close()
		_ = driver.Close()
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("could not read migration version: %w", err)
	}
	log.Info("schema up to date", zap.String("driver", name), zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
