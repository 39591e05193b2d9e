package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies all pending schema migrations for the dialect.
// The migrate instance is not closed because closing it would close db.
func (db *DB) Migrate() error {
	if db == nil || db.DB == nil {
		return errors.New("database: nil db")
	}
	src, err := iofs.New(migrationsFS, "migrations/"+string(db.dialect))
	if err != nil {
		return fmt.Errorf("database: migration source: %w", err)
	}

	var driver migratedb.Driver
	switch db.dialect {
	case DialectPostgres:
		driver, err = migratepgx.WithInstance(db.DB, &migratepgx.Config{})
	case DialectSQLite:
		driver, err = migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	default:
		err = fmt.Errorf("unsupported dialect %q", db.dialect)
	}
	if err != nil {
		return fmt.Errorf("database: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(db.dialect), driver)
	if err != nil {
		return fmt.Errorf("database: migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("database: migrate up: %w", err)
	}
	return nil
}
