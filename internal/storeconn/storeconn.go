// Package storeconn opens a pooled Postgres connection and applies an
// embedded migration set for exactly one store. The Hospital Store and the
// Processing Store each call this independently, from their own package,
// with their own embedded migrations — there is no shared *sql.DB between
// the two stores anywhere in the process.
package storeconn

import (
	stdsql "database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver under "pgx"

	"github.com/AutonomosCdM/vigia-sub003/internal/config"
)

// DSN builds a pgx-compatible connection string from a StoreConfig.
func DSN(cfg config.StoreConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}

// Open connects to Postgres, configures the pool, applies pending migrations
// from migrationsFS (rooted at migrationsDir), and returns the raw handle.
// Callers wrap the returned *sql.DB in their own store-specific client.
func Open(cfg config.StoreConfig, migrationsFS embed.FS, migrationsDir string) (*stdsql.DB, error) {
	db, err := stdsql.Open("pgx", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := migrate0(db, cfg.Database, migrationsFS, migrationsDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return db, nil
}

func migrate0(db *stdsql.DB, dbName string, migrationsFS embed.FS, migrationsDir string) error {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no embedded migration files found under %s", migrationsDir)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, migrationsDir)
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying pending migrations: %w", err)
	}

	// Close only the migration source; closing m would close the shared
	// *sql.DB via the postgres driver and break the caller's handle.
	return sourceDriver.Close()
}
