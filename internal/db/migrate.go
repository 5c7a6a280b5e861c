package db

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/tubeshelf/accounts/config"
)

// DefaultMigrationsURL points at the SQL migrations relative to the repo root.
const DefaultMigrationsURL = "file://internal/db/migrations"

// MigrateUp applies all pending up migrations. No pending change is not an error.
func MigrateUp(migrationsURL string, cfg config.DatabaseConfig) error {
	return runMigration(migrationsURL, cfg, func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown reverts every applied migration.
func MigrateDown(migrationsURL string, cfg config.DatabaseConfig) error {
	return runMigration(migrationsURL, cfg, func(m *migrate.Migrate) error { return m.Down() })
}

func runMigration(migrationsURL string, cfg config.DatabaseConfig, step func(*migrate.Migrate) error) error {
	migrator, err := migrate.New(migrationsURL, PostgresURL(cfg))
	if err != nil {
		return fmt.Errorf("init migrator failed: %w", err)
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := step(migrator); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
