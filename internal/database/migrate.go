package database

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/outpostmsg/outpost/internal/logger"
)

// RunMigrations applies every pending migration under migrationsDir to
// databaseURL. It is a no-op (not an error) when databaseURL is empty,
// matching New's in-memory fallback for local/dev runs.
func RunMigrations(databaseURL, migrationsDir string) error {
	if databaseURL == "" {
		logger.Info("DATABASE_URL not set; skipping migrations")
		return nil
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsDir), databaseURL)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("migrations applied", "dir", migrationsDir)
	return nil
}
