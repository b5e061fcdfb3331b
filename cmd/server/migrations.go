package main

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/phrazzld/forge-api/internal/config"
	"github.com/phrazzld/forge-api/internal/platform/sqlite"
)

// handleMigrations runs one goose command against the configured database
// and returns. Called from main when the -migrate flag is set; the server
// does not start in this mode.
func handleMigrations(cfg *config.Config, command string) error {
	if cfg.Store.Driver != "sqlite" {
		return fmt.Errorf("migrations require the sqlite store driver, configured driver is %q",
			cfg.Store.Driver)
	}

	// Correlates the log lines of one migration run.
	migrationID := uuid.New().String()
	log := slog.Default().With("migration_id", migrationID)

	log.Info("Running migration command",
		"command", command,
		"database", cfg.Store.Path)

	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open database for migration: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("Error closing database after migration", "error", closeErr)
		}
	}()

	if err := sqlite.Migrate(db, command); err != nil {
		return fmt.Errorf("migration command %q failed: %w", command, err)
	}

	log.Info("Migration command completed", "command", command)
	return nil
}
