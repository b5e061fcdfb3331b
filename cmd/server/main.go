// Package main implements the entry point for the forge-api server,
// which accepts long-running software generation jobs, runs them on a
// background worker pool, and lets clients poll, list, cancel, or delete
// them over a REST boundary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/phrazzld/forge-api/internal/config"
	"github.com/phrazzld/forge-api/internal/platform/logger"
)

// version is reported by GET /health.
const version = "1.0.0"

func main() {
	migrateCmd := flag.String("migrate", "",
		"run a migration command (up|down|reset|status|version) and exit")
	flag.Parse()

	// Local overrides for development; absence of a .env file is normal.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	if *migrateCmd != "" {
		if err := handleMigrations(cfg, *migrateCmd); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		return
	}

	if err := run(cfg, appLogger); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// run wires the application together and blocks until the server exits.
func run(cfg *config.Config, appLogger *slog.Logger) error {
	app, err := newApplication(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.cleanup()

	return app.Run(context.Background())
}
