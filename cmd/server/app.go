package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/forge-api/internal/config"
	"github.com/phrazzld/forge-api/internal/events"
	"github.com/phrazzld/forge-api/internal/platform/act"
	"github.com/phrazzld/forge-api/internal/platform/engine"
	"github.com/phrazzld/forge-api/internal/platform/memstore"
	"github.com/phrazzld/forge-api/internal/platform/sqlite"
	"github.com/phrazzld/forge-api/internal/ratelimit"
	"github.com/phrazzld/forge-api/internal/service"
	"github.com/phrazzld/forge-api/internal/service/auth"
	"github.com/phrazzld/forge-api/internal/store"
	"github.com/phrazzld/forge-api/internal/task"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	// db is nil when the memory store driver is selected.
	db *sql.DB

	taskStore    store.TaskStore
	limiter      *ratelimit.FixedWindowLimiter
	eventEmitter events.EventEmitter
	executor     *task.Executor
	taskService  service.TaskService
}

// newApplication creates an application instance with all dependencies
// initialized and the executor pool started.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	if err := app.setupTaskStore(); err != nil {
		return nil, err
	}

	validator := auth.NewKeyValidator(cfg.Auth)
	app.limiter = ratelimit.NewFixedWindowLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window())

	generationEngine := engine.NewCommandEngine(cfg.Engine, logger)
	builder := act.NewRunner(cfg.Builder, logger)

	app.executor = task.NewExecutor(task.Config{
		Workers:   cfg.Executor.Workers,
		QueueSize: cfg.Executor.QueueSize,
	}, app.taskStore, generationEngine, builder, logger)
	app.executor.Start()

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(task.NewDispatchEventHandler(app.executor, app.taskStore, logger))
	app.eventEmitter = emitter

	taskService, err := service.NewTaskService(
		app.taskStore,
		validator,
		app.limiter,
		app.eventEmitter,
		app.executor,
		app.executor,
		engine.WarehouseRoot(cfg.Engine),
		logger,
	)
	if err != nil {
		app.executor.Stop()
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}
	app.taskService = taskService

	logger.Info("Application initialized successfully",
		"store_driver", cfg.Store.Driver,
		"worker_count", cfg.Executor.Workers)
	return app, nil
}

// setupTaskStore selects the persistence backend. The sqlite driver
// migrates its schema on every boot; goose no-ops when already current.
func (app *application) setupTaskStore() error {
	switch app.config.Store.Driver {
	case "sqlite":
		db, err := sqlite.Open(app.config.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open task database: %w", err)
		}
		if err := sqlite.MigrateUp(db); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to migrate task database: %w", err)
		}
		app.db = db
		app.taskStore = sqlite.NewTaskStore(db, app.logger)
	case "memory":
		app.taskStore = memstore.NewTaskStore()
	default:
		return fmt.Errorf("unknown store driver: %q", app.config.Store.Driver)
	}
	return nil
}

// Run starts the HTTP server and blocks until it shuts down.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources. Workers are
// drained before the database closes so in-flight tasks can record their
// outcome.
func (app *application) cleanup() {
	if app.executor != nil {
		app.executor.Stop()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
