package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/forge-api/internal/api"
	apiMiddleware "github.com/phrazzld/forge-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware. The rate-limit headers run outside the handlers so every
// response carries quota metadata, gated endpoints and free ones alike.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)
	r.Use(apiMiddleware.ProcessTime)
	r.Use(apiMiddleware.RateLimitHeaders(app.limiter))

	taskHandler := api.NewTaskHandler(app.taskService, app.logger)
	buildHandler := api.NewBuildHandler(app.taskService, app.logger)
	healthHandler := api.NewHealthHandler(version)

	r.Post("/generate", taskHandler.CreateTask)
	r.Get("/status/{taskID}", taskHandler.GetTask)
	r.Get("/tasks", taskHandler.ListTasks)
	r.Post("/cancel/{taskID}", taskHandler.CancelTask)
	r.Delete("/task/{taskID}", taskHandler.DeleteTask)
	r.Post("/build-apk", buildHandler.BuildAPK)
	r.Get("/health", healthHandler.Health)

	return r
}
