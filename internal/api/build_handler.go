package api

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/forge-api/internal/api/shared"
	"github.com/phrazzld/forge-api/internal/platform/logger"
	"github.com/phrazzld/forge-api/internal/service"
)

// BuildHandler handles artifact packaging HTTP requests.
type BuildHandler struct {
	taskService service.TaskService
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewBuildHandler creates a new BuildHandler.
func NewBuildHandler(taskService service.TaskService, log *slog.Logger) *BuildHandler {
	if log == nil {
		log = slog.Default()
	}
	return &BuildHandler{
		taskService: taskService,
		validator:   validator.New(),
		logger:      log.With("component", "build_handler"),
	}
}

// BuildAPK handles POST /build-apk requests. A build whose tooling ran and
// failed is a 200 with success false; only admission failures, a missing
// project, or an inability to run the tooling produce error envelopes.
func (h *BuildHandler) BuildAPK(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req BuildAPKRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest,
			"Invalid request body: JSON parsing failed", ErrorTypeValidation)
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusUnprocessableEntity,
			SanitizeValidationError(err), ErrorTypeValidation)
		return
	}

	outcome, err := h.taskService.BuildAPK(r.Context(), req.ToDomain(),
		apiKeyFromRequest(r, req.APIKey), shared.ClientIdentity(r))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to run apk build")
		return
	}

	log.Info("apk build handled",
		"project_name", req.ProjectName,
		"success", outcome.Success)

	artifacts := outcome.Artifacts
	if artifacts == nil {
		artifacts = map[string]string{}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, BuildAPKResponse{
		Success:   outcome.Success,
		Message:   outcome.Message,
		APKPath:   outcome.APKPath,
		Artifacts: artifacts,
	})
}
