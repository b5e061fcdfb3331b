package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/forge-api/internal/api/shared"
	"github.com/phrazzld/forge-api/internal/platform/logger"
	"github.com/phrazzld/forge-api/internal/service"
)

// TaskHandler handles task lifecycle HTTP requests.
type TaskHandler struct {
	taskService service.TaskService
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(taskService service.TaskService, log *slog.Logger) *TaskHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TaskHandler{
		taskService: taskService,
		validator:   validator.New(),
		logger:      log.With("component", "task_handler"),
	}
}

// CreateTask handles POST /generate requests. The credential comes from the
// X-API-Key header or the body's api_key field; it is forwarded to the
// admission check and the engine environment, never stored.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req GenerateTaskRequest
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

	created, err := h.taskService.CreateTask(r.Context(), req.ToDomain(),
		apiKeyFromRequest(r, req.APIKey), shared.ClientIdentity(r))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	log.Info("task accepted",
		"task_id", created.ID,
		"project_key", created.Request.ProjectKey())

	shared.RespondWithJSON(w, r, http.StatusCreated, TaskCreatedResponse{
		TaskID:    created.ID,
		Status:    string(created.Status),
		CreatedAt: created.CreatedAt,
	})
}

// GetTask handles GET /status/{taskID} requests. The poll path carries no
// auth and no quota charge.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathTaskID(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	found, err := h.taskService.GetTask(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToRecordResponse(found))
}

// ListTasks handles GET /tasks requests with optional status, limit and
// offset query parameters.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := queryFilter(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tasks, total, err := h.taskService.ListTasks(r.Context(), filter, shared.ClientIdentity(r))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	records := make([]TaskRecordResponse, 0, len(tasks))
	for _, task := range tasks {
		records = append(records, taskToRecordResponse(task))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{
		Tasks: records,
		Total: total,
	})
}

// CancelTask handles POST /cancel/{taskID} requests. The response is the
// record snapshot after the cancel was applied or requested; a running task
// may still report RUNNING until its worker observes the flag.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, err := pathTaskID(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	// The body is optional; clients may carry the key in the header alone.
	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := shared.DecodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		shared.RespondWithError(w, r, http.StatusBadRequest,
			"Invalid request body: JSON parsing failed", ErrorTypeValidation)
		return
	}

	updated, err := h.taskService.CancelTask(r.Context(), id,
		apiKeyFromRequest(r, body.APIKey), shared.ClientIdentity(r))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel task")
		return
	}

	log.Info("cancellation handled", "task_id", id, "status", updated.Status)

	shared.RespondWithJSON(w, r, http.StatusOK, taskToRecordResponse(updated))
}

// DeleteTask handles DELETE /task/{taskID} requests. The credential must be
// in the X-API-Key header; DELETE requests carry no body. Only the record is
// removed; generated files and running work are untouched.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, err := pathTaskID(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	err = h.taskService.DeleteTask(r.Context(), id,
		r.Header.Get(apiKeyHeader), shared.ClientIdentity(r))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to delete task")
		return
	}

	log.Info("task record deleted", "task_id", id)

	shared.RespondWithJSON(w, r, http.StatusOK, TaskDeletedResponse{
		Message: fmt.Sprintf("Task %d deleted successfully", id),
	})
}
