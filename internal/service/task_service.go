package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phrazzld/forge-api/internal/domain"
	"github.com/phrazzld/forge-api/internal/events"
	"github.com/phrazzld/forge-api/internal/platform/act"
	"github.com/phrazzld/forge-api/internal/ratelimit"
	"github.com/phrazzld/forge-api/internal/redact"
	"github.com/phrazzld/forge-api/internal/service/auth"
	"github.com/phrazzld/forge-api/internal/store"
	"github.com/phrazzld/forge-api/internal/task"
)

// cancelledByUserMessage is recorded when a client cancels a pending task.
const cancelledByUserMessage = "task cancelled by user"

// RequestLimiter charges admission quota per client identity.
type RequestLimiter interface {
	Allow(identity string) (ratelimit.Result, error)
}

// TaskCanceler interrupts the executor-side run of a task.
type TaskCanceler interface {
	// Cancel reports whether the executor was tracking the id.
	Cancel(taskID int64) bool
}

// BuildRunner executes a packaging pass on the executor pool.
type BuildRunner interface {
	RunBuild(ctx context.Context, projectDir string) (*act.BuildResult, error)
}

// BuildOutcome is the result of a packaging run. A failed build is an
// outcome, not an error: the tooling ran and reported what happened.
type BuildOutcome struct {
	Success   bool
	Message   string
	APKPath   string
	Artifacts map[string]string
}

// TaskService is the façade the REST layer calls.
type TaskService interface {
	// CreateTask validates the request, admits the caller, rejects project
	// path collisions, persists a PENDING task, and hands it to the
	// executor via the event emitter. The returned record is the snapshot
	// at creation time.
	CreateTask(ctx context.Context, req domain.GenerateRequest, apiKey, identity string) (*domain.Task, error)

	// GetTask reads a task. The poll path carries no admission: no key, no
	// quota charge.
	GetTask(ctx context.Context, id int64) (*domain.Task, error)

	// ListTasks charges quota and returns the filtered page plus the total
	// count of the filtered set.
	ListTasks(ctx context.Context, filter store.TaskFilter, identity string) ([]*domain.Task, int64, error)

	// CancelTask cancels a PENDING task outright or requests cooperative
	// cancellation of a RUNNING one. The returned snapshot may still be
	// RUNNING; callers poll for the final state.
	CancelTask(ctx context.Context, id int64, apiKey, identity string) (*domain.Task, error)

	// DeleteTask removes the task record. Files are never touched and
	// running work is not stopped.
	DeleteTask(ctx context.Context, id int64, apiKey, identity string) error

	// BuildAPK packages an existing generated project. When the project
	// belongs to a tracked COMPLETED task, the artifact path is recorded on
	// that task; untracked projects build fine without touching task state.
	BuildAPK(ctx context.Context, req domain.BuildRequest, apiKey, identity string) (*BuildOutcome, error)
}

type taskService struct {
	tasks     store.TaskStore
	validator auth.CredentialValidator
	limiter   RequestLimiter
	emitter   events.EventEmitter
	canceler  TaskCanceler
	builds    BuildRunner
	warehouse string
	logger    *slog.Logger
}

// NewTaskService creates the orchestration service. It returns an error if
// any required dependency is nil.
func NewTaskService(
	taskStore store.TaskStore,
	validator auth.CredentialValidator,
	limiter RequestLimiter,
	emitter events.EventEmitter,
	canceler TaskCanceler,
	builds BuildRunner,
	warehouseDir string,
	logger *slog.Logger,
) (TaskService, error) {
	if taskStore == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "task store cannot be nil"}
	}
	if validator == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "credential validator cannot be nil"}
	}
	if limiter == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "rate limiter cannot be nil"}
	}
	if emitter == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "event emitter cannot be nil"}
	}
	if canceler == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "task canceler cannot be nil"}
	}
	if builds == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "build runner cannot be nil"}
	}
	if warehouseDir == "" {
		return nil, &ServiceError{Operation: "create_service", Message: "warehouse directory cannot be empty"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &taskService{
		tasks:     taskStore,
		validator: validator,
		limiter:   limiter,
		emitter:   emitter,
		canceler:  canceler,
		builds:    builds,
		warehouse: warehouseDir,
		logger:    logger.With("component", "task_service"),
	}, nil
}

// admit runs the shared admission sequence: credential check first, then
// the quota charge. An auth failure never consumes quota.
func (s *taskService) admit(ctx context.Context, apiKey, identity string) error {
	if err := s.validator.Validate(ctx, apiKey); err != nil {
		return err
	}

	if _, err := s.limiter.Allow(identity); err != nil {
		return err
	}

	return nil
}

func (s *taskService) CreateTask(
	ctx context.Context,
	req domain.GenerateRequest,
	apiKey, identity string,
) (*domain.Task, error) {
	newTask, err := domain.NewTask(req)
	if err != nil {
		return nil, err
	}

	if err := s.admit(ctx, apiKey, identity); err != nil {
		return nil, err
	}

	active, err := s.tasks.CountActive(ctx, newTask.Request.Name, newTask.Request.Organization)
	if err != nil {
		s.logger.Error("failed to count active project tasks",
			"error", err,
			"project_key", newTask.Request.ProjectKey())
		return nil, NewServiceError("create_task", "failed to check for active project tasks", err)
	}
	if active > 0 {
		return nil, ErrProjectConflict
	}

	created, err := s.tasks.Create(ctx, newTask)
	if err != nil {
		s.logger.Error("failed to persist task",
			"error", err,
			"project_key", newTask.Request.ProjectKey())
		return nil, NewServiceError("create_task", "failed to persist task", err)
	}

	s.logger.Info("task created",
		"task_id", created.ID,
		"project_key", created.Request.ProjectKey(),
		"build_apk", created.Request.BuildAPK)

	event, err := events.NewTaskScheduledEvent(created.ID, apiKey)
	if err != nil {
		return nil, s.abortDispatch(ctx, created.ID, "failed to create dispatch event", err)
	}

	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		return nil, s.abortDispatch(ctx, created.ID, "failed to emit dispatch event", err)
	}

	s.logger.Debug("task scheduled event emitted",
		"task_id", created.ID,
		"event_id", event.ID)

	return created, nil
}

// abortDispatch closes out a task that never reached the executor so it
// does not linger PENDING forever.
func (s *taskService) abortDispatch(ctx context.Context, taskID int64, message string, err error) error {
	s.logger.Error(message, "error", err, "task_id", taskID)

	if _, cancelErr := s.tasks.Update(ctx, taskID, func(t *domain.Task) error {
		return t.Cancel("task dispatch failed")
	}); cancelErr != nil {
		s.logger.Error("failed to cancel undispatched task",
			"error", cancelErr,
			"task_id", taskID)
	}

	return NewServiceError("create_task", message, err)
}

func (s *taskService) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	found, err := s.tasks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, err
		}
		s.logger.Error("failed to retrieve task", "error", err, "task_id", id)
		return nil, NewServiceError("get_task", "failed to retrieve task", err)
	}

	s.logger.Debug("retrieved task", "task_id", id, "status", found.Status)
	return found, nil
}

func (s *taskService) ListTasks(
	ctx context.Context,
	filter store.TaskFilter,
	identity string,
) ([]*domain.Task, int64, error) {
	if _, err := s.limiter.Allow(identity); err != nil {
		return nil, 0, err
	}

	tasks, total, err := s.tasks.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list tasks", "error", err)
		return nil, 0, NewServiceError("list_tasks", "failed to list tasks", err)
	}

	return tasks, total, nil
}

func (s *taskService) CancelTask(
	ctx context.Context,
	id int64,
	apiKey, identity string,
) (*domain.Task, error) {
	if err := s.admit(ctx, apiKey, identity); err != nil {
		return nil, err
	}

	updated, err := s.tasks.Update(ctx, id, func(t *domain.Task) error {
		switch t.Status {
		case domain.TaskStatusPending:
			return t.Cancel(cancelledByUserMessage)
		case domain.TaskStatusRunning:
			t.RequestCancel()
			return nil
		default:
			return domain.ErrTaskNotCancellable
		}
	})
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) || errors.Is(err, domain.ErrTaskNotCancellable) {
			return nil, err
		}
		s.logger.Error("failed to cancel task", "error", err, "task_id", id)
		return nil, NewServiceError("cancel_task", "failed to cancel task", err)
	}

	if updated.Status == domain.TaskStatusRunning {
		// The flag is persisted; firing the context kills the subprocess
		// now instead of at the next checkpoint.
		tracked := s.canceler.Cancel(id)
		s.logger.Info("cancellation requested for running task",
			"task_id", id,
			"executor_tracking", tracked)
	} else {
		s.logger.Info("task cancelled", "task_id", id)
	}

	return updated, nil
}

func (s *taskService) DeleteTask(ctx context.Context, id int64, apiKey, identity string) error {
	if err := s.admit(ctx, apiKey, identity); err != nil {
		return err
	}

	if err := s.tasks.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return err
		}
		s.logger.Error("failed to delete task", "error", err, "task_id", id)
		return NewServiceError("delete_task", "failed to delete task", err)
	}

	s.logger.Info("task record deleted", "task_id", id)
	return nil
}

func (s *taskService) BuildAPK(
	ctx context.Context,
	req domain.BuildRequest,
	apiKey, identity string,
) (*BuildOutcome, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := s.admit(ctx, apiKey, identity); err != nil {
		return nil, err
	}

	projectDir, err := act.ResolveProject(s.warehouse, req.ProjectName, req.Organization, req.Timestamp)
	if err != nil {
		if errors.Is(err, act.ErrProjectNotFound) {
			return nil, err
		}
		s.logger.Error("failed to resolve project directory",
			"error", err,
			"project_name", req.ProjectName)
		return nil, NewServiceError("build_apk", "failed to resolve project directory", err)
	}

	result, err := s.builds.RunBuild(ctx, projectDir)
	if err != nil {
		if errors.Is(err, task.ErrStopped) || errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) {
			return nil, NewServiceError("build_apk", "build could not run", err)
		}

		// The tooling ran and reported a failure; surface it as an outcome.
		message := redact.Error(err)
		s.logger.Warn("apk build failed", "project_dir", projectDir, "error", message)
		return &BuildOutcome{Success: false, Message: message}, nil
	}

	outcome := &BuildOutcome{
		Success:   true,
		APKPath:   result.APKPath,
		Artifacts: result.Artifacts,
	}
	if result.APKPath != "" {
		outcome.Message = "apk built successfully"
		s.recordArtifact(ctx, projectDir, result.APKPath)
	} else {
		outcome.Message = "build completed but no apk artifacts were found"
	}

	s.logger.Info("apk build finished",
		"project_dir", projectDir,
		"apk_path", result.APKPath,
		"artifact_count", len(result.Artifacts))

	return outcome, nil
}

// recordArtifact backfills the artifact path onto the COMPLETED task that
// produced projectDir, when one exists.
func (s *taskService) recordArtifact(ctx context.Context, projectDir, apkPath string) {
	completed := domain.TaskStatusCompleted
	offset := 0

	for {
		page, total, err := s.tasks.List(ctx, store.TaskFilter{
			Status: &completed,
			Limit:  store.MaxListLimit,
			Offset: offset,
		})
		if err != nil {
			s.logger.Warn("failed to scan tasks for artifact backfill", "error", err)
			return
		}

		for _, t := range page {
			if t.ResultPath != projectDir {
				continue
			}
			if _, err := s.tasks.Update(ctx, t.ID, func(task *domain.Task) error {
				task.SetArtifactPath(apkPath)
				return nil
			}); err != nil {
				s.logger.Warn("failed to record artifact path",
					"error", err,
					"task_id", t.ID)
				return
			}
			s.logger.Info("artifact path recorded on task",
				"task_id", t.ID,
				"apk_path", apkPath)
			return
		}

		offset += len(page)
		if len(page) == 0 || int64(offset) >= total {
			return
		}
	}
}
