package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/forge-api/internal/domain"
	"github.com/phrazzld/forge-api/internal/events"
	"github.com/phrazzld/forge-api/internal/store"
)

// Dispatcher hands a task to the worker pool. Satisfied by Executor.
type Dispatcher interface {
	Dispatch(taskID int64, apiKey string) error
}

// DispatchEventHandler submits freshly created tasks to the executor. It is
// the only consumer of task-scheduled events.
type DispatchEventHandler struct {
	dispatcher Dispatcher
	taskStore  store.TaskStore
	logger     *slog.Logger
}

// NewDispatchEventHandler creates a handler that forwards scheduled tasks
// to the given dispatcher.
func NewDispatchEventHandler(dispatcher Dispatcher, taskStore store.TaskStore, logger *slog.Logger) *DispatchEventHandler {
	if dispatcher == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("dispatcher cannot be nil")
	}
	if taskStore == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("task store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DispatchEventHandler{
		dispatcher: dispatcher,
		taskStore:  taskStore,
		logger:     logger.With(slog.String("component", "dispatch_event_handler")),
	}
}

// HandleEvent dispatches the task named by a task-scheduled event. A full
// queue is recorded on the task itself so a later poll reveals the outcome;
// the creating request has already returned by then.
func (h *DispatchEventHandler) HandleEvent(ctx context.Context, event *events.TaskScheduledEvent) error {
	if event.Type != events.TaskScheduledEventType {
		h.logger.Debug("ignoring event with unsupported type",
			"event_type", event.Type,
			"event_id", event.ID)
		return nil
	}

	var payload events.TaskScheduledPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		h.logger.Error("failed to unmarshal event payload",
			"error", err,
			"event_id", event.ID)
		return fmt.Errorf("failed to unmarshal event payload: %w", err)
	}

	if err := h.dispatcher.Dispatch(payload.TaskID, payload.APIKey); err != nil {
		if errors.Is(err, ErrQueueFull) {
			return h.cancelOverflow(ctx, payload.TaskID)
		}
		h.logger.Error("failed to dispatch task",
			"error", err,
			"task_id", payload.TaskID)
		return fmt.Errorf("failed to dispatch task %d: %w", payload.TaskID, err)
	}

	h.logger.Info("task dispatched",
		"task_id", payload.TaskID,
		"event_id", event.ID)
	return nil
}

func (h *DispatchEventHandler) cancelOverflow(ctx context.Context, taskID int64) error {
	_, err := h.taskStore.Update(ctx, taskID, func(t *domain.Task) error {
		return t.Cancel("executor queue is full")
	})
	if err != nil {
		h.logger.Error("failed to cancel task after queue overflow",
			"error", err,
			"task_id", taskID)
		return fmt.Errorf("failed to cancel task %d after queue overflow: %w", taskID, err)
	}

	h.logger.Warn("executor queue full, task cancelled", "task_id", taskID)
	return nil
}

// Ensure DispatchEventHandler implements the events.EventHandler interface.
var _ events.EventHandler = (*DispatchEventHandler)(nil)
