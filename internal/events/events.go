package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskScheduledEventType identifies events announcing a freshly created task
// that is ready for dispatch.
const TaskScheduledEventType = "task.scheduled"

// TaskScheduledEvent announces that a task record exists and should be handed
// to the executor. It carries the task id rather than the record itself, so
// the handler re-reads the store and never races a concurrent cancellation.
type TaskScheduledEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type indicates the event kind
	Type string `json:"type"`

	// Payload contains the event-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// TaskScheduledPayload is the payload carried by a TaskScheduledEvent. The
// API key rides along in memory only: the stored task never holds it, and
// the emitter logs event metadata, never payloads.
type TaskScheduledPayload struct {
	TaskID int64  `json:"task_id"`
	APIKey string `json:"api_key"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *TaskScheduledEvent) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// NewTaskScheduledEvent creates a task-scheduled event for the given task id.
// The key is the admitted credential the executor passes to the engine.
func NewTaskScheduledEvent(taskID int64, apiKey string) (*TaskScheduledEvent, error) {
	payloadBytes, err := json.Marshal(TaskScheduledPayload{TaskID: taskID, APIKey: apiKey})
	if err != nil {
		return nil, err
	}

	return &TaskScheduledEvent{
		ID:        uuid.New(),
		Type:      TaskScheduledEventType,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskScheduledEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the orchestration service to publish events without direct
// knowledge of the executor wiring.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *TaskScheduledEvent) error
}
