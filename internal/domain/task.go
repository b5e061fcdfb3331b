package domain

import (
	"errors"
	"regexp"
	"time"
)

// TaskStatus represents the lifecycle state of a generation task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// Defaults applied to optional generation request fields.
const (
	DefaultConfig       = "Default"
	DefaultOrganization = "DefaultOrganization"
	DefaultModel        = "CLAUDE_3_5_SONNET"
)

// Bounds for the task description.
const (
	MinTaskDescriptionLen = 10
	MaxTaskDescriptionLen = 2000
	MaxProjectNameLen     = 100
)

// Common validation errors for Task and GenerateRequest
var (
	ErrTaskDescriptionLength = errors.New(
		"task description must be between 10 and 2000 characters")
	ErrEmptyProjectName   = errors.New("project name cannot be empty")
	ErrProjectNameLength  = errors.New("project name cannot exceed 100 characters")
	ErrInvalidProjectName = errors.New(
		"project name may only contain letters, digits, underscores and hyphens")
	ErrInvalidOrganization = errors.New(
		"organization may only contain letters, digits, underscores and hyphens")
	ErrInvalidTaskStatus = errors.New("invalid task status")
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrTaskNotCancellable = errors.New("task cannot be cancelled")
	ErrMissingResultPath  = errors.New("completed task requires a result path")
	ErrMissingErrorDetail = errors.New("failed or cancelled task requires an error message")
)

// projectNameRE constrains names used to derive on-disk project directories.
var projectNameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// GenerateRequest is the immutable description of the work a task performs.
// The admission credential is deliberately not part of this struct: it is
// consumed at the boundary and never persisted.
type GenerateRequest struct {
	Task         string `json:"task"`
	Name         string `json:"name"`
	Config       string `json:"config"`
	Organization string `json:"organization"`
	Model        string `json:"model"`
	Path         string `json:"path,omitempty"`
	BuildAPK     bool   `json:"build_apk"`
}

// ApplyDefaults fills optional fields with their documented default values.
func (r *GenerateRequest) ApplyDefaults() {
	if r.Config == "" {
		r.Config = DefaultConfig
	}
	if r.Organization == "" {
		r.Organization = DefaultOrganization
	}
	if r.Model == "" {
		r.Model = DefaultModel
	}
}

// Validate checks the request against the documented field constraints.
// Returns a sentinel error describing the first violation found.
func (r *GenerateRequest) Validate() error {
	if len(r.Task) < MinTaskDescriptionLen || len(r.Task) > MaxTaskDescriptionLen {
		return ErrTaskDescriptionLength
	}

	if r.Name == "" {
		return ErrEmptyProjectName
	}

	if len(r.Name) > MaxProjectNameLen {
		return ErrProjectNameLength
	}

	if !projectNameRE.MatchString(r.Name) {
		return ErrInvalidProjectName
	}

	if r.Organization != "" && !projectNameRE.MatchString(r.Organization) {
		return ErrInvalidOrganization
	}

	return nil
}

// ProjectKey returns the name_organization pair that identifies the on-disk
// project directory family this request writes into. Two tasks sharing a key
// must never run concurrently.
func (r *GenerateRequest) ProjectKey() string {
	org := r.Organization
	if org == "" {
		org = DefaultOrganization
	}
	return r.Name + "_" + org
}

// Task represents one tracked unit of generation work. It is created by the
// orchestration service on a generation request and advanced by the executor
// through the lifecycle state machine.
type Task struct {
	ID              int64           `json:"id"`
	Status          TaskStatus      `json:"status"`
	Request         GenerateRequest `json:"request"`
	ResultPath      string          `json:"result_path,omitempty"`
	ArtifactPath    string          `json:"artifact_path,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CancelRequested bool            `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewTask creates a pending Task from a generation request. Defaults are
// applied before validation. The ID is zero until the store assigns one.
func NewTask(req GenerateRequest) (*Task, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Task{
		Status:    TaskStatusPending,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsTerminal reports whether the task has reached a state no transition
// leaves.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from the task's current status to
// next is a legal edge of the lifecycle state machine.
func (t *Task) CanTransitionTo(next TaskStatus) bool {
	switch t.Status {
	case TaskStatusPending:
		return next == TaskStatusRunning || next == TaskStatusCancelled
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed ||
			next == TaskStatusCancelled
	default:
		return false
	}
}

// TransitionTo moves the task to next, enforcing the state machine. Terminal
// states are sinks; any transition out of one fails with ErrInvalidTransition.
func (t *Task) TransitionTo(next TaskStatus) error {
	if !isValidTaskStatus(next) {
		return ErrInvalidTaskStatus
	}

	if !t.CanTransitionTo(next) {
		return ErrInvalidTransition
	}

	t.Status = next
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Start marks the task as picked up by an executor worker.
func (t *Task) Start() error {
	return t.TransitionTo(TaskStatusRunning)
}

// Complete marks the task as successfully finished, recording where the
// generated project landed. The result path is required; failed and
// cancelled payloads must stay empty.
func (t *Task) Complete(resultPath string) error {
	if resultPath == "" {
		return ErrMissingResultPath
	}

	if err := t.TransitionTo(TaskStatusCompleted); err != nil {
		return err
	}

	t.ResultPath = resultPath
	t.ErrorMessage = ""
	return nil
}

// Fail marks the task as failed with a human-readable cause.
func (t *Task) Fail(message string) error {
	if message == "" {
		return ErrMissingErrorDetail
	}

	if err := t.TransitionTo(TaskStatusFailed); err != nil {
		return err
	}

	t.ErrorMessage = message
	t.ResultPath = ""
	return nil
}

// Cancel marks the task as cancelled with a human-readable cause. Legal only
// from PENDING or RUNNING; cancelling a terminal task fails with
// ErrTaskNotCancellable.
func (t *Task) Cancel(message string) error {
	if message == "" {
		return ErrMissingErrorDetail
	}

	if t.IsTerminal() {
		return ErrTaskNotCancellable
	}

	if err := t.TransitionTo(TaskStatusCancelled); err != nil {
		return err
	}

	t.ErrorMessage = message
	t.ResultPath = ""
	return nil
}

// RequestCancel sets the cooperative cancellation flag observed by the
// executor. It does not change the task's status.
func (t *Task) RequestCancel() {
	t.CancelRequested = true
	t.UpdatedAt = time.Now().UTC()
}

// SetArtifactPath records the location of a packaged artifact.
func (t *Task) SetArtifactPath(path string) {
	t.ArtifactPath = path
	t.UpdatedAt = time.Now().UTC()
}

// ParseTaskStatus converts a string into a TaskStatus, rejecting unknown
// values.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(s)
	if !isValidTaskStatus(status) {
		return "", ErrInvalidTaskStatus
	}
	return status, nil
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}
