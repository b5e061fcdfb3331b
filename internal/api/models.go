package api

import (
	"time"

	"github.com/phrazzld/forge-api/internal/domain"
)

// Common request/response structures

// GenerateTaskRequest defines the payload for the task creation endpoint.
// The api_key never reaches the task store; it rides along to the engine
// subprocess environment only. The X-API-Key header takes priority over the
// body field when both are present.
type GenerateTaskRequest struct {
	APIKey string `json:"api_key,omitempty"`

	Task     string `json:"task"             validate:"required,min=10,max=2000"`
	Name     string `json:"name"             validate:"required,max=100"`
	Config   string `json:"config,omitempty"`
	Org      string `json:"org,omitempty"`
	Model    string `json:"model,omitempty"`
	Path     string `json:"path,omitempty"`
	BuildAPK bool   `json:"build_apk,omitempty"`
}

// ToDomain converts the payload into a generation request. Defaults for
// config, org and model are applied downstream by domain.NewTask.
func (r GenerateTaskRequest) ToDomain() domain.GenerateRequest {
	return domain.GenerateRequest{
		Task:         r.Task,
		Name:         r.Name,
		Config:       r.Config,
		Organization: r.Org,
		Model:        r.Model,
		Path:         r.Path,
		BuildAPK:     r.BuildAPK,
	}
}

// BuildAPKRequest defines the payload for the artifact packaging endpoint.
// Organization and timestamp narrow the project directory lookup.
type BuildAPKRequest struct {
	APIKey string `json:"api_key,omitempty"`

	ProjectName  string `json:"project_name" validate:"required,max=100"`
	Organization string `json:"organization,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// ToDomain converts the payload into a build request.
func (r BuildAPKRequest) ToDomain() domain.BuildRequest {
	return domain.BuildRequest{
		ProjectName:  r.ProjectName,
		Organization: r.Organization,
		Timestamp:    r.Timestamp,
	}
}

// TaskCreatedResponse is the acknowledgement for a freshly created task.
type TaskCreatedResponse struct {
	TaskID    int64     `json:"task_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskRecordResponse is the full task record returned by the status, list
// and cancel endpoints. The embedded request never contains the api_key.
type TaskRecordResponse struct {
	TaskID       int64                  `json:"task_id"`
	Status       string                 `json:"status"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Request      domain.GenerateRequest `json:"request"`
	ResultPath   string                 `json:"result_path,omitempty"`
	ArtifactPath string                 `json:"artifact_path,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// TaskListResponse pages through task records with the filtered total.
type TaskListResponse struct {
	Tasks []TaskRecordResponse `json:"tasks"`
	Total int64                `json:"total"`
}

// TaskDeletedResponse acknowledges a record deletion.
type TaskDeletedResponse struct {
	Message string `json:"message"`
}

// BuildAPKResponse reports a packaging run. Success false with a message
// means the tooling ran and failed; transport-level problems surface as
// error envelopes instead.
type BuildAPKResponse struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	APKPath   string            `json:"apk_path,omitempty"`
	Artifacts map[string]string `json:"artifacts"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// taskToRecordResponse converts a domain.Task to a TaskRecordResponse.
func taskToRecordResponse(task *domain.Task) TaskRecordResponse {
	return TaskRecordResponse{
		TaskID:       task.ID,
		Status:       string(task.Status),
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
		Request:      task.Request,
		ResultPath:   task.ResultPath,
		ArtifactPath: task.ArtifactPath,
		ErrorMessage: task.ErrorMessage,
	}
}
