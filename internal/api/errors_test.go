package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/forge-api/internal/domain"
	"github.com/phrazzld/forge-api/internal/platform/act"
	"github.com/phrazzld/forge-api/internal/ratelimit"
	"github.com/phrazzld/forge-api/internal/service"
	"github.com/phrazzld/forge-api/internal/service/auth"
	"github.com/phrazzld/forge-api/internal/store"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "missing api key",
			err:            auth.ErrMissingAPIKey,
			expectedStatus: http.StatusUnauthorized,
			expectedType:   ErrorTypeAuthentication,
		},
		{
			name:           "invalid api key",
			err:            auth.ErrInvalidAPIKey,
			expectedStatus: http.StatusUnauthorized,
			expectedType:   ErrorTypeAuthentication,
		},
		{
			name:           "rejected api key",
			err:            auth.ErrKeyRejected,
			expectedStatus: http.StatusUnauthorized,
			expectedType:   ErrorTypeAuthentication,
		},
		{
			name:           "task not found",
			err:            store.ErrTaskNotFound,
			expectedStatus: http.StatusNotFound,
			expectedType:   ErrorTypeNotFound,
		},
		{
			name:           "project not found",
			err:            act.ErrProjectNotFound,
			expectedStatus: http.StatusNotFound,
			expectedType:   ErrorTypeNotFound,
		},
		{
			name:           "task not cancellable",
			err:            domain.ErrTaskNotCancellable,
			expectedStatus: http.StatusBadRequest,
			expectedType:   ErrorTypeTaskCancellation,
		},
		{
			name:           "non-numeric task id",
			err:            ErrInvalidTaskID,
			expectedStatus: http.StatusBadRequest,
			expectedType:   ErrorTypeValidation,
		},
		{
			name:           "project conflict",
			err:            service.ErrProjectConflict,
			expectedStatus: http.StatusConflict,
			expectedType:   ErrorTypeValidation,
		},
		{
			name:           "rate limited",
			err:            ratelimit.ErrRateLimited,
			expectedStatus: http.StatusTooManyRequests,
			expectedType:   ErrorTypeRateLimit,
		},
		{
			name:           "task description length",
			err:            domain.ErrTaskDescriptionLength,
			expectedStatus: http.StatusUnprocessableEntity,
			expectedType:   ErrorTypeValidation,
		},
		{
			name:           "invalid project name",
			err:            domain.ErrInvalidProjectName,
			expectedStatus: http.StatusUnprocessableEntity,
			expectedType:   ErrorTypeValidation,
		},
		{
			name:           "invalid timestamp",
			err:            domain.ErrInvalidTimestamp,
			expectedStatus: http.StatusUnprocessableEntity,
			expectedType:   ErrorTypeValidation,
		},
		{
			name:           "invalid status filter",
			err:            domain.ErrInvalidTaskStatus,
			expectedStatus: http.StatusUnprocessableEntity,
			expectedType:   ErrorTypeValidation,
		},
		{
			name:           "bad limit parameter",
			err:            ErrInvalidLimit,
			expectedStatus: http.StatusUnprocessableEntity,
			expectedType:   ErrorTypeValidation,
		},
		{
			name:           "bad offset parameter",
			err:            ErrInvalidOffset,
			expectedStatus: http.StatusUnprocessableEntity,
			expectedType:   ErrorTypeValidation,
		},
		{
			name:           "unknown error",
			err:            errors.New("database exploded"),
			expectedStatus: http.StatusInternalServerError,
			expectedType:   ErrorTypeServer,
		},
		{
			name:           "wrapped sentinel keeps its mapping",
			err:            fmt.Errorf("cancel failed: %w", domain.ErrTaskNotCancellable),
			expectedStatus: http.StatusBadRequest,
			expectedType:   ErrorTypeTaskCancellation,
		},
		{
			name:           "service error wrapping a sentinel keeps its mapping",
			err:            service.NewServiceError("get_task", "failed to retrieve task", store.ErrTaskNotFound),
			expectedStatus: http.StatusNotFound,
			expectedType:   ErrorTypeNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expectedStatus, MapErrorToStatusCode(tc.err), "wrong status code")
			assert.Equal(t, tc.expectedType, ErrorTypeFor(tc.err), "wrong taxonomy type")
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, "An unexpected error occurred"},
		{"missing key", auth.ErrMissingAPIKey, "API key is required"},
		{"invalid key", auth.ErrInvalidAPIKey, "Invalid API key format"},
		{"rejected key", auth.ErrKeyRejected, "Invalid API key: verification failed"},
		{"task not found", store.ErrTaskNotFound, "Task not found"},
		{"project not found", act.ErrProjectNotFound, "Project not found"},
		{"not cancellable", domain.ErrTaskNotCancellable, "Task cannot be cancelled in its current state"},
		{"conflict", service.ErrProjectConflict, "A task for this project is already in progress"},
		{"rate limited", ratelimit.ErrRateLimited, "Too many requests. Please try again later."},
		{"non-numeric id", ErrInvalidTaskID, "Task id must be an integer"},
		{
			"validation sentinel keeps its own text",
			domain.ErrTaskDescriptionLength,
			domain.ErrTaskDescriptionLength.Error(),
		},
		{
			"internal details are hidden",
			errors.New("pq: connection refused host=10.0.0.8"),
			"An unexpected error occurred",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, GetSafeErrorMessage(tc.err))
		})
	}
}

func TestSanitizeValidationError(t *testing.T) {
	type payload struct {
		Task string `validate:"required,min=10"`
	}

	err := validator.New().Struct(payload{Task: "short"})
	require.Error(t, err)

	message := SanitizeValidationError(err)
	assert.Equal(t, "Invalid Task: too short", message)

	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("boom")))
}

func TestHandleAPIError(t *testing.T) {
	t.Run("writes the mapped envelope", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/cancel/7", nil)
		w := httptest.NewRecorder()

		HandleAPIError(w, req, domain.ErrTaskNotCancellable, "")

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var envelope map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
		assert.Equal(t, "Task cannot be cancelled in its current state", envelope["error"])
		assert.Equal(t, ErrorTypeTaskCancellation, envelope["type"])
	})

	t.Run("default message covers anonymous 5xx errors", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/generate", nil)
		w := httptest.NewRecorder()

		HandleAPIError(w, req, errors.New("write failed: disk full"), "Failed to create task")

		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var envelope map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
		assert.Equal(t, "Failed to create task", envelope["error"])
		assert.Equal(t, ErrorTypeServer, envelope["type"])
		assert.NotContains(t, w.Body.String(), "disk full",
			"Raw error text must never reach the client")
	})

	t.Run("credentials never reach the client", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/generate", nil)
		w := httptest.NewRecorder()

		leaky := fmt.Errorf("engine auth: sk-ABCDEFGHIJKLMNOPQRSTUVWXYZabcdef rejected")
		HandleAPIError(w, req, leaky, "")

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "sk-ABCDEFGHIJKLMNOPQRSTUVWXYZabcdef")
	})
}
