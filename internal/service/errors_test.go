package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/forge-api/internal/store"
)

func TestSentinelErrors(t *testing.T) {
	t.Run("ErrProjectConflict", func(t *testing.T) {
		assert.Equal(t, "an active task already targets this project path", ErrProjectConflict.Error())
		assert.True(t, errors.Is(ErrProjectConflict, ErrProjectConflict))
	})

	t.Run("sentinel errors are different", func(t *testing.T) {
		assert.False(t, errors.Is(ErrProjectConflict, store.ErrTaskNotFound))
		assert.False(t, errors.Is(store.ErrTaskNotFound, ErrProjectConflict))
	})
}

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		message   string
		err       error
		expected  string
	}{
		{
			name:      "with underlying error",
			operation: "create_task",
			message:   "failed to persist task",
			err:       errors.New("database connection failed"),
			expected:  "task service create_task failed: failed to persist task: database connection failed",
		},
		{
			name:      "without underlying error",
			operation: "create_service",
			message:   "task store cannot be nil",
			err:       nil,
			expected:  "task service create_service failed: task store cannot be nil",
		},
		{
			name:      "with sentinel error",
			operation: "get_task",
			message:   "failed to retrieve task",
			err:       store.ErrTaskNotFound,
			expected:  "task service get_task failed: failed to retrieve task: entity not found: task",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serviceErr := &ServiceError{
				Operation: tt.operation,
				Message:   tt.message,
				Err:       tt.err,
			}

			assert.Equal(t, tt.expected, serviceErr.Error())
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	tests := []struct {
		name            string
		underlyingError error
	}{
		{
			name:            "with underlying error",
			underlyingError: errors.New("database error"),
		},
		{
			name:            "with sentinel error",
			underlyingError: store.ErrTaskNotFound,
		},
		{
			name:            "with nil error",
			underlyingError: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serviceErr := &ServiceError{
				Operation: "test",
				Message:   "test",
				Err:       tt.underlyingError,
			}

			assert.Equal(t, tt.underlyingError, serviceErr.Unwrap())
		})
	}
}

func TestServiceError_ErrorsIs(t *testing.T) {
	underlyingErr := errors.New("database connection failed")
	serviceErr := &ServiceError{
		Operation: "create_task",
		Message:   "failed to persist task",
		Err:       underlyingErr,
	}

	t.Run("errors.Is works with wrapped error", func(t *testing.T) {
		assert.True(t, errors.Is(serviceErr, underlyingErr))
	})

	t.Run("errors.Is works with wrapped sentinels", func(t *testing.T) {
		wrapped := &ServiceError{
			Operation: "get_task",
			Message:   "failed to retrieve task",
			Err:       store.ErrTaskNotFound,
		}
		assert.True(t, errors.Is(wrapped, store.ErrTaskNotFound))
	})

	t.Run("errors.Is returns false for different errors", func(t *testing.T) {
		assert.False(t, errors.Is(serviceErr, errors.New("different error")))
	})
}

func TestNewServiceError(t *testing.T) {
	t.Run("wraps a non-nil error", func(t *testing.T) {
		underlying := errors.New("disk full")
		err := NewServiceError("create_task", "failed to persist task", underlying)

		var serviceErr *ServiceError
		assert.True(t, errors.As(err, &serviceErr))
		assert.Equal(t, "create_task", serviceErr.Operation)
		assert.Equal(t, "failed to persist task", serviceErr.Message)
		assert.True(t, errors.Is(err, underlying))
	})

	t.Run("returns nil for a nil error", func(t *testing.T) {
		assert.NoError(t, NewServiceError("create_task", "failed to persist task", nil))
	})
}

func TestServiceError_ChainedErrors(t *testing.T) {
	baseErr := errors.New("database connection lost")
	inner := NewServiceError("list_tasks", "failed to list tasks", baseErr)
	outer := NewServiceError("build_apk", "artifact scan failed", inner)

	t.Run("chained errors maintain unwrapping", func(t *testing.T) {
		assert.True(t, errors.Is(outer, baseErr))
		assert.True(t, errors.Is(outer, inner))
	})

	t.Run("errors.As finds the outermost ServiceError", func(t *testing.T) {
		var serviceErr *ServiceError
		assert.True(t, errors.As(outer, &serviceErr))
		assert.Equal(t, "build_apk", serviceErr.Operation)
	})
}
