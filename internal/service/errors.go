package service

import (
	"errors"
	"fmt"
)

// Sentinel errors callers check with errors.Is. Expected outcomes
// (validation failures, not-found, admission refusals) surface as sentinels;
// infrastructure failures are wrapped in ServiceError.
var (
	// ErrProjectConflict signals a create for a (name, organization) pair
	// that already has a PENDING or RUNNING task. Two tasks sharing a
	// project key would race over the same warehouse directory.
	// API layer maps this to HTTP 409 Conflict.
	ErrProjectConflict = errors.New("an active task already targets this project path")
)

// ServiceError wraps unexpected failures from service operations with the
// operation that failed and a human-readable message.
type ServiceError struct {
	// Operation is the operation that failed (e.g. "create_task").
	Operation string
	// Message is a human-readable description of the failure.
	Message string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a ServiceError. Returns nil when err is nil so
// call sites can wrap unconditionally.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
