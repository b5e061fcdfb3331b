package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/forge-api/internal/api/shared"
	"github.com/phrazzld/forge-api/internal/domain"
	"github.com/phrazzld/forge-api/internal/platform/act"
	"github.com/phrazzld/forge-api/internal/ratelimit"
	"github.com/phrazzld/forge-api/internal/service"
	"github.com/phrazzld/forge-api/internal/service/auth"
	"github.com/phrazzld/forge-api/internal/store"
)

// Error taxonomy types carried in the "type" field of every error envelope.
const (
	ErrorTypeAuthentication   = "authentication_error"
	ErrorTypeAuthorization    = "authorization_error"
	ErrorTypeNotFound         = "not_found_error"
	ErrorTypeValidation       = "validation_error"
	ErrorTypeRateLimit        = "rate_limit_error"
	ErrorTypeServer           = "server_error"
	ErrorTypeTaskCancellation = "task_cancellation_error"
)

// validationSentinel reports whether err is one of the domain's request
// validation errors. These carry user-safe messages by construction and all
// map to HTTP 422.
func validationSentinel(err error) (error, bool) {
	sentinels := []error{
		domain.ErrTaskDescriptionLength,
		domain.ErrEmptyProjectName,
		domain.ErrProjectNameLength,
		domain.ErrInvalidProjectName,
		domain.ErrInvalidOrganization,
		domain.ErrInvalidTimestamp,
		domain.ErrInvalidTaskStatus,
		ErrInvalidLimit,
		ErrInvalidOffset,
	}
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel, true
		}
	}
	return nil, false
}

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var validationErrs validator.ValidationErrors

	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrMissingAPIKey),
		errors.Is(err, auth.ErrInvalidAPIKey),
		errors.Is(err, auth.ErrKeyRejected):
		return http.StatusUnauthorized

	// Not found errors
	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, act.ErrProjectNotFound):
		return http.StatusNotFound

	// Malformed path parameters and cancelling a terminal task
	case errors.Is(err, ErrInvalidTaskID),
		errors.Is(err, domain.ErrTaskNotCancellable):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, service.ErrProjectConflict):
		return http.StatusConflict

	// Rate limiting
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests

	// Field validation
	case errors.As(err, &validationErrs):
		return http.StatusUnprocessableEntity

	// Default: internal server error
	default:
		if _, ok := validationSentinel(err); ok {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	}
}

// ErrorTypeFor returns the taxonomy type for an error, mirroring the status
// mapping. The cancellation sentinel takes priority over the generic
// validation bucket because its 400 carries a distinct type.
func ErrorTypeFor(err error) string {
	switch MapErrorToStatusCode(err) {
	case http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case http.StatusForbidden:
		return ErrorTypeAuthorization
	case http.StatusNotFound:
		return ErrorTypeNotFound
	case http.StatusBadRequest:
		if errors.Is(err, domain.ErrTaskNotCancellable) {
			return ErrorTypeTaskCancellation
		}
		return ErrorTypeValidation
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return ErrorTypeValidation
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	default:
		return ErrorTypeServer
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	// Handle nil error
	if err == nil {
		return "An unexpected error occurred"
	}

	var validationErrs validator.ValidationErrors

	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrMissingAPIKey):
		return "API key is required"

	case errors.Is(err, auth.ErrInvalidAPIKey):
		return "Invalid API key format"

	case errors.Is(err, auth.ErrKeyRejected):
		return "Invalid API key: verification failed"

	// Not found errors
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, act.ErrProjectNotFound):
		return "Project not found"

	// Malformed path parameters
	case errors.Is(err, ErrInvalidTaskID):
		return "Task id must be an integer"

	// Cancellation errors
	case errors.Is(err, domain.ErrTaskNotCancellable):
		return "Task cannot be cancelled in its current state"

	// Conflict errors
	case errors.Is(err, service.ErrProjectConflict):
		return "A task for this project is already in progress"

	// Rate limiting
	case errors.Is(err, ratelimit.ErrRateLimited):
		return "Too many requests. Please try again later."

	// Field validation
	case errors.As(err, &validationErrs):
		return SanitizeValidationError(err)

	// Default case for unknown errors
	default:
		if sentinel, ok := validationSentinel(err); ok {
			return sentinel.Error()
		}
		return "An unexpected error occurred"
	}
}

// HandleAPIError maps err onto the HTTP contract and writes the error
// envelope. defaultMessage overrides the generic 5xx message when the caller
// has better context; 4xx messages always come from the error itself.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMessage string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status >= http.StatusInternalServerError && defaultMessage != "" {
		message = defaultMessage
	}

	var opts []shared.ResponseOption
	if status == http.StatusUnauthorized {
		opts = append(opts, shared.WithElevatedLogLevel())
	}

	shared.RespondWithErrorAndLog(w, r, status, message, ErrorTypeFor(err), err, opts...)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Check if this is likely a validation error message
	if strings.Contains(errMsg, "Field validation") {
		// Extract the field name and validation tag
		// Example format: "Key: 'GenerateTaskRequest.Task' Error:Field validation for 'Task' failed on the 'min' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			// Further split to get just the field validation part
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}

				// Create a cleaner error message
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	// Fall back to a generic validation error message
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
