package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/forge-api/internal/domain"
	"github.com/phrazzld/forge-api/internal/store"
)

// apiKeyHeader is where clients put the admission credential. A body-level
// api_key field is the fallback for clients mirroring the engine's native
// request shape.
const apiKeyHeader = "X-API-Key"

// Boundary parsing errors. These describe the request, never the system, so
// their text goes to the client verbatim.
var (
	// ErrInvalidTaskID signals a non-numeric id path parameter.
	ErrInvalidTaskID = errors.New("task id must be an integer")

	// ErrInvalidLimit signals a non-numeric or out-of-range limit parameter.
	ErrInvalidLimit = errors.New("limit must be an integer between 1 and 100")

	// ErrInvalidOffset signals a non-numeric or negative offset parameter.
	ErrInvalidOffset = errors.New("offset must be a non-negative integer")
)

// apiKeyFromRequest picks the admission credential: X-API-Key header first,
// then the decoded body field.
func apiKeyFromRequest(r *http.Request, bodyKey string) string {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return key
	}
	return bodyKey
}

// pathTaskID parses the {taskID} path parameter.
func pathTaskID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "taskID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrInvalidTaskID
	}
	return id, nil
}

// queryFilter parses the list endpoint's query string into a store filter.
// Out-of-range values are rejected here rather than silently clamped.
func queryFilter(r *http.Request) (store.TaskFilter, error) {
	filter := store.TaskFilter{Limit: store.DefaultListLimit}
	query := r.URL.Query()

	if raw := query.Get("status"); raw != "" {
		status, err := domain.ParseTaskStatus(raw)
		if err != nil {
			return store.TaskFilter{}, err
		}
		filter.Status = &status
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > store.MaxListLimit {
			return store.TaskFilter{}, ErrInvalidLimit
		}
		filter.Limit = limit
	}

	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return store.TaskFilter{}, ErrInvalidOffset
		}
		filter.Offset = offset
	}

	return filter, nil
}
