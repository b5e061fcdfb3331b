package api

import (
	"net/http"
	"time"

	"github.com/phrazzld/forge-api/internal/api/shared"
)

// HealthHandler reports process liveness.
type HealthHandler struct {
	version string
}

// NewHealthHandler creates a new HealthHandler reporting the given version.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version}
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
	})
}
