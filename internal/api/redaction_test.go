package api

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/forge-api/internal/redact"
)

// captureLogs routes the default logger into a buffer for the duration of a
// test. Error paths in this package log through slog directly.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestErrorLogsRedactCredentials(t *testing.T) {
	logs := captureLogs(t)

	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	w := httptest.NewRecorder()

	leaky := fmt.Errorf("engine start failed: OPENAI_API_KEY=%s rejected", testAPIKey)
	HandleAPIError(w, req, leaky, "Failed to create task")

	require.NotEmpty(t, logs.String(), "5xx errors must be logged")
	assert.NotContains(t, logs.String(), testAPIKey,
		"raw credentials must never reach the logs")
	assert.Contains(t, logs.String(), redact.RedactedKeyPlaceholder)
}

func TestErrorResponsesOmitInternalDetail(t *testing.T) {
	captureLogs(t)

	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	w := httptest.NewRecorder()

	leaky := fmt.Errorf("dial tcp 10.0.0.8:5432: connection refused")
	HandleAPIError(w, req, leaky, "Failed to create task")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.8",
		"internal addresses belong in logs, not responses")
}
