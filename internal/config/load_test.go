package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv sets up environment variables for testing
func setupEnv(t *testing.T, envVars map[string]string) func() {
	// Save current environment values
	originalValues := make(map[string]string)
	for name := range envVars {
		originalValues[name] = os.Getenv(name)
	}

	// Set new environment variables
	for name, value := range envVars {
		if value == "" {
			require.NoError(t, os.Unsetenv(name))
			continue
		}
		err := os.Setenv(name, value)
		require.NoError(t, err, "Failed to set environment variable %s", name)
	}

	// Return cleanup function
	return func() {
		for name, value := range originalValues {
			if value == "" {
				os.Unsetenv(name)
			} else {
				os.Setenv(name, value)
			}
		}
	}
}

// TestLoadDefaults verifies that Load fills every setting with its documented
// default when no environment variables are set.
func TestLoadDefaults(t *testing.T) {
	cleanup := setupEnv(t, map[string]string{
		"FORGE_SERVER_PORT":        "",
		"FORGE_SERVER_LOG_LEVEL":   "",
		"FORGE_STORE_DRIVER":       "",
		"FORGE_RATELIMIT_REQUESTS": "",
	})
	defer cleanup()

	cfg, err := Load()

	require.NoError(t, err, "Load() should not return an error with default values")
	require.NotNil(t, cfg, "Load() should return a non-nil config")
	assert.Equal(t, 8000, cfg.Server.Port, "Default server port should be 8000")
	assert.Equal(t, "info", cfg.Server.LogLevel, "Default log level should be 'info'")
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "forge.db", cfg.Store.Path)
	assert.False(t, cfg.Auth.VerifyUpstream, "Upstream key verification should default off")
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window())
	assert.Equal(t, 4, cfg.Executor.Workers)
	assert.Equal(t, 100, cfg.Executor.QueueSize)
	assert.Equal(t, "python3", cfg.Engine.Python)
	assert.Equal(t, "WareHouse", cfg.Engine.WarehouseDir)
	assert.Equal(t, "act", cfg.Builder.Bin)
}

// TestLoadFromEnv verifies that Load correctly reads values from environment
// variables.
func TestLoadFromEnv(t *testing.T) {
	cleanup := setupEnv(t, map[string]string{
		"FORGE_SERVER_PORT":              "9090",
		"FORGE_SERVER_LOG_LEVEL":         "debug",
		"FORGE_STORE_DRIVER":             "memory",
		"FORGE_STORE_PATH":               "/tmp/tasks.db",
		"FORGE_RATELIMIT_REQUESTS":       "5",
		"FORGE_RATELIMIT_WINDOW_SECONDS": "10",
		"FORGE_EXECUTOR_WORKERS":         "2",
		"FORGE_ENGINE_PYTHON":            "/usr/bin/python3.11",
		"FORGE_ENGINE_API_BASE_URL":      "https://openrouter.ai/api/v1",
		"FORGE_BUILDER_BIN":              "/usr/local/bin/act",
	})
	defer cleanup()

	cfg, err := Load()

	require.NoError(t, err, "Load() should not return an error with valid environment variables")
	require.NotNil(t, cfg, "Load() should return a non-nil config")
	assert.Equal(t, 9090, cfg.Server.Port, "Server port should be loaded from environment variables")
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "/tmp/tasks.db", cfg.Store.Path)
	assert.Equal(t, 5, cfg.RateLimit.Requests)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window())
	assert.Equal(t, 2, cfg.Executor.Workers)
	assert.Equal(t, "/usr/bin/python3.11", cfg.Engine.Python)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.Engine.APIBaseURL)
	assert.Equal(t, "/usr/local/bin/act", cfg.Builder.Bin)
}

// TestLoadValidationErrors verifies that Load rejects invalid settings.
func TestLoadValidationErrors(t *testing.T) {
	testCases := []struct {
		name           string
		envVars        map[string]string
		errorSubstring string
	}{
		{
			name: "Invalid port number",
			envVars: map[string]string{
				"FORGE_SERVER_PORT": "999999",
			},
			errorSubstring: "validation failed",
		},
		{
			name: "Invalid log level",
			envVars: map[string]string{
				"FORGE_SERVER_LOG_LEVEL": "verbose",
			},
			errorSubstring: "validation failed",
		},
		{
			name: "Unknown store driver",
			envVars: map[string]string{
				"FORGE_STORE_DRIVER": "redis",
			},
			errorSubstring: "validation failed",
		},
		{
			name: "Zero rate limit ceiling",
			envVars: map[string]string{
				"FORGE_RATELIMIT_REQUESTS": "0",
			},
			errorSubstring: "validation failed",
		},
		{
			name: "Negative worker count",
			envVars: map[string]string{
				"FORGE_EXECUTOR_WORKERS": "-1",
			},
			errorSubstring: "validation failed",
		},
		{
			name: "Malformed provider base URL",
			envVars: map[string]string{
				"FORGE_AUTH_PROVIDER_BASE_URL": "not a url",
			},
			errorSubstring: "validation failed",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cleanup := setupEnv(t, tc.envVars)
			defer cleanup()

			cfg, err := Load()

			require.Error(t, err, "Load() should return an error for %s", tc.name)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.errorSubstring)
		})
	}
}
