package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Store     StoreConfig     `mapstructure:"store" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" validate:"required"`
	Executor  ExecutorConfig  `mapstructure:"executor" validate:"required"`
	Engine    EngineConfig    `mapstructure:"engine" validate:"required"`
	Builder   BuilderConfig   `mapstructure:"builder" validate:"required"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// StoreConfig selects and parameterizes the task store implementation.
type StoreConfig struct {
	// Driver picks the persistence backend: "sqlite" for the on-disk
	// database, "memory" for the ephemeral in-process map.
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite memory"`

	// Path is the SQLite database file. Ignored by the memory driver.
	Path string `mapstructure:"path" validate:"required"`
}

// AuthConfig contains API key admission settings.
type AuthConfig struct {
	// VerifyUpstream enables the optional liveness probe against the
	// provider; the structural key check always runs.
	VerifyUpstream bool `mapstructure:"verify_upstream"`

	// ProviderBaseURL is the API root the liveness probe queries.
	ProviderBaseURL string `mapstructure:"provider_base_url" validate:"required,url"`

	// VerifyTimeoutSeconds bounds the liveness probe request.
	VerifyTimeoutSeconds int `mapstructure:"verify_timeout_seconds" validate:"required,gt=0"`
}

// VerifyTimeout returns the liveness probe timeout as a duration.
func (c AuthConfig) VerifyTimeout() time.Duration {
	return time.Duration(c.VerifyTimeoutSeconds) * time.Second
}

// RateLimitConfig parameterizes the fixed-window rate limiter.
type RateLimitConfig struct {
	// Requests is the per-identity ceiling within one window.
	Requests int `mapstructure:"requests" validate:"required,gt=0"`

	// WindowSeconds is the window length.
	WindowSeconds int `mapstructure:"window_seconds" validate:"required,gt=0"`
}

// Window returns the rate limit window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// ExecutorConfig bounds the background worker pool.
type ExecutorConfig struct {
	// Workers is the number of concurrent task workers.
	Workers int `mapstructure:"workers" validate:"required,gt=0"`

	// QueueSize is the dispatch channel capacity. Dispatch fails once the
	// queue is full rather than blocking a request.
	QueueSize int `mapstructure:"queue_size" validate:"required,gt=0"`
}

// EngineConfig describes how to invoke the external generation engine.
type EngineConfig struct {
	// Python is the interpreter used to run the engine.
	Python string `mapstructure:"python" validate:"required"`

	// Script is the engine entrypoint, resolved relative to WorkDir.
	Script string `mapstructure:"script" validate:"required"`

	// WorkDir is the engine's working directory.
	WorkDir string `mapstructure:"workdir" validate:"required"`

	// WarehouseDir is where the engine writes generated projects,
	// resolved relative to WorkDir unless absolute.
	WarehouseDir string `mapstructure:"warehouse_dir" validate:"required"`

	// APIBaseURL overrides the provider endpoint passed to the engine.
	APIBaseURL string `mapstructure:"api_base_url" validate:"omitempty,url"`
}

// BuilderConfig describes how to invoke the local workflow runner that
// packages a generated project into an APK.
type BuilderConfig struct {
	// Bin is the act executable.
	Bin string `mapstructure:"bin" validate:"required"`

	// ArtifactDir is the artifact server path act writes into, relative to
	// the project directory.
	ArtifactDir string `mapstructure:"artifact_dir" validate:"required"`

	// OutputDir is where extracted APKs land, relative to the project
	// directory.
	OutputDir string `mapstructure:"output_dir" validate:"required"`
}
