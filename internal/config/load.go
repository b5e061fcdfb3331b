package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables with the FORGE_ prefix
// (FORGE_SERVER_PORT, FORGE_STORE_DRIVER, ...), applies defaults, and
// validates the result. Environment variables take precedence over defaults.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers a default for every known key. Viper only surfaces
// environment overrides for keys it knows about, so each key must appear
// here even when the default is the zero value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "forge.db")

	v.SetDefault("auth.verify_upstream", false)
	v.SetDefault("auth.provider_base_url", "https://api.openai.com/v1")
	v.SetDefault("auth.verify_timeout_seconds", 5)

	v.SetDefault("ratelimit.requests", 100)
	v.SetDefault("ratelimit.window_seconds", 60)

	v.SetDefault("executor.workers", 4)
	v.SetDefault("executor.queue_size", 100)

	v.SetDefault("engine.python", "python3")
	v.SetDefault("engine.script", "run.py")
	v.SetDefault("engine.workdir", ".")
	v.SetDefault("engine.warehouse_dir", "WareHouse")
	v.SetDefault("engine.api_base_url", "")

	v.SetDefault("builder.bin", "act")
	v.SetDefault("builder.artifact_dir", ".artifacts")
	v.SetDefault("builder.output_dir", "build")
}
