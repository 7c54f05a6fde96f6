// Package config provides centralized configuration management for TrackLens.
// Configuration is layered: built-in defaults, then an optional YAML file,
// then TRACKLENS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// Load reads configuration from the given file path, or from the standard
// search paths when path is empty. A missing file in the search paths is
// fine (defaults plus environment apply); an explicitly named file that
// cannot be read is an error.
//
// This function is safe to call multiple times (e.g., for config reload).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tracklens")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/tracklens")
		v.AddConfigPath("/etc/tracklens")
	}

	v.SetEnvPrefix("TRACKLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	Set(&cfg)
	return &cfg, nil
}

// Get returns the currently loaded configuration, or nil before Load.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Set replaces the current configuration.
func Set(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "data/tracklens.db")

	v.SetDefault("ai.preferred_provider", "openai")
	v.SetDefault("ai.request_timeout", 30*time.Second)
	v.SetDefault("ai.rate_limit_window", time.Minute)
	v.SetDefault("ai.rate_limit_max", 20)
	v.SetDefault("ai.retry_max_attempts", 2)
	v.SetDefault("ai.retry_base_delay", time.Second)
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.anthropic.model", "claude-3-5-haiku-latest")

	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)
}
