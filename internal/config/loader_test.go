package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracklens/tracklens/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "libsql", cfg.Store.Driver)
	require.Equal(t, "openai", cfg.AI.PreferredProvider)
	require.Equal(t, 20, cfg.AI.RateLimitMax)
	require.Equal(t, time.Minute, cfg.AI.RateLimitWindow)
	require.Equal(t, 2, cfg.AI.RetryMaxAttempts)
	require.Equal(t, time.Second, cfg.AI.RetryBaseDelay)
	require.Equal(t, 30*time.Second, cfg.AI.RequestTimeout)
	require.Equal(t, "info", cfg.Logging.Level)
	require.True(t, cfg.Metrics.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracklens.yaml")
	data := []byte(`
server:
  port: 9999
ai:
  preferred_provider: anthropic
  rate_limit_max: 5
  request_timeout: 5s
  anthropic:
    api_key: test-key
    model: claude-sonnet-4-0
store:
  path: /tmp/test.db
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, "anthropic", cfg.AI.PreferredProvider)
	require.Equal(t, 5, cfg.AI.RateLimitMax)
	require.Equal(t, 5*time.Second, cfg.AI.RequestTimeout)
	require.Equal(t, "test-key", cfg.AI.Anthropic.APIKey)
	require.Equal(t, "claude-sonnet-4-0", cfg.AI.Anthropic.Model)
	require.Equal(t, "/tmp/test.db", cfg.Store.Path)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("TRACKLENS_AI_PREFERRED_PROVIDER", "anthropic")
	t.Setenv("TRACKLENS_AI_RATE_LIMIT_MAX", "7")
	t.Setenv("TRACKLENS_SERVER_PORT", "8181")

	cfg, err := config.Load("")
	require.NoError(t, err)

	require.Equal(t, "anthropic", cfg.AI.PreferredProvider)
	require.Equal(t, 7, cfg.AI.RateLimitMax)
	require.Equal(t, 8181, cfg.Server.Port)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestGetReturnsLastLoaded(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Same(t, cfg, config.Get())
}
