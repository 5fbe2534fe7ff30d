package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Server.Listen)
	assert.Equal(t, 4, cfg.Server.MaxConcurrentRuns)
	assert.Equal(t, 2*time.Minute, cfg.Sandbox.CommandTimeout.Std())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9090"
  log_level: debug
  max_concurrent_runs: 2
sandbox:
  command_timeout: 30s
  memory_mb: 256
pipeline:
  run_timeout: 5m
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 2, cfg.Server.MaxConcurrentRuns)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.CommandTimeout.Std())
	assert.Equal(t, 256, cfg.Sandbox.MemoryMB)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.RunTimeout.Std())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "env-token")
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic")

	path := writeConfig(t, `
github:
  token: file-token
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.GitHub.Token)
	assert.Equal(t, "env-anthropic", cfg.LLM.AnthropicAPIKey)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
sandbox:
  command_timeout: not-a-duration
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.LogLevel = "verbose"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Server.MaxConcurrentRuns = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Sandbox.MemoryMB = -1
	require.Error(t, cfg.Validate())
}
