package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Pool.Capacity)
	assert.Equal(t, 30*time.Minute, cfg.Task.Timeout)
	assert.True(t, cfg.Harnesses["claude"].Enabled)
}

func TestLoaderReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
log:
  level: debug
  format: json
pool:
  capacity: 4
task:
  timeout: 1h
harnesses:
  aider:
    enabled: true
    path: /opt/aider/bin/aider
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Pool.Capacity)
	assert.Equal(t, time.Hour, cfg.Task.Timeout)
	assert.Equal(t, "/opt/aider/bin/aider", cfg.Harnesses["aider"].Path)
	assert.True(t, cfg.Harnesses["aider"].Enabled)
	// Unset sections fall back to defaults.
	assert.Equal(t, "5s", cfg.Task.KillGrace.String())
}

func TestLoaderEnvOverride(t *testing.T) {
	t.Setenv("FOREMAN_POOL_CAPACITY", "7")
	t.Setenv("FOREMAN_LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: json\n"), 0o600))

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pool.Capacity)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"zero capacity", func(c *Config) { c.Pool.Capacity = 0 }, "pool.capacity"},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"missing workspace root", func(c *Config) { c.Workspace.Root = "/definitely/not/here" }, "workspace.root"},
		{"zero timeout", func(c *Config) { c.Task.Timeout = 0 }, "task.timeout"},
		{"enabled harness without path", func(c *Config) {
			c.Harnesses["claude"] = HarnessConfig{Enabled: true}
		}, "harnesses.claude.path"},
		{"no harness enabled", func(c *Config) {
			c.Harnesses = map[string]HarnessConfig{"claude": {Enabled: false, Path: "claude"}}
		}, "at least one harness"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteFileRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", ".foreman.yaml")

	cfg := Default()
	cfg.Pool.Capacity = 3
	require.NoError(t, cfg.WriteFile(path))

	loaded, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Pool.Capacity)
	assert.Equal(t, cfg.Log.Level, loaded.Log.Level)
}
