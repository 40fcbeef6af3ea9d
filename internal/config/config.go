// Package config defines the orchestrator configuration and its
// loading rules: flags over environment over project file over user
// file over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Log        LogConfig                `mapstructure:"log" yaml:"log"`
	Store      StoreConfig              `mapstructure:"store" yaml:"store"`
	Pool       PoolConfig               `mapstructure:"pool" yaml:"pool"`
	Mode       ModeConfig               `mapstructure:"mode" yaml:"mode"`
	Workspace  WorkspaceConfig          `mapstructure:"workspace" yaml:"workspace"`
	Task       TaskConfig               `mapstructure:"task" yaml:"task"`
	Harnesses  map[string]HarnessConfig `mapstructure:"harnesses" yaml:"harnesses"`
}

// LogConfig controls logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// Format is json, text, or auto (pretty output on a TTY).
	Format string `mapstructure:"format" yaml:"format"`
}

// StoreConfig locates the task database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PoolConfig bounds concurrent harness processes.
type PoolConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
	// MinFreeMemoryMB is the spawn preflight floor.
	MinFreeMemoryMB int `mapstructure:"min_free_memory_mb" yaml:"min_free_memory_mb"`
}

// ModeConfig controls the routing-mode coordinator.
type ModeConfig struct {
	StatePath   string        `mapstructure:"state_path" yaml:"state_path"`
	QuietWindow time.Duration `mapstructure:"quiet_window" yaml:"quiet_window"`
}

// WorkspaceConfig confines where harness processes may run.
type WorkspaceConfig struct {
	// Root is the directory all task workspaces must live under.
	Root string `mapstructure:"root" yaml:"root"`
}

// TaskConfig holds task execution defaults.
type TaskConfig struct {
	// Timeout is the default wall-clock budget per execution.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// KillGrace is the SIGTERM-to-SIGKILL escalation window.
	KillGrace time.Duration `mapstructure:"kill_grace" yaml:"kill_grace"`
}

// HarnessConfig configures one external CLI adapter.
type HarnessConfig struct {
	Enabled bool              `mapstructure:"enabled" yaml:"enabled"`
	Path    string            `mapstructure:"path" yaml:"path"`
	Env     map[string]string `mapstructure:"env" yaml:"env,omitempty"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// WriteFile renders the config as YAML at path, creating parent
// directories. Used by `foreman config init`.
func (c *Config) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
