package config

import (
	"fmt"
	"os"
)

// validLogLevels and validLogFormats are the accepted enum values.
var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "text": true, "auto": true}
)

// Validate checks the configuration for values that would fail later in
// a less obvious place. Returns the first problem found.
func (c *Config) Validate() error {
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of json, text, auto; got %q", c.Log.Format)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	if c.Pool.Capacity < 1 {
		return fmt.Errorf("pool.capacity must be at least 1; got %d", c.Pool.Capacity)
	}
	if c.Pool.MinFreeMemoryMB < 0 {
		return fmt.Errorf("pool.min_free_memory_mb must not be negative")
	}

	if c.Mode.QuietWindow < 0 {
		return fmt.Errorf("mode.quiet_window must not be negative")
	}

	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root must not be empty")
	}
	if info, err := os.Stat(c.Workspace.Root); err != nil || !info.IsDir() {
		return fmt.Errorf("workspace.root is not an existing directory: %s", c.Workspace.Root)
	}

	if c.Task.Timeout <= 0 {
		return fmt.Errorf("task.timeout must be positive; got %s", c.Task.Timeout)
	}
	if c.Task.KillGrace <= 0 {
		return fmt.Errorf("task.kill_grace must be positive; got %s", c.Task.KillGrace)
	}

	enabled := 0
	for name, h := range c.Harnesses {
		if !h.Enabled {
			continue
		}
		enabled++
		if h.Path == "" {
			return fmt.Errorf("harnesses.%s.path must not be empty when enabled", name)
		}
		if h.Timeout < 0 {
			return fmt.Errorf("harnesses.%s.timeout must not be negative", name)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one harness must be enabled")
	}

	return nil
}
