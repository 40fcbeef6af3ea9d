package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "FOREMAN",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance,
// for integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "FOREMAN",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (FOREMAN_*)
// 3. Project config (.foreman.yaml in current directory)
// 4. User config (~/.config/foreman/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".foreman")
		l.v.SetConfigType("yaml")

		// Project config takes precedence over user config.
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "foreman"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("store.path", defaultDataPath("tasks.db"))

	l.v.SetDefault("pool.capacity", 2)
	l.v.SetDefault("pool.min_free_memory_mb", 256)

	l.v.SetDefault("mode.state_path", defaultDataPath("mode.json"))
	l.v.SetDefault("mode.quiet_window", "2m")

	l.v.SetDefault("workspace.root", ".")

	l.v.SetDefault("task.timeout", "30m")
	l.v.SetDefault("task.kill_grace", "5s")

	l.v.SetDefault("harnesses.claude.enabled", true)
	l.v.SetDefault("harnesses.claude.path", "claude")
	l.v.SetDefault("harnesses.codex.enabled", true)
	l.v.SetDefault("harnesses.codex.path", "codex")
	l.v.SetDefault("harnesses.aider.enabled", false)
	l.v.SetDefault("harnesses.aider.path", "aider")
}

// defaultDataPath places state files under ~/.foreman, falling back to
// the working directory when the home directory is unknown.
func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".foreman", name)
	}
	return filepath.Join(home, ".foreman", name)
}

// Default returns the default configuration, as `config init` writes it.
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Format: "auto"},
		Store: StoreConfig{Path: defaultDataPath("tasks.db")},
		Pool:  PoolConfig{Capacity: 2, MinFreeMemoryMB: 256},
		Mode: ModeConfig{
			StatePath:   defaultDataPath("mode.json"),
			QuietWindow: 2 * time.Minute,
		},
		Workspace: WorkspaceConfig{Root: "."},
		Task: TaskConfig{
			Timeout:   30 * time.Minute,
			KillGrace: 5 * time.Second,
		},
		Harnesses: map[string]HarnessConfig{
			"claude": {Enabled: true, Path: "claude"},
			"codex":  {Enabled: true, Path: "codex"},
			"aider":  {Enabled: false, Path: "aider"},
		},
	}
}
