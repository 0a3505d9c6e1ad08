// Package config loads and validates sessionlens configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	lenserr "github.com/sessionlens/sessionlens/internal/errors"
)

// Config represents the complete sessionlens configuration.
type Config struct {
	Sessions SessionsConfig `yaml:"sessions" json:"sessions"`
	Daemon   DaemonConfig   `yaml:"daemon" json:"daemon"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// SessionsConfig configures where transcripts live and how they are
// watched.
type SessionsConfig struct {
	// Root is the directory containing per-project transcript
	// directories. Defaults to ~/.claude/projects.
	Root string `yaml:"root" json:"root"`
	// WatchDebounce is the quiet window applied to file change bursts
	// (e.g. "200ms").
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
	// CacheSize is the number of built indexes kept for revival after a
	// watch stops. Defaults to 16.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// DaemonConfig configures the daemon socket and request handling.
type DaemonConfig struct {
	// SocketPath is the Unix socket the daemon listens on.
	// Defaults to ~/.sessionlens/daemon.sock.
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	// PIDPath records the daemon PID. Defaults to ~/.sessionlens/daemon.pid.
	PIDPath string `yaml:"pid_path" json:"pid_path"`
	// RequestTimeout bounds a single request/response exchange
	// (e.g. "30s").
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig returns a config with all defaults applied.
func NewConfig() *Config {
	return &Config{
		Sessions: SessionsConfig{
			Root:          defaultSessionsRoot(),
			WatchDebounce: "200ms",
			CacheSize:     16,
		},
		Daemon: DaemonConfig{
			SocketPath:     filepath.Join(homeDir(), ".sessionlens", "daemon.sock"),
			PIDPath:        filepath.Join(homeDir(), ".sessionlens", "daemon.pid"),
			RequestTimeout: "30s",
		},
		Logging: LoggingConfig{
			Level:     "info",
			FilePath:  filepath.Join(homeDir(), ".sessionlens", "logs", "daemon.log"),
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}

func defaultSessionsRoot() string {
	return filepath.Join(homeDir(), ".claude", "projects")
}

// UserConfigPath returns the path of the user config file
// (~/.sessionlens/config.yaml).
func UserConfigPath() string {
	return filepath.Join(homeDir(), ".sessionlens", "config.yaml")
}

// Load reads configuration from path, falling back to the user config
// location when path is empty. A missing file yields defaults; a
// malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		path = UserConfigPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
	}

	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lenserr.New(lenserr.ErrCodeConfigNotFound,
				fmt.Sprintf("config file not found: %s", path), err)
		}
		return lenserr.New(lenserr.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to read config: %s", path), err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return lenserr.New(lenserr.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to parse config: %s", path), err)
	}
	return nil
}

// applyEnvOverrides applies SESSIONLENS_* environment variables, which
// take precedence over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SESSIONLENS_SESSIONS_ROOT"); v != "" {
		c.Sessions.Root = v
	}
	if v := os.Getenv("SESSIONLENS_SOCKET_PATH"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("SESSIONLENS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SESSIONLENS_WATCH_DEBOUNCE"); v != "" {
		c.Sessions.WatchDebounce = v
	}
	if v := os.Getenv("SESSIONLENS_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sessions.CacheSize = n
		}
	}
}

// Validate checks configuration values for consistency.
func (c *Config) Validate() error {
	if c.Sessions.Root == "" {
		return lenserr.New(lenserr.ErrCodeConfigInvalid, "sessions.root must not be empty", nil)
	}
	if _, err := time.ParseDuration(c.Sessions.WatchDebounce); err != nil {
		return lenserr.New(lenserr.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid sessions.watch_debounce: %q", c.Sessions.WatchDebounce), err)
	}
	if c.Sessions.CacheSize <= 0 {
		return lenserr.New(lenserr.ErrCodeConfigInvalid,
			fmt.Sprintf("sessions.cache_size must be positive, got %d", c.Sessions.CacheSize), nil)
	}
	if c.Daemon.SocketPath == "" {
		return lenserr.New(lenserr.ErrCodeConfigInvalid, "daemon.socket_path must not be empty", nil)
	}
	if _, err := time.ParseDuration(c.Daemon.RequestTimeout); err != nil {
		return lenserr.New(lenserr.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid daemon.request_timeout: %q", c.Daemon.RequestTimeout), err)
	}
	return nil
}

// WatchDebounce returns the parsed debounce window.
func (c *Config) WatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Sessions.WatchDebounce)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// RequestTimeout returns the parsed daemon request timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Daemon.RequestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// WriteYAML writes the config to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
