// Package config loads and validates server configuration via viper:
// defaults first, then an optional YAML config file, then CLAUDE_WEB_*
// environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete server configuration.
type Config struct {
	Agent    AgentConfig    `mapstructure:"agent"`
	Projects ProjectsConfig `mapstructure:"projects"`
	Store    StoreConfig    `mapstructure:"store"`
	Queue    QueueConfig    `mapstructure:"queue"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AgentConfig controls the external reasoning process.
type AgentConfig struct {
	// Command is the agent CLI executable, resolved via PATH when bare.
	Command string `mapstructure:"command"`
	// StageTimeoutMinutes bounds one stage run; 0 disables the deadline.
	StageTimeoutMinutes int `mapstructure:"stage_timeout_minutes"`
}

// ProjectsConfig locates project working trees on disk.
type ProjectsConfig struct {
	// Root is the base directory containing project working trees; a
	// session for project p runs in Root/p.
	Root string `mapstructure:"root"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `mapstructure:"backend"`
	// Path is the SQLite database file; ignored for the memory backend.
	Path string `mapstructure:"path"`
}

// QueueConfig controls queued-session retention.
type QueueConfig struct {
	// ExpiryHours is the watermark after which a queued session counts
	// as stale for the retention sweep; 0 disables expiry.
	ExpiryHours int `mapstructure:"expiry_hours"`
}

// HTTPConfig controls the HTTP surface.
type HTTPConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// File is the log file path; empty logs to stderr.
	File string `mapstructure:"file"`
	// MaxSizeMB rotates the log file past this size; 0 disables rotation.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `mapstructure:"max_backups"`
}

// StageTimeout returns the per-stage deadline as a Duration.
func (a *AgentConfig) StageTimeout() time.Duration {
	return time.Duration(a.StageTimeoutMinutes) * time.Minute
}

// Expiry returns the queued-session expiry window as a Duration.
func (q *QueueConfig) Expiry() time.Duration {
	return time.Duration(q.ExpiryHours) * time.Hour
}

// ValidStoreBackends returns the accepted store backend names.
func ValidStoreBackends() []string {
	return []string{"memory", "sqlite"}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Command:             "claude",
			StageTimeoutMinutes: 60,
		},
		Projects: ProjectsConfig{
			Root: ".",
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    filepath.Join(ConfigDir(), "sessions.db"),
		},
		Queue: QueueConfig{
			ExpiryHours: 24 * 7,
		},
		HTTP: HTTPConfig{
			ListenAddr: "127.0.0.1:8080",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers all defaults with viper. Call before Load.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("agent.command", defaults.Agent.Command)
	viper.SetDefault("agent.stage_timeout_minutes", defaults.Agent.StageTimeoutMinutes)

	viper.SetDefault("projects.root", defaults.Projects.Root)

	viper.SetDefault("store.backend", defaults.Store.Backend)
	viper.SetDefault("store.path", defaults.Store.Path)

	viper.SetDefault("queue.expiry_hours", defaults.Queue.ExpiryHours)

	viper.SetDefault("http.listen_addr", defaults.HTTP.ListenAddr)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when
// loading fails.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "claude-web")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude-web"
	}
	return filepath.Join(home, ".config", "claude-web")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Init wires viper to the config file and environment. The config file is
// optional; a missing file leaves the defaults in place.
func Init() error {
	SetDefaults()

	viper.SetConfigFile(ConfigFile())
	viper.SetEnvPrefix("CLAUDE_WEB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}
