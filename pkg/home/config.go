package home

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/auth"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Library    LibraryConfig    `yaml:"library"`
	Tasks      TasksConfig      `yaml:"tasks"`
	Thumbnails ThumbnailsConfig `yaml:"thumbnails"`
	Watch      WatchConfig      `yaml:"watch"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
	Auth       auth.Config      `yaml:"auth"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	BusyTimeoutMs int    `yaml:"busyTimeoutMs"`
	AutosaveMs    int    `yaml:"autosaveMs"`
}

// LibraryConfig holds the library settings applied to a new library.
// Once a library is saved its own settings win.
type LibraryConfig struct {
	LocalOnlyMode bool   `yaml:"localOnlyMode"`
	AIProvider    string `yaml:"aiProvider"`
	Faces         bool   `yaml:"faces"`
}

// TasksConfig controls the enrichment dispatcher
type TasksConfig struct {
	Workers          int            `yaml:"workers"`
	TimeoutSeconds   map[string]int `yaml:"timeoutSeconds"`
	RetryBaseDelayMs int            `yaml:"retryBaseDelayMs"`
	PollIntervalMs   int            `yaml:"pollIntervalMs"`
}

// ThumbnailsConfig contains thumbnail generation settings
type ThumbnailsConfig struct {
	MaxWidth  int `yaml:"maxWidth"`
	MaxHeight int `yaml:"maxHeight"`
	Quality   int `yaml:"quality"`
}

// WatchConfig controls watched-folder live import
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	Recursive  bool `yaml:"recursive"`
	DebounceMs int  `yaml:"debounceMs"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ServerConfig contains server settings
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoadConfig loads config.yaml. Keys missing from the file keep their defaults.
func (m *Manager) LoadConfig() (*Config, error) {
	configPath := m.ConfigPath()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	return config, nil
}

// LoadConfigOrDefault loads config.yaml, falling back to defaults when the file does not exist
func (m *Manager) LoadConfigOrDefault() (*Config, error) {
	config, err := m.LoadConfig()
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return config, err
}

// SaveConfig saves configuration to config.yaml
func (m *Manager) SaveConfig(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configPath := m.ConfigPath()
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// UpdateConfig applies fn to the current config and saves the result
func (m *Manager) UpdateConfig(fn func(*Config)) (*Config, error) {
	config, err := m.LoadConfigOrDefault()
	if err != nil {
		return nil, err
	}
	fn(config)
	if err := m.SaveConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	var errs []error
	if c.Library.AIProvider != "" {
		if _, err := models.ParseAIProvider(c.Library.AIProvider); err != nil {
			errs = append(errs, fmt.Errorf("library.aiProvider: %w", err))
		}
	}
	for kind := range c.Tasks.TimeoutSeconds {
		if !models.TaskKind(kind).Valid() {
			errs = append(errs, fmt.Errorf("tasks.timeoutSeconds: unknown task kind %q", kind))
		}
	}
	if c.Tasks.Workers < 0 {
		errs = append(errs, fmt.Errorf("tasks.workers must not be negative"))
	}
	if q := c.Thumbnails.Quality; q < 0 || q > 100 {
		errs = append(errs, fmt.Errorf("thumbnails.quality %d out of range 0-100", q))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ResolveDatabasePath returns the database path, relative paths being relative to home
func (m *Manager) ResolveDatabasePath(c *Config) string {
	if c.Database.Path == "" {
		return m.DatabasePath()
	}
	if filepath.IsAbs(c.Database.Path) || c.Database.Path == ":memory:" {
		return c.Database.Path
	}
	return m.JoinPath(c.Database.Path)
}

// Timeouts converts the per-kind timeouts to durations
func (t TasksConfig) Timeouts() map[models.TaskKind]time.Duration {
	out := make(map[models.TaskKind]time.Duration, len(t.TimeoutSeconds))
	for kind, secs := range t.TimeoutSeconds {
		if secs > 0 {
			out[models.TaskKind(kind)] = time.Duration(secs) * time.Second
		}
	}
	return out
}

func (t TasksConfig) RetryBaseDelay() time.Duration {
	return time.Duration(t.RetryBaseDelayMs) * time.Millisecond
}

func (t TasksConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

func (d DatabaseConfig) BusyTimeout() time.Duration {
	return time.Duration(d.BusyTimeoutMs) * time.Millisecond
}

func (d DatabaseConfig) AutosaveDelay() time.Duration {
	return time.Duration(d.AutosaveMs) * time.Millisecond
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:          DatabaseFile,
			BusyTimeoutMs: 5000,
			AutosaveMs:    1000,
		},
		Library: LibraryConfig{
			AIProvider: string(models.ProviderOpenAI),
		},
		Tasks: TasksConfig{
			Workers:          4,
			TimeoutSeconds:   map[string]int{},
			RetryBaseDelayMs: 1000,
			PollIntervalMs:   1000,
		},
		Thumbnails: ThumbnailsConfig{
			MaxWidth:  320,
			MaxHeight: 320,
			Quality:   80,
		},
		Watch: WatchConfig{
			Enabled:    true,
			Recursive:  true,
			DebounceMs: 500,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Port: 3000,
			Host: "localhost",
		},
		Auth: auth.DefaultConfig(),
	}
}
