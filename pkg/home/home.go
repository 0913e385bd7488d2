// Package home manages the library's home directory: config.yaml, the
// database file and the thumbnail cache.
package home

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Manager handles the application home directory
type Manager struct {
	path string
}

// Subdirectories within home
const (
	CacheDir      = "cache"
	ThumbnailsDir = "cache/thumbnails"
)

// Files within home
const (
	ConfigFile   = "config.yaml"
	DatabaseFile = "library.db"
)

// EnvHome overrides the default home directory
const EnvHome = "PHOTO_LIBRARY_HOME"

// NewManager creates a new home directory manager
func NewManager(path string) (*Manager, error) {
	if path == "" {
		path = DefaultHomePath()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid home path: %w", err)
	}

	return &Manager{path: absPath}, nil
}

// DefaultHomePath returns $PHOTO_LIBRARY_HOME or ~/.photo-library
func DefaultHomePath() string {
	if path := os.Getenv(EnvHome); path != "" {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".photo-library"
	}
	return filepath.Join(home, ".photo-library")
}

func (m *Manager) Path() string {
	return m.path
}

// Initialize creates the home directory structure and a default config.
// Existing files are left alone.
func (m *Manager) Initialize() error {
	dirs := []string{
		"",
		CacheDir,
		ThumbnailsDir,
	}

	for _, dir := range dirs {
		path := m.JoinPath(dir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}

	if err := m.initializeConfig(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	if err := m.createGitignore(); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}

	return nil
}

// Exists checks if the home directory exists
func (m *Manager) Exists() bool {
	info, err := os.Stat(m.path)
	return err == nil && info.IsDir()
}

// JoinPath joins path elements relative to home directory
func (m *Manager) JoinPath(elem ...string) string {
	parts := append([]string{m.path}, elem...)
	return filepath.Join(parts...)
}

func (m *Manager) ConfigPath() string {
	return m.JoinPath(ConfigFile)
}

// DatabasePath returns the default database location
func (m *Manager) DatabasePath() string {
	return m.JoinPath(DatabaseFile)
}

func (m *Manager) ThumbnailsPath() string {
	return m.JoinPath(ThumbnailsDir)
}

// CacheSize returns the total size of the cache directory in bytes
func (m *Manager) CacheSize() (int64, error) {
	var size int64
	cachePath := m.JoinPath(CacheDir)

	err := filepath.Walk(cachePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == cachePath && errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})

	return size, err
}

// initializeConfig writes a commented default config.yaml if none exists
func (m *Manager) initializeConfig() error {
	configPath := m.ConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	defaultConfig := `# photo-library configuration

database:
  path: library.db       # Relative to home directory
  busyTimeoutMs: 5000
  autosaveMs: 1000       # Delay before changes are written

# Settings for a new library; a saved library keeps its own
library:
  localOnlyMode: false   # Block cloud AI providers
  aiProvider: openAI     # openAI, azure, google, appleVision, localCLIP
  faces: false           # Enqueue face detection on import

tasks:
  workers: 4
  timeoutSeconds: {}     # Per kind overrides, e.g. thumbnail: 20
  retryBaseDelayMs: 1000
  pollIntervalMs: 1000

thumbnails:
  maxWidth: 320
  maxHeight: 320
  quality: 80

watch:
  enabled: true
  recursive: true
  debounceMs: 500

logging:
  level: info            # trace, debug, info, warn, error

server:
  port: 3000
  host: localhost

# Bearer token validation for /api and /mcp
auth:
  enabled: false
  requireAuth: false     # Reject anonymous requests
  # issuer: https://id.example.com
  # audience: photo-library
  # jwksUrl: defaults to <issuer>/.well-known/jwks.json
  cacheTtlMinutes: 5
  signingAlgs: [RS256, ES256]
`

	return os.WriteFile(configPath, []byte(defaultConfig), 0644)
}

// createGitignore creates a .gitignore file for the home directory
func (m *Manager) createGitignore() error {
	gitignorePath := m.JoinPath(".gitignore")

	if _, err := os.Stat(gitignorePath); err == nil {
		return nil
	}

	content := `# Database files
*.db
*.db-shm
*.db-wal

cache/

.DS_Store
Thumbs.db
`

	return os.WriteFile(gitignorePath, []byte(content), 0644)
}
