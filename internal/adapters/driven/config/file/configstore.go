package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// Environment variables that override the file.
const (
	EnvDataDir          = "SERCHA_DATA_DIR"
	EnvStorageBackend   = "SERCHA_STORAGE_BACKEND"
	EnvPostgresDSN      = "SERCHA_POSTGRES_DSN"
	EnvLogLevel         = "SERCHA_LOG_LEVEL"
	EnvIsolation        = "SERCHA_ISOLATION"
	EnvEmbeddingBackend = "SERCHA_EMBEDDING_BACKEND"
	EnvEmbeddingDevice  = "SERCHA_EMBEDDING_DEVICE"
	EnvOllamaURL        = "SERCHA_OLLAMA_URL"
)

// ConfigStore is a file-based implementation of driven.ConfigStore using TOML.
// Configuration is stored in a TOML file within the sercha config directory.
type ConfigStore struct {
	mu       sync.Mutex
	dir      string
	filePath string
	getenv   func(string) string
}

// NewConfigStore creates a new TOML-based config store.
// If configDir is empty, defaults to ~/.sercha/config.toml.
func NewConfigStore(configDir string) (*ConfigStore, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configDir = filepath.Join(home, ".sercha")
	}

	// Ensure directory exists
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, err
	}

	return &ConfigStore{
		dir:      configDir,
		filePath: filepath.Join(configDir, "config.toml"),
		getenv:   os.Getenv,
	}, nil
}

// LoadEnv reads .env files from the working directory and the config
// directory. Variables already set in the environment win.
func (s *ConfigStore) LoadEnv() error {
	for _, p := range []string{".env", filepath.Join(s.dir, ".env")} {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the settings, applies environment overrides and validates
// the result.
func (s *ConfigStore) Load() (*domain.Settings, error) {
	s.mu.Lock()
	settings, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.applyEnv(settings)
	if settings.Storage.DataDir == "" {
		settings.Storage.DataDir = filepath.Join(s.dir, "data")
	}
	if settings.Logging.File == "" {
		settings.Logging.File = filepath.Join(s.dir, "logs", "sercha.log")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// read decodes the file over the defaults (caller must hold lock).
func (s *ConfigStore) read() (*domain.Settings, error) {
	settings := domain.DefaultSettings()
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file yet - that's fine, use defaults
			return &settings, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidConfiguration, s.filePath, err)
	}
	return &settings, nil
}

func (s *ConfigStore) applyEnv(settings *domain.Settings) {
	set := func(key string, apply func(string)) {
		if v := strings.TrimSpace(s.getenv(key)); v != "" {
			apply(v)
		}
	}
	set(EnvDataDir, func(v string) { settings.Storage.DataDir = v })
	set(EnvStorageBackend, func(v string) { settings.Storage.Backend = domain.StorageBackend(v) })
	set(EnvPostgresDSN, func(v string) { settings.Storage.PostgresDSN = v })
	set(EnvLogLevel, func(v string) { settings.Logging.Level = v })
	set(EnvIsolation, func(v string) { settings.Indexing.Isolation = domain.Isolation(v) })
	set(EnvEmbeddingBackend, func(v string) { settings.Embedding.Backend = v })
	set(EnvEmbeddingDevice, func(v string) { settings.Embedding.Device = domain.Device(v) })
	set(EnvOllamaURL, func(v string) { settings.Embedding.OllamaURL = v })
}

// Save validates and persists the configuration to disk.
func (s *ConfigStore) Save(settings *domain.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(settings)
}

// save writes configuration to the TOML file (caller must hold lock).
func (s *ConfigStore) save(settings *domain.Settings) error {
	data, err := toml.Marshal(settings)
	if err != nil {
		return err
	}

	// Write with restricted permissions
	return os.WriteFile(s.filePath, data, 0600)
}

// RecordEmbedder appends a resolution to the history in the file.
// Environment overrides are not written back.
func (s *ConfigStore) RecordEmbedder(cfg domain.ResolvedEmbedderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.read()
	if err != nil {
		return err
	}
	settings.EmbedderHistory = append(settings.EmbedderHistory, cfg)
	return s.save(settings)
}

// Path returns the configuration file path.
func (s *ConfigStore) Path() string {
	return s.filePath
}

// Dir returns the configuration directory.
func (s *ConfigStore) Dir() string {
	return s.dir
}
