package memory

import (
	"sync"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore is an in-memory implementation of driven.ConfigStore for testing.
type ConfigStore struct {
	mu       sync.RWMutex
	settings domain.Settings
}

// NewConfigStore creates a config store holding the defaults.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{settings: domain.DefaultSettings()}
}

// Load returns a copy of the current settings.
func (s *ConfigStore) Load() (*domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.settings
	cp.EmbedderHistory = append([]domain.ResolvedEmbedderConfig(nil), s.settings.EmbedderHistory...)
	return &cp, nil
}

// Save replaces the settings after validating them.
func (s *ConfigStore) Save(settings *domain.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = *settings
	return nil
}

// RecordEmbedder appends to the embedder history.
func (s *ConfigStore) RecordEmbedder(cfg domain.ResolvedEmbedderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.EmbedderHistory = append(s.settings.EmbedderHistory, cfg)
	return nil
}

// History returns the recorded embedder resolutions.
func (s *ConfigStore) History() []domain.ResolvedEmbedderConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ResolvedEmbedderConfig(nil), s.settings.EmbedderHistory...)
}

// Path returns the configuration file path.
func (s *ConfigStore) Path() string {
	return ":memory:"
}
