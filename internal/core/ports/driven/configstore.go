package driven

import "github.com/custodia-labs/sercha-local/internal/core/domain"

// ConfigStore provides access to application configuration.
// Implementations handle persistence (e.g., TOML files) and defaults.
type ConfigStore interface {
	// Load reads configuration from storage, applying defaults for
	// missing values. A missing file yields the defaults.
	Load() (*domain.Settings, error)

	// Save persists the configuration.
	Save(settings *domain.Settings) error

	// RecordEmbedder appends an embedder resolution to the history and
	// persists it immediately.
	RecordEmbedder(cfg domain.ResolvedEmbedderConfig) error

	// Path returns the configuration file path.
	Path() string
}
