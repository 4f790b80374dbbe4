package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/logger"
	"github.com/custodia-labs/sercha-local/internal/registry"
)

var log = logger.ForComponent(logger.CompEmbed)

// BackendAuto selects the highest priority backend that is available.
const BackendAuto = "auto"

// Model is a loaded embedding model.
type Model interface {
	// Embed returns one vector per text, in input order. Texts are
	// already sanitised and prefixed.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector size.
	Dimensions() int

	// Close releases the model.
	Close() error
}

// Backend loads models of one kind.
type Backend interface {
	Name() string
	Priority() int

	// Probe reports whether the backend can run here.
	Probe(ctx context.Context) error

	// Load prepares a model for the resolved configuration.
	Load(ctx context.Context, cfg domain.ResolvedEmbedderConfig) (Model, error)
}

// NewRegistry returns an empty backend registry.
func NewRegistry() *registry.Registry[Backend] {
	return registry.New[Backend]("embedding backend")
}

// SelectBackend returns the named backend, or for "auto" the highest
// priority backend whose probe succeeds.
func SelectBackend(ctx context.Context, backends *registry.Registry[Backend], name string) (Backend, error) {
	if name != "" && name != BackendAuto {
		b, err := backends.Get(name)
		if err != nil {
			return nil, err
		}
		if err := b.Probe(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrEmbeddingUnavailable, name, err)
		}
		return b, nil
	}

	for _, b := range backends.GetAll() {
		err := b.Probe(ctx)
		if err == nil {
			return b, nil
		}
		log.Info("embedding_backend_unavailable",
			slog.String("backend", b.Name()),
			slog.String("error", err.Error()))
	}
	return nil, fmt.Errorf("%w: no backend available", domain.ErrEmbeddingUnavailable)
}
