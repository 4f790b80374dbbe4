package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/registry"
)

// Loaded describes a model a runner has started.
type Loaded struct {
	Backend    string `json:"backend"`
	Dimensions int    `json:"dimensions"`
}

// Runner hosts a model. Start may be called again to replace the model,
// which is how a GPU failure moves the runner to the CPU.
type Runner interface {
	Start(ctx context.Context, cfg domain.ResolvedEmbedderConfig) (Loaded, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
}

// InProcess runs the model inside this process.
type InProcess struct {
	backends *registry.Registry[Backend]

	mu    sync.RWMutex
	model Model
}

// NewInProcess creates an in-process runner over backends.
func NewInProcess(backends *registry.Registry[Backend]) *InProcess {
	return &InProcess{backends: backends}
}

// Start selects the configured backend and loads the model, closing any
// previous one.
func (r *InProcess) Start(ctx context.Context, cfg domain.ResolvedEmbedderConfig) (Loaded, error) {
	b, err := SelectBackend(ctx, r.backends, cfg.Backend)
	if err != nil {
		return Loaded{}, err
	}
	m, err := b.Load(ctx, cfg)
	if err != nil {
		return Loaded{}, fmt.Errorf("load %s on %s: %w", cfg.Model, cfg.Device, err)
	}

	r.mu.Lock()
	old := r.model
	r.model = m
	r.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return Loaded{Backend: b.Name(), Dimensions: m.Dimensions()}, nil
}

// Embed runs the current model.
func (r *InProcess) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	r.mu.RLock()
	m := r.model
	r.mu.RUnlock()
	if m == nil {
		return nil, fmt.Errorf("%w: model not loaded", domain.ErrEmbeddingUnavailable)
	}
	return m.Embed(ctx, texts)
}

// Close releases the model.
func (r *InProcess) Close() error {
	r.mu.Lock()
	m := r.model
	r.model = nil
	r.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Close()
}
