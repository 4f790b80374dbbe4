// Package hash provides a deterministic embedding backend that needs no
// model files. Each token is hashed with FNV-1a to seed a generator that
// spreads it over the vector, so texts sharing words point the same way.
// It keeps indexing and search working offline and in tests.
package hash

import (
	"context"
	"hash/fnv"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/embedding"
	"github.com/custodia-labs/sercha-local/internal/textindex"
	"github.com/custodia-labs/sercha-local/internal/vector"
)

// Ensure Backend implements the interface.
var _ embedding.Backend = (*Backend)(nil)

// Name is the backend name.
const Name = "hash"

// Backend creates hash models.
type Backend struct{}

// New creates the backend.
func New() *Backend {
	return &Backend{}
}

// Name returns "hash".
func (b *Backend) Name() string {
	return Name
}

// Priority ranks the backend below every real model.
func (b *Backend) Priority() int {
	return 1
}

// Probe always succeeds.
func (b *Backend) Probe(context.Context) error {
	return nil
}

// Load returns a model of cfg.Dimensions, 384 when unset.
func (b *Backend) Load(_ context.Context, cfg domain.ResolvedEmbedderConfig) (embedding.Model, error) {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = embedding.DefaultDimensions
	}
	return &Model{dims: dims}, nil
}

// Model is a loaded hash model.
type Model struct {
	dims int
}

// Embed returns a unit vector per text.
func (m *Model) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.vector(t)
	}
	return out, nil
}

func (m *Model) vector(text string) []float32 {
	v := make([]float32, m.dims)
	tokens := textindex.Tokenize(embedding.StripPrefix(text))
	if len(tokens) == 0 {
		tokens = []string{text}
	}
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		addNoise(v, h.Sum64())
	}
	return vector.Normalize(v)
}

// addNoise adds a pseudo-random vector seeded by seed to v, using a
// 64-bit linear congruential generator.
func addNoise(v []float32, seed uint64) {
	state := seed
	for i := range v {
		state = state*6364136223846793005 + 1442695040888963407
		v[i] += float32(int64(state>>11))/float32(1<<52) - 1
	}
}

// Dimensions returns the vector size.
func (m *Model) Dimensions() int {
	return m.dims
}

// Close does nothing.
func (m *Model) Close() error {
	return nil
}
