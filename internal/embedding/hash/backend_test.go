package hash

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/vector"
)

func load(t *testing.T, dims int) *Model {
	t.Helper()
	m, err := New().Load(context.Background(), domain.ResolvedEmbedderConfig{Dimensions: dims})
	require.NoError(t, err)
	return m.(*Model)
}

func TestEmbed_DeterministicUnitVectors(t *testing.T) {
	m := load(t, 64)

	a, err := m.Embed(context.Background(), []string{"solar panels on the roof", ""})
	require.NoError(t, err)
	b, err := m.Embed(context.Background(), []string{"solar panels on the roof", ""})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, a[0], 64)
	var norm float64
	for _, x := range a[0] {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestEmbed_SharedWordsAreCloser(t *testing.T) {
	m := load(t, 384)
	vecs, err := m.Embed(context.Background(), []string{
		"query: solar panels",
		"passage: installing solar panels on a house",
		"passage: baking sourdough bread",
	})
	require.NoError(t, err)

	related := vector.Cosine(vecs[0], vecs[1])
	unrelated := vector.Cosine(vecs[0], vecs[2])
	assert.Greater(t, related, unrelated)
	assert.Greater(t, related, 0.3)
}

func TestLoad_DefaultDimensions(t *testing.T) {
	m := load(t, 0)
	assert.Equal(t, 384, m.Dimensions())
	assert.NoError(t, m.Close())
	assert.NoError(t, New().Probe(context.Background()))
	assert.Equal(t, "hash", New().Name())
}

func TestEmbed_Cancelled(t *testing.T) {
	m := load(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
