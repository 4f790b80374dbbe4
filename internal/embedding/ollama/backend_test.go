package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/embed":
			var req embedRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Model != "nomic-embed-text" {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":"model not found"}`))
				return
			}
			resp := embedResponse{}
			for i := range req.Input {
				resp.Embeddings = append(resp.Embeddings, []float64{float64(i), 0.5, 0.25})
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBackend_LoadAndEmbed(t *testing.T) {
	srv := newServer(t)
	b := New(Config{BaseURL: srv.URL})

	require.NoError(t, b.Probe(context.Background()))

	m, err := b.Load(context.Background(), domain.ResolvedEmbedderConfig{Model: "nomic-embed-text"})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Dimensions())

	vecs, err := m.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 0.5, 0.25}, {1, 0.5, 0.25}}, vecs)
	assert.NoError(t, m.Close())
}

func TestBackend_UnknownModel(t *testing.T) {
	srv := newServer(t)
	_, err := New(Config{BaseURL: srv.URL}).Load(context.Background(), domain.ResolvedEmbedderConfig{Model: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestBackend_ProbeUnreachable(t *testing.T) {
	srv := newServer(t)
	url := srv.URL
	srv.Close()

	err := New(Config{BaseURL: url}).Probe(context.Background())
	assert.Error(t, err)
}

func TestBackend_Defaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, DefaultBaseURL, b.baseURL)
	assert.Equal(t, "ollama", b.Name())
	assert.Equal(t, 50, b.Priority())
}
