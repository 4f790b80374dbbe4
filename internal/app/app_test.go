package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/embedding/worker"
	"github.com/custodia-labs/sercha-local/internal/ipc"
	"github.com/custodia-labs/sercha-local/internal/logger"
	"github.com/custodia-labs/sercha-local/internal/ocr"
	"github.com/custodia-labs/sercha-local/internal/vector"
)

func testSettings(t *testing.T) *domain.Settings {
	t.Helper()
	s := domain.DefaultSettings()
	s.Storage.Backend = domain.BackendMemory
	s.Storage.DataDir = t.TempDir()
	s.Embedding.Backend = "hash"
	s.Embedding.Dimensions = 64
	s.Embedding.PreferGPU = false
	s.Embedding.Device = domain.DeviceCPU
	s.OCR.Enabled = false
	return &s
}

func newApp(t *testing.T, opts Options) *App {
	t.Helper()
	if opts.ConfigDir == "" {
		opts.ConfigDir = t.TempDir()
	}
	a, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, a.Close())
		_ = logger.Close()
	})
	return a
}

func writeNote(t *testing.T, dir, name, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0o600))
}

func TestNew_IndexAndSearch(t *testing.T) {
	a := newApp(t, Options{Settings: testSettings(t)})
	require.NotNil(t, a.Embedder)
	assert.Equal(t, "hash", a.Embedder.Config().Backend)

	root := t.TempDir()
	writeNote(t, root, "ship.txt", "The harbour master signed the cargo manifest.")
	writeNote(t, root, "garden.txt", "Tomatoes and basil grow by the fence.")

	ctx := context.Background()
	sum, err := a.Indexer.Index(ctx, []string{root}, domain.IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Added)

	resp, err := a.Search.Search(ctx, "cargo manifest", domain.SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, filepath.Join(root, "ship.txt"), resp.Results[0].Path)
	assert.Equal(t, domain.MatchBoth, resp.Results[0].MatchType)
}

func TestNew_StoredEmbeddingMatchesFreshEmbedding(t *testing.T) {
	settings := testSettings(t)
	settings.Storage.Backend = domain.BackendSQLite
	a := newApp(t, Options{Settings: settings})

	root := t.TempDir()
	writeNote(t, root, "ship.txt", "The harbour master signed the cargo manifest before the tide turned.")

	ctx := context.Background()
	sum, err := a.Indexer.Index(ctx, []string{root}, domain.IndexOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Added)

	doc, err := a.Store.GetDocumentByPath(ctx, filepath.Join(root, "ship.txt"))
	require.NoError(t, err)
	chunks, err := a.Store.GetChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		require.NotEmpty(t, c.Embedding, "chunk %d embedded", c.Index)
		fresh, err := a.Embedder.EmbedDocuments(ctx, []string{c.Content}, nil)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, vector.Cosine(c.Embedding, fresh[0]), 1e-6)
	}
}

func TestNew_RecordsEmbedderResolution(t *testing.T) {
	dir := t.TempDir()
	newApp(t, Options{ConfigDir: dir, Settings: testSettings(t)})

	cfg, settings, err := LoadConfig(dir)
	require.NoError(t, err)
	require.Len(t, settings.EmbedderHistory, 1)
	assert.Equal(t, "hash", settings.EmbedderHistory[0].Backend)
	assert.FileExists(t, cfg.Path())
}

func TestNew_ConfigStoreOption(t *testing.T) {
	store := memory.NewConfigStore()
	require.NoError(t, store.Save(testSettings(t)))

	a, err := New(context.Background(), Options{ConfigStore: store})
	require.NoError(t, err)
	defer a.Close()

	assert.Same(t, store, a.Config)
	assert.Equal(t, domain.BackendMemory, a.Settings.Storage.Backend)
	require.Len(t, store.History(), 1)
	assert.Equal(t, 64, store.History()[0].Dimensions)
}

func TestNew_ChildIsolation(t *testing.T) {
	providers := ocr.NewRegistry()
	handler := worker.NewHandler(EmbeddingBackends(domain.EmbeddingSettings{}), providers)
	t.Cleanup(func() { _ = handler.Close() })
	spawner := &ipc.PipeSpawner{Handler: handler}

	s := testSettings(t)
	s.Indexing.Isolation = domain.IsolationChild
	a := newApp(t, Options{Settings: s, Spawner: spawner})

	root := t.TempDir()
	writeNote(t, root, "ship.txt", "cargo manifest for the harbour")
	sum, err := a.Indexer.Index(context.Background(), []string{root}, domain.IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Added)
	assert.GreaterOrEqual(t, spawner.Spawns(), 1)

	stats, err := a.Indexer.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stats.Chunks, stats.EmbeddedChunks)
}

func TestNew_UnknownChunker(t *testing.T) {
	s := testSettings(t)
	s.Chunking.Strategy = "semantic"
	_, err := New(context.Background(), Options{ConfigDir: t.TempDir(), Settings: s})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		st, sched, err := OpenStorage(ctx, domain.StorageSettings{Backend: domain.BackendSQLite, DataDir: t.TempDir()})
		require.NoError(t, err)
		defer st.Close()
		assert.NotNil(t, sched)
	})

	t.Run("badger", func(t *testing.T) {
		st, sched, err := OpenStorage(ctx, domain.StorageSettings{Backend: domain.BackendBadger, DataDir: t.TempDir()})
		require.NoError(t, err)
		defer st.Close()
		assert.NotNil(t, sched)
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := OpenStorage(ctx, domain.StorageSettings{Backend: "mongo"})
		assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	})
}

func TestEmbeddingBackends(t *testing.T) {
	r := EmbeddingBackends(domain.EmbeddingSettings{})
	assert.ElementsMatch(t, []string{"ollama", "hash"}, r.Names())
}

func TestWorkerSpawner(t *testing.T) {
	sp, err := workerSpawner([]string{"/opt/sercha", "worker", "-v"}, "/cfg")
	require.NoError(t, err)
	assert.Equal(t, "/opt/sercha", sp.Command)
	assert.Equal(t, []string{"worker", "-v"}, sp.Args)

	sp, err = workerSpawner(nil, "/cfg")
	require.NoError(t, err)
	assert.Equal(t, []string{"worker", "--config", "/cfg"}, sp.Args)
}
