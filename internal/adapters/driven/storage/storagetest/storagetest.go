// Package storagetest is the conformance suite every storage backend must
// pass. Backends call Run from their own tests with a constructor that
// returns an empty store.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/textindex"
)

// Factory returns a new, empty store. The suite closes it.
type Factory func(t *testing.T) driven.Storage

// Run executes the full suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	open := func(t *testing.T) driven.Storage {
		t.Helper()
		s := newStore(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("Documents", func(t *testing.T) { testDocuments(t, open(t)) })
	t.Run("QueryByFilters", func(t *testing.T) { testQueryByFilters(t, open(t)) })
	t.Run("Chunks", func(t *testing.T) { testChunks(t, open(t)) })
	t.Run("ReplaceChunks", func(t *testing.T) { testReplaceChunks(t, open(t)) })
	t.Run("Embeddings", func(t *testing.T) { testEmbeddings(t, open(t)) })
	t.Run("KeywordSearch", func(t *testing.T) { testKeywordSearch(t, open(t)) })
	t.Run("KeywordSearchFilters", func(t *testing.T) { testKeywordSearchFilters(t, open(t)) })
	t.Run("VectorSearch", func(t *testing.T) { testVectorSearch(t, open(t)) })
	t.Run("Visibility", func(t *testing.T) { testVisibility(t, open(t)) })
	t.Run("Queue", func(t *testing.T) { testQueue(t, open(t)) })
	t.Run("ConcurrentDequeue", func(t *testing.T) { testConcurrentDequeue(t, open(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, open(t)) })
	t.Run("SchemaVersion", func(t *testing.T) { testSchemaVersion(t, open(t)) })
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewDocument returns a document fixture for path.
func NewDocument(id, path string, status domain.DocumentStatus) *domain.Document {
	return &domain.Document{
		ID:          id,
		Path:        path,
		Title:       path,
		ContentHash: "hash-" + id,
		Status:      status,
		Category:    domain.CategoryText,
		MIMEType:    "text/plain",
		Size:        42,
		ModTime:     base,
		OCRStatus:   domain.OCRNone,
		Metadata:    map[string]any{"lines": float64(3)},
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

// NewChunks returns one chunk per content string, linked to doc.
func NewChunks(docID string, contents ...string) []domain.Chunk {
	chunks := make([]domain.Chunk, len(contents))
	offset := 0
	for i, c := range contents {
		chunks[i] = domain.Chunk{
			ID:          fmt.Sprintf("%s-c%d", docID, i),
			DocumentID:  docID,
			Index:       i,
			Content:     c,
			StartOffset: offset,
			EndOffset:   offset + len(c),
			Heading:     "Intro",
			Page:        i + 1,
			TokenCount:  len(c) / 4,
		}
		offset += len(c)
	}
	return chunks
}

// seed stores an indexed document with chunks.
func seed(t *testing.T, s driven.Storage, doc *domain.Document, chunks []domain.Chunk) {
	t.Helper()
	ctx := context.Background()
	status := doc.Status
	doc.Status = domain.StatusEmbedding
	require.NoError(t, s.CreateDocument(ctx, doc))
	doc.Status = status
	require.NoError(t, s.ReplaceChunks(ctx, doc, chunks))
}

func chunkIDs(hits []domain.ChunkHit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Chunk.ID
	}
	return ids
}

func testDocuments(t *testing.T, s driven.Storage) {
	ctx := context.Background()
	doc := NewDocument("d1", "/data/a.txt", domain.StatusPending)
	doc.Tags = []string{"work"}
	require.NoError(t, s.CreateDocument(ctx, doc))

	t.Run("get by id", func(t *testing.T) {
		got, err := s.GetDocument(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, "/data/a.txt", got.Path)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.Equal(t, domain.CategoryText, got.Category)
		assert.Equal(t, []string{"work"}, got.Tags)
		assert.Equal(t, float64(3), got.Metadata["lines"])
		assert.Equal(t, int64(42), got.Size)
		assert.True(t, base.Equal(got.ModTime))
		assert.True(t, base.Equal(got.CreatedAt))
		assert.Nil(t, got.Error)
		assert.Nil(t, got.DeletedAt)
	})

	t.Run("get by path", func(t *testing.T) {
		got, err := s.GetDocumentByPath(ctx, "/data/a.txt")
		require.NoError(t, err)
		assert.Equal(t, "d1", got.ID)
	})

	t.Run("duplicate id", func(t *testing.T) {
		err := s.CreateDocument(ctx, NewDocument("d1", "/data/other.txt", domain.StatusPending))
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("duplicate path", func(t *testing.T) {
		err := s.CreateDocument(ctx, NewDocument("d2", "/data/a.txt", domain.StatusPending))
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetDocument(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = s.GetDocumentByPath(ctx, "/nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		err = s.UpdateDocument(ctx, NewDocument("nope", "/nope", domain.StatusPending))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("update", func(t *testing.T) {
		upd := NewDocument("d1", "/data/a.txt", domain.StatusError)
		upd.Error = &domain.DocumentError{Stage: domain.StageParsing, Message: "bad file"}
		upd.Content = "parsed text"
		deleted := base.Add(time.Hour)
		upd.DeletedAt = &deleted
		require.NoError(t, s.UpdateDocument(ctx, upd))

		got, err := s.GetDocument(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusError, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, domain.StageParsing, got.Error.Stage)
		assert.Equal(t, "bad file", got.Error.Message)
		assert.Equal(t, "parsed text", got.Content)
		require.NotNil(t, got.DeletedAt)
		assert.True(t, deleted.Equal(*got.DeletedAt))
	})

	t.Run("returned documents are copies", func(t *testing.T) {
		got, err := s.GetDocument(ctx, "d1")
		require.NoError(t, err)
		got.Title = "changed"
		again, err := s.GetDocument(ctx, "d1")
		require.NoError(t, err)
		assert.NotEqual(t, "changed", again.Title)
	})
}

func testQueryByFilters(t *testing.T, s driven.Storage) {
	ctx := context.Background()
	docs := []*domain.Document{
		NewDocument("d3", "/data/notes/c.md", domain.StatusIndexed),
		NewDocument("d1", "/data/a.txt", domain.StatusIndexed),
		NewDocument("d2", "/data/notes/b.txt", domain.StatusPending),
		NewDocument("d4", "/other/d.txt", domain.StatusError),
	}
	docs[0].Tags = []string{"work", "notes"}
	docs[1].Tags = []string{"work"}
	gone := base
	docs[3].DeletedAt = &gone
	for _, d := range docs {
		require.NoError(t, s.CreateDocument(ctx, d))
	}

	paths := func(list []*domain.Document) []string {
		out := make([]string, len(list))
		for i, d := range list {
			out[i] = d.Path
		}
		return out
	}

	tests := []struct {
		name   string
		filter domain.DocumentFilter
		want   []string
	}{
		{"all live ordered by path", domain.DocumentFilter{}, []string{"/data/a.txt", "/data/notes/b.txt", "/data/notes/c.md"}},
		{"include tombstoned", domain.DocumentFilter{IncludeTombstoned: true}, []string{"/data/a.txt", "/data/notes/b.txt", "/data/notes/c.md", "/other/d.txt"}},
		{"status", domain.DocumentFilter{Statuses: []domain.DocumentStatus{domain.StatusPending}}, []string{"/data/notes/b.txt"}},
		{"several statuses with prefix", domain.DocumentFilter{
			Statuses:          []domain.DocumentStatus{domain.StatusPending, domain.StatusError},
			PathPrefix:        "/",
			IncludeTombstoned: true,
		}, []string{"/data/notes/b.txt", "/other/d.txt"}},
		{"path prefix", domain.DocumentFilter{PathPrefix: "/data/notes/"}, []string{"/data/notes/b.txt", "/data/notes/c.md"}},
		{"tags", domain.DocumentFilter{Tags: []string{"work", "notes"}}, []string{"/data/notes/c.md"}},
		{"limit", domain.DocumentFilter{Limit: 2}, []string{"/data/a.txt", "/data/notes/b.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryByFilters(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(got))
		})
	}
}

func testChunks(t *testing.T, s driven.Storage) {
	ctx := context.Background()
	doc := NewDocument("d1", "/data/a.txt", domain.StatusChunking)
	require.NoError(t, s.CreateDocument(ctx, doc))

	chunks := NewChunks("d1", "first part", "second part", "third part")
	for i := len(chunks) - 1; i >= 0; i-- {
		c := chunks[i]
		require.NoError(t, s.CreateChunk(ctx, &c))
	}

	t.Run("ordered by index", func(t *testing.T) {
		got, err := s.GetChunks(ctx, "d1")
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, c := range got {
			assert.Equal(t, i, c.Index)
			assert.Equal(t, chunks[i].Content, c.Content)
			assert.Equal(t, chunks[i].StartOffset, c.StartOffset)
			assert.Equal(t, chunks[i].EndOffset, c.EndOffset)
			assert.Equal(t, chunks[i].Page, c.Page)
			assert.Equal(t, "Intro", c.Heading)
			assert.False(t, c.HasEmbedding())
		}
	})

	t.Run("get single", func(t *testing.T) {
		got, err := s.GetChunk(ctx, "d1-c1")
		require.NoError(t, err)
		assert.Equal(t, "second part", got.Content)
		assert.Equal(t, "d1", got.DocumentID)

		_, err = s.GetChunk(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("duplicate chunk", func(t *testing.T) {
		c := chunks[0]
		assert.ErrorIs(t, s.CreateChunk(ctx, &c), domain.ErrAlreadyExists)
	})

	t.Run("chunk for missing document", func(t *testing.T) {
		c := NewChunks("ghost", "boo")[0]
		assert.ErrorIs(t, s.CreateChunk(ctx, &c), domain.ErrNotFound)
	})

	t.Run("unknown document has no chunks", func(t *testing.T) {
		got, err := s.GetChunks(ctx, "ghost")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DeleteChunks(ctx, "d1"))
		got, err := s.GetChunks(ctx, "d1")
		require.NoError(t, err)
		assert.Empty(t, got)
		_, err = s.GetChunk(ctx, "d1-c0")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		require.NoError(t, s.DeleteChunks(ctx, "d1"))
	})
}

func testReplaceChunks(t *testing.T, s driven.Storage) {
	ctx := context.Background()
	doc := NewDocument("d1", "/data/a.txt", domain.StatusChunking)
	require.NoError(t, s.CreateDocument(ctx, doc))

	old := NewChunks("d1", "alpha", "beta", "gamma")
	require.NoError(t, s.ReplaceChunks(ctx, doc, old))

	doc.Status = domain.StatusEmbedding
	doc.Content = "delta"
	fresh := NewChunks("d1", "delta")
	fresh[0].Embedding = []float32{1, 0}
	require.NoError(t, s.ReplaceChunks(ctx, doc, fresh))

	got, err := s.GetChunks(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "delta", got[0].Content)
	assert.Equal(t, []float32{1, 0}, got[0].Embedding)

	_, err = s.GetChunk(ctx, "d1-c2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEmbedding, stored.Status)
	assert.Equal(t, "delta", stored.Content)

	t.Run("missing document", func(t *testing.T) {
		ghost := NewDocument("ghost", "/ghost", domain.StatusChunking)
		err := s.ReplaceChunks(ctx, ghost, NewChunks("ghost", "x"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func testEmbeddings(t *testing.T, s driven.Storage) {
	ctx := context.Background()
	doc := NewDocument("d1", "/data/a.txt", domain.StatusEmbedding)
	seed(t, s, doc, NewChunks("d1", "one", "two"))

	vec := []float32{0.25, -0.5, 0.125, 1}
	require.NoError(t, s.UpdateChunkEmbedding(ctx, "d1-c0", vec))

	got, err := s.GetChunk(ctx, "d1-c0")
	require.NoError(t, err)
	assert.Equal(t, vec, got.Embedding)

	t.Run("immutable once written", func(t *testing.T) {
		err := s.UpdateChunkEmbedding(ctx, "d1-c0", []float32{9, 9, 9, 9})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
		got, err := s.GetChunk(ctx, "d1-c0")
		require.NoError(t, err)
		assert.Equal(t, vec, got.Embedding)
	})

	t.Run("missing chunk", func(t *testing.T) {
		err := s.UpdateChunkEmbedding(ctx, "missing", vec)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("replacing chunks allows new embeddings", func(t *testing.T) {
		require.NoError(t, s.ReplaceChunks(ctx, doc, NewChunks("d1", "one", "two")))
		require.NoError(t, s.UpdateChunkEmbedding(ctx, "d1-c0", []float32{1, 2, 3, 4}))
	})
}

func testKeywordSearch(t *testing.T, s driven.Storage) {
	ctx := context.Background()
	seed(t, s, NewDocument("d1", "/data/fox.txt", domain.StatusIndexed), NewChunks("d1",
		"the quick brown fox jumps over the lazy dog",
		"a fox is a small omnivorous mammal",
	))
	seed(t, s, NewDocument("d2", "/data/dog.txt", domain.StatusIndexed), NewChunks("d2",
		"dogs and cats living together",
		"the brown dog sleeps",
	))

	search := func(raw string) []string {
		t.Helper()
		hits, err := s.KeywordSearch(ctx, textindex.ParseQuery(raw), domain.SearchFilters{}, 10)
		require.NoError(t, err)
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		}
		for _, h := range hits {
			assert.Positive(t, h.Score)
		}
		ids := chunkIDs(hits)
		sort.Strings(ids)
		return ids
	}

	assert.Equal(t, []string{"d1-c0", "d1-c1"}, search("fox"))
	assert.Equal(t, []string{"d1-c0", "d2-c1"}, search("brown"))
	assert.Equal(t, []string{"d1-c0"}, search(`"brown fox"`))
	assert.Empty(t, search(`"fox brown"`))
	assert.Equal(t, []string{"d1-c0", "d2-c1"}, search("brown dog"))
	assert.Equal(t, []string{"d2-c1"}, search("brown -fox"))
	assert.Equal(t, []string{"d1-c1", "d2-c0"}, search("mammal OR cats"))
	assert.Equal(t, []string{"d1-c0"}, search("FOX Lazy"))
	assert.Empty(t, search("unicorn"))
	assert.Empty(t, search(""))

	t.Run("limit keeps best", func(t *testing.T) {
		hits, err := s.KeywordSearch(ctx, textindex.ParseQuery("fox"), domain.SearchFilters{}, 1)
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("hits carry chunk data", func(t *testing.T) {
		hits, err := s.KeywordSearch(ctx, textindex.ParseQuery("omnivorous"), domain.SearchFilters{}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "d1", hits[0].Chunk.DocumentID)
		assert.Equal(t, 1, hits[0].Chunk.Index)
		assert.Equal(t, "a fox is a small omnivorous mammal", hits[0].Chunk.Content)
	})
}

func testKeywordSearchFilters(t *testing.T, s driven.Storage) {
	ctx := context.Background()
	d1 := NewDocument("d1", "/data/notes/a.md", domain.StatusIndexed)
	d1.Tags = []string{"work"}
	d1.Category = domain.CategoryMarkup
	d2 := NewDocument("d2", "/data/b.txt", domain.StatusIndexed)
	d3 := NewDocument("d3", "/other/c.pdf", domain.StatusIndexed)
	d3.Category = domain.CategoryPDF
	seed(t, s, d1, NewChunks("d1", "budget report"))
	seed(t, s, d2, NewChunks("d2", "budget draft"))
	seed(t, s, d3, NewChunks("d3", "budget final"))

	tests := []struct {
		name    string
		filters domain.SearchFilters
		want    []string
	}{
		{"none", domain.SearchFilters{}, []string{"d1-c0", "d2-c0", "d3-c0"}},
		{"document ids", domain.SearchFilters{DocumentIDs: []string{"d2", "d3"}}, []string{"d2-c0", "d3-c0"}},
		{"path prefix", domain.SearchFilters{PathPrefix: "/data/"}, []string{"d1-c0", "d2-c0"}},
		{"tags", domain.SearchFilters{Tags: []string{"work"}}, []string{"d1-c0"}},
		{"categories", domain.SearchFilters{Categories: []domain.Category{domain.CategoryPDF, domain.CategoryMarkup}}, []string{"d1-c0", "d3-c0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := s.KeywordSearch(ctx, textindex.ParseQuery("budget"), tt.filters, 10)
			require.NoError(t, err)
			ids := chunkIDs(hits)
			sort.Strings(ids)
			assert.Equal(t, tt.want, ids)

			vhits, err := s.VectorSearch(ctx, []float32{1, 0}, tt.filters, 10)
			require.NoError(t, err)
			assert.Empty(t, vhits)
		})
	}
}

func testVectorSearch(t *testing.T, s driven.Storage) {
	ctx := context.Background()
	chunks := NewChunks("d1", "north", "east", "northeast", "unembedded")
	chunks[0].Embedding = []float32{1, 0}
	chunks[1].Embedding = []float32{0, 1}
	chunks[2].Embedding = []float32{0.7071, 0.7071}
	seed(t, s, NewDocument("d1", "/data/a.txt", domain.StatusIndexed), chunks)

	other := NewChunks("d2", "other dims")
	other[0].Embedding = []float32{1, 0, 0}
	seed(t, s, NewDocument("d2", "/data/b.txt", domain.StatusIndexed), other)

	hits, err := s.VectorSearch(ctx, []float32{1, 0}, domain.SearchFilters{}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1-c0", "d1-c2", "d1-c1"}, chunkIDs(hits))
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)
	assert.InDelta(t, 0.7071, hits[1].Score, 1e-3)
	assert.InDelta(t, 0.0, hits[2].Score, 1e-4)
	assert.Equal(t, []float32{1, 0}, hits[0].Chunk.Embedding)

	hits, err = s.VectorSearch(ctx, []float32{1, 0}, domain.SearchFilters{}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1-c0", "d1-c2"}, chunkIDs(hits))

	hits, err = s.VectorSearch(ctx, nil, domain.SearchFilters{}, 2)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func testVisibility(t *testing.T, s driven.Storage) {
	ctx := context.Background()
	embedded := func(docID string) []domain.Chunk {
		c := NewChunks(docID, "shared keyword text")
		c[0].Embedding = []float32{1, 0}
		return c
	}
	seed(t, s, NewDocument("live", "/data/live.txt", domain.StatusIndexed), embedded("live"))
	seed(t, s, NewDocument("mid", "/data/mid.txt", domain.StatusEmbedding), embedded("mid"))
	seed(t, s, NewDocument("err", "/data/err.txt", domain.StatusError), embedded("err"))

	gone := NewDocument("gone", "/data/gone.txt", domain.StatusIndexed)
	seed(t, s, gone, embedded("gone"))
	now := base
	gone.DeletedAt = &now
	require.NoError(t, s.UpdateDocument(ctx, gone))

	khits, err := s.KeywordSearch(ctx, textindex.ParseQuery("keyword"), domain.SearchFilters{}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"live-c0"}, chunkIDs(khits))

	vhits, err := s.VectorSearch(ctx, []float32{1, 0}, domain.SearchFilters{}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"live-c0"}, chunkIDs(vhits))

	t.Run("becomes visible once indexed", func(t *testing.T) {
		mid, err := s.GetDocument(ctx, "mid")
		require.NoError(t, err)
		mid.Status = domain.StatusIndexed
		require.NoError(t, s.UpdateDocument(ctx, mid))

		khits, err := s.KeywordSearch(ctx, textindex.ParseQuery("keyword"), domain.SearchFilters{}, 10)
		require.NoError(t, err)
		ids := chunkIDs(khits)
		sort.Strings(ids)
		assert.Equal(t, []string{"live-c0", "mid-c0"}, ids)
	})
}

func testQueue(t *testing.T, s driven.Storage) {
	ctx := context.Background()

	_, err := s.DequeueNext(ctx)
	require.ErrorIs(t, err, domain.ErrQueueEmpty)

	items := []*domain.QueueItem{
		{TargetID: "low", Path: "/l", Priority: domain.PriorityLow, EnqueuedAt: base},
		{TargetID: "normal-late", Path: "/nl", Priority: domain.PriorityNormal, EnqueuedAt: base.Add(2 * time.Second)},
		{TargetID: "normal-early", Path: "/ne", Priority: domain.PriorityNormal, EnqueuedAt: base.Add(time.Second)},
		{TargetID: "high", Path: "/h", Priority: domain.PriorityHigh, EnqueuedAt: base.Add(3 * time.Second)},
		{TargetID: "done", Path: "/d", Priority: domain.PriorityHigh, Status: domain.QueueDone, EnqueuedAt: base},
	}
	for _, it := range items {
		if it.Status == "" {
			it.Status = domain.QueueQueued
		}
		it.UpdatedAt = it.EnqueuedAt
		require.NoError(t, s.UpsertQueueItem(ctx, it))
	}

	counts, err := s.GetQueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueCounts{Queued: 4, Done: 1}, counts)

	var order []string
	for i := 0; i < 4; i++ {
		it, err := s.DequeueNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.QueueProcessing, it.Status)
		order = append(order, it.TargetID)
	}
	assert.Equal(t, []string{"high", "normal-early", "normal-late", "low"}, order)

	_, err = s.DequeueNext(ctx)
	assert.ErrorIs(t, err, domain.ErrQueueEmpty)

	got, err := s.GetQueueItem(ctx, "high")
	require.NoError(t, err)
	assert.Equal(t, domain.QueueProcessing, got.Status)
	assert.Equal(t, "/h", got.Path)

	_, err = s.GetQueueItem(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	t.Run("upsert replaces", func(t *testing.T) {
		got.Status = domain.QueueFailed
		got.Attempts = 3
		got.LastError = "boom"
		require.NoError(t, s.UpsertQueueItem(ctx, got))

		again, err := s.GetQueueItem(ctx, "high")
		require.NoError(t, err)
		assert.Equal(t, domain.QueueFailed, again.Status)
		assert.Equal(t, 3, again.Attempts)
		assert.Equal(t, "boom", again.LastError)
	})

	t.Run("requeue stale", func(t *testing.T) {
		n, err := s.RequeueStale(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		counts, err := s.GetQueueStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.QueueCounts{Queued: 3, Done: 1, Failed: 1}, counts)

		it, err := s.DequeueNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, "normal-early", it.TargetID)
	})
}

func testConcurrentDequeue(t *testing.T, s driven.Storage) {
	ctx := context.Background()
	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, s.UpsertQueueItem(ctx, &domain.QueueItem{
			TargetID:   fmt.Sprintf("t%02d", i),
			Priority:   domain.PriorityNormal,
			Status:     domain.QueueQueued,
			EnqueuedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				it, err := s.DequeueNext(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[it.TargetID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, c := range seen {
		assert.Equal(t, 1, c, "target %s dequeued more than once", id)
	}
}

func testStats(t *testing.T, s driven.Storage) {
	ctx := context.Background()
	chunks := NewChunks("d1", "a", "b")
	chunks[0].Embedding = []float32{1}
	seed(t, s, NewDocument("d1", "/a", domain.StatusIndexed), chunks)
	require.NoError(t, s.CreateDocument(ctx, NewDocument("d2", "/b", domain.StatusPending)))
	require.NoError(t, s.CreateDocument(ctx, NewDocument("d3", "/c", domain.StatusSkipped)))
	gone := NewDocument("d4", "/d", domain.StatusIndexed)
	now := base
	gone.DeletedAt = &now
	require.NoError(t, s.CreateDocument(ctx, gone))
	require.NoError(t, s.UpsertQueueItem(ctx, &domain.QueueItem{
		TargetID: "d2", Priority: domain.PriorityNormal, Status: domain.QueueQueued, EnqueuedAt: base,
	}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalDocuments)
	assert.Equal(t, 1, st.Tombstoned)
	assert.Equal(t, 1, st.Documents[domain.StatusIndexed])
	assert.Equal(t, 1, st.Documents[domain.StatusPending])
	assert.Equal(t, 1, st.Documents[domain.StatusSkipped])
	assert.Equal(t, 2, st.Chunks)
	assert.Equal(t, 1, st.EmbeddedChunks)
	assert.Equal(t, 1, st.Queue.Queued)
	assert.Equal(t, storage.SchemaVersion, st.SchemaVersion)
	assert.NotEmpty(t, st.Backend)
}

func testSchemaVersion(t *testing.T, s driven.Storage) {
	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.SchemaVersion, v)
}
