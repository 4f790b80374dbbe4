package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

func newTestServer(t *testing.T, ports *Ports) *Server {
	t.Helper()
	if ports.Search == nil {
		ports.Search = &mockSearchService{}
	}
	server, err := NewServer(ports)
	require.NoError(t, err)
	return server
}

func TestServer_handleSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("returns search results", func(t *testing.T) {
		mockSearch := &mockSearchService{
			resp: &domain.SearchResponse{
				Strategy: domain.StrategyHybrid,
				Results: []domain.SearchResult{{
					DocumentID: "doc-1",
					ChunkID:    "doc-1#2",
					Path:       "/path/to/doc.pdf",
					Title:      "Test Doc",
					Score:      0.95,
					MatchType:  domain.MatchSemantic,
					Snippet:    "matched <mark>text</mark>",
					Page:       4,
				}},
				Total: 7,
			},
		}
		server := newTestServer(t, &Ports{Search: mockSearch})

		input := SearchInput{Query: "test", Limit: 10}
		_, output, err := server.handleSearch(ctx, nil, input)

		require.NoError(t, err)
		assert.Equal(t, 7, output.Total)
		assert.Equal(t, "hybrid", output.Strategy)
		require.Len(t, output.Results, 1)
		r := output.Results[0]
		assert.Equal(t, "doc-1", r.DocumentID)
		assert.Equal(t, "sercha://documents/doc-1", r.URI)
		assert.Equal(t, "/path/to/doc.pdf", r.Path)
		assert.Equal(t, "Test Doc", r.Title)
		assert.Equal(t, 0.95, r.Score)
		assert.Equal(t, "semantic", r.MatchType)
		assert.Equal(t, 4, r.Page)
	})

	t.Run("passes options through", func(t *testing.T) {
		mockSearch := &mockSearchService{}
		server := newTestServer(t, &Ports{Search: mockSearch})

		input := SearchInput{Query: "test", Offset: 20, Strategy: "keyword", Path: "/docs", Tags: []string{"work"}}
		_, _, err := server.handleSearch(ctx, nil, input)

		require.NoError(t, err)
		assert.Equal(t, 10, mockSearch.lastOpts.Limit)
		assert.Equal(t, 20, mockSearch.lastOpts.Offset)
		assert.Equal(t, domain.StrategyKeyword, mockSearch.lastOpts.Strategy)
		assert.Equal(t, "/docs", mockSearch.lastOpts.Filters.PathPrefix)
		assert.Equal(t, []string{"work"}, mockSearch.lastOpts.Filters.Tags)
	})

	t.Run("returns error on search failure", func(t *testing.T) {
		mockSearch := &mockSearchService{
			err: errors.New("search failed"),
		}
		server := newTestServer(t, &Ports{Search: mockSearch})

		_, _, err := server.handleSearch(ctx, nil, SearchInput{Query: "test"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "search failed")
	})
}

func TestServer_handleIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("indexes absolute paths", func(t *testing.T) {
		idx := &mockIndexService{}
		server := newTestServer(t, &Ports{Index: idx})

		_, out, err := server.handleIndex(ctx, nil, IndexInput{Paths: []string{"/docs"}, Force: true, Tags: []string{"a"}})

		require.NoError(t, err)
		assert.Equal(t, [][]string{{"/docs"}}, idx.indexed)
		assert.True(t, idx.opts.Force)
		assert.Equal(t, []string{"a"}, idx.opts.Tags)
		assert.Equal(t, 1, out.Added)
		assert.Equal(t, 1, out.Failed)
		require.Len(t, out.Errors, 1)
		assert.Equal(t, FileErrorOutput{Path: "/docs/bad.pdf", Stage: "ocr", Message: "no text"}, out.Errors[0])
	})

	t.Run("rejects relative paths", func(t *testing.T) {
		idx := &mockIndexService{}
		server := newTestServer(t, &Ports{Index: idx})

		_, _, err := server.handleIndex(ctx, nil, IndexInput{Paths: []string{"docs"}})

		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Empty(t, idx.indexed)
	})

	t.Run("requires paths", func(t *testing.T) {
		server := newTestServer(t, &Ports{Index: &mockIndexService{}})

		_, _, err := server.handleIndex(ctx, nil, IndexInput{})

		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestServer_handleSync(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to configured roots", func(t *testing.T) {
		idx := &mockIndexService{}
		server := newTestServer(t, &Ports{Index: idx, Roots: []string{"/home/me/docs"}})

		_, out, err := server.handleSync(ctx, nil, SyncInput{})

		require.NoError(t, err)
		assert.Equal(t, [][]string{{"/home/me/docs"}}, idx.synced)
		assert.Equal(t, 1, idx.drained)
		assert.Equal(t, 2, out.Added)
		assert.Equal(t, 1, out.Removed)
		assert.Equal(t, 9, out.Unchanged)
	})

	t.Run("no roots", func(t *testing.T) {
		server := newTestServer(t, &Ports{Index: &mockIndexService{}})

		_, _, err := server.handleSync(ctx, nil, SyncInput{})

		assert.ErrorIs(t, err, ErrNoRoots)
	})
}

func TestServer_handleStats(t *testing.T) {
	idx := &mockIndexService{stats: &domain.Stats{
		Documents:      map[domain.DocumentStatus]int{domain.StatusIndexed: 4},
		TotalDocuments: 4,
		Chunks:         30,
		EmbeddedChunks: 28,
		Queue:          domain.QueueCounts{Queued: 1},
		Backend:        "badger",
	}}
	server := newTestServer(t, &Ports{Index: idx})

	_, out, err := server.handleStats(context.Background(), nil, StatsInput{})

	require.NoError(t, err)
	assert.Equal(t, map[string]int{"indexed": 4}, out.Documents)
	assert.Equal(t, 28, out.EmbeddedChunks)
	assert.Equal(t, 1, out.Queued)
	assert.Equal(t, "badger", out.Backend)
}
