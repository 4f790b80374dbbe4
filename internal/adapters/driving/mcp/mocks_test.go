package mcp

import (
	"context"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// mockSearchService is a mock implementation of driving.SearchService.
type mockSearchService struct {
	resp     *domain.SearchResponse
	err      error
	lastOpts domain.SearchOptions
}

func (m *mockSearchService) Search(
	_ context.Context,
	query string,
	opts domain.SearchOptions,
) (*domain.SearchResponse, error) {
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	if m.resp != nil {
		return m.resp, nil
	}
	return &domain.SearchResponse{Query: query, Strategy: domain.StrategyHybrid}, nil
}

// mockIndexService is a mock implementation of driving.IndexService.
type mockIndexService struct {
	indexed [][]string
	opts    domain.IndexOptions
	synced  [][]string
	drained int
	stats   *domain.Stats
	err     error
}

func (m *mockIndexService) Index(_ context.Context, paths []string, opts domain.IndexOptions) (*domain.IndexSummary, error) {
	m.indexed = append(m.indexed, paths)
	m.opts = opts
	if m.err != nil {
		return nil, m.err
	}
	return &domain.IndexSummary{
		Added:  len(paths),
		Failed: 1,
		Errors: []domain.FileError{{Path: "/docs/bad.pdf", Stage: domain.StageOCR, Message: "no text"}},
	}, nil
}

func (m *mockIndexService) Sync(_ context.Context, roots []string) (*domain.SyncSummary, error) {
	m.synced = append(m.synced, roots)
	if m.err != nil {
		return nil, m.err
	}
	return &domain.SyncSummary{Added: 2, Removed: 1, Unchanged: 9}, nil
}

func (m *mockIndexService) Enqueue(_ context.Context, _ []string, _ domain.IndexOptions) (*domain.SyncSummary, error) {
	return &domain.SyncSummary{}, m.err
}

func (m *mockIndexService) ProcessNext(_ context.Context) (*domain.ProcessResult, error) {
	return nil, domain.ErrQueueEmpty
}

func (m *mockIndexService) Drain(_ context.Context) (*domain.IndexSummary, error) {
	m.drained++
	return &domain.IndexSummary{Added: 2}, m.err
}

func (m *mockIndexService) Resume(_ context.Context) (int, error) {
	return 0, m.err
}

func (m *mockIndexService) Stats(_ context.Context) (*domain.Stats, error) {
	return m.stats, m.err
}

// mockDocumentService is a mock implementation of driving.DocumentService.
type mockDocumentService struct {
	documents  []*domain.Document
	content    map[string]string
	lastFilter domain.DocumentFilter
	err        error
}

func (m *mockDocumentService) List(_ context.Context, filter domain.DocumentFilter) ([]*domain.Document, error) {
	m.lastFilter = filter
	return m.documents, m.err
}

func (m *mockDocumentService) Get(_ context.Context, ref string) (*domain.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, d := range m.documents {
		if d.ID == ref {
			return d, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentService) GetContent(_ context.Context, ref string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	c, ok := m.content[ref]
	if !ok {
		return "", domain.ErrNotFound
	}
	return c, nil
}
