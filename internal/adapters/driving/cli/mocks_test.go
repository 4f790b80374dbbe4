package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// mockIndexService records calls and returns canned summaries.
type mockIndexService struct {
	indexed   [][]string
	indexOpts []domain.IndexOptions
	synced    [][]string
	drained   int
	resumed   int

	indexErr error
	stats    *domain.Stats
}

func (m *mockIndexService) Index(_ context.Context, paths []string, opts domain.IndexOptions) (*domain.IndexSummary, error) {
	m.indexed = append(m.indexed, paths)
	m.indexOpts = append(m.indexOpts, opts)
	if m.indexErr != nil {
		return nil, m.indexErr
	}
	return &domain.IndexSummary{
		RunID:    "run-1",
		Added:    2,
		Updated:  1,
		Failed:   1,
		Errors:   []domain.FileError{{Path: "/docs/broken.pdf", Stage: domain.StageParsing, Message: "corrupt xref table"}},
		Duration: 1500 * time.Millisecond,
	}, nil
}

func (m *mockIndexService) Sync(_ context.Context, roots []string) (*domain.SyncSummary, error) {
	m.synced = append(m.synced, roots)
	return &domain.SyncSummary{Added: 1, Updated: 0, Removed: 3, Unchanged: 7}, nil
}

func (m *mockIndexService) Enqueue(_ context.Context, _ []string, _ domain.IndexOptions) (*domain.SyncSummary, error) {
	return &domain.SyncSummary{}, nil
}

func (m *mockIndexService) ProcessNext(_ context.Context) (*domain.ProcessResult, error) {
	return nil, domain.ErrQueueEmpty
}

func (m *mockIndexService) Drain(_ context.Context) (*domain.IndexSummary, error) {
	m.drained++
	return &domain.IndexSummary{Added: 1}, nil
}

func (m *mockIndexService) Resume(_ context.Context) (int, error) {
	m.resumed++
	return 0, nil
}

func (m *mockIndexService) Stats(_ context.Context) (*domain.Stats, error) {
	if m.stats != nil {
		return m.stats, nil
	}
	return &domain.Stats{
		Documents: map[domain.DocumentStatus]int{
			domain.StatusIndexed: 12,
			domain.StatusError:   1,
		},
		TotalDocuments: 13,
		Chunks:         140,
		EmbeddedChunks: 140,
		Queue:          domain.QueueCounts{Queued: 2},
		SchemaVersion:  3,
		Backend:        "sqlite",
	}, nil
}

// mockSearchService returns one result per call.
type mockSearchService struct {
	lastQuery string
	lastOpts  domain.SearchOptions
}

func (m *mockSearchService) Search(_ context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	m.lastQuery = query
	m.lastOpts = opts
	return &domain.SearchResponse{
		QueryID:  "q-1",
		Query:    query,
		Strategy: domain.StrategyHybrid,
		Results: []domain.SearchResult{{
			DocumentID: "doc-1",
			ChunkID:    "doc-1#0",
			Path:       "/docs/report.md",
			Title:      "Quarterly Report",
			Score:      0.95,
			MatchType:  domain.MatchBoth,
			Snippet:    "the <mark>test</mark> results",
			Section:    "Summary",
		}},
		Total:  1,
		Offset: opts.Offset,
		Limit:  opts.Limit,
		Took:   12 * time.Millisecond,
	}, nil
}

// mockSearchServiceError always fails.
type mockSearchServiceError struct{}

func (m *mockSearchServiceError) Search(_ context.Context, _ string, _ domain.SearchOptions) (*domain.SearchResponse, error) {
	return nil, errors.New("index unavailable")
}

// mockDocumentService serves a fixed set of documents.
type mockDocumentService struct {
	docs       []*domain.Document
	lastFilter domain.DocumentFilter
}

func (m *mockDocumentService) List(_ context.Context, filter domain.DocumentFilter) ([]*domain.Document, error) {
	m.lastFilter = filter
	var out []*domain.Document
	for _, d := range m.docs {
		if filter.PathPrefix != "" && !strings.HasPrefix(d.Path, filter.PathPrefix) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *mockDocumentService) Get(_ context.Context, ref string) (*domain.Document, error) {
	for _, d := range m.docs {
		if d.ID == ref || d.Path == ref {
			return d, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentService) GetContent(ctx context.Context, ref string) (string, error) {
	d, err := m.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	return d.Content, nil
}

func testDocuments() []*domain.Document {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return []*domain.Document{
		{
			ID:        "doc-1",
			Path:      "/docs/report.md",
			Title:     "Quarterly Report",
			Status:    domain.StatusIndexed,
			Category:  domain.CategoryMarkup,
			MIMEType:  "text/markdown",
			Size:      2048,
			Tags:      []string{"work"},
			Content:   "# Quarterly Report\n\nRevenue grew.",
			CreatedAt: created,
			UpdatedAt: created,
		},
		{
			ID:        "doc-2",
			Path:      "/scans/receipt.pdf",
			Title:     "receipt.pdf",
			Status:    domain.StatusError,
			Category:  domain.CategoryPDF,
			MIMEType:  "application/pdf",
			Error:     &domain.DocumentError{Stage: domain.StageOCR, Message: "tesseract not found"},
			CreatedAt: created,
			UpdatedAt: created,
		},
	}
}

// setupTestServices installs mocks for every service and stops commands
// from opening the real application.
func setupTestServices() func() {
	oldIndex, oldSearch, oldDocs := indexService, searchService, documentService
	oldEvents, oldSched, oldSettings, oldEmbedder := eventSource, scheduler, settings, embedderInfo
	oldLoad := loadServices

	indexService = &mockIndexService{}
	searchService = &mockSearchService{}
	documentService = &mockDocumentService{docs: testDocuments()}
	eventSource = nil
	scheduler = nil
	s := domain.DefaultSettings()
	settings = &s
	embedderInfo = &domain.ResolvedEmbedderConfig{
		Model:        "multilingual-e5-small",
		Backend:      "hash",
		Dimensions:   384,
		Device:       domain.DeviceCPU,
		Quantization: domain.QuantFP32,
	}
	loadServices = func(context.Context) error {
		return errors.New("loadServices called in test")
	}

	return func() {
		indexService, searchService, documentService = oldIndex, oldSearch, oldDocs
		eventSource, scheduler, settings, embedderInfo = oldEvents, oldSched, oldSettings, oldEmbedder
		loadServices = oldLoad
	}
}

// execute runs the root command with args and returns everything it wrote.
func execute(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}
