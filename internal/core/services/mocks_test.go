package services

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/textindex"
	"github.com/custodia-labs/sercha-local/internal/vector"
)

// --- Mock implementations for services testing ---

const bagDims = 64

// bagEmbedder embeds text as a normalised bag of hashed words, so that
// texts sharing words are similar.
type bagEmbedder struct {
	mu sync.Mutex

	// fail, when set, is consulted before every EmbedDocuments call.
	fail func(call int) error

	docCalls   int
	embedded   int
	queryCalls int
}

func (m *bagEmbedder) EmbedDocuments(_ context.Context, texts []string, _ driven.ProgressFunc) ([][]float32, error) {
	m.mu.Lock()
	m.docCalls++
	call := m.docCalls
	fail := m.fail
	m.mu.Unlock()

	if fail != nil {
		if err := fail(call); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = bagVector(t)
	}

	m.mu.Lock()
	m.embedded += len(texts)
	m.mu.Unlock()
	return out, nil
}

func (m *bagEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.queryCalls++
	m.mu.Unlock()
	return bagVector(text), nil
}

func (m *bagEmbedder) Dimensions() int   { return bagDims }
func (m *bagEmbedder) ModelName() string { return "bag" }
func (m *bagEmbedder) Close() error      { return nil }

func (m *bagEmbedder) Config() domain.ResolvedEmbedderConfig {
	return domain.ResolvedEmbedderConfig{}
}

func (m *bagEmbedder) embeddedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embedded
}

func bagVector(text string) []float32 {
	v := make([]float32, bagDims)
	for _, tok := range textindex.Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		v[h.Sum32()%bagDims]++
	}
	return vector.Normalize(v)
}

// failingQueryEmbedder embeds documents but cannot embed queries.
type failingQueryEmbedder struct {
	bagEmbedder
}

func (m *failingQueryEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, domain.ErrEmbeddingWorkerCrash
}

// stubParsers returns canned parse results by file name and delegates
// to next for everything else.
type stubParsers struct {
	results map[string]*driven.ParseResult
	errs    map[string]error
	next    driven.ParserSelector
}

func (m *stubParsers) Parse(ctx context.Context, path string) (*driven.ParseResult, error) {
	name := filepath.Base(path)
	if err, ok := m.errs[name]; ok {
		return nil, err
	}
	if res, ok := m.results[name]; ok {
		cp := *res
		cp.Metadata = map[string]any{"parser": "stub"}
		return &cp, nil
	}
	if m.next != nil {
		return m.next.Parse(ctx, path)
	}
	return nil, domain.ErrUnsupportedFormat
}

// stubOCR answers recognition requests from a page to text map. Pages
// mapped to an empty string fail.
type stubOCR struct {
	mu    sync.Mutex
	pages map[int]string
	err   error
	reqs  []domain.OCRRequest
}

func (m *stubOCR) Recognize(_ context.Context, _ string, req domain.OCRRequest) (*domain.OCRResult, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	res := &domain.OCRResult{}
	for _, reg := range req.Regions {
		text := m.pages[reg.Page]
		r := domain.OCRRegionResult{Region: reg, Text: text, Confidence: 90, Languages: []string{"eng"}}
		if text == "" {
			r.Err = "no text recognised"
		}
		res.Regions = append(res.Regions, r)
	}
	return res, nil
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *recordingPublisher) Publish(e domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *recordingPublisher) named(name domain.EventName) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, e := range m.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// mockSchedulerStore implements driven.SchedulerStore for testing.
type mockSchedulerStore struct {
	mu      sync.RWMutex
	tasks   map[string]*domain.ScheduledTask
	results map[string][]domain.TaskResult
	pruned  int
	getErr  error
}

func newMockSchedulerStore() *mockSchedulerStore {
	return &mockSchedulerStore{
		tasks:   make(map[string]*domain.ScheduledTask),
		results: make(map[string][]domain.TaskResult),
	}
}

func (m *mockSchedulerStore) GetTask(_ context.Context, taskID string) (*domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, nil
	}
	cp := *task
	return &cp, nil
}

func (m *mockSchedulerStore) ListTasks(_ context.Context) ([]domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tasks := make([]domain.ScheduledTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

func (m *mockSchedulerStore) SaveTask(_ context.Context, task *domain.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task == nil {
		return domain.ErrInvalidInput
	}
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *mockSchedulerStore) RecordResult(_ context.Context, result *domain.TaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.TaskID] = append(m.results[result.TaskID], *result)
	return nil
}

func (m *mockSchedulerStore) GetTaskHistory(_ context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := m.results[taskID]
	if len(results) > limit {
		results = results[len(results)-limit:]
	}
	return results, nil
}

func (m *mockSchedulerStore) PruneHistory(_ context.Context, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned = keep
	return nil
}

func (m *mockSchedulerStore) task(id string) *domain.ScheduledTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tasks[id]; ok {
		cp := *t
		return &cp
	}
	return nil
}

func (m *mockSchedulerStore) resultCount(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results[id])
}

// mockIndexService implements driving.IndexService for scheduler tests.
type mockIndexService struct {
	mu        sync.Mutex
	syncCalls int
	syncRoots []string
	syncErr   error
	drainErr  error
	drained   *domain.IndexSummary
	block     chan struct{}
}

func (m *mockIndexService) Index(context.Context, []string, domain.IndexOptions) (*domain.IndexSummary, error) {
	return &domain.IndexSummary{}, nil
}

func (m *mockIndexService) Sync(_ context.Context, roots []string) (*domain.SyncSummary, error) {
	m.mu.Lock()
	m.syncCalls++
	m.syncRoots = roots
	block := m.block
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	return &domain.SyncSummary{}, m.syncErr
}

func (m *mockIndexService) Enqueue(context.Context, []string, domain.IndexOptions) (*domain.SyncSummary, error) {
	return &domain.SyncSummary{}, nil
}

func (m *mockIndexService) ProcessNext(context.Context) (*domain.ProcessResult, error) {
	return nil, domain.ErrQueueEmpty
}

func (m *mockIndexService) Drain(context.Context) (*domain.IndexSummary, error) {
	if m.drained != nil {
		return m.drained, m.drainErr
	}
	return &domain.IndexSummary{}, m.drainErr
}

func (m *mockIndexService) Resume(context.Context) (int, error) { return 0, nil }

func (m *mockIndexService) Stats(context.Context) (*domain.Stats, error) {
	return &domain.Stats{}, nil
}

func (m *mockIndexService) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncCalls
}

// errFlaky is a transient store failure.
var errFlaky = errors.New("database is locked")

// writeFiles creates files under a fresh temp dir and returns the dir.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return dir
}
