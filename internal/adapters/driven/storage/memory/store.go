package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/textindex"
	"github.com/custodia-labs/sercha-local/internal/vector"
)

// Ensure Store implements the interface.
var _ driven.Storage = (*Store)(nil)

// Store is an in-memory implementation of driven.Storage.
type Store struct {
	mu        sync.RWMutex
	documents map[string]*domain.Document
	byPath    map[string]string
	chunks    map[string][]domain.Chunk
	chunkDoc  map[string]string
	queue     map[string]*domain.QueueItem
	text      *textindex.Index
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		documents: make(map[string]*domain.Document),
		byPath:    make(map[string]string),
		chunks:    make(map[string][]domain.Chunk),
		chunkDoc:  make(map[string]string),
		queue:     make(map[string]*domain.QueueItem),
		text:      textindex.NewIndex(),
	}
}

// CreateDocument inserts a new document.
func (s *Store) CreateDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[doc.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := s.byPath[doc.Path]; ok {
		return domain.ErrAlreadyExists
	}
	s.documents[doc.ID] = storage.CloneDocument(doc)
	s.byPath[doc.Path] = doc.ID
	return nil
}

// UpdateDocument replaces a document row.
func (s *Store) UpdateDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putDocumentLocked(doc)
}

func (s *Store) putDocumentLocked(doc *domain.Document) error {
	old, ok := s.documents[doc.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if old.Path != doc.Path {
		if other, taken := s.byPath[doc.Path]; taken && other != doc.ID {
			return domain.ErrAlreadyExists
		}
		delete(s.byPath, old.Path)
		s.byPath[doc.Path] = doc.ID
	}
	s.documents[doc.ID] = storage.CloneDocument(doc)
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return storage.CloneDocument(doc), nil
}

// GetDocumentByPath retrieves a document by path.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*domain.Document, error) {
	s.mu.RLock()
	id, ok := s.byPath[path]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.GetDocument(ctx, id)
}

// QueryByFilters lists documents ordered by path.
func (s *Store) QueryByFilters(_ context.Context, filter domain.DocumentFilter) ([]*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var docs []*domain.Document
	for _, doc := range s.documents {
		if storage.MatchDocument(doc, filter) {
			docs = append(docs, storage.CloneDocument(doc))
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	if filter.Limit > 0 && len(docs) > filter.Limit {
		docs = docs[:filter.Limit]
	}
	return docs, nil
}

// ReplaceChunks swaps a document's chunk set and writes the document row.
func (s *Store) ReplaceChunks(_ context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[doc.ID]; !ok {
		return domain.ErrNotFound
	}
	s.deleteChunksLocked(doc.ID)
	stored := make([]domain.Chunk, len(chunks))
	for i, c := range chunks {
		stored[i] = storage.CloneChunk(c)
		s.chunkDoc[c.ID] = doc.ID
		s.text.Add(c.ID, c.Content)
	}
	sortChunks(stored)
	s.chunks[doc.ID] = stored
	return s.putDocumentLocked(doc)
}

// CreateChunk inserts a single chunk.
func (s *Store) CreateChunk(_ context.Context, chunk *domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[chunk.DocumentID]; !ok {
		return domain.ErrNotFound
	}
	if _, ok := s.chunkDoc[chunk.ID]; ok {
		return domain.ErrAlreadyExists
	}
	list := append(s.chunks[chunk.DocumentID], storage.CloneChunk(*chunk))
	sortChunks(list)
	s.chunks[chunk.DocumentID] = list
	s.chunkDoc[chunk.ID] = chunk.DocumentID
	s.text.Add(chunk.ID, chunk.Content)
	return nil
}

// UpdateChunkEmbedding writes a chunk's vector once.
func (s *Store) UpdateChunkEmbedding(_ context.Context, chunkID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chunkLocked(chunkID)
	if c == nil {
		return domain.ErrNotFound
	}
	if c.HasEmbedding() {
		return domain.ErrAlreadyExists
	}
	c.Embedding = append([]float32(nil), embedding...)
	return nil
}

// GetChunks returns a document's chunks in index order.
func (s *Store) GetChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.chunks[documentID]
	out := make([]domain.Chunk, len(list))
	for i, c := range list {
		out[i] = storage.CloneChunk(c)
	}
	return out, nil
}

// GetChunk retrieves a specific chunk by ID.
func (s *Store) GetChunk(_ context.Context, id string) (*domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.chunkLocked(id)
	if c == nil {
		return nil, domain.ErrNotFound
	}
	out := storage.CloneChunk(*c)
	return &out, nil
}

// DeleteChunks removes all chunks of a document.
func (s *Store) DeleteChunks(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteChunksLocked(documentID)
	return nil
}

func (s *Store) deleteChunksLocked(documentID string) {
	for _, c := range s.chunks[documentID] {
		delete(s.chunkDoc, c.ID)
		s.text.Remove(c.ID)
	}
	delete(s.chunks, documentID)
}

func (s *Store) chunkLocked(id string) *domain.Chunk {
	docID, ok := s.chunkDoc[id]
	if !ok {
		return nil
	}
	list := s.chunks[docID]
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}

// KeywordSearch ranks visible chunks with BM25.
func (s *Store) KeywordSearch(_ context.Context, query domain.KeywordQuery, filters domain.SearchFilters, limit int) ([]domain.ChunkHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	allow := func(id string) bool {
		return storage.Searchable(s.documents[s.chunkDoc[id]], filters)
	}
	var hits []domain.ChunkHit
	for _, h := range s.text.Search(query, allow, limit) {
		if c := s.chunkLocked(h.ID); c != nil {
			hits = append(hits, domain.ChunkHit{Chunk: storage.CloneChunk(*c), Score: h.Score})
		}
	}
	return hits, nil
}

// VectorSearch ranks visible embedded chunks by cosine similarity.
func (s *Store) VectorSearch(_ context.Context, query []float32, filters domain.SearchFilters, limit int) ([]domain.ChunkHit, error) {
	if len(query) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []domain.ChunkHit
	for docID, list := range s.chunks {
		if !storage.Searchable(s.documents[docID], filters) {
			continue
		}
		for _, c := range list {
			if len(c.Embedding) != len(query) {
				continue
			}
			hits = append(hits, domain.ChunkHit{Chunk: storage.CloneChunk(c), Score: vector.Cosine(query, c.Embedding)})
		}
	}
	return storage.SortHits(hits, limit), nil
}

// UpsertQueueItem inserts or replaces the queue entry for a target.
func (s *Store) UpsertQueueItem(_ context.Context, item *domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.queue[item.TargetID] = &cp
	return nil
}

// DequeueNext moves the next queued item to processing.
func (s *Store) DequeueNext(_ context.Context) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *domain.QueueItem
	for _, it := range s.queue {
		if it.Status != domain.QueueQueued {
			continue
		}
		if next == nil || storage.DequeueBefore(it, next) {
			next = it
		}
	}
	if next == nil {
		return nil, domain.ErrQueueEmpty
	}
	next.Status = domain.QueueProcessing
	next.UpdatedAt = time.Now().UTC()
	cp := *next
	return &cp, nil
}

// GetQueueItem retrieves the queue entry for a target.
func (s *Store) GetQueueItem(_ context.Context, targetID string) (*domain.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.queue[targetID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

// GetQueueStatus counts queue entries by status.
func (s *Store) GetQueueStatus(_ context.Context) (domain.QueueCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c domain.QueueCounts
	for _, it := range s.queue {
		storage.CountQueue(&c, it.Status, 1)
	}
	return c, nil
}

// RequeueStale moves processing items back to queued.
func (s *Store) RequeueStale(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, it := range s.queue {
		if it.Status == domain.QueueProcessing {
			it.Status = domain.QueueQueued
			it.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// Stats summarises stored content.
func (s *Store) Stats(_ context.Context) (*domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := storage.NewStats(string(domain.BackendMemory))
	for _, doc := range s.documents {
		if doc.IsTombstoned() {
			st.Tombstoned++
			continue
		}
		st.TotalDocuments++
		st.Documents[doc.Status]++
	}
	for _, list := range s.chunks {
		for _, c := range list {
			st.Chunks++
			if c.HasEmbedding() {
				st.EmbeddedChunks++
			}
		}
	}
	for _, it := range s.queue {
		storage.CountQueue(&st.Queue, it.Status, 1)
	}
	return st, nil
}

// SchemaVersion returns the supported schema version. Memory stores are
// never persisted.
func (s *Store) SchemaVersion(_ context.Context) (int, error) {
	return storage.SchemaVersion, nil
}

// Close releases resources.
func (s *Store) Close() error {
	return nil
}

func sortChunks(list []domain.Chunk) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Index < list[j].Index })
}
