package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/logger"
	"github.com/custodia-labs/sercha-local/internal/textindex"
	"github.com/custodia-labs/sercha-local/internal/vector"
)

var log = logger.ForComponent(logger.CompStorage).With(slog.String("backend", "badger"))

// Ensure Store implements the interface.
var _ driven.Storage = (*Store)(nil)

// Store is a BadgerDB implementation of driven.Storage.
type Store struct {
	db   *badger.DB
	path string
	text *textindex.Index

	// writeMu serialises read-modify-write transactions so that they
	// never fail with badger.ErrConflict.
	writeMu sync.Mutex
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, args ...any) {
	l.logger.Error(fmt.Sprintf(msg, args...))
}

func (l *badgerLogger) Warningf(msg string, args ...any) {
	l.logger.Warn(fmt.Sprintf(msg, args...))
}

// Infof is demoted to debug; badger is chatty at info level.
func (l *badgerLogger) Infof(msg string, args ...any) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}

func (l *badgerLogger) Debugf(msg string, args ...any) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}

// NewStore opens or creates a Badger database under dataDir/badger.
func NewStore(dataDir string) (*Store, error) {
	path := dataDir + string(os.PathSeparator) + "badger"
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("creating badger directory: %w", err)
	}
	return open(badger.DefaultOptions(path), path)
}

// NewMemoryStore opens a Badger database that lives only in memory.
func NewMemoryStore() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), ":memory:")
}

func open(opts badger.Options, path string) (*Store, error) {
	opts.Logger = &badgerLogger{logger: log}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	s := &Store{db: db, path: path, text: textindex.NewIndex()}
	if err := s.checkSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadTextIndex(); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("store opened", slog.String("path", path), slog.Int("chunks", s.text.Len()))
	return s, nil
}

// checkSchema records the schema version on first open and rejects
// databases written by a newer build.
func (s *Store) checkSchema() error {
	return s.update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaVersionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set([]byte(schemaVersionKey), []byte(strconv.Itoa(storage.SchemaVersion)))
		}
		if err != nil {
			return err
		}
		var version int
		if err := item.Value(func(val []byte) error {
			version, err = strconv.Atoi(string(val))
			return err
		}); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
		if version > storage.SchemaVersion {
			return fmt.Errorf("%w: database version %d, supported %d",
				domain.ErrIncompatibleSchema, version, storage.SchemaVersion)
		}
		return nil
	})
}

func (s *Store) loadTextIndex() error {
	return s.db.View(func(txn *badger.Txn) error {
		return iterate(txn, []byte(chunkPrefix), func(val []byte) error {
			var c domain.Chunk
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			s.text.Add(c.ID, c.Content)
			return nil
		})
	})
}

// Path returns the database directory.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) update(fn func(txn *badger.Txn) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Update(fn)
}

// ==================== Documents ====================

// CreateDocument inserts a new document.
func (s *Store) CreateDocument(_ context.Context, doc *domain.Document) error {
	err := s.update(func(txn *badger.Txn) error {
		if exists(txn, documentKey(doc.ID)) || exists(txn, pathKey(doc.Path)) {
			return domain.ErrAlreadyExists
		}
		if err := txn.Set(pathKey(doc.Path), []byte(doc.ID)); err != nil {
			return err
		}
		return setJSON(txn, documentKey(doc.ID), doc)
	})
	if err != nil {
		return fmt.Errorf("create document %s: %w", doc.ID, err)
	}
	return nil
}

// UpdateDocument replaces a document row.
func (s *Store) UpdateDocument(_ context.Context, doc *domain.Document) error {
	if err := s.update(func(txn *badger.Txn) error { return putDocument(txn, doc) }); err != nil {
		return fmt.Errorf("update document %s: %w", doc.ID, err)
	}
	return nil
}

func putDocument(txn *badger.Txn, doc *domain.Document) error {
	var old domain.Document
	if err := getJSON(txn, documentKey(doc.ID), &old); err != nil {
		return err
	}
	if old.Path != doc.Path {
		if exists(txn, pathKey(doc.Path)) {
			return domain.ErrAlreadyExists
		}
		if err := txn.Delete(pathKey(old.Path)); err != nil {
			return err
		}
		if err := txn.Set(pathKey(doc.Path), []byte(doc.ID)); err != nil {
			return err
		}
	}
	return setJSON(txn, documentKey(doc.ID), doc)
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	var doc domain.Document
	if err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, documentKey(id), &doc)
	}); err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &doc, nil
}

// GetDocumentByPath retrieves a document by path.
func (s *Store) GetDocumentByPath(_ context.Context, path string) (*domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pathKey(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, documentKey(string(id)), &doc)
	})
	if err != nil {
		return nil, fmt.Errorf("get document by path %s: %w", path, err)
	}
	return &doc, nil
}

// QueryByFilters lists documents ordered by path.
func (s *Store) QueryByFilters(_ context.Context, filter domain.DocumentFilter) ([]*domain.Document, error) {
	var docs []*domain.Document
	err := s.db.View(func(txn *badger.Txn) error {
		return iterate(txn, []byte(documentPrefix), func(val []byte) error {
			var doc domain.Document
			if err := json.Unmarshal(val, &doc); err != nil {
				return err
			}
			if storage.MatchDocument(&doc, filter) {
				docs = append(docs, &doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	if filter.Limit > 0 && len(docs) > filter.Limit {
		docs = docs[:filter.Limit]
	}
	return docs, nil
}

// ==================== Chunks ====================

// ReplaceChunks swaps a document's chunk set and writes the document row
// in one transaction.
func (s *Store) ReplaceChunks(_ context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	var removed []string
	err := s.update(func(txn *badger.Txn) error {
		if !exists(txn, documentKey(doc.ID)) {
			return domain.ErrNotFound
		}
		var err error
		if removed, err = deleteChunks(txn, doc.ID); err != nil {
			return err
		}
		for i := range chunks {
			if err := putChunk(txn, &chunks[i]); err != nil {
				return err
			}
		}
		return putDocument(txn, doc)
	})
	if err != nil {
		return fmt.Errorf("replace chunks of %s: %w", doc.ID, err)
	}
	for _, id := range removed {
		s.text.Remove(id)
	}
	for _, c := range chunks {
		s.text.Add(c.ID, c.Content)
	}
	return nil
}

// CreateChunk inserts a single chunk.
func (s *Store) CreateChunk(_ context.Context, chunk *domain.Chunk) error {
	err := s.update(func(txn *badger.Txn) error {
		if !exists(txn, documentKey(chunk.DocumentID)) {
			return domain.ErrNotFound
		}
		if exists(txn, chunkKey(chunk.ID)) {
			return domain.ErrAlreadyExists
		}
		return putChunk(txn, chunk)
	})
	if err != nil {
		return fmt.Errorf("create chunk %s: %w", chunk.ID, err)
	}
	s.text.Add(chunk.ID, chunk.Content)
	return nil
}

func putChunk(txn *badger.Txn, chunk *domain.Chunk) error {
	if err := txn.Set(documentChunkKey(chunk.DocumentID, chunk.ID), nil); err != nil {
		return err
	}
	return setJSON(txn, chunkKey(chunk.ID), chunk)
}

// UpdateChunkEmbedding writes a chunk's vector once.
func (s *Store) UpdateChunkEmbedding(_ context.Context, chunkID string, embedding []float32) error {
	err := s.update(func(txn *badger.Txn) error {
		var c domain.Chunk
		if err := getJSON(txn, chunkKey(chunkID), &c); err != nil {
			return err
		}
		if c.HasEmbedding() {
			return domain.ErrAlreadyExists
		}
		c.Embedding = embedding
		return setJSON(txn, chunkKey(chunkID), &c)
	})
	if err != nil {
		return fmt.Errorf("update embedding of %s: %w", chunkID, err)
	}
	return nil
}

// GetChunks returns a document's chunks in index order.
func (s *Store) GetChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	chunks := []domain.Chunk{}
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := chunkIDs(txn, documentID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var c domain.Chunk
			if err := getJSON(txn, chunkKey(id), &c); err != nil {
				return err
			}
			chunks = append(chunks, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get chunks of %s: %w", documentID, err)
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// GetChunk retrieves a specific chunk by ID.
func (s *Store) GetChunk(_ context.Context, id string) (*domain.Chunk, error) {
	var c domain.Chunk
	if err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, chunkKey(id), &c)
	}); err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", id, err)
	}
	return &c, nil
}

// DeleteChunks removes all chunks of a document.
func (s *Store) DeleteChunks(_ context.Context, documentID string) error {
	var removed []string
	err := s.update(func(txn *badger.Txn) error {
		var err error
		removed, err = deleteChunks(txn, documentID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete chunks of %s: %w", documentID, err)
	}
	for _, id := range removed {
		s.text.Remove(id)
	}
	return nil
}

func chunkIDs(txn *badger.Txn, documentID string) ([]string, error) {
	prefix := documentChunksPrefix(documentID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		ids = append(ids, string(it.Item().Key()[len(prefix):]))
	}
	return ids, nil
}

func deleteChunks(txn *badger.Txn, documentID string) ([]string, error) {
	ids, err := chunkIDs(txn, documentID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := txn.Delete(chunkKey(id)); err != nil {
			return nil, err
		}
		if err := txn.Delete(documentChunkKey(documentID, id)); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// ==================== Search ====================

// KeywordSearch ranks visible chunks with BM25.
func (s *Store) KeywordSearch(_ context.Context, query domain.KeywordQuery, filters domain.SearchFilters, limit int) ([]domain.ChunkHit, error) {
	ranked := s.text.Search(query, nil, 0)
	if len(ranked) == 0 {
		return nil, nil
	}
	var hits []domain.ChunkHit
	err := s.db.View(func(txn *badger.Txn) error {
		docs := newDocumentCache(txn)
		for _, h := range ranked {
			var c domain.Chunk
			err := getJSON(txn, chunkKey(h.ID), &c)
			if errors.Is(err, domain.ErrNotFound) {
				// Replaced after the index was read.
				continue
			}
			if err != nil {
				return err
			}
			if !storage.Searchable(docs.get(c.DocumentID), filters) {
				continue
			}
			hits = append(hits, domain.ChunkHit{Chunk: c, Score: h.Score})
			if limit > 0 && len(hits) == limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return hits, nil
}

// VectorSearch ranks visible embedded chunks by cosine similarity.
func (s *Store) VectorSearch(_ context.Context, query []float32, filters domain.SearchFilters, limit int) ([]domain.ChunkHit, error) {
	if len(query) == 0 {
		return nil, nil
	}
	var hits []domain.ChunkHit
	err := s.db.View(func(txn *badger.Txn) error {
		docs := newDocumentCache(txn)
		return iterate(txn, []byte(chunkPrefix), func(val []byte) error {
			var c domain.Chunk
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			if len(c.Embedding) != len(query) {
				return nil
			}
			if !storage.Searchable(docs.get(c.DocumentID), filters) {
				return nil
			}
			hits = append(hits, domain.ChunkHit{Chunk: c, Score: vector.Cosine(query, c.Embedding)})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return storage.SortHits(hits, limit), nil
}

// documentCache memoises document reads within one transaction.
type documentCache struct {
	txn  *badger.Txn
	docs map[string]*domain.Document
}

func newDocumentCache(txn *badger.Txn) *documentCache {
	return &documentCache{txn: txn, docs: make(map[string]*domain.Document)}
}

// get returns nil for a missing or unreadable document.
func (c *documentCache) get(id string) *domain.Document {
	if doc, ok := c.docs[id]; ok {
		return doc
	}
	var doc *domain.Document
	var d domain.Document
	if err := getJSON(c.txn, documentKey(id), &d); err == nil {
		doc = &d
	}
	c.docs[id] = doc
	return doc
}

// ==================== Queue ====================

// UpsertQueueItem inserts or replaces the queue entry for a target.
func (s *Store) UpsertQueueItem(_ context.Context, item *domain.QueueItem) error {
	if err := s.update(func(txn *badger.Txn) error {
		return setJSON(txn, queueKey(item.TargetID), item)
	}); err != nil {
		return fmt.Errorf("upsert queue item %s: %w", item.TargetID, err)
	}
	return nil
}

// DequeueNext moves the next queued item to processing.
func (s *Store) DequeueNext(_ context.Context) (*domain.QueueItem, error) {
	var next *domain.QueueItem
	err := s.update(func(txn *badger.Txn) error {
		items, err := queueItems(txn)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.Status != domain.QueueQueued {
				continue
			}
			if next == nil || storage.DequeueBefore(it, next) {
				next = it
			}
		}
		if next == nil {
			return domain.ErrQueueEmpty
		}
		next.Status = domain.QueueProcessing
		next.UpdatedAt = time.Now().UTC()
		return setJSON(txn, queueKey(next.TargetID), next)
	})
	if errors.Is(err, domain.ErrQueueEmpty) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return next, nil
}

// GetQueueItem retrieves the queue entry for a target.
func (s *Store) GetQueueItem(_ context.Context, targetID string) (*domain.QueueItem, error) {
	var item domain.QueueItem
	if err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, queueKey(targetID), &item)
	}); err != nil {
		return nil, fmt.Errorf("get queue item %s: %w", targetID, err)
	}
	return &item, nil
}

// GetQueueStatus counts queue entries by status.
func (s *Store) GetQueueStatus(_ context.Context) (domain.QueueCounts, error) {
	var counts domain.QueueCounts
	err := s.db.View(func(txn *badger.Txn) error {
		items, err := queueItems(txn)
		for _, it := range items {
			storage.CountQueue(&counts, it.Status, 1)
		}
		return err
	})
	if err != nil {
		return domain.QueueCounts{}, fmt.Errorf("queue status: %w", err)
	}
	return counts, nil
}

// RequeueStale moves processing items back to queued.
func (s *Store) RequeueStale(_ context.Context) (int, error) {
	n := 0
	err := s.update(func(txn *badger.Txn) error {
		items, err := queueItems(txn)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, it := range items {
			if it.Status != domain.QueueProcessing {
				continue
			}
			it.Status = domain.QueueQueued
			it.UpdatedAt = now
			if err := setJSON(txn, queueKey(it.TargetID), it); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("requeue stale: %w", err)
	}
	return n, nil
}

func queueItems(txn *badger.Txn) ([]*domain.QueueItem, error) {
	var items []*domain.QueueItem
	err := iterate(txn, []byte(queuePrefix), func(val []byte) error {
		var it domain.QueueItem
		if err := json.Unmarshal(val, &it); err != nil {
			return err
		}
		items = append(items, &it)
		return nil
	})
	return items, err
}

// ==================== Stats ====================

// Stats summarises stored content.
func (s *Store) Stats(_ context.Context) (*domain.Stats, error) {
	st := storage.NewStats(string(domain.BackendBadger))
	err := s.db.View(func(txn *badger.Txn) error {
		if err := iterate(txn, []byte(documentPrefix), func(val []byte) error {
			var doc domain.Document
			if err := json.Unmarshal(val, &doc); err != nil {
				return err
			}
			if doc.IsTombstoned() {
				st.Tombstoned++
				return nil
			}
			st.TotalDocuments++
			st.Documents[doc.Status]++
			return nil
		}); err != nil {
			return err
		}
		if err := iterate(txn, []byte(chunkPrefix), func(val []byte) error {
			var c domain.Chunk
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			st.Chunks++
			if c.HasEmbedding() {
				st.EmbeddedChunks++
			}
			return nil
		}); err != nil {
			return err
		}
		items, err := queueItems(txn)
		for _, it := range items {
			storage.CountQueue(&st.Queue, it.Status, 1)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// SchemaVersion returns the persisted schema version.
func (s *Store) SchemaVersion(_ context.Context) (int, error) {
	var version int
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaVersionKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			version, err = strconv.Atoi(string(val))
			return err
		})
	})
	if err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return version, nil
}

// ==================== Helpers ====================

func exists(txn *badger.Txn, key []byte) bool {
	_, err := txn.Get(key)
	return err == nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// iterate calls fn with the value of every key under prefix.
func iterate(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}
