package driven

import (
	"context"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// Storage persists documents, chunks and the work queue, and answers
// keyword and vector queries. Every backend passes the same conformance
// suite.
//
// Search methods only return chunks whose document is indexed and not
// tombstoned. A document becomes indexed in a final write after all of
// its chunk and embedding writes have committed.
type Storage interface {
	// CreateDocument inserts a new document.
	// Returns domain.ErrAlreadyExists if the id or path is taken.
	CreateDocument(ctx context.Context, doc *domain.Document) error

	// UpdateDocument replaces a document row.
	// Returns domain.ErrNotFound if the document does not exist.
	UpdateDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document by id.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// GetDocumentByPath retrieves a document by absolute path.
	GetDocumentByPath(ctx context.Context, path string) (*domain.Document, error)

	// QueryByFilters lists documents ordered by path.
	QueryByFilters(ctx context.Context, filter domain.DocumentFilter) ([]*domain.Document, error)

	// ReplaceChunks atomically replaces a document's chunk set and writes
	// the document row. Readers never observe a mix of old and new chunks.
	ReplaceChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error

	// CreateChunk inserts a single chunk.
	CreateChunk(ctx context.Context, chunk *domain.Chunk) error

	// UpdateChunkEmbedding writes a chunk's vector.
	// Returns domain.ErrAlreadyExists if the chunk already has one.
	UpdateChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error

	// GetChunks returns a document's chunks in index order.
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// GetChunk retrieves a chunk by id.
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)

	// DeleteChunks removes all chunks of a document.
	DeleteChunks(ctx context.Context, documentID string) error

	// KeywordSearch ranks visible chunks against a parsed query.
	// Scores are larger-is-better.
	KeywordSearch(ctx context.Context, query domain.KeywordQuery, filters domain.SearchFilters, limit int) ([]domain.ChunkHit, error)

	// VectorSearch ranks visible embedded chunks by cosine similarity.
	VectorSearch(ctx context.Context, vector []float32, filters domain.SearchFilters, limit int) ([]domain.ChunkHit, error)

	// UpsertQueueItem inserts or replaces the queue entry for a target.
	UpsertQueueItem(ctx context.Context, item *domain.QueueItem) error

	// DequeueNext atomically moves the highest priority, oldest queued
	// item to processing and returns it.
	// Returns domain.ErrQueueEmpty when nothing is queued.
	DequeueNext(ctx context.Context) (*domain.QueueItem, error)

	// GetQueueItem retrieves the queue entry for a target.
	GetQueueItem(ctx context.Context, targetID string) (*domain.QueueItem, error)

	// GetQueueStatus counts queue entries by status.
	GetQueueStatus(ctx context.Context) (domain.QueueCounts, error)

	// RequeueStale moves processing items back to queued. Used when
	// resuming after a crash. Returns the number of items moved.
	RequeueStale(ctx context.Context) (int, error)

	// Stats summarises stored content.
	Stats(ctx context.Context) (*domain.Stats, error)

	// SchemaVersion returns the persisted schema version.
	SchemaVersion(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}
