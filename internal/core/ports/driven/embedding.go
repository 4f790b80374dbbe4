package driven

import (
	"context"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// ProgressFunc reports batch progress of a long-running operation.
type ProgressFunc func(processed, total int)

// Embedder computes vectors for document chunks and queries.
//
// Implementations batch internally, preserve input order, and may
// transition once from GPU to CPU on a GPU runtime failure.
type Embedder interface {
	// EmbedDocuments embeds passages. progress may be nil.
	EmbedDocuments(ctx context.Context, texts []string, progress ProgressFunc) ([][]float32, error)

	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the output vector size.
	Dimensions() int

	// ModelName returns the embedding model in use.
	ModelName() string

	// Config returns the current resolved runtime configuration.
	Config() domain.ResolvedEmbedderConfig

	// Close releases the model and any worker processes.
	Close() error
}
