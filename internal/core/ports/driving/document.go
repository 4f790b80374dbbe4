package driving

import (
	"context"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// DocumentService gives read access to indexed documents.
type DocumentService interface {
	// List returns documents matching filter, ordered by path.
	List(ctx context.Context, filter domain.DocumentFilter) ([]*domain.Document, error)

	// Get retrieves a document by id or absolute path.
	// Returns domain.ErrNotFound if neither matches.
	Get(ctx context.Context, ref string) (*domain.Document, error)

	// GetContent returns the extracted text of a document.
	GetContent(ctx context.Context, ref string) (string, error)
}
