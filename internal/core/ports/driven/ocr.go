package driven

import (
	"context"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// OCRProvider recognises text in one or more input kinds.
type OCRProvider interface {
	Name() string
	Priority() int

	// Kinds returns the input kinds the provider accepts.
	Kinds() []domain.OCRSourceKind

	// Recognize runs a single recognition pass.
	Recognize(ctx context.Context, req domain.OCRRequest) (*domain.OCRResult, error)
}

// OCRService recognises a document's image regions, choosing providers
// and languages itself. correlationID tags the progress events it emits.
type OCRService interface {
	Recognize(ctx context.Context, correlationID string, req domain.OCRRequest) (*domain.OCRResult, error)
}
