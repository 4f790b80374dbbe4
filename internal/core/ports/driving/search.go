package driving

import (
	"context"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// SearchService provides search capabilities to external actors.
type SearchService interface {
	// Search ranks indexed chunks against query. Zero option fields fall
	// back to configured defaults.
	Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error)
}
