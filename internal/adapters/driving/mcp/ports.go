package mcp

import (
	"github.com/custodia-labs/sercha-local/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Search provides search capabilities.
	Search driving.SearchService

	// Index runs indexing and reports statistics. The index, sync and
	// stats tools are only offered when it is set.
	Index driving.IndexService

	// Document reads indexed documents for the document resources.
	Document driving.DocumentService

	// Roots are the directories the sync tool reconciles by default.
	Roots []string
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Search == nil {
		return ErrMissingSearchService
	}
	return nil
}
