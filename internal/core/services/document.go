package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driving"
)

// Ensure DocumentService implements the interface.
var _ driving.DocumentService = (*DocumentService)(nil)

// DocumentService reads documents from storage.
type DocumentService struct {
	store driven.Storage
}

// NewDocumentService creates a new document service.
func NewDocumentService(store driven.Storage) *DocumentService {
	return &DocumentService{store: store}
}

// List implements driving.DocumentService.
func (s *DocumentService) List(ctx context.Context, filter domain.DocumentFilter) ([]*domain.Document, error) {
	return s.store.QueryByFilters(ctx, filter)
}

// Get implements driving.DocumentService. Ids are tried before paths.
func (s *DocumentService) Get(ctx context.Context, ref string) (*domain.Document, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("%w: empty document reference", domain.ErrInvalidInput)
	}
	doc, err := s.store.GetDocument(ctx, ref)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return doc, err
	}
	return s.store.GetDocumentByPath(ctx, ref)
}

// GetContent implements driving.DocumentService. Documents stored
// without their text are rebuilt from their chunks.
func (s *DocumentService) GetContent(ctx context.Context, ref string) (string, error) {
	doc, err := s.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	if doc.Content != "" {
		return doc.Content, nil
	}

	chunks, err := s.store.GetChunks(ctx, doc.ID)
	if err != nil {
		return "", fmt.Errorf("get chunks %s: %w", doc.ID, err)
	}
	return stitch(chunks), nil
}

// stitch joins chunks in order, dropping the overlap between neighbours.
func stitch(chunks []domain.Chunk) string {
	var b strings.Builder
	covered := 0
	for i := range chunks {
		c := &chunks[i]
		switch {
		case i == 0 || c.StartOffset > covered:
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(c.Content)
		case c.EndOffset > covered && covered-c.StartOffset <= len(c.Content):
			b.WriteString(c.Content[covered-c.StartOffset:])
		}
		if c.EndOffset > covered {
			covered = c.EndOffset
		}
	}
	return b.String()
}
