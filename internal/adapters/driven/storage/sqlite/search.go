package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/vector"
)

// visibleJoin restricts chunks to indexed, live documents and selects the
// document fields the search filters need.
const visibleJoin = `
	JOIN documents d ON d.id = c.document_id
	WHERE d.status = 'indexed' AND d.deleted_at IS NULL`

// MatchExpression renders a parsed query in FTS5 query syntax. Words
// are quoted so that FTS5 operators in user input are taken literally.
func MatchExpression(q domain.KeywordQuery) string {
	if q.IsEmpty() {
		return ""
	}
	groups := make([]string, 0, len(q.Groups))
	for _, g := range q.Groups {
		alts := make([]string, 0, len(g))
		for _, t := range g {
			alts = append(alts, quoteTerm(t))
		}
		groups = append(groups, "("+strings.Join(alts, " OR ")+")")
	}
	expr := strings.Join(groups, " AND ")
	if len(q.Excluded) == 0 {
		return expr
	}
	excluded := make([]string, 0, len(q.Excluded))
	for _, t := range q.Excluded {
		excluded = append(excluded, quoteTerm(t))
	}
	return "(" + expr + ") NOT (" + strings.Join(excluded, " OR ") + ")"
}

func quoteTerm(t domain.Term) string {
	return `"` + strings.ReplaceAll(strings.Join(t.Words, " "), `"`, `""`) + `"`
}

// KeywordSearch ranks visible chunks with FTS5 bm25.
func (s *Store) KeywordSearch(ctx context.Context, query domain.KeywordQuery, filters domain.SearchFilters, limit int) ([]domain.ChunkHit, error) {
	expr := MatchExpression(query)
	if expr == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`, d.path, d.category, d.tags, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid`+visibleJoin+`
		AND chunks_fts MATCH ?
		ORDER BY rank, c.id
	`, expr)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []domain.ChunkHit
	for rows.Next() {
		var rank float64
		chunk, ok, err := scanVisibleChunk(rows, filters, &rank)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		// bm25() is smaller-is-better and negative for matches.
		hits = append(hits, domain.ChunkHit{Chunk: *chunk, Score: -rank})
		if limit > 0 && len(hits) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return hits, nil
}

// VectorSearch ranks visible embedded chunks by cosine similarity.
func (s *Store) VectorSearch(ctx context.Context, query []float32, filters domain.SearchFilters, limit int) ([]domain.ChunkHit, error) {
	if len(query) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`, d.path, d.category, d.tags
		FROM chunks c`+visibleJoin+`
		AND c.embedding IS NOT NULL AND c.dimensions = ?
	`, len(query))
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []domain.ChunkHit
	for rows.Next() {
		chunk, ok, err := scanVisibleChunk(rows, filters)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		hits = append(hits, domain.ChunkHit{Chunk: *chunk, Score: vector.Cosine(query, chunk.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return storage.SortHits(hits, limit), nil
}

// scanVisibleChunk scans a chunk joined with its document and applies the
// search filters. ok is false when the filters reject the chunk.
func scanVisibleChunk(rows *sql.Rows, filters domain.SearchFilters, extra ...any) (*domain.Chunk, bool, error) {
	var path, category, tagsJSON string
	dest := append([]any{&path, &category, &tagsJSON}, extra...)
	chunk, err := scanChunk(rows, dest...)
	if err != nil {
		return nil, false, err
	}
	doc := &domain.Document{
		ID:       chunk.DocumentID,
		Path:     path,
		Category: domain.Category(category),
		Status:   domain.StatusIndexed,
	}
	if err := json.Unmarshal([]byte(tagsJSON), &doc.Tags); err != nil {
		return nil, false, fmt.Errorf("unmarshaling tags: %w", err)
	}
	return chunk, storage.Searchable(doc, filters), nil
}
