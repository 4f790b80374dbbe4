package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// visibleJoin restricts chunks to indexed, live documents.
const visibleJoin = `
	JOIN documents d ON d.id = c.document_id
	WHERE d.status = 'indexed' AND d.deleted_at IS NULL`

// hitRow is a chunk with the document fields search filters need.
type hitRow struct {
	chunkRow
	DocPath     string  `db:"doc_path"`
	DocCategory string  `db:"doc_category"`
	DocTags     []byte  `db:"doc_tags"`
	Score       float64 `db:"score"`
}

const hitColumns = chunkColumns + `, d.path AS doc_path, d.category AS doc_category, d.tags AS doc_tags`

// TSQuery renders a parsed query in to_tsquery syntax. Every word is
// quoted so that tsquery operators in user input are taken literally.
func TSQuery(q domain.KeywordQuery) string {
	if q.IsEmpty() {
		return ""
	}
	groups := make([]string, 0, len(q.Groups))
	for _, g := range q.Groups {
		alts := make([]string, 0, len(g))
		for _, t := range g {
			alts = append(alts, tsTerm(t))
		}
		groups = append(groups, "("+strings.Join(alts, " | ")+")")
	}
	for _, t := range q.Excluded {
		groups = append(groups, "!"+tsTerm(t))
	}
	return strings.Join(groups, " & ")
}

func tsTerm(t domain.Term) string {
	words := make([]string, len(t.Words))
	for i, w := range t.Words {
		words[i] = "'" + strings.NewReplacer(`'`, `''`, `\`, `\\`).Replace(w) + "'"
	}
	return "(" + strings.Join(words, " <-> ") + ")"
}

// KeywordSearch ranks visible chunks with ts_rank_cd.
func (s *Store) KeywordSearch(ctx context.Context, query domain.KeywordQuery, filters domain.SearchFilters, limit int) ([]domain.ChunkHit, error) {
	expr := TSQuery(query)
	if expr == "" {
		return nil, nil
	}
	var rows []hitRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+hitColumns+`, ts_rank_cd(c.tokens, q) AS score
		FROM to_tsquery('simple', $1) q, chunks c`+visibleJoin+`
		AND c.tokens @@ q
		ORDER BY score DESC, c.id
	`, expr); err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return collectHits(rows, filters, limit, false)
}

// VectorSearch ranks visible embedded chunks by cosine similarity.
func (s *Store) VectorSearch(ctx context.Context, query []float32, filters domain.SearchFilters, limit int) ([]domain.ChunkHit, error) {
	if len(query) == 0 {
		return nil, nil
	}
	var rows []hitRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+hitColumns+`, 1 - (c.embedding <=> $1) AS score
		FROM chunks c`+visibleJoin+`
		AND c.embedding IS NOT NULL AND vector_dims(c.embedding) = $2
		ORDER BY c.embedding <=> $1, c.id
	`, pgvector.NewVector(query), len(query)); err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return collectHits(rows, filters, limit, true)
}

// collectHits applies the search filters the SQL does not express and
// the limit. Vector hits are re-sorted so ties break on chunk id as in
// the other backends.
func collectHits(rows []hitRow, filters domain.SearchFilters, limit int, resort bool) ([]domain.ChunkHit, error) {
	var hits []domain.ChunkHit
	for i := range rows {
		r := &rows[i]
		doc := &domain.Document{
			ID:       r.DocumentID,
			Path:     r.DocPath,
			Category: domain.Category(r.DocCategory),
			Status:   domain.StatusIndexed,
		}
		if err := json.Unmarshal(r.DocTags, &doc.Tags); err != nil {
			return nil, fmt.Errorf("unmarshaling tags: %w", err)
		}
		if !storage.Searchable(doc, filters) {
			continue
		}
		hits = append(hits, domain.ChunkHit{Chunk: r.chunkRow.toDomain(), Score: r.Score})
		if !resort && limit > 0 && len(hits) == limit {
			break
		}
	}
	if resort {
		return storage.SortHits(hits, limit), nil
	}
	return hits, nil
}
