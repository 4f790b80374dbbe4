package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-local/internal/logger"
	"github.com/custodia-labs/sercha-local/internal/textindex"
)

var searchLog = logger.ForComponent(logger.CompSearch)

// Ensure SearchService implements the interface.
var _ driving.SearchService = (*SearchService)(nil)

// minCandidates is the smallest candidate list fetched from each side.
const minCandidates = 50

// SearchService answers queries by fusing semantic and keyword retrieval.
type SearchService struct {
	store    driven.Storage
	embedder driven.Embedder
	events   driven.EventPublisher
	settings domain.SearchSettings
}

// NewSearchService creates a new search service.
// The embedder and events parameters are optional (can be nil). Without
// an embedder hybrid queries degrade to keyword retrieval.
func NewSearchService(
	store driven.Storage,
	embedder driven.Embedder,
	events driven.EventPublisher,
	settings domain.SearchSettings,
) *SearchService {
	return &SearchService{
		store:    store,
		embedder: embedder,
		events:   events,
		settings: settings,
	}
}

// Search implements driving.SearchService.
func (s *SearchService) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	start := time.Now()
	queryID := uuid.NewString()
	query = strings.TrimSpace(query)

	opts, err := s.normalise(opts)
	if err != nil {
		return nil, err
	}
	resp := &domain.SearchResponse{
		QueryID:  queryID,
		Query:    query,
		Strategy: opts.Strategy,
		Results:  []domain.SearchResult{},
		Offset:   opts.Offset,
		Limit:    opts.Limit,
	}
	if query == "" {
		resp.Took = time.Since(start)
		return resp, nil
	}

	strategy := opts.Strategy
	if strategy.UsesSemantic() && s.embedder == nil {
		if strategy == domain.StrategySemantic {
			return nil, s.failed(queryID, domain.ErrEmbeddingUnavailable)
		}
		searchLog.Warn("semantic_unavailable", slog.String("query_id", queryID))
		strategy = domain.StrategyKeyword
	}
	resp.Strategy = strategy

	s.publish(domain.Event{Name: domain.EventSearchStarted, CorrelationID: queryID, Stage: domain.StageSearch})

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	keyword := textindex.ParseQuery(query)
	semantic, lexical, err := s.retrieve(ctx, queryID, query, keyword, strategy, opts)
	if err != nil {
		return nil, s.failed(queryID, err)
	}

	var ranked []candidate
	switch strategy {
	case domain.StrategySemantic:
		ranked = semanticOnly(semantic)
	case domain.StrategyKeyword:
		ranked = keywordOnly(lexical)
	default:
		ranked = fuseRRF(semantic, lexical, opts.SemanticWeight, opts.KeywordWeight, opts.RRFK)
	}
	ranked = diversify(ranked, *opts.Diversity)
	resp.Total = len(ranked)

	words := make(map[string]bool)
	for _, w := range keyword.PositiveWords() {
		words[w] = true
	}
	resp.Results, err = s.hydrate(ctx, paginate(ranked, opts.Offset, opts.Limit), words, opts)
	if err != nil {
		return nil, s.failed(queryID, err)
	}
	resp.Took = time.Since(start)

	searchLog.Debug("search",
		slog.String("query_id", queryID),
		slog.String("strategy", string(strategy)),
		slog.Int("semantic_hits", len(semantic)),
		slog.Int("keyword_hits", len(lexical)),
		slog.Int("total", resp.Total),
		slog.Duration("took", resp.Took))
	s.publish(domain.Event{Name: domain.EventSearchCompleted, CorrelationID: queryID, Stage: domain.StageSearch})
	return resp, nil
}

// retrieve runs both sides concurrently. In hybrid mode a failing side is
// dropped with a warning; a timeout always fails the query.
func (s *SearchService) retrieve(ctx context.Context, queryID, query string, keyword domain.KeywordQuery,
	strategy domain.SearchStrategy, opts domain.SearchOptions) (semantic, lexical []domain.ChunkHit, err error) {
	limit := max((opts.Offset+opts.Limit)*4, minCandidates)
	var semErr, kwErr error

	g, gctx := errgroup.WithContext(ctx)
	if strategy.UsesSemantic() {
		g.Go(func() error {
			vec, err := s.embedder.EmbedQuery(gctx, query)
			if err != nil {
				semErr = fmt.Errorf("embed query: %w", err)
				return nil
			}
			semantic, semErr = s.store.VectorSearch(gctx, vec, opts.Filters, limit)
			return nil
		})
	}
	if strategy.UsesKeyword() && !keyword.IsEmpty() {
		g.Go(func() error {
			lexical, kwErr = s.store.KeywordSearch(gctx, keyword, opts.Filters, limit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("search timed out after %s: %w", opts.Timeout, err)
	}

	switch strategy {
	case domain.StrategySemantic:
		return semantic, nil, semErr
	case domain.StrategyKeyword:
		return nil, lexical, kwErr
	}
	if semErr != nil && kwErr != nil {
		return nil, nil, errors.Join(semErr, kwErr)
	}
	if semErr != nil {
		searchLog.Warn("semantic_side_failed", slog.String("query_id", queryID), slog.String("error", semErr.Error()))
		semantic = nil
	}
	if kwErr != nil {
		searchLog.Warn("keyword_side_failed", slog.String("query_id", queryID), slog.String("error", kwErr.Error()))
		lexical = nil
	}
	return semantic, lexical, nil
}

// hydrate turns candidates into results with document fields and snippets.
func (s *SearchService) hydrate(ctx context.Context, page []candidate, words map[string]bool,
	opts domain.SearchOptions) ([]domain.SearchResult, error) {
	docs := make(map[string]*domain.Document)
	results := make([]domain.SearchResult, 0, len(page))
	for _, c := range page {
		id := c.chunk.DocumentID
		doc, ok := docs[id]
		if !ok {
			d, err := s.store.GetDocument(ctx, id)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("get document %s: %w", id, err)
			}
			docs[id] = d
			doc = d
		}
		if doc == nil {
			continue
		}

		section := c.chunk.Section
		if section == "" {
			section = c.chunk.Heading
		}
		results = append(results, domain.SearchResult{
			DocumentID:   doc.ID,
			ChunkID:      c.chunk.ID,
			Path:         doc.Path,
			Title:        doc.Title,
			Score:        c.score,
			MatchType:    c.matchType(),
			Snippet:      snippet(c.chunk.Content, words, opts.HighlightTag, opts.SnippetLength),
			Page:         c.chunk.Page,
			Section:      section,
			SemanticRank: c.semanticRank,
			KeywordRank:  c.keywordRank,
		})
	}
	return results, nil
}

// normalise fills zero option fields from the settings and rejects
// unknown strategies.
//
//nolint:gocyclo // flat list of independent defaults
func (s *SearchService) normalise(opts domain.SearchOptions) (domain.SearchOptions, error) {
	def := s.settings
	if opts.Strategy == "" {
		opts.Strategy = def.DefaultStrategy
	}
	if opts.Strategy == "" {
		opts.Strategy = domain.StrategyHybrid
	}
	if !opts.Strategy.IsValid() {
		return opts, fmt.Errorf("%w: unknown search strategy %q", domain.ErrInvalidInput, opts.Strategy)
	}
	if opts.Limit <= 0 {
		opts.Limit = orInt(def.DefaultLimit, 10)
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.SemanticWeight < 0 || opts.KeywordWeight < 0 {
		return opts, fmt.Errorf("%w: search weights must not be negative", domain.ErrInvalidInput)
	}
	if opts.SemanticWeight == 0 && opts.KeywordWeight == 0 {
		opts.SemanticWeight, opts.KeywordWeight = def.SemanticWeight, def.KeywordWeight
	}
	if opts.SemanticWeight == 0 && opts.KeywordWeight == 0 {
		opts.SemanticWeight, opts.KeywordWeight = 1, 1
	}
	if opts.RRFK <= 0 {
		opts.RRFK = orInt(def.RRFK, 60)
	}

	div := domain.DiversityOptions{}
	if opts.Diversity != nil {
		div = *opts.Diversity
	}
	if div.Strategy == "" {
		div.Strategy = def.Diversity
	}
	if div.Strategy == "" {
		div.Strategy = domain.DiversityNone
	}
	if !div.Strategy.IsValid() {
		return opts, fmt.Errorf("%w: unknown diversity strategy %q", domain.ErrInvalidInput, div.Strategy)
	}
	if div.MaxPerDocument <= 0 {
		div.MaxPerDocument = orInt(def.MaxPerDocument, 3)
	}
	if div.DecayFactor <= 0 {
		div.DecayFactor = def.DecayFactor
		if div.DecayFactor <= 0 {
			div.DecayFactor = 0.5
		}
	}
	switch {
	case div.DedupThreshold < 0:
		div.DedupThreshold = 0
	case div.DedupThreshold == 0:
		div.DedupThreshold = def.DedupThreshold
	}
	opts.Diversity = &div

	if opts.HighlightTag == "" {
		opts.HighlightTag = def.HighlightTag
		if opts.HighlightTag == "" {
			opts.HighlightTag = "mark"
		}
	}
	if opts.SnippetLength <= 0 {
		opts.SnippetLength = orInt(def.SnippetLength, 200)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout.Std()
		if opts.Timeout <= 0 {
			opts.Timeout = 30 * time.Second
		}
	}
	return opts, nil
}

// failed wraps err with the query id and publishes a search error.
func (s *SearchService) failed(queryID string, err error) error {
	se := &domain.StageError{Stage: domain.StageSearch, QueryID: queryID, Err: err}
	searchLog.Warn("search_failed", slog.String("query_id", queryID), slog.String("error", err.Error()))
	s.publish(domain.Event{
		Name:          domain.EventSearchError,
		CorrelationID: queryID,
		Stage:         domain.StageSearch,
		Error:         se.Error(),
	})
	return se
}

func (s *SearchService) publish(e domain.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(e)
}

// paginate applies offset and limit.
func paginate(cs []candidate, offset, limit int) []candidate {
	if offset >= len(cs) {
		return nil
	}
	end := min(offset+limit, len(cs))
	return cs[offset:end]
}

func orInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
