package domain

import "time"

// SearchStrategy selects which retrieval methods a query uses.
type SearchStrategy string

// Available search strategies.
const (
	// StrategyHybrid fuses semantic and keyword results.
	StrategyHybrid SearchStrategy = "hybrid"

	// StrategySemantic uses only vector similarity.
	StrategySemantic SearchStrategy = "semantic"

	// StrategyKeyword uses only full-text matching.
	StrategyKeyword SearchStrategy = "keyword"
)

// IsValid returns true if the strategy is recognised.
func (s SearchStrategy) IsValid() bool {
	switch s {
	case StrategyHybrid, StrategySemantic, StrategyKeyword:
		return true
	default:
		return false
	}
}

// UsesSemantic reports whether the strategy needs a query embedding.
func (s SearchStrategy) UsesSemantic() bool {
	return s == StrategyHybrid || s == StrategySemantic
}

// UsesKeyword reports whether the strategy runs full-text matching.
func (s SearchStrategy) UsesKeyword() bool {
	return s == StrategyHybrid || s == StrategyKeyword
}

// String returns the string representation.
func (s SearchStrategy) String() string {
	return string(s)
}

// DiversityStrategy limits how many results a single document contributes.
type DiversityStrategy string

// Available diversification strategies.
const (
	DiversityNone         DiversityStrategy = "none"
	DiversityScorePenalty DiversityStrategy = "score_penalty"
	DiversityCapThenFill  DiversityStrategy = "cap_then_fill"
)

// IsValid returns true if the diversity strategy is recognised.
func (d DiversityStrategy) IsValid() bool {
	switch d {
	case DiversityNone, DiversityScorePenalty, DiversityCapThenFill:
		return true
	default:
		return false
	}
}

// MatchType records which retrieval method produced a result.
type MatchType string

// Match types.
const (
	MatchSemantic MatchType = "semantic"
	MatchKeyword  MatchType = "keyword"
	MatchBoth     MatchType = "both"
)

// DiversityOptions configures result diversification.
type DiversityOptions struct {
	// Strategy selects the algorithm.
	Strategy DiversityStrategy

	// MaxPerDocument is the cap used by cap_then_fill.
	MaxPerDocument int

	// DecayFactor multiplies the n-th result of a document by DecayFactor^n
	// under score_penalty.
	DecayFactor float64

	// DedupThreshold drops results whose embedding cosine similarity to an
	// already selected result exceeds it. Zero uses the configured
	// threshold; DedupDisabled turns suppression off.
	DedupThreshold float64
}

// DedupDisabled is a DedupThreshold that turns off near-duplicate
// suppression regardless of the configured threshold.
const DedupDisabled = -1.0

// SearchFilters narrows candidate chunks by their owning document.
type SearchFilters struct {
	// DocumentIDs restricts to specific documents.
	DocumentIDs []string

	// PathPrefix restricts to documents under a directory.
	PathPrefix string

	// Tags restricts to documents carrying all given tags.
	Tags []string

	// Categories restricts to documents of the given categories.
	Categories []Category
}

// SearchOptions configures a search query. Zero values fall back to
// the configured defaults.
type SearchOptions struct {
	// Strategy selects hybrid, semantic or keyword retrieval.
	Strategy SearchStrategy

	// Limit is the maximum number of results.
	Limit int

	// Offset is the number of results to skip.
	Offset int

	// SemanticWeight scales the semantic side of the fusion.
	SemanticWeight float64

	// KeywordWeight scales the keyword side of the fusion.
	KeywordWeight float64

	// RRFK is the reciprocal rank fusion constant.
	RRFK int

	// Diversity configures per-document diversification.
	Diversity *DiversityOptions

	// Filters narrows the candidate set.
	Filters SearchFilters

	// HighlightTag wraps matched terms in snippets, e.g. "mark".
	HighlightTag string

	// SnippetLength is the snippet window in runes.
	SnippetLength int

	// Timeout bounds the whole query.
	Timeout time.Duration
}

// SearchResult represents a single ranked hit.
type SearchResult struct {
	// DocumentID is the owning document.
	DocumentID string `json:"document_id"`

	// ChunkID is the matched chunk.
	ChunkID string `json:"chunk_id"`

	// Path is the document path.
	Path string `json:"path"`

	// Title is the document title.
	Title string `json:"title"`

	// Score is the fused relevance in [0, 1].
	Score float64 `json:"score"`

	// MatchType records which retrieval methods matched.
	MatchType MatchType `json:"match_type"`

	// Snippet is the highlighted excerpt.
	Snippet string `json:"snippet"`

	// Page is the 1-based page, 0 when unknown.
	Page int `json:"page,omitempty"`

	// Section is the enclosing section, if known.
	Section string `json:"section,omitempty"`

	// SemanticRank is the 1-based rank on the semantic side, 0 if absent.
	SemanticRank int `json:"semantic_rank,omitempty"`

	// KeywordRank is the 1-based rank on the keyword side, 0 if absent.
	KeywordRank int `json:"keyword_rank,omitempty"`
}

// SearchResponse is a page of ranked results.
type SearchResponse struct {
	// QueryID correlates search events with this response.
	QueryID string `json:"query_id"`

	// Query is the original query text.
	Query string `json:"query"`

	// Strategy is the strategy actually used.
	Strategy SearchStrategy `json:"strategy"`

	// Results is the requested page.
	Results []SearchResult `json:"results"`

	// Total is the number of ranked candidates before pagination.
	Total int `json:"total"`

	// Offset and Limit echo the effective pagination.
	Offset int `json:"offset"`
	Limit  int `json:"limit"`

	// Took is the wall time spent answering.
	Took time.Duration `json:"took"`
}

// ChunkHit is a raw storage-level match before fusion.
type ChunkHit struct {
	// Chunk is the matched chunk, embedding included when available.
	Chunk Chunk

	// Score is the backend score. Similarity for vector hits,
	// a larger-is-better relevance for keyword hits.
	Score float64
}

// KeywordQuery is a parsed web-style keyword query.
type KeywordQuery struct {
	// Raw is the original query text.
	Raw string

	// Groups are ANDed together. Each group is satisfied by any
	// of its alternatives, which are joined by OR in the query.
	Groups [][]Term

	// Excluded terms must not appear in a matching chunk.
	Excluded []Term
}

// Term is a single word or a quoted phrase.
type Term struct {
	// Words holds the lowercased words of the term.
	Words []string

	// Phrase is true for quoted multi-word terms.
	Phrase bool
}

// IsEmpty reports whether the query has no positive terms.
func (q KeywordQuery) IsEmpty() bool {
	return len(q.Groups) == 0
}

// PositiveWords returns every word of every positive term, in query order.
func (q KeywordQuery) PositiveWords() []string {
	var words []string
	for _, g := range q.Groups {
		for _, t := range g {
			words = append(words, t.Words...)
		}
	}
	return words
}
