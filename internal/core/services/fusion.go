package services

import (
	"math"
	"sort"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// candidate is a ranked chunk on its way to becoming a search result.
type candidate struct {
	chunk domain.Chunk
	score float64

	// 1-based ranks in the retrieval lists, 0 when absent.
	semanticRank int
	keywordRank  int
}

func (c candidate) matchType() domain.MatchType {
	switch {
	case c.semanticRank > 0 && c.keywordRank > 0:
		return domain.MatchBoth
	case c.semanticRank > 0:
		return domain.MatchSemantic
	default:
		return domain.MatchKeyword
	}
}

// rankKey orders absent ranks after every present one.
func rankKey(r int) int {
	if r == 0 {
		return math.MaxInt
	}
	return r
}

// before is the total order of candidates: higher score, then better
// semantic rank, then better keyword rank, then chunk id.
func before(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if ra, rb := rankKey(a.semanticRank), rankKey(b.semanticRank); ra != rb {
		return ra < rb
	}
	if ra, rb := rankKey(a.keywordRank), rankKey(b.keywordRank); ra != rb {
		return ra < rb
	}
	return a.chunk.ID < b.chunk.ID
}

func sortCandidates(cs []candidate) {
	sort.SliceStable(cs, func(i, j int) bool { return before(cs[i], cs[j]) })
}

// fuseRRF merges the two lists with weighted reciprocal rank fusion,
// Σ wᵢ/(k + rankᵢ). Scores are divided by the best attainable score over
// the lists that returned anything, so a chunk ranked first everywhere
// scores 1.0.
func fuseRRF(semantic, keyword []domain.ChunkHit, ws, wk float64, k int) []candidate {
	byID := make(map[string]*candidate, len(semantic)+len(keyword))
	var order []string
	get := func(c domain.Chunk) *candidate {
		if cand, ok := byID[c.ID]; ok {
			return cand
		}
		cand := &candidate{chunk: c}
		byID[c.ID] = cand
		order = append(order, c.ID)
		return cand
	}

	for i, h := range semantic {
		get(h.Chunk).semanticRank = i + 1
	}
	for i, h := range keyword {
		cand := get(h.Chunk)
		cand.keywordRank = i + 1
		if !cand.chunk.HasEmbedding() && h.Chunk.HasEmbedding() {
			cand.chunk = h.Chunk
		}
	}

	attainable := 0.0
	if len(semantic) > 0 {
		attainable += ws / float64(k+1)
	}
	if len(keyword) > 0 {
		attainable += wk / float64(k+1)
	}

	out := make([]candidate, 0, len(order))
	for _, id := range order {
		c := *byID[id]
		var s float64
		if c.semanticRank > 0 {
			s += ws / float64(k+c.semanticRank)
		}
		if c.keywordRank > 0 {
			s += wk / float64(k+c.keywordRank)
		}
		if attainable > 0 {
			s /= attainable
		}
		c.score = s
		out = append(out, c)
	}
	sortCandidates(out)
	return out
}

// semanticOnly scores vector hits by cosine similarity clamped to [0, 1].
func semanticOnly(hits []domain.ChunkHit) []candidate {
	out := make([]candidate, len(hits))
	for i, h := range hits {
		out[i] = candidate{chunk: h.Chunk, score: clamp01(h.Score), semanticRank: i + 1}
	}
	sortCandidates(out)
	return out
}

// keywordOnly scores keyword hits relative to the best hit.
func keywordOnly(hits []domain.ChunkHit) []candidate {
	top := 0.0
	for _, h := range hits {
		top = math.Max(top, h.Score)
	}
	out := make([]candidate, len(hits))
	for i, h := range hits {
		s := 0.0
		if top > 0 {
			s = clamp01(h.Score / top)
		}
		out[i] = candidate{chunk: h.Chunk, score: s, keywordRank: i + 1}
	}
	sortCandidates(out)
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
