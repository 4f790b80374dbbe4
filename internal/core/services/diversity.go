package services

import (
	"math"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/vector"
)

// diversify limits how much a single document dominates the ranking.
// Near-duplicate suppression runs first when a threshold is set.
func diversify(cs []candidate, opts domain.DiversityOptions) []candidate {
	if opts.DedupThreshold > 0 {
		cs = dedupe(cs, opts.DedupThreshold)
	}
	switch opts.Strategy {
	case domain.DiversityScorePenalty:
		return penalise(cs, opts.DecayFactor)
	case domain.DiversityCapThenFill:
		return capThenFill(cs, opts.MaxPerDocument)
	default:
		return cs
	}
}

// penalise multiplies the n-th result (0-based) of each document by
// decay^n and re-sorts.
func penalise(cs []candidate, decay float64) []candidate {
	out := make([]candidate, len(cs))
	copy(out, cs)
	seen := make(map[string]int)
	for i := range out {
		doc := out[i].chunk.DocumentID
		out[i].score *= math.Pow(decay, float64(seen[doc]))
		seen[doc]++
	}
	sortCandidates(out)
	return out
}

// capThenFill keeps at most perDoc results of each document in rank
// order, then appends the held back results in their original order.
func capThenFill(cs []candidate, perDoc int) []candidate {
	if perDoc <= 0 {
		return cs
	}
	counts := make(map[string]int)
	head := make([]candidate, 0, len(cs))
	var tail []candidate
	for _, c := range cs {
		doc := c.chunk.DocumentID
		if counts[doc] < perDoc {
			counts[doc]++
			head = append(head, c)
			continue
		}
		tail = append(tail, c)
	}
	return append(head, tail...)
}

// dedupe drops candidates whose embedding is more similar than threshold
// to an already kept candidate. Candidates without an embedding are kept.
func dedupe(cs []candidate, threshold float64) []candidate {
	kept := make([]candidate, 0, len(cs))
	for _, c := range cs {
		if c.chunk.HasEmbedding() && similarToAny(c.chunk.Embedding, kept, threshold) {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func similarToAny(v []float32, kept []candidate, threshold float64) bool {
	for _, k := range kept {
		if k.chunk.HasEmbedding() && vector.Cosine(v, k.chunk.Embedding) > threshold {
			return true
		}
	}
	return false
}
