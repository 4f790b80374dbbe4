package textindex

import (
	"math"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// BM25 parameters.
const (
	K1 = 1.2
	B  = 0.75
)

// Hit is a scored entry.
type Hit struct {
	ID    string
	Score float64
}

type entry struct {
	tokens []string
	freq   map[string]int
}

// Index is an in-memory inverted index over chunk text.
type Index struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	df       map[string]int
	totalLen int
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{entries: make(map[string]*entry), df: make(map[string]int)}
}

// Add indexes text under id, replacing any earlier text.
func (ix *Index) Add(id, text string) {
	tokens := Tokenize(text)
	e := &entry{tokens: tokens, freq: make(map[string]int, len(tokens))}
	for _, t := range tokens {
		e.freq[t]++
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
	ix.entries[id] = e
	ix.totalLen += len(tokens)
	for t := range e.freq {
		ix.df[t]++
	}
}

// Remove drops id from the index.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

func (ix *Index) removeLocked(id string) {
	e, ok := ix.entries[id]
	if !ok {
		return
	}
	delete(ix.entries, id)
	ix.totalLen -= len(e.tokens)
	for t := range e.freq {
		if ix.df[t]--; ix.df[t] <= 0 {
			delete(ix.df, t)
		}
	}
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Search returns entries matching q, best first. allow filters ids and
// may be nil. limit <= 0 returns every match.
func (ix *Index) Search(q domain.KeywordQuery, allow func(id string) bool, limit int) []Hit {
	if q.IsEmpty() {
		return nil
	}
	words := q.PositiveWords()

	ix.mu.RLock()
	n := len(ix.entries)
	avg := 0.0
	if n > 0 {
		avg = float64(ix.totalLen) / float64(n)
	}
	var hits []Hit
	for id, e := range ix.entries {
		if allow != nil && !allow(id) {
			continue
		}
		if !Match(q, e.tokens) {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: ix.score(words, e, n, avg)})
	}
	ix.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (ix *Index) score(words []string, e *entry, n int, avg float64) float64 {
	var score float64
	dl := float64(len(e.tokens))
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		if seen[w] {
			continue
		}
		seen[w] = true
		tf := float64(e.freq[w])
		if tf == 0 {
			continue
		}
		df := float64(ix.df[w])
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))
		norm := 1.0
		if avg > 0 {
			norm = 1 - B + B*dl/avg
		}
		score += idf * tf * (K1 + 1) / (tf + K1*norm)
	}
	return score
}
