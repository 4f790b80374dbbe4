package chunker

import (
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// Recursive prefers paragraph breaks, then sentence breaks, over hard cuts.
// It is the default strategy.
type Recursive struct{}

// NewRecursive creates the recursive chunker.
func NewRecursive() *Recursive {
	return &Recursive{}
}

// Name returns "recursive".
func (c *Recursive) Name() string {
	return "recursive"
}

// Priority ranks the recursive chunker above fixed.
func (c *Recursive) Priority() int {
	return 100
}

// Chunk splits text at boundary-aware cut points.
func (c *Recursive) Chunk(text string, opts driven.ChunkOptions) ([]domain.Chunk, error) {
	return split(text, opts, func(text string, from, cut int) int {
		if b := paragraphBreak(text, from, cut); b > 0 {
			return b
		}
		return sentenceBreak(text, from, cut)
	})
}

var _ driven.Chunker = (*Recursive)(nil)
