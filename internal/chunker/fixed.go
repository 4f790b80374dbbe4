package chunker

import (
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// Fixed cuts at MaxChunkSize. Boundaries are only honoured when
// PreserveParagraphs or PreserveSentences is set.
type Fixed struct{}

// NewFixed creates the fixed-size chunker.
func NewFixed() *Fixed {
	return &Fixed{}
}

// Name returns "fixed".
func (c *Fixed) Name() string {
	return "fixed"
}

// Priority returns 50.
func (c *Fixed) Priority() int {
	return 50
}

// Chunk splits text into fixed-size windows.
func (c *Fixed) Chunk(text string, opts driven.ChunkOptions) ([]domain.Chunk, error) {
	if !opts.PreserveParagraphs && !opts.PreserveSentences {
		return split(text, opts, nil)
	}
	return split(text, opts, func(text string, from, cut int) int {
		if opts.PreserveParagraphs {
			if b := paragraphBreak(text, from, cut); b > 0 {
				return b
			}
		}
		if opts.PreserveSentences {
			return sentenceBreak(text, from, cut)
		}
		return -1
	})
}

var _ driven.Chunker = (*Fixed)(nil)
