package driven

import "github.com/custodia-labs/sercha-local/internal/core/domain"

// ChunkOptions configures a chunker.
type ChunkOptions struct {
	MaxChunkSize       int
	ChunkOverlap       int
	PreserveParagraphs bool
	PreserveSentences  bool
}

// Chunker splits text into chunks. Chunk is a pure function of its
// inputs: the same text and options always produce the same chunks.
type Chunker interface {
	Name() string
	Priority() int

	// Chunk splits text. Returned chunks carry offsets and content but no
	// ids or document linkage.
	Chunk(text string, opts ChunkOptions) ([]domain.Chunk, error)
}
