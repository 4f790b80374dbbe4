package chunker

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/registry"
)

// chunkNamespace seeds deterministic chunk ids.
var chunkNamespace = uuid.MustParse("2f8a5d1c-7a0e-4c55-9a1d-3f0b7e6c2d41")

// NewRegistry returns a registry holding the built-in chunkers.
func NewRegistry() *registry.Registry[driven.Chunker] {
	r := registry.New[driven.Chunker]("chunker")
	r.MustRegister(NewRecursive())
	r.MustRegister(NewFixed())
	return r
}

// ChunkID derives the stable id of a document's index-th chunk.
func ChunkID(documentID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(documentID+"#"+strconv.Itoa(index))).String()
}

// Finalize links chunks to their document, assigns ids and copies
// structural metadata from the parser's sections.
func Finalize(documentID string, chunks []domain.Chunk, sections []driven.Section) {
	for i := range chunks {
		c := &chunks[i]
		c.DocumentID = documentID
		c.Index = i
		c.ID = ChunkID(documentID, i)

		var top, nearest *driven.Section
		for j := range sections {
			s := &sections[j]
			if s.Offset > c.StartOffset {
				break
			}
			if s.Page > 0 {
				c.Page = s.Page
			}
			if s.Level > 0 {
				nearest = s
				if s.Level == 1 {
					top = s
				}
			}
		}
		if nearest != nil {
			c.Heading = nearest.Heading
		}
		if top != nil {
			c.Section = top.Heading
		}
	}
}
