// Package chunker splits extracted document text into overlapping chunks.
//
// Two strategies are provided. The recursive chunker (the default) cuts at
// the configured size but moves the cut back to a paragraph or sentence
// boundary when one lies close before it. The fixed chunker cuts at the
// configured size and only honours the boundaries its options enable.
//
// Both strategies step the window start by MaxChunkSize - ChunkOverlap and
// never start the next chunk past the end of the previous one, so the text
// is covered without gaps and the overlap never exceeds ChunkOverlap.
package chunker
