// Package domain defines the core business entities for Sercha.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: A discovered file and its indexing lifecycle
//   - Chunk: A searchable span of a document's extracted text
//   - QueueItem: A unit of pending indexing work
//   - ResolvedEmbedderConfig: The effective embedding runtime settings
//   - SearchResult: A fused, ranked search hit
//   - Event: A pipeline notification carrying a correlation id
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
