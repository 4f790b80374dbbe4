// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - Storage: Documents, chunks, queue, keyword and vector search
//   - Parser: Extracts text from one family of file formats
//   - Chunker: Splits extracted text into chunks
//   - Embedder: Computes document and query vectors
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - OCRService: Recognises text in scanned pages and images. Without it,
//     image regions stay unrecognised and documents keep parser text only.
//   - EventPublisher: Receives pipeline events.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or implementation package
package driven
