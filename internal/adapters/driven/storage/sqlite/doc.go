// Package sqlite provides the single-file embedded storage backend.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. Queries go through jmoiron/sqlx, as in
// the postgres backend. One database file holds documents,
// chunks with their embeddings, the work queue and scheduler state.
//
// # Search
//
// Keyword search uses an FTS5 table ranked with bm25(). Chunk text is stored in
// the FTS table already tokenized, so CJK and Thai text splits the same way as
// in every other backend. Embeddings are little-endian float32 blobs compared
// with cosine similarity in Go.
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
// Opening a database written by a newer build fails with
// domain.ErrIncompatibleSchema.
//
// # Data Location
//
// By default, the database is stored at ~/.sercha/data/index.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking provided
// by SQLite in WAL mode, and write transactions take the lock up front.
package sqlite
