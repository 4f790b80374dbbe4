// Package postgres provides the server storage backend on PostgreSQL
// with the pgvector extension.
//
// Queries are assembled with gendry's builder where they are plain CRUD
// and written by hand where they need PostgreSQL features: tsvector
// matching ranked with ts_rank_cd, cosine distance with the <=> operator
// and FOR UPDATE SKIP LOCKED dequeueing. Chunk text is tokenized by the
// application before it is stored, so keyword matching splits words the
// same way as the embedded backends.
//
// The vector column is unconstrained; searches only compare chunks whose
// vector_dims match the query.
package postgres
