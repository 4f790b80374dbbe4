// Package badger implements driven.Storage on BadgerDB.
//
// Records are stored as JSON under typed key prefixes. Keyword search
// uses an in-memory BM25 index rebuilt from the stored chunks when the
// store opens; vector search scans embedded chunks and scores them by
// cosine similarity.
//
// Key layout:
//
//	doc:<id>                   document record
//	path:<path>                document id by path
//	chunk:<id>                 chunk record
//	docchunk:<doc id>\x00<id>  chunk membership
//	queue:<target id>          queue item
//	meta:schema_version        persisted schema version
package badger
