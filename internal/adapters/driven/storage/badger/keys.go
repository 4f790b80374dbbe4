package badger

// Key prefixes for the record types.
const (
	documentPrefix      = "doc:"
	pathPrefix          = "path:"
	chunkPrefix         = "chunk:"
	documentChunkPrefix = "docchunk:"
	queuePrefix         = "queue:"
	schemaVersionKey    = "meta:schema_version"
)

func documentKey(id string) []byte {
	return []byte(documentPrefix + id)
}

func pathKey(path string) []byte {
	return []byte(pathPrefix + path)
}

func chunkKey(id string) []byte {
	return []byte(chunkPrefix + id)
}

// documentChunksPrefix is terminated by a NUL byte so that document
// "d1" does not match the chunks of document "d10".
func documentChunksPrefix(documentID string) []byte {
	return []byte(documentChunkPrefix + documentID + "\x00")
}

func documentChunkKey(documentID, chunkID string) []byte {
	return append(documentChunksPrefix(documentID), chunkID...)
}

func queueKey(targetID string) []byte {
	return []byte(queuePrefix + targetID)
}
