package domain

import "time"

// IndexOptions configures an indexing run.
type IndexOptions struct {
	// Tags are applied to every newly discovered document.
	Tags []string

	// Force re-indexes documents whose content hash did not change.
	Force bool

	// RetryFailed requeues documents left in the error state.
	RetryFailed bool
}

// IndexSummary is the final report of an indexing run.
type IndexSummary struct {
	// RunID correlates the run's events.
	RunID string `json:"run_id"`

	// Added counts new documents that reached the indexed state.
	Added int `json:"added"`

	// Updated counts changed documents that reached the indexed state.
	Updated int `json:"updated"`

	// Unchanged counts discovered documents that needed no work.
	Unchanged int `json:"unchanged"`

	// Removed counts documents tombstoned during the run.
	Removed int `json:"removed"`

	// Skipped counts unsupported documents.
	Skipped int `json:"skipped"`

	// Failed counts documents that ended in the error state.
	Failed int `json:"failed"`

	// Errors lists per-document failures.
	Errors []FileError `json:"errors,omitempty"`

	// Cancelled is true when the run stopped early.
	Cancelled bool `json:"cancelled"`

	// Duration is the wall time of the run.
	Duration time.Duration `json:"duration"`
}

// FileError is a per-document failure reported in a summary.
type FileError struct {
	Path    string `json:"path"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// ProcessResult reports how one queued document left the pipeline.
type ProcessResult struct {
	// Document is the document in its final state for this attempt.
	// Nil when the queue entry pointed at a vanished document.
	Document *Document

	// Updated is true when the document had been indexed before.
	Updated bool

	// Requeued is true when a transient failure put the item back in
	// the queue.
	Requeued bool

	// Cancelled is true when the context ended before the document
	// finished. The item is queued again for the next run.
	Cancelled bool

	// Err is the per-document failure, if any.
	Err error
}

// SyncSummary reports the reconciliation of roots against storage.
type SyncSummary struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// HasChanges reports whether any document was added, updated or removed.
func (s SyncSummary) HasChanges() bool {
	return s.Added+s.Updated+s.Removed > 0
}

// Stats summarises the index.
type Stats struct {
	// Documents counts live documents by status.
	Documents map[DocumentStatus]int `json:"documents"`

	// TotalDocuments counts live documents.
	TotalDocuments int `json:"total_documents"`

	// Tombstoned counts removed documents still tracked for diffing.
	Tombstoned int `json:"tombstoned"`

	// Chunks counts stored chunks.
	Chunks int `json:"chunks"`

	// EmbeddedChunks counts chunks with a vector.
	EmbeddedChunks int `json:"embedded_chunks"`

	// Queue summarises the work queue.
	Queue QueueCounts `json:"queue"`

	// SchemaVersion is the persisted schema version.
	SchemaVersion int `json:"schema_version"`

	// Backend names the storage backend.
	Backend string `json:"backend"`
}
