package domain

import "time"

// DocumentStatus is the persisted lifecycle state of a document.
type DocumentStatus string

// Document lifecycle states.
const (
	// StatusPending means the document is known and waiting to be processed.
	StatusPending DocumentStatus = "pending"

	// StatusParsing means text extraction is running.
	StatusParsing DocumentStatus = "parsing"

	// StatusChunking means the extracted text is being split.
	StatusChunking DocumentStatus = "chunking"

	// StatusEmbedding means chunks exist and vectors are being computed.
	StatusEmbedding DocumentStatus = "embedding"

	// StatusIndexed means all chunks and embeddings are committed.
	// Only indexed documents are visible to search.
	StatusIndexed DocumentStatus = "indexed"

	// StatusError means a stage failed. Document.Error holds the details.
	StatusError DocumentStatus = "error"

	// StatusSkipped means no parser supports the document.
	StatusSkipped DocumentStatus = "skipped"
)

// IsValid returns true if the status is recognised.
func (s DocumentStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusParsing, StatusChunking, StatusEmbedding,
		StatusIndexed, StatusError, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further processing is expected.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusIndexed || s == StatusError || s == StatusSkipped
}

// String returns the string representation.
func (s DocumentStatus) String() string {
	return string(s)
}

// AllDocumentStatuses returns every lifecycle state in pipeline order.
func AllDocumentStatuses() []DocumentStatus {
	return []DocumentStatus{
		StatusPending, StatusParsing, StatusChunking, StatusEmbedding,
		StatusIndexed, StatusError, StatusSkipped,
	}
}

// Category is a coarse content classification used for filtering.
type Category string

// Document categories.
const (
	CategoryDocument Category = "document"
	CategoryPDF      Category = "pdf"
	CategoryText     Category = "text"
	CategoryMarkup   Category = "markup"
	CategoryImage    Category = "image"
	CategoryArchive  Category = "archive"
	CategoryOther    Category = "other"
)

// OCRStatus tracks optical character recognition for a document.
type OCRStatus string

// OCR states.
const (
	OCRNone       OCRStatus = "none"
	OCRNeeded     OCRStatus = "needed"
	OCRInProgress OCRStatus = "in_progress"
	OCRDone       OCRStatus = "done"
	OCRFailed     OCRStatus = "failed"
)

// DocumentError records the stage and message of the last failure.
type DocumentError struct {
	// Stage is the pipeline stage that failed.
	Stage Stage `json:"stage"`

	// Message is the human-readable failure description.
	Message string `json:"message"`
}

// Document represents a discovered file and its indexing state.
type Document struct {
	// ID is a stable identifier derived from the absolute path.
	ID string

	// Path is the absolute filesystem path.
	Path string

	// Title is the human-readable title, usually the file name or
	// a heading extracted by the parser.
	Title string

	// ContentHash is the hex digest of the file bytes.
	// A change on an indexed document re-enters pending.
	ContentHash string

	// Status is the current lifecycle state.
	Status DocumentStatus

	// Category is the coarse content classification.
	Category Category

	// MIMEType is the detected media type.
	MIMEType string

	// Size is the file size in bytes.
	Size int64

	// ModTime is the file modification time.
	ModTime time.Time

	// OCRStatus tracks recognition of image regions.
	OCRStatus OCRStatus

	// Error holds the last failure. Nil when the document is healthy.
	Error *DocumentError

	// Tags are user supplied labels used for filtering.
	Tags []string

	// Content is the full extracted text. Persisted so that an
	// interrupted run can resume from the chunking stage.
	Content string

	// Metadata contains parser specific key-value pairs.
	Metadata map[string]any

	// DeletedAt marks a tombstoned document whose file disappeared.
	DeletedAt *time.Time

	// CreatedAt is when the document was first discovered.
	CreatedAt time.Time

	// UpdatedAt is when the document row last changed.
	UpdatedAt time.Time

	// IndexedAt is when the document last reached the indexed state.
	IndexedAt *time.Time
}

// IsTombstoned reports whether the document's file was removed.
func (d *Document) IsTombstoned() bool {
	return d.DeletedAt != nil
}

// IsSearchable reports whether search may return chunks of the document.
func (d *Document) IsSearchable() bool {
	return d.Status == StatusIndexed && d.DeletedAt == nil
}

// HasTag reports whether the document carries the given tag.
func (d *Document) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Chunk represents a searchable span of a document's extracted text.
type Chunk struct {
	// ID is a stable identifier derived from the document id and index.
	ID string

	// DocumentID links to the parent Document.
	DocumentID string

	// Index is the 0-based position in document order.
	Index int

	// Content is the text of this span.
	Content string

	// StartOffset is the byte offset of the span in the document text.
	StartOffset int

	// EndOffset is the exclusive byte end of the span.
	EndOffset int

	// Section is the enclosing section name, if the parser found one.
	Section string

	// Heading is the nearest heading above the span.
	Heading string

	// Page is the 1-based page number, 0 when unknown.
	Page int

	// TokenCount is an approximation used for budgeting.
	TokenCount int

	// Embedding is the vector representation. Nil until embedded and
	// immutable afterwards unless the chunk set is replaced.
	Embedding []float32
}

// HasEmbedding reports whether a vector has been written.
func (c *Chunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// DocumentFilter narrows document queries.
type DocumentFilter struct {
	// Statuses restricts to the given lifecycle states.
	Statuses []DocumentStatus

	// PathPrefix restricts to documents under a directory.
	PathPrefix string

	// Tags restricts to documents carrying all given tags.
	Tags []string

	// IncludeTombstoned includes removed documents.
	IncludeTombstoned bool

	// Limit caps the number of documents, 0 means unlimited.
	Limit int
}
