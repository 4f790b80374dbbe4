package domain

import "time"

// Stage names a step of the per-document indexing state machine.
type Stage string

// Pipeline stages.
const (
	StageDiscovered Stage = "discovered"
	StageQueued     Stage = "queued"
	StageParsing    Stage = "parsing"
	StageChunking   Stage = "chunking"
	StageOCR        Stage = "ocr"
	StageEmbedding  Stage = "embedding"
	StageStoring    Stage = "storing"
	StageIndexed    Stage = "indexed"
	StageSearch     Stage = "search"
)

// EventName identifies a pipeline notification.
type EventName string

// Pipeline events.
const (
	EventDiscoveryProgress EventName = "discovery:progress"
	EventDocumentStarted   EventName = "indexing:document-started"
	EventDocumentCompleted EventName = "indexing:document-completed"
	EventIndexingError     EventName = "indexing:error"
	EventOCRProgress       EventName = "ocr:progress"
	EventOCRError          EventName = "ocr:error"
	EventEmbeddingProgress EventName = "embedding:progress"
	EventEmbeddingError    EventName = "embedding:error"
	EventSearchStarted     EventName = "search:started"
	EventSearchCompleted   EventName = "search:completed"
	EventSearchError       EventName = "search:error"
)

// IsProgress reports whether the event is a throttleable progress update.
func (n EventName) IsProgress() bool {
	switch n {
	case EventDiscoveryProgress, EventOCRProgress, EventEmbeddingProgress:
		return true
	default:
		return false
	}
}

// Progress describes how far a long-running step has got.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`

	// Page is the page being worked on, for OCR.
	Page int `json:"page,omitempty"`
}

// Percent returns the completed percentage, 0 when the total is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Processed) * 100 / float64(p.Total)
}

// Done reports whether the step has finished.
func (p Progress) Done() bool {
	return p.Total > 0 && p.Processed >= p.Total
}

// Event is a notification published by the pipeline or the search engine.
type Event struct {
	// Name identifies the event.
	Name EventName `json:"name"`

	// CorrelationID ties the event to an indexing run, document or query.
	CorrelationID string `json:"correlation_id"`

	// DocumentID is set for per-document events.
	DocumentID string `json:"document_id,omitempty"`

	// Path is set for per-document events.
	Path string `json:"path,omitempty"`

	// Stage is the stage the event relates to.
	Stage Stage `json:"stage,omitempty"`

	// Status is the resulting document status for completion events.
	Status DocumentStatus `json:"status,omitempty"`

	// Progress is set for progress events.
	Progress *Progress `json:"progress,omitempty"`

	// Error is set for error events.
	Error string `json:"error,omitempty"`

	// Time is when the event was published.
	Time time.Time `json:"time"`
}
