package domain

import "time"

// Priority orders queued work. Higher values are dequeued first.
type Priority int

// Queue priorities.
const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// String returns the string representation.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// QueueStatus is the state of a queue item.
type QueueStatus string

// Queue item states.
const (
	QueueQueued     QueueStatus = "queued"
	QueueProcessing QueueStatus = "processing"
	QueueDone       QueueStatus = "done"
	QueueFailed     QueueStatus = "failed"
	QueueCancelled  QueueStatus = "cancelled"
)

// QueueItem is one unit of indexing work.
// At most one item per TargetID is processing at any time.
type QueueItem struct {
	// TargetID is the document id being processed.
	TargetID string

	// Path is the file path, kept for logging and rediscovery.
	Path string

	// Priority orders dequeueing.
	Priority Priority

	// Status is the current queue state.
	Status QueueStatus

	// Attempts counts processing attempts so far.
	Attempts int

	// LastError is the message of the last failed attempt.
	LastError string

	// EnqueuedAt is when the item was last queued.
	EnqueuedAt time.Time

	// UpdatedAt is when the item last changed.
	UpdatedAt time.Time
}

// QueueCounts summarises the queue by status.
type QueueCounts struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Pending returns the number of items still waiting or running.
func (c QueueCounts) Pending() int {
	return c.Queued + c.Processing
}
