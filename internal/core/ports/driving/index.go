package driving

import (
	"context"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// IndexService drives the indexing pipeline.
type IndexService interface {
	// Index discovers paths, queues new and changed files, and processes
	// the queue until it drains or ctx is cancelled.
	Index(ctx context.Context, paths []string, opts domain.IndexOptions) (*domain.IndexSummary, error)

	// Sync reconciles roots with storage: tombstones removed files and
	// queues new and changed ones. It does not process the queue.
	Sync(ctx context.Context, roots []string) (*domain.SyncSummary, error)

	// Enqueue discovers paths, records new and changed files as pending
	// and queues them with a priority from the file classifier.
	Enqueue(ctx context.Context, paths []string, opts domain.IndexOptions) (*domain.SyncSummary, error)

	// ProcessNext dequeues one item and runs it through every stage.
	// Returns domain.ErrQueueEmpty when nothing is queued.
	ProcessNext(ctx context.Context) (*domain.ProcessResult, error)

	// Drain processes queued work until the queue is empty.
	Drain(ctx context.Context) (*domain.IndexSummary, error)

	// Resume recovers work interrupted by a crash and requeues it.
	Resume(ctx context.Context) (int, error)

	// Stats summarises the index.
	Stats(ctx context.Context) (*domain.Stats, error)
}

// EventSource lets external actors observe pipeline events.
type EventSource interface {
	// Subscribe returns a channel of events and a function that ends the
	// subscription. Slow subscribers miss events rather than block.
	Subscribe(buffer int) (<-chan domain.Event, func())
}
