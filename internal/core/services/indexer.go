package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-local/internal/discovery"
	"github.com/custodia-labs/sercha-local/internal/logger"
	"github.com/custodia-labs/sercha-local/internal/parsers"
)

var log = logger.ForComponent(logger.CompIndex)

// Ensure Indexer implements the interface.
var _ driving.IndexService = (*Indexer)(nil)

// IndexerDeps are the collaborators of an Indexer. OCR, Embedder, Events
// and Classifier are optional.
type IndexerDeps struct {
	Store      driven.Storage
	Parsers    driven.ParserSelector
	Chunker    driven.Chunker
	OCR        driven.OCRService
	Embedder   driven.Embedder
	Events     driven.EventPublisher
	Classifier *FileClassifier
}

// IndexerOption customises an Indexer.
type IndexerOption func(*Indexer)

// WithRetryBase sets the first storage retry delay.
func WithRetryBase(d time.Duration) IndexerOption {
	return func(ix *Indexer) {
		ix.retryBase = d
	}
}

// WithClock replaces time.Now for document timestamps.
func WithClock(now func() time.Time) IndexerOption {
	return func(ix *Indexer) {
		ix.now = now
	}
}

// Indexer runs the indexing pipeline. It owns document state: every
// storage write goes through it, while parsers, chunkers, OCR and
// embedders only compute.
type Indexer struct {
	store      driven.Storage
	parsers    driven.ParserSelector
	chunker    driven.Chunker
	ocr        driven.OCRService
	embedder   driven.Embedder
	events     driven.EventPublisher
	classifier *FileClassifier

	settings  domain.Settings
	retryBase time.Duration
	now       func() time.Time
}

// NewIndexer creates an indexer.
func NewIndexer(deps IndexerDeps, settings domain.Settings, opts ...IndexerOption) (*Indexer, error) {
	if deps.Store == nil || deps.Parsers == nil || deps.Chunker == nil {
		return nil, fmt.Errorf("%w: indexer needs storage, parsers and a chunker", domain.ErrInvalidConfiguration)
	}
	ix := &Indexer{
		store:      deps.Store,
		parsers:    deps.Parsers,
		chunker:    deps.Chunker,
		ocr:        deps.OCR,
		embedder:   deps.Embedder,
		events:     deps.Events,
		classifier: deps.Classifier,
		settings:   settings,
		retryBase:  DefaultRetryBase,
		now:        time.Now,
	}
	if ix.classifier == nil {
		ix.classifier = NewFileClassifier()
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// change is the outcome of diffing a discovered file against storage.
type change int

const (
	changeNone change = iota
	changeAdded
	changeUpdated
)

// Enqueue implements driving.IndexService.
func (ix *Indexer) Enqueue(ctx context.Context, paths []string, opts domain.IndexOptions) (*domain.SyncSummary, error) {
	sum, _, err := ix.enqueue(ctx, uuid.NewString(), paths, opts)
	return sum, err
}

// Sync implements driving.IndexService.
func (ix *Indexer) Sync(ctx context.Context, roots []string) (*domain.SyncSummary, error) {
	runID := uuid.NewString()
	sum, seen, err := ix.enqueue(ctx, runID, roots, domain.IndexOptions{})
	if err != nil {
		return sum, err
	}
	removed, err := ix.tombstone(ctx, roots, seen)
	sum.Removed = removed
	if err != nil {
		return sum, err
	}
	log.Info("sync_complete",
		slog.String("run_id", runID),
		slog.Int("added", sum.Added),
		slog.Int("updated", sum.Updated),
		slog.Int("removed", sum.Removed),
		slog.Int("unchanged", sum.Unchanged))
	return sum, nil
}

// Index implements driving.IndexService.
func (ix *Indexer) Index(ctx context.Context, paths []string, opts domain.IndexOptions) (*domain.IndexSummary, error) {
	start := time.Now()
	sum := &domain.IndexSummary{RunID: uuid.NewString()}
	finish := func(err error) (*domain.IndexSummary, error) {
		if ctx.Err() != nil {
			sum.Cancelled = true
		}
		sum.Duration = time.Since(start)
		log.Info("index_complete",
			slog.String("run_id", sum.RunID),
			slog.Int("added", sum.Added),
			slog.Int("updated", sum.Updated),
			slog.Int("unchanged", sum.Unchanged),
			slog.Int("removed", sum.Removed),
			slog.Int("skipped", sum.Skipped),
			slog.Int("failed", sum.Failed),
			slog.Bool("cancelled", sum.Cancelled),
			slog.Duration("took", sum.Duration))
		return sum, err
	}

	queued, seen, err := ix.enqueue(ctx, sum.RunID, paths, opts)
	if queued != nil {
		sum.Unchanged = queued.Unchanged
	}
	if err != nil {
		if ctx.Err() != nil {
			return finish(nil)
		}
		return finish(err)
	}
	if sum.Removed, err = ix.tombstone(ctx, paths, seen); err != nil {
		return finish(err)
	}
	return finish(ix.drain(ctx, sum))
}

// Drain implements driving.IndexService.
func (ix *Indexer) Drain(ctx context.Context) (*domain.IndexSummary, error) {
	start := time.Now()
	sum := &domain.IndexSummary{RunID: uuid.NewString()}
	err := ix.drain(ctx, sum)
	if ctx.Err() != nil {
		sum.Cancelled = true
	}
	sum.Duration = time.Since(start)
	return sum, err
}

// ProcessNext implements driving.IndexService.
func (ix *Indexer) ProcessNext(ctx context.Context) (*domain.ProcessResult, error) {
	item, err := ix.store.DequeueNext(ctx)
	if err != nil {
		return nil, err
	}
	return ix.process(ctx, uuid.NewString(), item)
}

// Resume implements driving.IndexService. Documents interrupted while
// parsing or chunking restart from the parser; documents interrupted
// while embedding keep their chunks and only embed what is missing.
func (ix *Indexer) Resume(ctx context.Context) (int, error) {
	stale, err := ix.store.RequeueStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("requeue stale items: %w", err)
	}

	docs, err := ix.store.QueryByFilters(ctx, domain.DocumentFilter{
		Statuses: []domain.DocumentStatus{domain.StatusParsing, domain.StatusChunking, domain.StatusEmbedding},
	})
	if err != nil {
		return stale, fmt.Errorf("list interrupted documents: %w", err)
	}

	requeued := 0
	for _, doc := range docs {
		if doc.Status != domain.StatusEmbedding {
			doc.Status = domain.StatusPending
			doc.UpdatedAt = ix.now()
			if err := ix.saveDocument(ctx, doc); err != nil {
				return stale + requeued, err
			}
		}

		item, err := ix.store.GetQueueItem(ctx, doc.ID)
		switch {
		case err == nil && item.Status == domain.QueueQueued:
			continue
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return stale + requeued, fmt.Errorf("get queue item %s: %w", doc.ID, err)
		}
		if err := ix.queue(ctx, doc, domain.PriorityNormal); err != nil {
			return stale + requeued, err
		}
		requeued++
	}

	if stale+requeued > 0 {
		log.Info("resume", slog.Int("stale_items", stale), slog.Int("requeued_documents", requeued))
	}
	return stale + requeued, nil
}

// Stats implements driving.IndexService.
func (ix *Indexer) Stats(ctx context.Context) (*domain.Stats, error) {
	return ix.store.Stats(ctx)
}

func (ix *Indexer) walkOptions() discovery.Options {
	return discovery.Options{
		FollowHidden: ix.settings.Indexing.FollowHidden,
		Ignore:       ix.settings.Indexing.Ignore,
	}
}

// enqueue discovers files under paths and queues the new and changed
// ones. It returns the summary and the set of discovered paths.
func (ix *Indexer) enqueue(ctx context.Context, runID string, paths []string,
	opts domain.IndexOptions) (*domain.SyncSummary, map[string]bool, error) {
	files, err := discovery.Collect(ctx, paths, ix.walkOptions())
	if err != nil {
		return &domain.SyncSummary{}, nil, fmt.Errorf("discover: %w", err)
	}

	sum := &domain.SyncSummary{}
	seen := make(map[string]bool, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return sum, seen, err
		}
		seen[f.Path] = true

		c, err := ix.enqueueFile(ctx, f, opts)
		if err != nil {
			if domain.IsSessionFatal(err) {
				return sum, seen, err
			}
			log.Warn("enqueue_failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			ix.publish(domain.Event{
				Name:          domain.EventIndexingError,
				CorrelationID: runID,
				Path:          f.Path,
				Stage:         domain.StageDiscovered,
				Error:         err.Error(),
			})
			continue
		}
		switch c {
		case changeAdded:
			sum.Added++
		case changeUpdated:
			sum.Updated++
		default:
			sum.Unchanged++
		}

		ix.publish(domain.Event{
			Name:          domain.EventDiscoveryProgress,
			CorrelationID: runID,
			Stage:         domain.StageDiscovered,
			Progress:      &domain.Progress{Processed: i + 1, Total: len(files)},
		})
	}
	return sum, seen, nil
}

// enqueueFile records f as pending and queues it when it is new or its
// content changed.
func (ix *Indexer) enqueueFile(ctx context.Context, f discovery.File, opts domain.IndexOptions) (change, error) {
	hash, err := discovery.HashFile(f.Path)
	if err != nil {
		return changeNone, fmt.Errorf("hash %s: %w", f.Path, err)
	}

	now := ix.now()
	id := discovery.DocumentID(f.Path)
	doc, err := ix.store.GetDocument(ctx, id)
	isNew := errors.Is(err, domain.ErrNotFound)
	if err != nil && !isNew {
		return changeNone, fmt.Errorf("get document %s: %w", id, err)
	}

	var c change
	if isNew {
		c = changeAdded
		doc = &domain.Document{
			ID:        id,
			Path:      f.Path,
			Title:     filepath.Base(f.Path),
			Tags:      append([]string(nil), opts.Tags...),
			OCRStatus: domain.OCRNone,
			CreatedAt: now,
		}
	} else if c, err = ix.diff(ctx, doc, hash, opts); err != nil || c == changeNone {
		return changeNone, err
	}

	doc.ContentHash = hash
	doc.Size = f.Size
	doc.ModTime = f.ModTime
	doc.MIMEType = parsers.DetectMIME(f.Path)
	doc.Category = parsers.CategoryFor(f.Path)
	doc.Status = domain.StatusPending
	doc.Error = nil
	if doc.IsTombstoned() {
		// A file that comes back is new again.
		doc.IndexedAt = nil
		doc.DeletedAt = nil
	}
	doc.UpdatedAt = now

	write := func() error { return ix.store.UpdateDocument(ctx, doc) }
	if isNew {
		write = func() error { return ix.store.CreateDocument(ctx, doc) }
	}
	if err := retryWrite(ctx, ix.settings.Indexing.StorageRetries, ix.retryBase, "save document", write); err != nil {
		return changeNone, err
	}
	if err := ix.queue(ctx, doc, ix.classifier.Classify(f)); err != nil {
		return changeNone, err
	}
	return c, nil
}

// diff decides whether a stored document needs work.
func (ix *Indexer) diff(ctx context.Context, doc *domain.Document, hash string, opts domain.IndexOptions) (change, error) {
	if doc.IsTombstoned() {
		return changeAdded, nil
	}
	if doc.ContentHash != hash || opts.Force {
		return changeUpdated, nil
	}
	switch doc.Status {
	case domain.StatusIndexed, domain.StatusSkipped:
		return changeNone, nil
	case domain.StatusError:
		if opts.RetryFailed {
			return changeUpdated, nil
		}
		return changeNone, nil
	}

	// Left pending or mid-pipeline by an earlier run.
	item, err := ix.store.GetQueueItem(ctx, doc.ID)
	switch {
	case err == nil && (item.Status == domain.QueueQueued || item.Status == domain.QueueProcessing):
		return changeNone, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return changeNone, fmt.Errorf("get queue item %s: %w", doc.ID, err)
	}
	return changeUpdated, nil
}

// queue puts doc in the work queue with a fresh attempt count.
func (ix *Indexer) queue(ctx context.Context, doc *domain.Document, p domain.Priority) error {
	now := ix.now()
	item := &domain.QueueItem{
		TargetID:   doc.ID,
		Path:       doc.Path,
		Priority:   p,
		Status:     domain.QueueQueued,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
	return ix.saveItem(ctx, item)
}

// tombstone marks documents under roots whose files were not seen.
func (ix *Indexer) tombstone(ctx context.Context, roots []string, seen map[string]bool) (int, error) {
	removed := 0
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return removed, fmt.Errorf("resolve %s: %w", root, err)
		}
		docs, err := ix.store.QueryByFilters(ctx, domain.DocumentFilter{PathPrefix: abs})
		if err != nil {
			return removed, fmt.Errorf("list documents under %s: %w", abs, err)
		}
		for _, doc := range docs {
			if seen[doc.Path] || !discovery.Under(doc.Path, abs) {
				continue
			}
			if err := ix.remove(ctx, doc); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// remove tombstones doc, drops its chunks and cancels queued work.
func (ix *Indexer) remove(ctx context.Context, doc *domain.Document) error {
	now := ix.now()
	retries := ix.settings.Indexing.StorageRetries
	if err := retryWrite(ctx, retries, ix.retryBase, "delete chunks", func() error {
		return ix.store.DeleteChunks(ctx, doc.ID)
	}); err != nil {
		return err
	}
	doc.DeletedAt = &now
	doc.UpdatedAt = now
	if err := ix.saveDocument(ctx, doc); err != nil {
		return err
	}

	log.Debug("tombstoned", slog.String("path", doc.Path))

	item, err := ix.store.GetQueueItem(ctx, doc.ID)
	if err != nil || item.Status != domain.QueueQueued {
		return nil
	}
	item.Status = domain.QueueCancelled
	return ix.saveItem(ctx, item)
}

// drain processes the queue in ticks of indexing.batch_size items,
// spread over a pool of indexing.max_concurrent_documents workers.
func (ix *Indexer) drain(ctx context.Context, sum *domain.IndexSummary) error {
	pool, err := ants.NewPool(max(ix.settings.Indexing.MaxConcurrentDocuments, 1))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	batch := max(ix.settings.Indexing.BatchSize, 1)
	for ctx.Err() == nil {
		items, err := ix.dequeue(ctx, batch)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		results := make([]*domain.ProcessResult, len(items))
		errs := make([]error, len(items))
		var wg sync.WaitGroup
		for i, item := range items {
			wg.Add(1)
			task := func() {
				defer wg.Done()
				results[i], errs[i] = ix.process(ctx, sum.RunID, item)
			}
			if err := pool.Submit(task); err != nil {
				wg.Done()
				item.Status = domain.QueueQueued
				errs[i] = errors.Join(fmt.Errorf("submit %s: %w", item.Path, err), ix.saveItem(context.WithoutCancel(ctx), item))
			}
		}
		wg.Wait()

		var fatal error
		for i := range items {
			if errs[i] != nil {
				fatal = errors.Join(fatal, errs[i])
				continue
			}
			tally(sum, results[i])
		}
		if fatal != nil {
			return fatal
		}
	}
	sum.Cancelled = true
	return nil
}

// dequeue takes up to n items off the queue.
func (ix *Indexer) dequeue(ctx context.Context, n int) ([]*domain.QueueItem, error) {
	items := make([]*domain.QueueItem, 0, n)
	for len(items) < n {
		item, err := ix.store.DequeueNext(ctx)
		if errors.Is(err, domain.ErrQueueEmpty) {
			break
		}
		if err != nil {
			return items, fmt.Errorf("dequeue: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// tally folds one document outcome into the run summary.
func tally(sum *domain.IndexSummary, r *domain.ProcessResult) {
	if r == nil {
		return
	}
	switch {
	case r.Cancelled:
		sum.Cancelled = true
	case r.Requeued, r.Document == nil:
	case r.Document.Status == domain.StatusIndexed:
		if r.Updated {
			sum.Updated++
		} else {
			sum.Added++
		}
	case r.Document.Status == domain.StatusSkipped:
		sum.Skipped++
	case r.Document.Status == domain.StatusError:
		sum.Failed++
		fe := domain.FileError{Path: r.Document.Path}
		if r.Document.Error != nil {
			fe.Stage = r.Document.Error.Stage
			fe.Message = r.Document.Error.Message
		}
		sum.Errors = append(sum.Errors, fe)
	}
}

func (ix *Indexer) saveDocument(ctx context.Context, doc *domain.Document) error {
	return retryWrite(ctx, ix.settings.Indexing.StorageRetries, ix.retryBase, "update document", func() error {
		return ix.store.UpdateDocument(ctx, doc)
	})
}

func (ix *Indexer) saveItem(ctx context.Context, item *domain.QueueItem) error {
	item.UpdatedAt = ix.now()
	return retryWrite(ctx, ix.settings.Indexing.StorageRetries, ix.retryBase, "update queue", func() error {
		return ix.store.UpsertQueueItem(ctx, item)
	})
}

func (ix *Indexer) publish(e domain.Event) {
	if ix.events == nil {
		return
	}
	ix.events.Publish(e)
}
