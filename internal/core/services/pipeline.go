package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/sercha-local/internal/chunker"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// ocrHintLength bounds the parser text passed to OCR for script detection.
const ocrHintLength = 2000

// docRun is one attempt at moving a queued document through the stages.
type docRun struct {
	ix    *Indexer
	runID string
	doc   *domain.Document
}

// process runs item through the pipeline. Per-document failures are
// recorded on the document and reported in the result; only
// session-fatal failures are returned as errors.
func (ix *Indexer) process(ctx context.Context, runID string, item *domain.QueueItem) (*domain.ProcessResult, error) {
	doc, err := ix.store.GetDocument(ctx, item.TargetID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && doc.IsTombstoned()) {
		item.Status = domain.QueueCancelled
		return &domain.ProcessResult{}, ix.saveItem(ctx, item)
	}
	if err != nil {
		item.Status = domain.QueueQueued
		return nil, errors.Join(fmt.Errorf("load document %s: %w", item.TargetID, err),
			ix.saveItem(context.WithoutCancel(ctx), item))
	}

	res := &domain.ProcessResult{Document: doc, Updated: doc.IndexedAt != nil}
	ix.publish(domain.Event{
		Name:          domain.EventDocumentStarted,
		CorrelationID: runID,
		DocumentID:    doc.ID,
		Path:          doc.Path,
		Stage:         domain.StageQueued,
	})

	r := &docRun{ix: ix, runID: runID, doc: doc}
	stage, err := r.run(ctx)
	switch {
	case err == nil:
		item.Status = domain.QueueDone
		item.LastError = ""
		if serr := ix.saveItem(context.WithoutCancel(ctx), item); serr != nil {
			log.Warn("queue_update_failed", slog.String("path", doc.Path), slog.String("error", serr.Error()))
		}
		ix.publish(domain.Event{
			Name:          domain.EventDocumentCompleted,
			CorrelationID: runID,
			DocumentID:    doc.ID,
			Path:          doc.Path,
			Stage:         stage,
			Status:        doc.Status,
		})
		log.Debug("document_done", slog.String("path", doc.Path), slog.String("status", string(doc.Status)))
		return res, nil

	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		res.Cancelled = true
		item.Status = domain.QueueQueued
		return res, ix.saveItem(context.WithoutCancel(ctx), item)

	case domain.IsSessionFatal(err):
		item.Status = domain.QueueQueued
		serr := ix.saveItem(context.WithoutCancel(ctx), item)
		se := domain.NewStageError(stage, doc, err)
		ix.publishError(runID, doc, stage, se)
		return res, errors.Join(se, serr)
	}
	return ix.fail(ctx, runID, item, res, stage, err), nil
}

// fail requeues a transient failure while attempts remain, otherwise it
// moves the document to the error state.
func (ix *Indexer) fail(ctx context.Context, runID string, item *domain.QueueItem, res *domain.ProcessResult,
	stage domain.Stage, err error) *domain.ProcessResult {
	wctx := context.WithoutCancel(ctx)
	item.Attempts++
	item.LastError = err.Error()
	res.Err = err

	if domain.IsRetryable(err) && item.Attempts <= ix.settings.Indexing.MaxRetries {
		item.Status = domain.QueueQueued
		item.EnqueuedAt = ix.now()
		res.Requeued = true
		log.Info("document_requeued",
			slog.String("path", item.Path),
			slog.Int("attempt", item.Attempts),
			slog.String("stage", string(stage)),
			slog.String("error", err.Error()))
		if serr := ix.saveItem(wctx, item); serr != nil {
			log.Warn("queue_update_failed", slog.String("path", item.Path), slog.String("error", serr.Error()))
		}
		return res
	}

	item.Status = domain.QueueFailed
	if serr := ix.saveItem(wctx, item); serr != nil {
		log.Warn("queue_update_failed", slog.String("path", item.Path), slog.String("error", serr.Error()))
	}

	doc := res.Document
	se := domain.NewStageError(stage, doc, err)
	res.Err = se
	if doc != nil {
		doc.Status = domain.StatusError
		doc.Error = &domain.DocumentError{Stage: stage, Message: err.Error()}
		doc.UpdatedAt = ix.now()
		if serr := ix.saveDocument(wctx, doc); serr != nil {
			log.Warn("document_update_failed", slog.String("path", doc.Path), slog.String("error", serr.Error()))
		}
	}
	log.Warn("document_failed",
		slog.String("path", item.Path),
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()))
	ix.publishError(runID, doc, stage, se)
	return res
}

func (ix *Indexer) publishError(runID string, doc *domain.Document, stage domain.Stage, err error) {
	e := domain.Event{
		Name:          domain.EventIndexingError,
		CorrelationID: runID,
		Stage:         stage,
		Error:         err.Error(),
	}
	if doc != nil {
		e.DocumentID = doc.ID
		e.Path = doc.Path
		e.Status = doc.Status
	}
	ix.publish(e)
}

// run executes the stages and returns the last stage reached.
// Documents interrupted while embedding resume there with their stored
// chunks.
func (r *docRun) run(ctx context.Context) (domain.Stage, error) {
	ix, doc := r.ix, r.doc

	if doc.Status == domain.StatusEmbedding {
		chunks, err := ix.store.GetChunks(ctx, doc.ID)
		if err != nil {
			return domain.StageEmbedding, err
		}
		if len(chunks) > 0 {
			return r.embed(ctx, chunks)
		}
	}

	if err := r.setStatus(ctx, domain.StatusParsing); err != nil {
		return domain.StageParsing, err
	}
	parsed, err := ix.parsers.Parse(ctx, doc.Path)
	if errors.Is(err, domain.ErrUnsupportedFormat) {
		doc.Content = ""
		return domain.StageParsing, r.setStatus(ctx, domain.StatusSkipped)
	}
	if err != nil {
		return domain.StageParsing, err
	}
	r.applyParse(parsed)
	if err := ctx.Err(); err != nil {
		return domain.StageParsing, err
	}

	if err := r.setStatus(ctx, domain.StatusChunking); err != nil {
		return domain.StageChunking, err
	}
	chunks, err := ix.chunker.Chunk(doc.Content, ix.chunkOptions())
	if err != nil {
		return domain.StageChunking, err
	}
	sections := parsed.Sections
	if err := ctx.Err(); err != nil {
		return domain.StageChunking, err
	}

	if len(parsed.OCRRegions) > 0 {
		more, pages, err := r.recognize(ctx, parsed)
		if err != nil {
			return domain.StageOCR, err
		}
		chunks = append(chunks, more...)
		sections = append(sections, pages...)
		if err := ctx.Err(); err != nil {
			return domain.StageOCR, err
		}
	}
	chunker.Finalize(doc.ID, chunks, sections)

	doc.Status = domain.StatusEmbedding
	doc.UpdatedAt = ix.now()
	if err := retryWrite(ctx, ix.settings.Indexing.StorageRetries, ix.retryBase, "replace chunks", func() error {
		return ix.store.ReplaceChunks(ctx, doc, chunks)
	}); err != nil {
		return domain.StageStoring, err
	}
	return r.embed(ctx, chunks)
}

func (r *docRun) applyParse(parsed *driven.ParseResult) {
	doc := r.doc
	doc.Content = parsed.Text
	switch {
	case parsed.Title != "":
		doc.Title = parsed.Title
	case doc.Title == "":
		doc.Title = filepath.Base(doc.Path)
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]any, len(parsed.Metadata))
	}
	delete(doc.Metadata, "ocr_failed_pages")
	delete(doc.Metadata, "ocr_error")
	for k, v := range parsed.Metadata {
		doc.Metadata[k] = v
	}
	doc.OCRStatus = domain.OCRNone
}

// recognize runs OCR over the parser's image regions and chunks the
// recognised text. The text is appended to the document content so that
// chunk offsets stay valid. OCR failure is not a document failure: the
// document keeps its parser text and records the OCR status.
func (r *docRun) recognize(ctx context.Context, parsed *driven.ParseResult) ([]domain.Chunk, []driven.Section, error) {
	ix, doc := r.ix, r.doc
	if ix.ocr == nil || !ix.settings.OCR.Enabled {
		doc.OCRStatus = domain.OCRNeeded
		return nil, nil, nil
	}

	doc.OCRStatus = domain.OCRInProgress
	if err := r.setStatus(ctx, doc.Status); err != nil {
		return nil, nil, err
	}

	kind := domain.OCRSourceImage
	if doc.Category == domain.CategoryPDF {
		kind = domain.OCRSourcePDF
	}
	res, err := ix.ocr.Recognize(ctx, r.runID, domain.OCRRequest{
		Path:    doc.Path,
		Kind:    kind,
		Regions: parsed.OCRRegions,
		Hint:    truncateRunes(parsed.Text, ocrHintLength),
	})
	if cerr := ctx.Err(); cerr != nil {
		return nil, nil, cerr
	}

	var ok, failed []domain.OCRRegionResult
	if res != nil {
		for _, reg := range res.Regions {
			if reg.Err != "" {
				failed = append(failed, reg)
			} else {
				ok = append(ok, reg)
			}
		}
	}
	if len(ok) == 0 {
		doc.OCRStatus = domain.OCRFailed
		if err != nil {
			doc.Metadata["ocr_error"] = err.Error()
		}
		log.Warn("ocr_failed", slog.String("path", doc.Path), slog.Any("error", err))
		return nil, nil, nil
	}

	doc.OCRStatus = domain.OCRDone
	if len(failed) > 0 {
		pages := make([]int, len(failed))
		for i, reg := range failed {
			pages[i] = reg.Region.Page
		}
		doc.Metadata["ocr_failed_pages"] = pages
	}

	var chunks []domain.Chunk
	var sections []driven.Section
	opts := ix.chunkOptions()
	for _, reg := range ok {
		text := strings.TrimSpace(reg.Text)
		if text == "" {
			continue
		}
		if doc.Content != "" {
			doc.Content += "\n\n"
		}
		base := len(doc.Content)
		doc.Content += text
		sections = append(sections, driven.Section{Offset: base, Page: reg.Region.Page})

		cs, err := ix.chunker.Chunk(text, opts)
		if err != nil {
			return nil, nil, err
		}
		for i := range cs {
			cs[i].StartOffset += base
			cs[i].EndOffset += base
		}
		chunks = append(chunks, cs...)
	}
	return chunks, sections, nil
}

// embed computes missing vectors batch by batch, then marks the document
// indexed. Cancellation is checked between batches; a batch that has
// started completes and is stored.
func (r *docRun) embed(ctx context.Context, chunks []domain.Chunk) (domain.Stage, error) {
	ix, doc := r.ix, r.doc
	retries := ix.settings.Indexing.StorageRetries

	if ix.embedder != nil {
		var pending []int
		for i := range chunks {
			if !chunks[i].HasEmbedding() {
				pending = append(pending, i)
			}
		}
		total := len(chunks)
		done := total - len(pending)
		size := max(ix.settings.Embedding.BatchSize, 1)

		for start := 0; start < len(pending); start += size {
			if err := ctx.Err(); err != nil {
				return domain.StageEmbedding, err
			}
			batch := pending[start:min(start+size, len(pending))]
			texts := make([]string, len(batch))
			for j, ci := range batch {
				texts[j] = chunks[ci].Content
			}

			bctx := context.WithoutCancel(ctx)
			vecs, err := ix.embedder.EmbedDocuments(bctx, texts, nil)
			if err == nil && len(vecs) != len(texts) {
				err = fmt.Errorf("embedder returned %d vectors for %d chunks: %w", len(vecs), len(texts), domain.ErrEmbeddingUnavailable)
			}
			if err != nil {
				ix.publish(domain.Event{
					Name:          domain.EventEmbeddingError,
					CorrelationID: r.runID,
					DocumentID:    doc.ID,
					Path:          doc.Path,
					Stage:         domain.StageEmbedding,
					Error:         err.Error(),
				})
				return domain.StageEmbedding, err
			}

			for j, ci := range batch {
				id, vec := chunks[ci].ID, vecs[j]
				err := retryWrite(bctx, retries, ix.retryBase, "store embedding", func() error {
					return ix.store.UpdateChunkEmbedding(bctx, id, vec)
				})
				if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
					return domain.StageStoring, err
				}
				chunks[ci].Embedding = vec
			}

			done += len(batch)
			ix.publish(domain.Event{
				Name:          domain.EventEmbeddingProgress,
				CorrelationID: r.runID,
				DocumentID:    doc.ID,
				Path:          doc.Path,
				Stage:         domain.StageEmbedding,
				Progress:      &domain.Progress{Processed: done, Total: total},
			})
		}
	}

	if err := ctx.Err(); err != nil {
		return domain.StageStoring, err
	}
	now := ix.now()
	doc.IndexedAt = &now
	doc.Error = nil
	if err := r.setStatus(ctx, domain.StatusIndexed); err != nil {
		return domain.StageStoring, err
	}
	return domain.StageIndexed, nil
}

// setStatus persists the document with a new status.
func (r *docRun) setStatus(ctx context.Context, s domain.DocumentStatus) error {
	r.doc.Status = s
	r.doc.UpdatedAt = r.ix.now()
	return r.ix.saveDocument(ctx, r.doc)
}

func (ix *Indexer) chunkOptions() driven.ChunkOptions {
	c := ix.settings.Chunking
	return driven.ChunkOptions{
		MaxChunkSize:       c.MaxChunkSize,
		ChunkOverlap:       c.ChunkOverlap,
		PreserveParagraphs: c.PreserveParagraphs,
		PreserveSentences:  c.PreserveSentences,
	}
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
