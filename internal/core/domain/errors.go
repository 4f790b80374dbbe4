package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateName indicates a registry already holds a component
	// with the same name.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrUnsupportedFormat indicates no parser handles the file.
	// The document is marked skipped rather than failed.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrOCRFailure indicates text recognition failed.
	// Indexing continues with the parser text only.
	ErrOCRFailure = errors.New("ocr failure")

	// ErrEmbeddingWorkerCrash indicates the embedding worker died and the
	// single automatic retry did not succeed.
	ErrEmbeddingWorkerCrash = errors.New("embedding worker crashed")

	// ErrWorkerTimeout indicates a worker did not answer within the
	// per-message timeout and was restarted.
	ErrWorkerTimeout = errors.New("worker timed out")

	// ErrWorkerUnavailable indicates a worker process could not be started.
	// This aborts the indexing session.
	ErrWorkerUnavailable = errors.New("worker unavailable")

	// ErrGPUFailure indicates a GPU runtime error. It triggers the one-way
	// fallback to CPU.
	ErrGPUFailure = errors.New("gpu failure")

	// ErrStorageWriteFailure indicates a storage write failed after retries.
	ErrStorageWriteFailure = errors.New("storage write failure")

	// ErrInvalidConfiguration indicates settings that cannot be honoured,
	// such as a chunk overlap not smaller than the chunk size.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrIncompatibleSchema indicates the persisted schema is newer than
	// this build understands.
	ErrIncompatibleSchema = errors.New("incompatible schema")

	// ErrEmbeddingUnavailable indicates the embedding service is not configured.
	// Semantic search is disabled without embeddings.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrQueueEmpty indicates there is no queued work.
	ErrQueueEmpty = errors.New("queue empty")
)

// StageError is a structured failure tied to a pipeline stage and,
// where relevant, a document or query.
type StageError struct {
	// Stage is where the failure happened.
	Stage Stage

	// DocumentID is the affected document, if any.
	DocumentID string

	// Path is the affected file, if any.
	Path string

	// QueryID is the affected query, if any.
	QueryID string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *StageError) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
	case e.QueryID != "":
		return fmt.Sprintf("%s query %s: %v", e.Stage, e.QueryID, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with stage and document context.
func NewStageError(stage Stage, doc *Document, err error) *StageError {
	se := &StageError{Stage: stage, Err: err}
	if doc != nil {
		se.DocumentID = doc.ID
		se.Path = doc.Path
	}
	return se
}

// IsRetryable reports whether a failed document should be requeued.
// Crashed workers and failed storage writes are transient; parse and
// configuration errors are not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEmbeddingWorkerCrash) ||
		errors.Is(err, ErrWorkerTimeout) ||
		errors.Is(err, ErrStorageWriteFailure)
}

// IsSessionFatal reports whether err must abort the whole indexing session.
func IsSessionFatal(err error) bool {
	return errors.Is(err, ErrWorkerUnavailable) ||
		errors.Is(err, ErrIncompatibleSchema) ||
		errors.Is(err, ErrInvalidConfiguration)
}
