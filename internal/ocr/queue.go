package ocr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// ErrQueueClosed is returned when submitting to a closed queue.
var ErrQueueClosed = errors.New("ocr queue closed")

// JobFunc performs one OCR job.
type JobFunc func(ctx context.Context) (*domain.OCRResult, error)

type job struct {
	id   string
	ctx  context.Context
	fn   JobFunc
	done chan struct{}

	result *domain.OCRResult
	err    error
}

// Queue runs OCR jobs in submission order with bounded concurrency.
// Recognition is memory hungry, so the default concurrency is one.
//
// Jobs wait in a FIFO and are drained by at most concurrency tasks on an
// ants pool. Submission and Close are serialised by mu, so no job is
// accepted once Close has started.
type Queue struct {
	pool        *ants.Pool
	concurrency int

	mu      sync.Mutex
	queued  []*job
	active  int
	status  map[string]domain.OCRJobStatus
	pending map[string]*job
	closed  bool

	drainers sync.WaitGroup
}

// NewQueue creates a queue running at most concurrency jobs at a time.
func NewQueue(concurrency int) *Queue {
	if concurrency <= 0 {
		concurrency = 1
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		// NewPool only fails on invalid options.
		panic(fmt.Sprintf("ocr: create pool: %v", err))
	}
	return &Queue{
		pool:        pool,
		concurrency: concurrency,
		status:      make(map[string]domain.OCRJobStatus),
		pending:     make(map[string]*job),
	}
}

// Submit enqueues fn and returns its job id. The job runs with ctx;
// if ctx is cancelled before the job starts, it fails without running.
func (q *Queue) Submit(ctx context.Context, fn JobFunc) (string, error) {
	j := &job{id: uuid.NewString(), ctx: ctx, fn: fn, done: make(chan struct{})}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}
	q.queued = append(q.queued, j)
	q.status[j.id] = domain.OCRJobQueued
	q.pending[j.id] = j

	if q.active < q.concurrency {
		// A free pool slot exists: at most a finished drainer is still
		// returning its worker, which does not need mu.
		q.active++
		q.drainers.Add(1)
		if err := q.pool.Submit(q.drain); err != nil {
			q.active--
			q.drainers.Done()
			q.queued = q.queued[:len(q.queued)-1]
			delete(q.status, j.id)
			delete(q.pending, j.id)
			return "", fmt.Errorf("submit ocr job: %w", err)
		}
	}
	return j.id, nil
}

// drain runs queued jobs until the FIFO is empty.
func (q *Queue) drain() {
	defer q.drainers.Done()
	for {
		q.mu.Lock()
		if len(q.queued) == 0 {
			q.active--
			q.mu.Unlock()
			return
		}
		j := q.queued[0]
		q.queued[0] = nil
		q.queued = q.queued[1:]
		if j.ctx.Err() == nil {
			q.track(j.id, domain.OCRJobRunning)
		}
		q.mu.Unlock()

		if err := j.ctx.Err(); err != nil {
			j.err = err
		} else {
			j.result, j.err = j.fn(j.ctx)
		}
		q.finish(j)
	}
}

func (q *Queue) finish(j *job) {
	q.mu.Lock()
	if j.err != nil {
		q.track(j.id, domain.OCRJobFailed)
	} else {
		q.track(j.id, domain.OCRJobDone)
	}
	q.mu.Unlock()
	close(j.done)
}

// track records a status for a job nobody has abandoned yet. Must be
// called with mu held.
func (q *Queue) track(id string, s domain.OCRJobStatus) {
	if _, ok := q.pending[id]; ok {
		q.status[id] = s
	}
}

// Wait blocks until the job finishes and returns its result. The job is
// forgotten once Wait returns, whether it finished or ctx ended first.
func (q *Queue) Wait(ctx context.Context, id string) (*domain.OCRResult, error) {
	q.mu.Lock()
	j, ok := q.pending[id]
	q.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("ocr job %s: %w", id, domain.ErrNotFound)
	}

	var err error
	select {
	case <-j.done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	q.mu.Lock()
	delete(q.pending, id)
	delete(q.status, id)
	q.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return j.result, j.err
}

// Do submits fn and waits for it.
func (q *Queue) Do(ctx context.Context, fn JobFunc) (*domain.OCRResult, error) {
	id, err := q.Submit(ctx, fn)
	if err != nil {
		return nil, err
	}
	return q.Wait(ctx, id)
}

// Status returns the state of a job that has not been waited on.
func (q *Queue) Status(id string) (domain.OCRJobStatus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.status[id]
	return s, ok
}

// Close stops accepting jobs, waits for queued ones to finish and
// releases the pool.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.drainers.Wait()
	q.pool.Release()
}
