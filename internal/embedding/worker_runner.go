package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/ipc"
)

// WorkerOptions configures a WorkerRunner.
type WorkerOptions struct {
	// Workers is the number of child processes.
	Workers int

	// Timeout bounds one request to a worker.
	Timeout time.Duration

	// MaxInFlight bounds outstanding requests per worker.
	MaxInFlight int
}

// WorkerRunner runs the model in a pool of worker child processes.
type WorkerRunner struct {
	clients []*ipc.Client
	next    atomic.Uint64
}

// NewWorkerRunner creates a pool of workers started by spawner.
func NewWorkerRunner(spawner ipc.Spawner, opts WorkerOptions) *WorkerRunner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	r := &WorkerRunner{}
	for i := 0; i < opts.Workers; i++ {
		r.clients = append(r.clients, ipc.NewClient(spawner, ipc.Options{
			Name:        fmt.Sprintf("embed-worker-%d", i),
			Timeout:     opts.Timeout,
			MaxInFlight: opts.MaxInFlight,
		}))
	}
	return r
}

// Start (re)starts every worker with cfg. All workers must load the
// same backend and dimensions.
func (r *WorkerRunner) Start(ctx context.Context, cfg domain.ResolvedEmbedderConfig) (Loaded, error) {
	var first Loaded
	for i, c := range r.clients {
		c.Reconfigure(InitRequest{Config: cfg})
		var ready Loaded
		if err := c.Start(ctx, &ready); err != nil {
			return Loaded{}, err
		}
		if i == 0 {
			first = ready
		} else if ready != first {
			return Loaded{}, fmt.Errorf("worker %d loaded %+v, expected %+v: %w", i, ready, first, domain.ErrInvalidConfiguration)
		}
	}
	return first, nil
}

// Embed sends texts to the next worker in turn.
func (r *WorkerRunner) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c := r.clients[int(r.next.Add(1)-1)%len(r.clients)]
	var resp BatchResponse
	if err := c.Call(ctx, ipc.TypeEmbedBatch, BatchRequest{Texts: texts}, &resp); err != nil {
		return nil, err
	}
	return resp.Vectors, nil
}

// Restarts returns how many worker replacements the pool has made.
func (r *WorkerRunner) Restarts() int64 {
	var n int64
	for _, c := range r.clients {
		n += c.Restarts()
	}
	return n
}

// Close stops every worker.
func (r *WorkerRunner) Close() error {
	var errs []error
	for _, c := range r.clients {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
