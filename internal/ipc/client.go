package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/logger"
)

var log = logger.ForComponent(logger.CompIPC)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 2 * time.Minute

// errChildExited marks a request lost to a dead worker.
var errChildExited = errors.New("worker exited")

// Options configures a Client.
type Options struct {
	// Name labels log lines.
	Name string

	// Timeout bounds each request. A worker that exceeds it is killed.
	Timeout time.Duration

	// MaxInFlight bounds outstanding requests. Callers beyond it wait.
	MaxInFlight int

	// Init is sent as an init request to every new worker. The worker
	// must answer ready before it receives other requests.
	Init any

	// OnProgress receives progress envelopes.
	OnProgress func(Envelope)
}

// Client sends requests to a supervised worker. A worker that crashes
// or times out is replaced, and the affected request is sent once more
// to the replacement before the failure is reported.
type Client struct {
	spawner Spawner
	opts    Options
	sem     chan struct{}
	nextID  atomic.Uint64

	mu     sync.Mutex
	child  *child
	init   any
	closed bool

	restarts atomic.Int64
}

// NewClient creates a client. No worker is started until the first call.
func NewClient(spawner Spawner, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 1
	}
	if opts.Name == "" {
		opts.Name = "worker"
	}
	return &Client{
		spawner: spawner,
		opts:    opts,
		sem:     make(chan struct{}, opts.MaxInFlight),
		init:    opts.Init,
	}
}

// Restarts returns how many workers were replaced after a failure.
func (c *Client) Restarts() int64 {
	return c.restarts.Load()
}

// Call sends a request and decodes the response payload into out, which
// may be nil. Worker crashes and timeouts are retried once; the final
// error wraps domain.ErrEmbeddingWorkerCrash or domain.ErrWorkerTimeout.
// Failure to start a worker wraps domain.ErrWorkerUnavailable.
func (c *Client) Call(ctx context.Context, typ MessageType, payload any, out any) error {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.sem }()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := c.attempt(ctx, typ, payload)
		if err == nil {
			return decodeResponse(resp, out)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, errChildExited) && !errors.Is(err, domain.ErrWorkerTimeout) {
			return err
		}
		lastErr = err
		c.restarts.Add(1)
		log.Warn("worker_request_lost",
			slog.String("worker", c.opts.Name),
			slog.String("type", string(typ)),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}

	if errors.Is(lastErr, domain.ErrWorkerTimeout) {
		return fmt.Errorf("%s %s: %w", c.opts.Name, typ, lastErr)
	}
	return fmt.Errorf("%s %s: %w: %v", c.opts.Name, typ, domain.ErrEmbeddingWorkerCrash, lastErr)
}

func decodeResponse(resp Envelope, out any) error {
	if resp.Type == TypeError {
		return &RemoteError{Code: resp.Code, Message: resp.Error}
	}
	if out == nil || len(resp.Payload) == 0 {
		return nil
	}
	return resp.Decode(out)
}

func (c *Client) attempt(ctx context.Context, typ MessageType, payload any) (Envelope, error) {
	ch, err := c.ensure(ctx)
	if err != nil {
		return Envelope{}, err
	}
	return ch.request(ctx, c.nextID.Add(1), typ, payload, c.opts.Timeout)
}

// ensure returns a live worker, starting one if needed.
func (c *Client) ensure(ctx context.Context) (*child, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%s closed: %w", c.opts.Name, domain.ErrWorkerUnavailable)
	}
	if c.child != nil && c.child.alive() {
		return c.child, nil
	}

	proc, err := c.spawner.Spawn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWorkerUnavailable, err)
	}
	ch := newChild(proc, c.opts.OnProgress)

	if c.init != nil {
		resp, err := ch.request(ctx, c.nextID.Add(1), TypeInit, c.init, c.opts.Timeout)
		ch.ready = resp
		if err == nil && resp.Type == TypeError {
			err = &RemoteError{Code: resp.Code, Message: resp.Error}
		}
		if err == nil && resp.Type != TypeReady {
			err = fmt.Errorf("unexpected %s reply to init", resp.Type)
		}
		if err != nil {
			ch.kill(err)
			if errors.Is(err, domain.ErrGPUFailure) {
				return nil, fmt.Errorf("%w: init: %w", domain.ErrWorkerUnavailable, err)
			}
			return nil, fmt.Errorf("%w: init: %v", domain.ErrWorkerUnavailable, err)
		}
	}

	c.child = ch
	log.Debug("worker_ready", slog.String("worker", c.opts.Name))
	return ch, nil
}

// Start launches a worker if none is running and decodes the payload of
// its ready reply into out, which may be nil.
func (c *Client) Start(ctx context.Context, out any) error {
	ch, err := c.ensure(ctx)
	if err != nil {
		return err
	}
	if out == nil || len(ch.ready.Payload) == 0 {
		return nil
	}
	return ch.ready.Decode(out)
}

// Reconfigure replaces the init payload and stops the current worker so
// the next call starts one with the new settings.
func (c *Client) Reconfigure(init any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init = init
	if c.child != nil {
		c.child.kill(errors.New("reconfigured"))
		c.child = nil
	}
}

// Close asks the worker to exit, then kills it if it does not.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	ch := c.child
	c.child = nil
	c.mu.Unlock()

	if ch == nil || !ch.alive() {
		return nil
	}
	if ch.busy() {
		ch.kill(errors.New("closed while busy"))
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = ch.request(ctx, c.nextID.Add(1), TypeShutdown, nil, 5*time.Second)
	ch.kill(errors.New("closed"))
	return nil
}

// child is one running worker with its response router.
type child struct {
	proc       Process
	out        *Writer
	onProgress func(Envelope)
	ready      Envelope

	mu         sync.Mutex
	pending    map[uint64]chan Envelope
	unanswered int

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func newChild(proc Process, onProgress func(Envelope)) *child {
	ch := &child{
		proc:       proc,
		out:        NewWriter(proc.Stdin()),
		onProgress: onProgress,
		pending:    make(map[uint64]chan Envelope),
		done:       make(chan struct{}),
	}
	go ch.readLoop()
	return ch
}

func (ch *child) alive() bool {
	select {
	case <-ch.done:
		return false
	default:
		return true
	}
}

// busy reports whether a request sent to the worker is still unanswered,
// including requests whose callers gave up.
func (ch *child) busy() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.unanswered > 0
}

func (ch *child) readLoop() {
	in := NewReader(ch.proc.Stdout())
	for {
		env, err := in.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errChildExited
			}
			ch.kill(err)
			return
		}
		if env.Type == TypeProgress {
			if ch.onProgress != nil {
				ch.onProgress(env)
			}
			continue
		}
		ch.mu.Lock()
		reply, ok := ch.pending[env.ID]
		delete(ch.pending, env.ID)
		if env.ID != 0 && ch.unanswered > 0 {
			ch.unanswered--
		}
		ch.mu.Unlock()
		if ok {
			reply <- env
		}
	}
}

// kill stops the worker and fails every pending request.
func (ch *child) kill(cause error) {
	ch.doneOnce.Do(func() {
		ch.err = cause
		close(ch.done)
		_ = ch.proc.Stdin().Close()
		_ = ch.proc.Kill()
		go func() { _ = ch.proc.Wait() }()
	})
}

func (ch *child) request(ctx context.Context, id uint64, typ MessageType, payload any, timeout time.Duration) (Envelope, error) {
	env, err := NewEnvelope(id, typ, payload)
	if err != nil {
		return Envelope{}, err
	}

	reply := make(chan Envelope, 1)
	ch.mu.Lock()
	ch.pending[id] = reply
	ch.unanswered++
	ch.mu.Unlock()
	defer func() {
		ch.mu.Lock()
		delete(ch.pending, id)
		ch.mu.Unlock()
	}()

	if err := ch.out.Write(env); err != nil {
		ch.kill(err)
		return Envelope{}, fmt.Errorf("%w: %v", errChildExited, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-reply:
		return resp, nil
	case <-ch.done:
		return Envelope{}, fmt.Errorf("%w: %v", errChildExited, ch.err)
	case <-timer.C:
		ch.kill(fmt.Errorf("%s %d timed out", typ, id))
		return Envelope{}, fmt.Errorf("%w after %s", domain.ErrWorkerTimeout, timeout)
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}
