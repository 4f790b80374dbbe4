package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrExit makes Serve return without answering, as if the worker died.
var ErrExit = errors.New("worker exit")

// ProgressFunc reports intermediate progress for the current request.
type ProgressFunc func(payload any)

// Handler answers requests inside a worker.
type Handler interface {
	// Handle returns the response type and payload for req.
	Handle(ctx context.Context, req Envelope, progress ProgressFunc) (MessageType, any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Envelope, progress ProgressFunc) (MessageType, any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req Envelope, progress ProgressFunc) (MessageType, any, error) {
	return f(ctx, req, progress)
}

// Serve reads requests from r and writes responses to w until the
// stream ends, a shutdown request arrives or ctx is cancelled. Requests
// are handled one at a time: the worker owns its model and is not safe
// for concurrent use.
func Serve(ctx context.Context, r io.Reader, w io.Writer, h Handler) error {
	in := NewReader(r)
	out := NewWriter(w)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := in.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			log.Warn("worker_bad_request", slog.String("error", err.Error()))
			if werr := out.Write(Envelope{Type: TypeError, Error: err.Error(), Code: CodeInvalidInput}); werr != nil {
				return werr
			}
			continue
		}

		if req.Type == TypeShutdown {
			return out.Write(Envelope{ID: req.ID, Type: TypeShutdownAck})
		}

		progress := func(payload any) {
			env, err := NewEnvelope(req.ID, TypeProgress, payload)
			if err == nil {
				_ = out.Write(env)
			}
		}

		typ, payload, err := handle(ctx, h, req, progress)
		if errors.Is(err, ErrExit) {
			return err
		}
		if err != nil {
			if werr := out.Write(Envelope{ID: req.ID, Type: TypeError, Error: err.Error(), Code: CodeOf(err)}); werr != nil {
				return werr
			}
			continue
		}

		env, err := NewEnvelope(req.ID, typ, payload)
		if err != nil {
			env = Envelope{ID: req.ID, Type: TypeError, Error: err.Error(), Code: CodeInternal}
		}
		if err := out.Write(env); err != nil {
			return err
		}
	}
}

// handle runs one request, turning a handler panic into an error reply.
func handle(ctx context.Context, h Handler, req Envelope, progress ProgressFunc) (typ MessageType, payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, req, progress)
}
