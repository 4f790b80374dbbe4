// Package worker is the request handler run by `sercha worker` child
// processes. A worker owns one embedding model and the local OCR
// providers, and answers one request at a time.
package worker

import (
	"context"
	"fmt"
	"slices"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/embedding"
	"github.com/custodia-labs/sercha-local/internal/ipc"
	"github.com/custodia-labs/sercha-local/internal/registry"
)

// Ensure Handler implements the interface.
var _ ipc.Handler = (*Handler)(nil)

// Handler answers embedding and OCR requests.
type Handler struct {
	runner *embedding.InProcess
	ocr    *registry.Registry[driven.OCRProvider]
}

// NewHandler creates a handler. ocr may be nil when the worker only
// embeds.
func NewHandler(backends *registry.Registry[embedding.Backend], ocr *registry.Registry[driven.OCRProvider]) *Handler {
	return &Handler{runner: embedding.NewInProcess(backends), ocr: ocr}
}

// Handle dispatches one request.
func (h *Handler) Handle(ctx context.Context, req ipc.Envelope, progress ipc.ProgressFunc) (ipc.MessageType, any, error) {
	switch req.Type {
	case ipc.TypeInit:
		var in embedding.InitRequest
		if err := req.Decode(&in); err != nil {
			return "", nil, err
		}
		loaded, err := h.runner.Start(ctx, in.Config)
		if err != nil {
			return "", nil, err
		}
		return ipc.TypeReady, loaded, nil

	case ipc.TypeEmbedBatch:
		var in embedding.BatchRequest
		if err := req.Decode(&in); err != nil {
			return "", nil, err
		}
		vecs, err := h.runner.Embed(ctx, in.Texts)
		if err != nil {
			return "", nil, err
		}
		progress(domain.Progress{Processed: len(in.Texts), Total: len(in.Texts)})
		return ipc.TypeEmbeddings, embedding.BatchResponse{Vectors: vecs}, nil

	case ipc.TypeEmbedQuery:
		var in embedding.QueryRequest
		if err := req.Decode(&in); err != nil {
			return "", nil, err
		}
		vecs, err := h.runner.Embed(ctx, []string{in.Text})
		if err != nil {
			return "", nil, err
		}
		return ipc.TypeEmbedding, embedding.QueryResponse{Vector: vecs[0]}, nil

	case ipc.TypeOCR:
		var in domain.OCRRequest
		if err := req.Decode(&in); err != nil {
			return "", nil, err
		}
		res, err := h.recognize(ctx, in)
		if err != nil {
			return "", nil, err
		}
		return ipc.TypeOCRResult, res, nil
	}
	return "", nil, fmt.Errorf("unknown request type %q: %w", req.Type, domain.ErrInvalidInput)
}

func (h *Handler) recognize(ctx context.Context, req domain.OCRRequest) (*domain.OCRResult, error) {
	if h.ocr == nil {
		return nil, fmt.Errorf("ocr disabled in worker: %w", domain.ErrOCRFailure)
	}
	p, ok := h.ocr.Select(func(p driven.OCRProvider) bool {
		return slices.Contains(p.Kinds(), req.Kind)
	})
	if !ok {
		return nil, fmt.Errorf("no %s provider in worker: %w", req.Kind, domain.ErrOCRFailure)
	}
	return p.Recognize(ctx, req)
}

// Close releases the model.
func (h *Handler) Close() error {
	return h.runner.Close()
}
