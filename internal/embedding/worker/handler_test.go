package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/embedding"
	"github.com/custodia-labs/sercha-local/internal/embedding/hash"
	"github.com/custodia-labs/sercha-local/internal/ipc"
	"github.com/custodia-labs/sercha-local/internal/ocr"
	"github.com/custodia-labs/sercha-local/internal/ocr/remote"
)

// pageProvider recognises every region as its page number.
type pageProvider struct{}

func (pageProvider) Name() string                  { return "pages" }
func (pageProvider) Priority() int                 { return 10 }
func (pageProvider) Kinds() []domain.OCRSourceKind { return []domain.OCRSourceKind{domain.OCRSourcePDF} }

func (pageProvider) Recognize(_ context.Context, req domain.OCRRequest) (*domain.OCRResult, error) {
	res := &domain.OCRResult{}
	for _, r := range req.Regions {
		res.Regions = append(res.Regions, domain.OCRRegionResult{
			Region: r, Text: fmt.Sprintf("page %d", r.Page), Confidence: 90, Languages: req.Languages,
		})
	}
	return res, nil
}

func newHandler(t *testing.T) *Handler {
	t.Helper()
	backends := embedding.NewRegistry()
	require.NoError(t, backends.Register(hash.New()))
	providers := ocr.NewRegistry()
	require.NoError(t, providers.Register(pageProvider{}))
	h := NewHandler(backends, providers)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestWorker_EmbeddingThroughPool(t *testing.T) {
	sp := &ipc.PipeSpawner{Handler: newHandler(t)}
	runner := embedding.NewWorkerRunner(sp, embedding.WorkerOptions{Workers: 2, Timeout: 5 * time.Second})

	svc, err := embedding.NewService(context.Background(), runner,
		embedding.Config{Backend: "auto", Model: "multilingual-e5-small", Dimensions: 32, BatchSize: 3},
		embedding.WithGPUProbe(func() bool { return false }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	assert.Equal(t, "hash", svc.Config().Backend)
	assert.Equal(t, 32, svc.Dimensions())
	assert.Equal(t, 2, sp.Spawns())

	vecs, err := svc.EmbedDocuments(context.Background(), []string{"a", "b", "c", "d", "e"}, nil)
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	for _, v := range vecs {
		assert.Len(t, v, 32)
	}

	q, err := svc.EmbedQuery(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, q, 32)
}

func TestWorker_EmbedBeforeInit(t *testing.T) {
	h := newHandler(t)
	req, err := ipc.NewEnvelope(1, ipc.TypeEmbedBatch, embedding.BatchRequest{Texts: []string{"x"}})
	require.NoError(t, err)

	_, _, err = h.Handle(context.Background(), req, func(any) {})
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestWorker_EmbedQuery(t *testing.T) {
	h := newHandler(t)
	initReq, err := ipc.NewEnvelope(1, ipc.TypeInit, embedding.InitRequest{Config: domain.ResolvedEmbedderConfig{Backend: "hash", Dimensions: 8}})
	require.NoError(t, err)
	typ, loaded, err := h.Handle(context.Background(), initReq, func(any) {})
	require.NoError(t, err)
	assert.Equal(t, ipc.TypeReady, typ)
	assert.Equal(t, embedding.Loaded{Backend: "hash", Dimensions: 8}, loaded)

	q, err := ipc.NewEnvelope(2, ipc.TypeEmbedQuery, embedding.QueryRequest{Text: "query: x"})
	require.NoError(t, err)
	typ, out, err := h.Handle(context.Background(), q, func(any) {})
	require.NoError(t, err)
	assert.Equal(t, ipc.TypeEmbedding, typ)
	assert.Len(t, out.(embedding.QueryResponse).Vector, 8)
}

func TestWorker_RemoteOCR(t *testing.T) {
	sp := &ipc.PipeSpawner{Handler: newHandler(t)}
	client := ipc.NewClient(sp, ipc.Options{Name: "ocr-worker", Timeout: 5 * time.Second})
	provider := remote.New(client)
	t.Cleanup(func() { _ = provider.Close() })

	reg := ocr.NewRegistry()
	require.NoError(t, reg.Register(provider))
	svc := ocr.NewService(reg, ocr.Config{Languages: []string{"eng"}}, nil)
	t.Cleanup(svc.Close)

	res, err := svc.Recognize(context.Background(), "c1", domain.OCRRequest{
		Path:    "/docs/scan.pdf",
		Kind:    domain.OCRSourcePDF,
		Regions: []domain.OCRRegion{{Page: 1}, {Page: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, "page 1\n\npage 3", res.Text())
}

func TestWorker_RemoteOCRUnsupportedKind(t *testing.T) {
	sp := &ipc.PipeSpawner{Handler: newHandler(t)}
	provider := remote.New(ipc.NewClient(sp, ipc.Options{}))
	t.Cleanup(func() { _ = provider.Close() })

	_, err := provider.Recognize(context.Background(), domain.OCRRequest{Kind: domain.OCRSourceImage, Path: "/a.png"})
	assert.ErrorIs(t, err, domain.ErrOCRFailure)
}

func TestWorker_UnknownRequest(t *testing.T) {
	h := newHandler(t)
	_, _, err := h.Handle(context.Background(), ipc.Envelope{ID: 1, Type: "bogus"}, func(any) {})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

var _ driven.OCRProvider = pageProvider{}
