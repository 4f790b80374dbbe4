package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/embedding"
	"github.com/custodia-labs/sercha-local/internal/embedding/worker"
	"github.com/custodia-labs/sercha-local/internal/ipc"
	"github.com/custodia-labs/sercha-local/internal/ocr"
)

type stubProvider struct {
	kinds []domain.OCRSourceKind
}

func (s *stubProvider) Name() string                  { return "stub" }
func (s *stubProvider) Priority() int                 { return 10 }
func (s *stubProvider) Kinds() []domain.OCRSourceKind { return s.kinds }

func (s *stubProvider) Recognize(_ context.Context, req domain.OCRRequest) (*domain.OCRResult, error) {
	return &domain.OCRResult{Regions: []domain.OCRRegionResult{{
		Text:       "recognised " + req.Path,
		Confidence: 91,
		Languages:  req.Languages,
	}}}, nil
}

func newProvider(t *testing.T, kinds ...domain.OCRSourceKind) *Provider {
	t.Helper()
	providers := ocr.NewRegistry()
	providers.MustRegister(&stubProvider{kinds: kinds})
	h := worker.NewHandler(embedding.NewRegistry(), providers)

	p := New(ipc.NewClient(&ipc.PipeSpawner{Handler: h}, ipc.Options{Name: "ocr-test", Timeout: 5 * time.Second}))
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProvider_Identity(t *testing.T) {
	p := New(nil)
	assert.Equal(t, "worker", p.Name())
	assert.Equal(t, 100, p.Priority())
	assert.ElementsMatch(t, []domain.OCRSourceKind{domain.OCRSourceImage, domain.OCRSourcePDF}, p.Kinds())
}

func TestProvider_RecognizeInWorker(t *testing.T) {
	p := newProvider(t, domain.OCRSourceImage)

	res, err := p.Recognize(context.Background(), domain.OCRRequest{
		Path:      "/scans/receipt.png",
		Kind:      domain.OCRSourceImage,
		Languages: []string{"eng"},
	})

	require.NoError(t, err)
	require.Len(t, res.Regions, 1)
	assert.Equal(t, "recognised /scans/receipt.png", res.Text())
	assert.Equal(t, []string{"eng"}, res.Regions[0].Languages)
}

func TestProvider_NoProviderForKind(t *testing.T) {
	p := newProvider(t, domain.OCRSourceImage)

	_, err := p.Recognize(context.Background(), domain.OCRRequest{Path: "/scans/book.pdf", Kind: domain.OCRSourcePDF})

	assert.ErrorIs(t, err, domain.ErrOCRFailure)
}
