// Package remote forwards OCR passes to a worker child process so that
// recognition crashes and memory spikes stay out of the indexer.
package remote

import (
	"context"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/ipc"
)

// Ensure Provider implements the interface.
var _ driven.OCRProvider = (*Provider)(nil)

// Provider sends each pass to a worker.
type Provider struct {
	client *ipc.Client
}

// New creates a provider on client.
func New(client *ipc.Client) *Provider {
	return &Provider{client: client}
}

// Name returns "worker".
func (p *Provider) Name() string {
	return "worker"
}

// Priority ranks the provider above the local ones it replaces.
func (p *Provider) Priority() int {
	return 100
}

// Kinds returns every kind; the worker picks the local provider.
func (p *Provider) Kinds() []domain.OCRSourceKind {
	return []domain.OCRSourceKind{domain.OCRSourceImage, domain.OCRSourcePDF}
}

// Recognize forwards req to the worker.
func (p *Provider) Recognize(ctx context.Context, req domain.OCRRequest) (*domain.OCRResult, error) {
	var res domain.OCRResult
	if err := p.client.Call(ctx, ipc.TypeOCR, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Close stops the worker.
func (p *Provider) Close() error {
	return p.client.Close()
}
