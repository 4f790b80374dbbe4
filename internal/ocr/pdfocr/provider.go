// Package pdfocr recognises scanned PDF pages by rasterising them with
// pdftoppm and running tesseract on the result.
package pdfocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/custodia-labs/sercha-local/internal/cmdrun"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/ocr/tesseract"
)

// Ensure Provider implements the interface.
var _ driven.OCRProvider = (*Provider)(nil)

// DefaultDPI is the rasterisation resolution.
const DefaultDPI = 300

// Provider recognises PDF pages.
type Provider struct {
	runner cmdrun.Runner
	tess   *tesseract.Provider
	dpi    int
}

// New creates a PDF OCR provider.
func New(runner cmdrun.Runner) *Provider {
	return &Provider{runner: runner, tess: tesseract.New(runner), dpi: DefaultDPI}
}

// Name returns "pdftoppm".
func (p *Provider) Name() string {
	return "pdftoppm"
}

// Priority returns the selection priority.
func (p *Provider) Priority() int {
	return 50
}

// Kinds returns the input kinds this provider accepts.
func (p *Provider) Kinds() []domain.OCRSourceKind {
	return []domain.OCRSourceKind{domain.OCRSourcePDF}
}

// Recognize rasterises each requested page once and recognises its
// regions. A page that fails to render fails only its own regions.
func (p *Provider) Recognize(ctx context.Context, req domain.OCRRequest) (*domain.OCRResult, error) {
	if len(req.Regions) == 0 {
		return nil, fmt.Errorf("pdf ocr %s: no pages requested: %w", req.Path, domain.ErrInvalidInput)
	}

	tmp, err := os.MkdirTemp("", "sercha-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("pdf ocr temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	byPage := make(map[int][]domain.OCRRegion)
	var pages []int
	for _, r := range req.Regions {
		if _, ok := byPage[r.Page]; !ok {
			pages = append(pages, r.Page)
		}
		byPage[r.Page] = append(byPage[r.Page], r)
	}

	res := &domain.OCRResult{}
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		words, err := p.page(ctx, tmp, req.Path, page, req.Languages)
		for _, region := range byPage[page] {
			if err != nil {
				res.Regions = append(res.Regions, domain.OCRRegionResult{
					Region:    region,
					Languages: req.Languages,
					Err:       err.Error(),
				})
				continue
			}
			res.Regions = append(res.Regions,
				tesseract.RegionResult(region, req.Languages, tesseract.Within(words, region.Box)))
		}
	}
	return res, nil
}

func (p *Provider) page(ctx context.Context, dir, path string, page int, languages []string) ([]tesseract.Word, error) {
	n := strconv.Itoa(page)
	prefix := filepath.Join(dir, "page-"+n)
	_, err := p.runner.Run(ctx, "pdftoppm",
		"-r", strconv.Itoa(p.dpi), "-f", n, "-l", n, "-png", "-singlefile", path, prefix)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", page, err)
	}
	return p.tess.Words(ctx, prefix+".png", languages)
}
