// Package tesseract recognises images with the tesseract command-line
// tool.
package tesseract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/sercha-local/internal/cmdrun"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// Ensure Provider implements the interface.
var _ driven.OCRProvider = (*Provider)(nil)

// ErrNoText is reported for a region where nothing was recognised.
var ErrNoText = errors.New("no text recognised")

// Provider runs tesseract over image files.
type Provider struct {
	runner cmdrun.Runner
}

// New creates a tesseract provider.
func New(runner cmdrun.Runner) *Provider {
	return &Provider{runner: runner}
}

// Name returns "tesseract".
func (p *Provider) Name() string {
	return "tesseract"
}

// Priority returns the selection priority.
func (p *Provider) Priority() int {
	return 50
}

// Kinds returns the input kinds this provider accepts.
func (p *Provider) Kinds() []domain.OCRSourceKind {
	return []domain.OCRSourceKind{domain.OCRSourceImage}
}

// Recognize runs one pass over the image. The whole image is recognised
// once and words are assigned to the requested regions by position.
func (p *Provider) Recognize(ctx context.Context, req domain.OCRRequest) (*domain.OCRResult, error) {
	words, err := p.Words(ctx, req.Path, req.Languages)
	if err != nil {
		return nil, err
	}

	regions := req.Regions
	if len(regions) == 0 {
		regions = []domain.OCRRegion{{Page: 1}}
	}
	res := &domain.OCRResult{}
	for _, region := range regions {
		res.Regions = append(res.Regions, RegionResult(region, req.Languages, Within(words, region.Box)))
	}
	return res, nil
}

// Words runs tesseract on an image file and returns its words.
func (p *Provider) Words(ctx context.Context, image string, languages []string) ([]Word, error) {
	args := []string{image, "stdout"}
	if len(languages) > 0 {
		args = append(args, "-l", strings.Join(languages, "+"))
	}
	args = append(args, "tsv")

	out, err := p.runner.Run(ctx, "tesseract", args...)
	if err != nil {
		return nil, fmt.Errorf("recognise %s: %w", image, err)
	}
	return ParseTSV(out), nil
}

// RegionResult builds the result for a region from its words.
func RegionResult(region domain.OCRRegion, languages []string, words []Word) domain.OCRRegionResult {
	text, conf := Assemble(words)
	r := domain.OCRRegionResult{
		Region:     region,
		Text:       text,
		Confidence: conf,
		Languages:  languages,
	}
	if text == "" {
		r.Err = ErrNoText.Error()
	}
	return r
}
