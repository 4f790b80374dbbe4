// Package image accepts raster images. They carry no text layer, so the
// parser returns a single full-page OCR region.
package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// Ensure Parser implements the interface.
var _ driven.Parser = (*Parser)(nil)

// Parser handles raster images.
type Parser struct{}

// New creates an image parser.
func New() *Parser {
	return &Parser{}
}

// Name returns "image".
func (p *Parser) Name() string {
	return "image"
}

// Priority returns the selection priority.
func (p *Parser) Priority() int {
	return 40
}

// Extensions returns the extensions this parser handles.
func (p *Parser) Extensions() []string {
	return []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif", ".webp"}
}

// MIMETypes returns the media types this parser handles.
func (p *Parser) MIMETypes() []string {
	return []string{"image/png", "image/jpeg", "image/tiff", "image/bmp", "image/gif", "image/webp"}
}

// Parse checks the file is readable and requests OCR of the whole image.
func (p *Parser) Parse(_ context.Context, path string) (*driven.ParseResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%s: empty image: %w", path, domain.ErrInvalidInput)
	}

	filename := filepath.Base(path)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))

	return &driven.ParseResult{
		Title:      title,
		OCRRegions: []domain.OCRRegion{{Page: 1}},
		Metadata:   map[string]any{"format": strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")},
	}, nil
}
