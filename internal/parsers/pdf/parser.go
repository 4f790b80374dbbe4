// Package pdf extracts text from PDF files with the poppler utilities
// and marks pages without a text layer for OCR.
package pdf

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/custodia-labs/sercha-local/internal/cmdrun"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// Ensure Parser implements the interface.
var _ driven.Parser = (*Parser)(nil)

// DefaultMinPageChars is the text length below which a page is treated
// as scanned.
const DefaultMinPageChars = 32

// Parser handles PDF documents.
type Parser struct {
	runner       cmdrun.Runner
	minPageChars int
}

// New creates a PDF parser. minPageChars <= 0 uses the default.
func New(runner cmdrun.Runner, minPageChars int) *Parser {
	if minPageChars <= 0 {
		minPageChars = DefaultMinPageChars
	}
	return &Parser{runner: runner, minPageChars: minPageChars}
}

// Name returns "pdf".
func (p *Parser) Name() string {
	return "pdf"
}

// Priority returns the selection priority.
func (p *Parser) Priority() int {
	return 60
}

// Extensions returns the extensions this parser handles.
func (p *Parser) Extensions() []string {
	return []string{".pdf"}
}

// MIMETypes returns the media types this parser handles.
func (p *Parser) MIMETypes() []string {
	return []string{"application/pdf"}
}

// Parse runs pdftotext over the whole file. Pages are separated by form
// feeds in its output; each page starts a section. Pages with too little
// text become OCR regions.
func (p *Parser) Parse(ctx context.Context, path string) (*driven.ParseResult, error) {
	out, err := p.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		if errors.Is(err, cmdrun.ErrToolMissing) {
			return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}

	info := p.info(ctx, path)

	pages := strings.Split(strings.ToValidUTF8(string(out), ""), "\f")
	// pdftotext terminates the last page with a form feed too.
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}

	var (
		text     strings.Builder
		sections []driven.Section
		regions  []domain.OCRRegion
	)
	for i, page := range pages {
		pageNo := i + 1
		page = strings.TrimSpace(page)
		if len([]rune(page)) < p.minPageChars {
			regions = append(regions, domain.OCRRegion{Page: pageNo})
		}
		if page == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		sections = append(sections, driven.Section{Offset: text.Len(), Page: pageNo})
		text.WriteString(page)
	}

	title := info["Title"]
	if title == "" {
		title = titleFromPath(path)
	}
	meta := map[string]any{"format": "pdf", "pages": len(pages)}
	if author := info["Author"]; author != "" {
		meta["author"] = author
	}
	if n, err := strconv.Atoi(info["Pages"]); err == nil {
		meta["pages"] = n
	}

	return &driven.ParseResult{
		Text:       text.String(),
		Title:      title,
		Sections:   sections,
		OCRRegions: regions,
		Metadata:   meta,
	}, nil
}

// info returns pdfinfo's key/value output. Failures yield an empty map.
func (p *Parser) info(ctx context.Context, path string) map[string]string {
	fields := make(map[string]string)
	out, err := p.runner.Run(ctx, "pdfinfo", path)
	if err != nil {
		return fields
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return fields
}

// titleFromPath derives a readable title from the file name.
func titleFromPath(path string) string {
	filename := filepath.Base(path)
	filename = strings.TrimSuffix(filename, filepath.Ext(filename))
	filename = strings.ReplaceAll(filename, "_", " ")
	filename = strings.ReplaceAll(filename, "-", " ")
	return filename
}
