// Package parsers selects and wires the text extractors for local files.
package parsers

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/custodia-labs/sercha-local/internal/cmdrun"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/parsers/docx"
	"github.com/custodia-labs/sercha-local/internal/parsers/eml"
	"github.com/custodia-labs/sercha-local/internal/parsers/html"
	"github.com/custodia-labs/sercha-local/internal/parsers/image"
	"github.com/custodia-labs/sercha-local/internal/parsers/markdown"
	"github.com/custodia-labs/sercha-local/internal/parsers/pdf"
	"github.com/custodia-labs/sercha-local/internal/parsers/plaintext"
	"github.com/custodia-labs/sercha-local/internal/registry"
)

// Options configures the built-in parsers.
type Options struct {
	// Runner executes pdftotext and pdfinfo. Defaults to cmdrun.Exec.
	Runner cmdrun.Runner

	// MinPageChars marks PDF pages with less text for OCR.
	MinPageChars int
}

// Registry selects a parser for a file.
type Registry struct {
	*registry.Registry[driven.Parser]
}

// NewRegistry returns a registry holding the built-in parsers.
func NewRegistry(opts Options) *Registry {
	if opts.Runner == nil {
		opts.Runner = cmdrun.Exec{}
	}
	r := &Registry{Registry: registry.New[driven.Parser]("parser")}
	r.MustRegister(plaintext.New())
	r.MustRegister(markdown.New())
	r.MustRegister(html.New())
	r.MustRegister(docx.New())
	r.MustRegister(eml.New())
	r.MustRegister(pdf.New(opts.Runner, opts.MinPageChars))
	r.MustRegister(image.New())
	return r
}

// For returns the highest priority parser for path. Extension matches
// win over media type matches.
// Returns domain.ErrUnsupportedFormat when nothing matches.
func (r *Registry) For(path string) (driven.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != "" {
		if p, ok := r.Select(func(p driven.Parser) bool {
			return slices.Contains(p.Extensions(), ext)
		}); ok {
			return p, nil
		}
	}

	m := DetectMIME(path)
	if p, ok := r.Select(func(p driven.Parser) bool {
		return slices.Contains(p.MIMETypes(), m)
	}); ok {
		return p, nil
	}
	return nil, fmt.Errorf("%s: %w", filepath.Base(path), domain.ErrUnsupportedFormat)
}

// Supports reports whether some parser handles path.
func (r *Registry) Supports(path string) bool {
	_, err := r.For(path)
	return err == nil
}

// Parse extracts text from path with the selected parser.
func (r *Registry) Parse(ctx context.Context, path string) (*driven.ParseResult, error) {
	p, err := r.For(path)
	if err != nil {
		return nil, err
	}
	res, err := p.Parse(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s parser: %w", p.Name(), err)
	}
	if res.Metadata == nil {
		res.Metadata = make(map[string]any)
	}
	res.Metadata["parser"] = p.Name()
	return res, nil
}
