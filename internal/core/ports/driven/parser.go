package driven

import (
	"context"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// Section marks a structural boundary in parsed text.
type Section struct {
	// Offset is the byte offset where the section starts.
	Offset int

	// Heading is the section title, if any.
	Heading string

	// Level is the heading depth, 1 for top-level. 0 for sections that
	// only mark a page.
	Level int

	// Page is the 1-based page, 0 when the format has no pages.
	Page int
}

// ParseResult is the output of a parser.
type ParseResult struct {
	// Text is the extracted plain text.
	Text string

	// Title is a document title found in the content, if any.
	Title string

	// Metadata contains format specific key-value pairs.
	Metadata map[string]any

	// Sections are structural boundaries in ascending offset order.
	Sections []Section

	// OCRRegions are image areas whose text the parser could not extract.
	OCRRegions []domain.OCRRegion
}

// Parser extracts text from one family of file formats.
type Parser interface {
	// Name identifies the parser in the registry.
	Name() string

	// Priority orders parsers that claim the same extension. Higher wins.
	Priority() int

	// Extensions returns lowercase extensions including the dot.
	Extensions() []string

	// MIMETypes returns the media types this parser handles.
	MIMETypes() []string

	// Parse extracts text from the file at path.
	Parse(ctx context.Context, path string) (*ParseResult, error)
}

// ParserSelector picks the parser for a file and runs it.
// Returns domain.ErrUnsupportedFormat when no parser handles the file.
type ParserSelector interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
}
