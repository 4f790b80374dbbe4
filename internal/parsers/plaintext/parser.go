// Package plaintext extracts text from plain text and source files.
package plaintext

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// Ensure Parser implements the interface.
var _ driven.Parser = (*Parser)(nil)

// Parser handles plain text documents.
type Parser struct{}

// New creates a new plain text parser.
func New() *Parser {
	return &Parser{}
}

// Name returns "plaintext".
func (p *Parser) Name() string {
	return "plaintext"
}

// Priority returns the selection priority.
func (p *Parser) Priority() int {
	return 5 // Fallback parser
}

// Extensions returns the extensions this parser handles.
func (p *Parser) Extensions() []string {
	return []string{
		".txt", ".text", ".log", ".csv", ".tsv", ".json", ".yaml", ".yml", ".toml",
		".xml", ".go", ".py", ".rs", ".java", ".c", ".h", ".cpp", ".rb", ".sh",
		".sql", ".js", ".ts", ".css", ".md", ".mdx", ".html", ".htm",
	}
}

// MIMETypes returns the media types this parser handles.
func (p *Parser) MIMETypes() []string {
	return []string{
		"text/plain",
		"text/x-go",
		"text/x-python",
		"text/x-rust",
		"text/x-java",
		"text/x-c",
		"text/x-c++",
		"text/x-ruby",
		"text/x-shellscript",
		"text/x-sql",
		"text/csv",
		"text/yaml",
		"text/toml",
		"text/javascript",
		"text/typescript",
		"text/css",
		"application/json",
		"application/xml",
	}
}

// Parse reads the file as UTF-8 text. Invalid sequences are dropped
// and line endings normalised.
func (p *Parser) Parse(_ context.Context, path string) (*driven.ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	text := strings.ToValidUTF8(string(data), "")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	return &driven.ParseResult{
		Text:     text,
		Title:    titleFromPath(path),
		Metadata: map[string]any{"format": "text"},
	}, nil
}

// titleFromPath derives a readable title from the file name.
func titleFromPath(path string) string {
	filename := filepath.Base(path)
	filename = strings.TrimSuffix(filename, filepath.Ext(filename))
	filename = strings.ReplaceAll(filename, "_", " ")
	filename = strings.ReplaceAll(filename, "-", " ")
	return filename
}
