// Package markdown extracts text and heading structure from Markdown files.
package markdown

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// Ensure Parser implements the interface.
var _ driven.Parser = (*Parser)(nil)

// Parser handles Markdown documents.
type Parser struct {
	md goldmark.Markdown
}

// New creates a new Markdown parser.
func New() *Parser {
	return &Parser{md: goldmark.New()}
}

// Name returns "markdown".
func (p *Parser) Name() string {
	return "markdown"
}

// Priority returns the selection priority.
func (p *Parser) Priority() int {
	return 50 // Format parser, higher than plaintext
}

// Extensions returns the extensions this parser handles.
func (p *Parser) Extensions() []string {
	return []string{".md", ".markdown", ".mdx"}
}

// MIMETypes returns the media types this parser handles.
func (p *Parser) MIMETypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}

// Parse renders the Markdown AST to plain text. Block elements are
// separated by blank lines and every heading starts a section.
func (p *Parser) Parse(_ context.Context, path string) (*driven.ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return p.parseBytes(data, path), nil
}

func (p *Parser) parseBytes(data []byte, path string) *driven.ParseResult {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	reader := text.NewReader(data)
	doc := p.md.Parser().Parse(reader)
	source := reader.Source()

	var (
		out      strings.Builder
		sections []driven.Section
		title    string
	)

	appendBlock := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(s)
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			heading := strings.TrimSpace(string(n.Text(source)))
			if heading == "" {
				continue
			}
			if title == "" && n.Level == 1 {
				title = heading
			}
			offset := out.Len()
			if offset > 0 {
				offset += 2
			}
			sections = append(sections, driven.Section{Offset: offset, Heading: heading, Level: n.Level})
			appendBlock(heading)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			appendBlock(blockLines(n, source))
		default:
			appendBlock(inlineText(n, source))
		}
	}

	if title == "" {
		title = titleFromPath(path)
	}
	return &driven.ParseResult{
		Text:     out.String(),
		Title:    title,
		Sections: sections,
		Metadata: map[string]any{"format": "markdown", "headings": len(sections)},
	}
}

// blockLines returns the raw lines of a code block.
func blockLines(n ast.Node, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}

// inlineText collects text nodes under n. Paragraph and list item
// boundaries become newlines.
func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if node.Kind() == ast.KindParagraph || node.Kind() == ast.KindListItem {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			b.WriteString(blockLines(t, source))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	lines := strings.Split(b.String(), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

// titleFromPath derives a readable title from the file name.
func titleFromPath(path string) string {
	filename := filepath.Base(path)
	filename = strings.TrimSuffix(filename, filepath.Ext(filename))
	filename = strings.ReplaceAll(filename, "_", " ")
	filename = strings.ReplaceAll(filename, "-", " ")
	return filename
}
