// Package docx extracts text from Office Open XML word processing files.
package docx

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// Ensure Parser implements the interface.
var _ driven.Parser = (*Parser)(nil)

// Parser handles DOCX documents.
type Parser struct{}

// New creates a new DOCX parser.
func New() *Parser {
	return &Parser{}
}

// Name returns "docx".
func (p *Parser) Name() string {
	return "docx"
}

// Priority returns the selection priority.
func (p *Parser) Priority() int {
	return 50
}

// Extensions returns the extensions this parser handles.
func (p *Parser) Extensions() []string {
	return []string{".docx"}
}

// MIMETypes returns the media types this parser handles.
func (p *Parser) MIMETypes() []string {
	return []string{
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}
}

// Parse reads word/document.xml. Paragraphs styled as headings start sections.
func (p *Parser) Parse(_ context.Context, path string) (*driven.ParseResult, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %v", path, domain.ErrInvalidInput, err)
	}
	defer reader.Close()

	content, err := readEntry(&reader.Reader, "word/document.xml")
	if err != nil {
		return nil, err
	}
	text, sections := parseDocumentXML(content)

	title := ""
	if core, err := readEntry(&reader.Reader, "docProps/core.xml"); err == nil {
		var c coreXML
		if xml.Unmarshal(core, &c) == nil {
			title = strings.TrimSpace(c.Title)
		}
	}
	if title == "" {
		title = titleFromPath(path)
	}

	return &driven.ParseResult{
		Text:     text,
		Title:    title,
		Sections: sections,
		Metadata: map[string]any{"format": "docx"},
	}, nil
}

// readEntry returns the bytes of a named archive entry.
func readEntry(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, domain.ErrInvalidInput)
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, domain.ErrInvalidInput)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s: %w", name, domain.ErrNotFound)
}

// documentXML represents the structure of word/document.xml.
type documentXML struct {
	Body struct {
		Paragraphs []paragraph `xml:"p"`
	} `xml:"body"`
}

type paragraph struct {
	Props struct {
		Style struct {
			Val string `xml:"val,attr"`
		} `xml:"pStyle"`
	} `xml:"pPr"`
	Runs []run `xml:"r"`
}

type run struct {
	Text []textElement `xml:"t"`
}

type textElement struct {
	Content string `xml:",chardata"`
}

// coreXML represents the structure of docProps/core.xml.
type coreXML struct {
	Title string `xml:"title"`
}

// parseDocumentXML joins paragraph text with newlines.
func parseDocumentXML(content []byte) (string, []driven.Section) {
	var doc documentXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return "", nil
	}

	var (
		result   strings.Builder
		sections []driven.Section
	)
	for _, para := range doc.Body.Paragraphs {
		var line strings.Builder
		for _, r := range para.Runs {
			for _, t := range r.Text {
				line.WriteString(t.Content)
			}
		}
		text := strings.TrimSpace(line.String())
		if text == "" {
			continue
		}
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		if level := headingLevel(para.Props.Style.Val); level > 0 {
			sections = append(sections, driven.Section{Offset: result.Len(), Heading: text, Level: level})
		}
		result.WriteString(text)
	}
	return result.String(), sections
}

// headingLevel maps Word heading styles ("Heading1", "Title") to a level.
func headingLevel(style string) int {
	switch {
	case style == "Title":
		return 1
	case strings.HasPrefix(style, "Heading") && len(style) == len("Heading")+1:
		lvl := int(style[len(style)-1] - '0')
		if lvl >= 1 && lvl <= 9 {
			return lvl
		}
	}
	return 0
}

// titleFromPath derives a readable title from the file name.
func titleFromPath(path string) string {
	filename := filepath.Base(path)
	filename = strings.TrimSuffix(filename, filepath.Ext(filename))
	filename = strings.ReplaceAll(filename, "_", " ")
	filename = strings.ReplaceAll(filename, "-", " ")
	return filename
}
