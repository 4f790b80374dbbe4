// Package html extracts readable text from HTML documents.
package html

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// Ensure Parser implements the interface.
var _ driven.Parser = (*Parser)(nil)

// Parser handles HTML documents.
type Parser struct{}

// New creates a new HTML parser.
func New() *Parser {
	return &Parser{}
}

// Name returns "html".
func (p *Parser) Name() string {
	return "html"
}

// Priority returns the selection priority.
func (p *Parser) Priority() int {
	return 50 // Format parser, higher than plaintext
}

// Extensions returns the extensions this parser handles.
func (p *Parser) Extensions() []string {
	return []string{".html", ".htm", ".xhtml"}
}

// MIMETypes returns the media types this parser handles.
func (p *Parser) MIMETypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

// Parse strips markup and returns the visible text. Headings start sections.
func (p *Parser) Parse(_ context.Context, path string) (*driven.ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parseHTML(string(data), path), nil
}

func parseHTML(raw, path string) *driven.ParseResult {
	title := extractTitle(raw, path)

	// Mark headings so their offsets survive tag stripping.
	marked := headingTag.ReplaceAllStringFunc(raw, func(m string) string {
		sub := headingTag.FindStringSubmatch(m)
		return "\n" + headingMarker + sub[1] + "|" + allTags.ReplaceAllString(sub[2], "") + "\n"
	})
	text := stripHTML(marked)

	var (
		out      strings.Builder
		sections []driven.Section
	)
	for _, line := range strings.Split(text, "\n") {
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		if strings.HasPrefix(line, headingMarker) {
			rest := strings.TrimPrefix(line, headingMarker)
			level := int(rest[0] - '0')
			heading := strings.TrimSpace(rest[2:])
			if heading == "" {
				continue
			}
			sections = append(sections, driven.Section{Offset: out.Len(), Heading: heading, Level: level})
			line = heading
		}
		out.WriteString(line)
	}

	return &driven.ParseResult{
		Text:     strings.TrimSpace(out.String()),
		Title:    title,
		Sections: sections,
		Metadata: map[string]any{"format": "html"},
	}
}

// headingMarker is a private-use rune prefix that cannot occur in markup.
const headingMarker = "H"

// Pre-compiled regular expressions for HTML parsing performance.
var (
	titleTag          = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	headingTag        = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	scriptTag         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptTag       = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	headTag           = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	svgTag            = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	htmlComments      = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockElements     = regexp.MustCompile(`(?i)</(p|div|li|tr|blockquote|pre|table|section|article)>`)
	openBlockElements = regexp.MustCompile(`(?i)<(p|div|li|tr|blockquote|pre|table|section|article)[^>]*>`)
	brTags            = regexp.MustCompile(`(?i)<br\s*/?>`)
	hrTags            = regexp.MustCompile(`(?i)<hr\s*/?>`)
	allTags           = regexp.MustCompile(`<[^>]+>`)
	multiSpaces       = regexp.MustCompile(`[ \t]+`)
)

// extractTitle returns the <title> text or a name derived from the file.
func extractTitle(content, path string) string {
	if m := titleTag.FindStringSubmatch(content); len(m) > 1 {
		if title := strings.TrimSpace(html.UnescapeString(m[1])); title != "" {
			return title
		}
	}

	filename := filepath.Base(path)
	filename = strings.TrimSuffix(filename, filepath.Ext(filename))
	filename = strings.ReplaceAll(filename, "_", " ")
	filename = strings.ReplaceAll(filename, "-", " ")
	return filename
}

// stripHTML removes markup and returns one block of text per line.
func stripHTML(content string) string {
	for _, re := range []*regexp.Regexp{scriptTag, styleTag, noscriptTag, headTag, svgTag, htmlComments} {
		content = re.ReplaceAllString(content, "")
	}

	content = openBlockElements.ReplaceAllString(content, "\n")
	content = blockElements.ReplaceAllString(content, "\n")
	content = brTags.ReplaceAllString(content, "\n")
	content = hrTags.ReplaceAllString(content, "\n")
	content = allTags.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	content = multiSpaces.ReplaceAllString(content, " ")

	lines := strings.Split(content, "\n")
	result := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			result = append(result, line)
		}
	}
	return strings.Join(result, "\n")
}
