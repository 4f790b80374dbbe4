// Package eml extracts text from saved email messages (RFC 5322).
package eml

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// Ensure Parser implements the interface.
var _ driven.Parser = (*Parser)(nil)

// maxDepth bounds nested multipart recursion.
const maxDepth = 8

// Parser handles .eml files.
type Parser struct{}

// New creates a new email parser.
func New() *Parser {
	return &Parser{}
}

// Name returns "eml".
func (p *Parser) Name() string {
	return "eml"
}

// Priority returns the selection priority.
func (p *Parser) Priority() int {
	return 50
}

// Extensions returns the extensions this parser handles.
func (p *Parser) Extensions() []string {
	return []string{".eml"}
}

// MIMETypes returns the media types this parser handles.
func (p *Parser) MIMETypes() []string {
	return []string{"message/rfc822"}
}

// Parse reads the message headers and text body. Plain text parts are
// preferred over HTML parts; attachments are ignored.
func (p *Parser) Parse(_ context.Context, path string) (*driven.ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parseMessage(data, path)
}

func parseMessage(data []byte, path string) (*driven.ParseResult, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	subject := decodeHeader(msg.Header.Get("Subject"))
	from := decodeHeader(msg.Header.Get("From"))
	to := decodeHeader(msg.Header.Get("To"))
	date := msg.Header.Get("Date")

	body := extractBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body, 0)

	var text strings.Builder
	meta := map[string]any{"format": "eml"}
	for _, h := range []struct{ key, value string }{
		{"From", from}, {"To", to}, {"Date", date}, {"Subject", subject},
	} {
		if h.value == "" {
			continue
		}
		fmt.Fprintf(&text, "%s: %s\n", h.key, h.value)
		meta[strings.ToLower(h.key)] = h.value
	}
	text.WriteString("\n")
	bodyOffset := text.Len()
	text.WriteString(strings.TrimSpace(body))

	title := subject
	if title == "" {
		title = titleFromPath(path)
	}

	return &driven.ParseResult{
		Text:     text.String(),
		Title:    title,
		Metadata: meta,
		Sections: []driven.Section{{Offset: bodyOffset, Heading: subject, Level: 1}},
	}, nil
}

// decodeHeader decodes RFC 2047 encoded words. The raw value is kept
// when decoding fails.
func decodeHeader(header string) string {
	if header == "" {
		return ""
	}
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(header)
	if err != nil {
		return header
	}
	return decoded
}

// extractBody returns the readable text of one MIME entity.
func extractBody(contentType, encoding string, r io.Reader, depth int) string {
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if depth >= maxDepth {
			return ""
		}
		return extractMultipart(r, params["boundary"], depth+1)
	}

	raw, err := io.ReadAll(decodeTransfer(r, encoding))
	if err != nil {
		return ""
	}
	switch mediaType {
	case "text/plain":
		return strings.ToValidUTF8(string(raw), "")
	case "text/html":
		return stripHTML(string(raw))
	default:
		return ""
	}
}

func extractMultipart(r io.Reader, boundary string, depth int) string {
	if boundary == "" {
		return ""
	}

	mr := multipart.NewReader(r, boundary)
	var textParts, htmlParts []string
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		if part.FileName() != "" {
			_ = part.Close()
			continue
		}

		ct := part.Header.Get("Content-Type")
		mediaType, _, _ := mime.ParseMediaType(ct)
		text := extractBody(ct, part.Header.Get("Content-Transfer-Encoding"), part, depth)
		_ = part.Close()
		if text == "" {
			continue
		}
		if mediaType == "text/html" {
			htmlParts = append(htmlParts, text)
		} else {
			textParts = append(textParts, text)
		}
	}

	if len(textParts) > 0 {
		return strings.Join(textParts, "\n")
	}
	return strings.Join(htmlParts, "\n")
}

// decodeTransfer undoes the Content-Transfer-Encoding.
func decodeTransfer(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, newlineStripper{r})
	default:
		return r
	}
}

// newlineStripper drops CR and LF so wrapped base64 decodes.
type newlineStripper struct{ r io.Reader }

func (n newlineStripper) Read(p []byte) (int, error) {
	for {
		c, err := n.r.Read(p)
		out := 0
		for _, b := range p[:c] {
			if b != '\r' && b != '\n' {
				p[out] = b
				out++
			}
		}
		if out > 0 || err != nil {
			return out, err
		}
	}
}

var (
	tagPattern   = regexp.MustCompile(`(?s)<[^>]*>`)
	blockPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
)

// stripHTML removes markup and blank lines from an HTML body.
func stripHTML(s string) string {
	s = blockPattern.ReplaceAllString(s, "")
	s = tagPattern.ReplaceAllString(s, "\n")

	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// titleFromPath derives a readable title from the file name.
func titleFromPath(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, "_", " ")
	return strings.ReplaceAll(name, "-", " ")
}
