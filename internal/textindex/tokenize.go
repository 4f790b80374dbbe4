// Package textindex tokenises text, parses web-style keyword queries and
// scores chunks with BM25 for the storage backends that have no
// full-text engine of their own.
package textindex

import (
	"strings"
	"unicode"
)

// Span is a token and its byte range in the source text.
type Span struct {
	Token      string
	Start, End int
}

// isIdeograph reports runes that form a token on their own. Scripts
// written without spaces are indexed one character at a time.
func isIdeograph(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Thai)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// Spans splits text into lowercased tokens with their offsets.
func Spans(text string) []Span {
	var spans []Span
	start := -1
	flush := func(end int) {
		if start >= 0 {
			spans = append(spans, Span{Token: strings.ToLower(text[start:end]), Start: start, End: end})
			start = -1
		}
	}
	for i, r := range text {
		switch {
		case isIdeograph(r):
			flush(i)
			end := i + len(string(r))
			spans = append(spans, Span{Token: text[i:end], Start: i, End: end})
		case isWordRune(r):
			if start < 0 {
				start = i
			}
		default:
			flush(i)
		}
	}
	flush(len(text))
	return spans
}

// Tokenize returns the lowercased tokens of text.
func Tokenize(text string) []string {
	spans := Spans(text)
	tokens := make([]string, len(spans))
	for i, s := range spans {
		tokens[i] = s.Token
	}
	return tokens
}
