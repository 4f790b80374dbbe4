package embedding

import (
	"strings"
	"unicode"
)

// Prefixes expected by E5 family models.
const (
	QueryPrefix   = "query: "
	PassagePrefix = "passage: "
)

// CleanText removes NUL, the replacement character and control, format,
// private-use and surrogate code points, and turns every whitespace rune
// into a plain space. Tokenizers choke on the removed runes.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar:
			continue
		case r == '\t' || r == '\n' || r == '\r':
			b.WriteByte(' ')
		case unicode.In(r, unicode.Cc, unicode.Cf, unicode.Co, unicode.Cs):
			continue
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsE5 reports whether model belongs to the E5 family.
func IsE5(model string) bool {
	return strings.Contains(strings.ToLower(model), "e5")
}

// PrepareQuery sanitises a query and adds the model's query prefix.
func PrepareQuery(model, text string) string {
	text = CleanText(text)
	if IsE5(model) {
		return QueryPrefix + text
	}
	return text
}

// PreparePassage sanitises a document chunk and adds the model's
// passage prefix.
func PreparePassage(model, text string) string {
	text = CleanText(text)
	if IsE5(model) {
		return PassagePrefix + text
	}
	return text
}

// StripPrefix removes an E5 prefix added by PrepareQuery or PreparePassage.
func StripPrefix(text string) string {
	if s, ok := strings.CutPrefix(text, QueryPrefix); ok {
		return s
	}
	if s, ok := strings.CutPrefix(text, PassagePrefix); ok {
		return s
	}
	return text
}
