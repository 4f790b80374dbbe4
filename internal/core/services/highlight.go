package services

import (
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/sercha-local/internal/textindex"
)

const ellipsis = "..."

// snippet cuts a window of about length runes out of content, starting a
// little before the first matched word, and wraps every match inside
// the window in <tag></tag>. Ellipses mark clipped ends. Without a match
// the window starts at the beginning.
func snippet(content string, words map[string]bool, tag string, length int) string {
	var matches []textindex.Span
	if len(words) > 0 {
		for _, sp := range textindex.Spans(content) {
			if words[sp.Token] {
				matches = append(matches, sp)
			}
		}
	}

	start := 0
	if len(matches) > 0 {
		start = backRunes(content, matches[0].Start, length/4)
	}
	end := forwardRunes(content, start, length)
	if end == len(content) && start > 0 {
		// Use the room left at the end for more leading context.
		start = backRunes(content, start, length-utf8.RuneCountInString(content[start:end]))
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString(ellipsis)
	}
	pos := start
	for _, m := range matches {
		if m.Start < pos || m.End > end {
			continue
		}
		b.WriteString(content[pos:m.Start])
		b.WriteString("<" + tag + ">")
		b.WriteString(content[m.Start:m.End])
		b.WriteString("</" + tag + ">")
		pos = m.End
	}
	b.WriteString(content[pos:end])
	if end < len(content) {
		b.WriteString(ellipsis)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// backRunes returns the byte offset n runes before i.
func backRunes(s string, i, n int) int {
	for ; n > 0 && i > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return i
}

// forwardRunes returns the byte offset n runes after i.
func forwardRunes(s string, i, n int) int {
	for ; n > 0 && i < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}
