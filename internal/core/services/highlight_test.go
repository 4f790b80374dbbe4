package services

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSnippet(t *testing.T) {
	tests := []struct {
		name    string
		content string
		words   []string
		length  int
		want    string
	}{
		{
			name:    "wraps every match",
			content: "Fox and another fox.",
			words:   []string{"fox"},
			length:  200,
			want:    "<mark>Fox</mark> and another <mark>fox</mark>.",
		},
		{
			name:    "no match starts at the beginning",
			content: "alpha beta gamma delta",
			words:   []string{"omega"},
			length:  11,
			want:    "alpha beta ...",
		},
		{
			name:    "collapses whitespace",
			content: "line one\n\n  line   two",
			length:  200,
			want:    "line one line two",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words := make(map[string]bool)
			for _, w := range tt.words {
				words[w] = true
			}
			assert.Equal(t, tt.want, snippet(tt.content, words, "mark", tt.length))
		})
	}
}

func TestSnippet_WindowAroundLateMatch(t *testing.T) {
	content := strings.Repeat("filler ", 100) + "needle " + strings.Repeat("tail ", 100)

	got := snippet(content, map[string]bool{"needle": true}, "em", 80)
	assert.True(t, strings.HasPrefix(got, "..."))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Contains(t, got, "<em>needle</em>")
}

func TestSnippet_MultibyteSafe(t *testing.T) {
	content := strings.Repeat("ü", 50) + " Straße " + strings.Repeat("ö", 50)

	got := snippet(content, map[string]bool{"straße": true}, "mark", 20)
	assert.True(t, utf8.ValidString(got))
	assert.Contains(t, got, "<mark>Straße</mark>")
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo wörld", 5))
	assert.Equal(t, "short", truncateRunes("short", 10))
}
