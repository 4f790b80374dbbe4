package textindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"words", "Hello, World! 42 times", []string{"hello", "world", "42", "times"}},
		{"accents", "Café déjà-vu", []string{"café", "déjà", "vu"}},
		{"cjk", "東京 tower", []string{"東", "京", "tower"}},
		{"empty", "  ...  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSpans_Offsets(t *testing.T) {
	text := "The Quick fox"
	for _, s := range Spans(text) {
		assert.Equal(t, s.Token, lower(text[s.Start:s.End]))
	}
}

func lower(s string) string {
	return Tokenize(s)[0]
}

func TestParseQuery(t *testing.T) {
	q := ParseQuery(`budget "annual report" -draft cats OR dogs -"old copy"`)

	require.Len(t, q.Groups, 3)
	assert.Equal(t, []domain.Term{{Words: []string{"budget"}}}, q.Groups[0])
	assert.Equal(t, []domain.Term{{Words: []string{"annual", "report"}, Phrase: true}}, q.Groups[1])
	assert.Equal(t, []domain.Term{{Words: []string{"cats"}}, {Words: []string{"dogs"}}}, q.Groups[2])

	require.Len(t, q.Excluded, 2)
	assert.Equal(t, []string{"draft"}, q.Excluded[0].Words)
	assert.Equal(t, []string{"old", "copy"}, q.Excluded[1].Words)
}

func TestParseQuery_EdgeCases(t *testing.T) {
	assert.True(t, ParseQuery("").IsEmpty())
	assert.True(t, ParseQuery("   ").IsEmpty())
	assert.True(t, ParseQuery("-only").IsEmpty())
	assert.True(t, ParseQuery("OR").IsEmpty())

	// Leading OR has nothing to join.
	q := ParseQuery("OR cats")
	require.Len(t, q.Groups, 1)

	// Lower-case or is a word.
	q = ParseQuery("cats or dogs")
	assert.Len(t, q.Groups, 3)

	// Unterminated quote runs to the end.
	q = ParseQuery(`"open ended`)
	require.Len(t, q.Groups, 1)
	assert.True(t, q.Groups[0][0].Phrase)
}

func TestMatch(t *testing.T) {
	tokens := Tokenize("The annual report covers the budget for cats")

	tests := []struct {
		query string
		want  bool
	}{
		{"budget", true},
		{`"annual report"`, true},
		{`"report annual"`, false},
		{"budget -cats", false},
		{"dogs OR cats", true},
		{"dogs OR birds", false},
		{"budget missing", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(ParseQuery(tt.query), tokens))
		})
	}
}

func TestIndex_Search(t *testing.T) {
	ix := NewIndex()
	ix.Add("a", "solar panels convert sunlight into electricity")
	ix.Add("b", "solar solar solar energy")
	ix.Add("c", "wind turbines generate electricity")

	hits := ix.Search(ParseQuery("solar"), nil, 10)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	hits = ix.Search(ParseQuery("electricity"), func(id string) bool { return id != "a" }, 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "c", hits[0].ID)

	ix.Remove("b")
	hits = ix.Search(ParseQuery("solar"), nil, 10)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, ix.Len())
}

func TestIndex_ReplaceAndLimit(t *testing.T) {
	ix := NewIndex()
	ix.Add("a", "alpha")
	ix.Add("a", "beta")
	assert.Empty(t, ix.Search(ParseQuery("alpha"), nil, 0))

	for _, id := range []string{"x", "y", "z"} {
		ix.Add(id, "common term")
	}
	hits := ix.Search(ParseQuery("common"), nil, 2)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", hits[0].ID)
}
