package cli

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStylesFor_PlainWhenNotTerminal(t *testing.T) {
	st := stylesFor(new(bytes.Buffer))

	assert.True(t, st.plain)
	assert.Equal(t, "a <mark>b</mark> c", st.snippet("a <mark>b</mark> c"))
	assert.Equal(t, "title", st.Title.Render("title"))
}

func TestStyles_SnippetOnTerminal(t *testing.T) {
	old := isTerminal
	isTerminal = func(io.Writer) bool { return true }
	defer func() { isTerminal = old }()

	st := stylesFor(new(bytes.Buffer))
	assert.False(t, st.plain)

	out := st.snippet("a <mark>b</mark> c")
	assert.NotContains(t, out, "<mark>")
	assert.Contains(t, out, "b")

	// Mismatched tags are left alone.
	assert.Equal(t, "<em>b</mark>", st.snippet("<em>b</mark>"))
}
