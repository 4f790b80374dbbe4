package plaintext

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_Identity(t *testing.T) {
	p := New()
	assert.Equal(t, "plaintext", p.Name())
	assert.Equal(t, 5, p.Priority())
	assert.Contains(t, p.Extensions(), ".txt")
	assert.Contains(t, p.MIMETypes(), "text/plain")
}

func TestParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meeting_notes-2024.txt")
	require.NoError(t, os.WriteFile(path, []byte("line one\r\nline two\xff\r\n"), 0o600))

	res, err := New().Parse(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "line one\nline two\n", res.Text)
	assert.Equal(t, "meeting notes 2024", res.Title)
	assert.Equal(t, "text", res.Metadata["format"])
}

func TestParse_MissingFile(t *testing.T) {
	_, err := New().Parse(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
