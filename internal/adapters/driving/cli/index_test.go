package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

func TestIndexCmd_Use(t *testing.T) {
	assert.Equal(t, "index <path>...", indexCmd.Use)
}

func TestIndexCmd_RequiresPath(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	_, err := execute("index")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg(s)")
}

func TestIndexCmd_IndexesAbsolutePaths(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	defer func() { indexForce, indexRetryFailed, indexTags = false, false, nil }()

	out, err := execute("index", "--force", "--retry-failed", "--tag", "work", "notes")
	require.NoError(t, err)

	m := indexService.(*mockIndexService)
	assert.Equal(t, 1, m.resumed)
	require.Len(t, m.indexed, 1)
	want, _ := filepath.Abs("notes")
	assert.Equal(t, []string{want}, m.indexed[0])
	assert.Equal(t, domain.IndexOptions{Tags: []string{"work"}, Force: true, RetryFailed: true}, m.indexOpts[0])

	assert.Contains(t, out, "2 added, 1 updated, 0 unchanged, 0 removed, 0 skipped, 1 failed in 1.5s")
	assert.Contains(t, out, "parsing /docs/broken.pdf: corrupt xref table")
}

func TestIndexCmd_JSONOutput(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	defer func() { indexJSON = false }()

	out, err := execute("index", "--json", "/docs")

	require.NoError(t, err)
	assert.Contains(t, out, `"run_id": "run-1"`)
	assert.Contains(t, out, `"stage": "parsing"`)
}

func TestIndexCmd_Error(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	indexService.(*mockIndexService).indexErr = domain.ErrIncompatibleSchema

	_, err := execute("index", "/docs")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIncompatibleSchema))
}

func TestIndexCmd_ServiceNotConfigured(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	loadServices = func(_ context.Context) error { return nil }
	indexService = nil

	_, err := execute("index", "/docs")

	assert.ErrorIs(t, err, errNotConfigured)
}

func TestPrintIndexSummary_Cancelled(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)

	printIndexSummary(rootCmd, &domain.IndexSummary{Added: 1, Cancelled: true})

	assert.Contains(t, buf.String(), "1 added")
	assert.Contains(t, buf.String(), "Interrupted")
}

func TestAbsPath(t *testing.T) {
	assert.Equal(t, "", absPath(""))
	assert.Equal(t, "/already/absolute", absPath("/already/absolute"))

	want, _ := filepath.Abs("relative")
	assert.Equal(t, want, absPath("relative"))
}
