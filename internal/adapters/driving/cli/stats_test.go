package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCmd_Text(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("stats")
	require.NoError(t, err)

	assert.Contains(t, out, "Backend:     sqlite (schema v3)")
	assert.Contains(t, out, "Documents:   13")
	assert.Contains(t, out, "error:      1")
	assert.Contains(t, out, "indexed:    12")
	assert.Contains(t, out, "Chunks:      140 (140 embedded)")
	assert.Contains(t, out, "2 queued, 0 processing, 0 failed")
	assert.Contains(t, out, "multilingual-e5-small (384 dimensions)")
	assert.Contains(t, out, "hash on cpu, fp32")
}

func TestStatsCmd_KeywordOnly(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	embedderInfo = nil

	out, err := execute("stats")
	require.NoError(t, err)

	assert.Contains(t, out, "unavailable, search is keyword only")
}

func TestStatsCmd_JSON(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	defer func() { statsJSON = false }()

	out, err := execute("stats", "--json")
	require.NoError(t, err)

	assert.Contains(t, out, `"total_documents": 13`)
	assert.Contains(t, out, `"embedder": {`)
}
