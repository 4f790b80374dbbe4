package image

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

func TestParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipt.PNG")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o600))

	res, err := New().Parse(context.Background(), path)
	require.NoError(t, err)

	assert.Empty(t, res.Text)
	assert.Equal(t, "receipt", res.Title)
	assert.Equal(t, "png", res.Metadata["format"])
	assert.Equal(t, []domain.OCRRegion{{Page: 1}}, res.OCRRegions)
}

func TestParse_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blank.png")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := New().Parse(context.Background(), path)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
