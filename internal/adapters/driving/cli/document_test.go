package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

func TestDocumentCmd_Use(t *testing.T) {
	assert.Equal(t, "document", documentCmd.Use)
	assert.True(t, documentCmd.HasSubCommands())
}

func TestDocumentListCmd(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("document", "list")
	require.NoError(t, err)

	assert.Contains(t, out, "indexed    /docs/report.md")
	assert.Contains(t, out, "error      /scans/receipt.pdf")
	assert.Contains(t, out, "Total: 2 documents")
}

func TestDocumentListCmd_Filters(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	defer func() { docListStatus, docListPath, docListTags, docListLimit = nil, "", nil, 0 }()

	out, err := execute("document", "list", "--status", "indexed,error", "--path", "/docs", "--tag", "work", "-n", "5")
	require.NoError(t, err)

	f := documentService.(*mockDocumentService).lastFilter
	assert.Equal(t, []domain.DocumentStatus{domain.StatusIndexed, domain.StatusError}, f.Statuses)
	assert.Equal(t, "/docs", f.PathPrefix)
	assert.Equal(t, []string{"work"}, f.Tags)
	assert.Equal(t, 5, f.Limit)
	assert.NotContains(t, out, "receipt.pdf")
}

func TestDocumentListCmd_UnknownStatus(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	defer func() { docListStatus = nil }()

	_, err := execute("document", "list", "--status", "done")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown status "done"`)
}

func TestDocumentGetCmd(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("document", "get", "doc-2")
	require.NoError(t, err)

	assert.Contains(t, out, "Document: doc-2")
	assert.Contains(t, out, "Type:     application/pdf (pdf)")
	assert.Contains(t, out, "Error:    ocr: tesseract not found")
}

func TestDocumentGetCmd_RequiresOneArg(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	_, err := execute("document", "get")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestDocumentGetCmd_NotFound(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	_, err := execute("document", "get", "missing")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentContentCmd(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("document", "content", "/docs/report.md")
	require.NoError(t, err)

	assert.Contains(t, out, "Revenue grew.")
}

func TestDocumentCmd_ServiceNotConfigured(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	documentService = nil

	_, err := execute("document", "list")

	assert.ErrorIs(t, err, errNotConfigured)
}
