package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

func TestExtractDocumentID(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		expected string
	}{
		{
			name:     "valid document URI",
			uri:      "sercha://documents/doc-456",
			expected: "doc-456",
		},
		{
			name:     "invalid prefix",
			uri:      "file://documents/doc-456",
			expected: "",
		},
		{
			name:     "empty URI",
			uri:      "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractDocumentID(tt.uri)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func newReadRequest(uri string) *mcp.ReadResourceRequest {
	return &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestServer_handleStatsResource(t *testing.T) {
	idx := &mockIndexService{stats: &domain.Stats{TotalDocuments: 3, Backend: "sqlite"}}
	server := newTestServer(t, &Ports{Index: idx})

	result, err := server.handleStatsResource(context.Background(), newReadRequest("sercha://stats"))

	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "application/json", result.Contents[0].MIMEType)
	assert.Contains(t, result.Contents[0].Text, `"total_documents": 3`)
}

func TestServer_handleDocumentsResource(t *testing.T) {
	docs := &mockDocumentService{documents: []*domain.Document{
		{ID: "doc-1", Path: "/docs/a.md", Title: "A"},
	}}
	server := newTestServer(t, &Ports{Document: docs})

	result, err := server.handleDocumentsResource(context.Background(), newReadRequest("sercha://documents"))

	require.NoError(t, err)
	assert.Contains(t, result.Contents[0].Text, `"uri": "sercha://documents/doc-1"`)
	assert.Contains(t, result.Contents[0].Text, `"path": "/docs/a.md"`)
	assert.Equal(t, []domain.DocumentStatus{domain.StatusIndexed}, docs.lastFilter.Statuses)
	assert.Equal(t, documentListLimit, docs.lastFilter.Limit)
}

func TestServer_handleDocumentContentResource(t *testing.T) {
	ctx := context.Background()

	t.Run("returns content", func(t *testing.T) {
		docs := &mockDocumentService{content: map[string]string{"doc-1": "hello world"}}
		server := newTestServer(t, &Ports{Document: docs})

		result, err := server.handleDocumentContentResource(ctx, newReadRequest("sercha://documents/doc-1"))

		require.NoError(t, err)
		require.Len(t, result.Contents, 1)
		assert.Equal(t, "text/plain", result.Contents[0].MIMEType)
		assert.Equal(t, "hello world", result.Contents[0].Text)
	})

	t.Run("unknown document is not found", func(t *testing.T) {
		server := newTestServer(t, &Ports{Document: &mockDocumentService{}})

		result, err := server.handleDocumentContentResource(ctx, newReadRequest("sercha://documents/missing"))

		require.Error(t, err)
		assert.Nil(t, result)
	})

	t.Run("bad URI is not found", func(t *testing.T) {
		server := newTestServer(t, &Ports{Document: &mockDocumentService{}})

		_, err := server.handleDocumentContentResource(ctx, newReadRequest("file://documents/doc-1"))

		require.Error(t, err)
	})

	t.Run("service error is wrapped", func(t *testing.T) {
		docs := &mockDocumentService{err: errors.New("disk gone")}
		server := newTestServer(t, &Ports{Document: docs})

		_, err := server.handleDocumentContentResource(ctx, newReadRequest("sercha://documents/doc-1"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "getting document content")
	})
}
