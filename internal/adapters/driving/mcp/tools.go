package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query    string   `json:"query" jsonschema:"the search query; quoted phrases match exactly, a leading - excludes a word"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum number of results to return (default 10)"`
	Offset   int      `json:"offset,omitempty" jsonschema:"number of results to skip for paging"`
	Strategy string   `json:"strategy,omitempty" jsonschema:"hybrid, semantic or keyword (default hybrid)"`
	Path     string   `json:"path,omitempty" jsonschema:"only return documents under this absolute path"`
	Tags     []string `json:"tags,omitempty" jsonschema:"only return documents carrying all of these tags"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results  []SearchResultOutput `json:"results"`
	Total    int                  `json:"total"`
	Strategy string               `json:"strategy"`
}

// SearchResultOutput represents a single search result.
type SearchResultOutput struct {
	DocumentID string  `json:"document_id"`
	URI        string  `json:"uri"`
	Path       string  `json:"path"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
	MatchType  string  `json:"match_type"`
	Snippet    string  `json:"snippet,omitempty"`
	Page       int     `json:"page,omitempty"`
	Section    string  `json:"section,omitempty"`
}

// IndexInput is the input schema for the index tool.
type IndexInput struct {
	Paths []string `json:"paths" jsonschema:"absolute paths of files or directories to index"`
	Force bool     `json:"force,omitempty" jsonschema:"re-index files whose content has not changed"`
	Tags  []string `json:"tags,omitempty" jsonschema:"tags to attach to newly indexed documents"`
}

// SyncInput is the input schema for the sync tool.
type SyncInput struct {
	Roots []string `json:"roots,omitempty" jsonschema:"absolute directories to reconcile (default: configured roots)"`
}

// IndexOutput summarises an index or sync run.
type IndexOutput struct {
	Added     int               `json:"added"`
	Updated   int               `json:"updated"`
	Unchanged int               `json:"unchanged"`
	Removed   int               `json:"removed"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
	Errors    []FileErrorOutput `json:"errors,omitempty"`
	Cancelled bool              `json:"cancelled,omitempty"`
}

// FileErrorOutput is one file that failed during a run.
type FileErrorOutput struct {
	Path    string `json:"path"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// StatsInput is the input schema for the stats tool.
type StatsInput struct{}

// StatsOutput is the output schema for the stats tool.
type StatsOutput struct {
	Documents      map[string]int `json:"documents"`
	TotalDocuments int            `json:"total_documents"`
	Chunks         int            `json:"chunks"`
	EmbeddedChunks int            `json:"embedded_chunks"`
	Queued         int            `json:"queued"`
	Failed         int            `json:"failed"`
	Backend        string         `json:"backend"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Search indexed local documents by keyword and meaning",
	}, s.handleSearch)

	if s.ports.Index == nil {
		return
	}
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "index",
		Description: "Index files or directories so they become searchable",
	}, s.handleIndex)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sync",
		Description: "Bring the index up to date with the file system",
	}, s.handleSync)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "stats",
		Description: "Report document, chunk and queue counts for the index",
	}, s.handleStats)
}

// handleSearch handles the search tool invocation.
func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}

	opts := domain.SearchOptions{
		Strategy: domain.SearchStrategy(input.Strategy),
		Limit:    limit,
		Offset:   input.Offset,
		Filters:  domain.SearchFilters{PathPrefix: input.Path, Tags: input.Tags},
	}
	resp, err := s.ports.Search.Search(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Results:  make([]SearchResultOutput, len(resp.Results)),
		Total:    resp.Total,
		Strategy: string(resp.Strategy),
	}
	for i := range resp.Results {
		r := &resp.Results[i]
		output.Results[i] = SearchResultOutput{
			DocumentID: r.DocumentID,
			URI:        documentURI(r.DocumentID),
			Path:       r.Path,
			Title:      r.Title,
			Score:      r.Score,
			MatchType:  string(r.MatchType),
			Snippet:    r.Snippet,
			Page:       r.Page,
			Section:    r.Section,
		}
	}
	return nil, output, nil
}

// handleIndex handles the index tool invocation.
func (s *Server) handleIndex(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IndexInput,
) (*mcp.CallToolResult, IndexOutput, error) {
	if len(input.Paths) == 0 {
		return nil, IndexOutput{}, fmt.Errorf("%w: paths is required", domain.ErrInvalidInput)
	}
	if err := requireAbsolute(input.Paths); err != nil {
		return nil, IndexOutput{}, err
	}

	log.Info("mcp_index", slog.Any("paths", input.Paths), slog.Bool("force", input.Force))
	sum, err := s.ports.Index.Index(ctx, input.Paths, domain.IndexOptions{Tags: input.Tags, Force: input.Force})
	if err != nil {
		return nil, IndexOutput{}, err
	}
	return nil, indexOutput(sum), nil
}

// handleSync reconciles the roots and processes what changed.
func (s *Server) handleSync(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SyncInput,
) (*mcp.CallToolResult, IndexOutput, error) {
	roots := input.Roots
	if len(roots) == 0 {
		roots = s.ports.Roots
	}
	if len(roots) == 0 {
		return nil, IndexOutput{}, ErrNoRoots
	}
	if err := requireAbsolute(roots); err != nil {
		return nil, IndexOutput{}, err
	}

	log.Info("mcp_sync", slog.Any("roots", roots))
	changes, err := s.ports.Index.Sync(ctx, roots)
	if err != nil {
		return nil, IndexOutput{}, err
	}
	sum, err := s.ports.Index.Drain(ctx)
	if err != nil {
		return nil, IndexOutput{}, err
	}
	out := indexOutput(sum)
	out.Unchanged = changes.Unchanged
	out.Removed = changes.Removed
	return nil, out, nil
}

// handleStats handles the stats tool invocation.
func (s *Server) handleStats(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ StatsInput,
) (*mcp.CallToolResult, StatsOutput, error) {
	stats, err := s.ports.Index.Stats(ctx)
	if err != nil {
		return nil, StatsOutput{}, err
	}
	out := StatsOutput{
		Documents:      make(map[string]int, len(stats.Documents)),
		TotalDocuments: stats.TotalDocuments,
		Chunks:         stats.Chunks,
		EmbeddedChunks: stats.EmbeddedChunks,
		Queued:         stats.Queue.Queued,
		Failed:         stats.Queue.Failed,
		Backend:        stats.Backend,
	}
	for status, n := range stats.Documents {
		out.Documents[string(status)] = n
	}
	return nil, out, nil
}

func indexOutput(sum *domain.IndexSummary) IndexOutput {
	out := IndexOutput{
		Added:     sum.Added,
		Updated:   sum.Updated,
		Unchanged: sum.Unchanged,
		Removed:   sum.Removed,
		Skipped:   sum.Skipped,
		Failed:    sum.Failed,
		Cancelled: sum.Cancelled,
	}
	for _, fe := range sum.Errors {
		out.Errors = append(out.Errors, FileErrorOutput{Path: fe.Path, Stage: string(fe.Stage), Message: fe.Message})
	}
	return out
}

// requireAbsolute rejects relative paths. The server's working directory
// is unrelated to the client's, so relative paths are ambiguous.
func requireAbsolute(paths []string) error {
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("%w: path %q must be absolute", domain.ErrInvalidInput, p)
		}
	}
	return nil
}
