package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

var (
	searchLimit    int
	searchOffset   int
	searchStrategy string
	searchPath     string
	searchTags     []string
	searchPerDoc   int
	searchNoDedup  bool
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed documents",
	Long: `Performs hybrid search across all indexed documents.
Combines keyword (BM25) and semantic (vector) search with reciprocal rank
fusion. Use --strategy to run only one side.

Query syntax: words are ANDed, "quoted phrases" match exactly, a leading
- excludes a word and OR between words matches either.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "number of results to skip")
	searchCmd.Flags().StringVarP(&searchStrategy, "strategy", "s", "", "hybrid, semantic or keyword (default from config)")
	searchCmd.Flags().StringVar(&searchPath, "path", "", "only search documents under this path")
	searchCmd.Flags().StringSliceVar(&searchTags, "tag", nil, "only search documents with this tag")
	searchCmd.Flags().IntVar(&searchPerDoc, "per-document", 0, "maximum results per document (0 uses config)")
	searchCmd.Flags().BoolVar(&searchNoDedup, "no-dedup", false, "keep near-duplicate results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchService == nil {
		return fmt.Errorf("search: %w", errNotConfigured)
	}

	opts := domain.SearchOptions{
		Strategy: domain.SearchStrategy(searchStrategy),
		Limit:    searchLimit,
		Offset:   searchOffset,
		Filters: domain.SearchFilters{
			PathPrefix: absPath(searchPath),
			Tags:       searchTags,
		},
	}
	if searchPerDoc > 0 {
		opts.Diversity = &domain.DiversityOptions{
			Strategy:       domain.DiversityCapThenFill,
			MaxPerDocument: searchPerDoc,
		}
	}
	if searchNoDedup {
		if opts.Diversity == nil {
			opts.Diversity = &domain.DiversityOptions{}
		}
		opts.Diversity.DedupThreshold = domain.DedupDisabled
	}

	resp, err := searchService.Search(cmd.Context(), args[0], opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputJSON(cmd, resp)
	}
	return outputSearchTable(cmd, resp)
}

func outputJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, resp *domain.SearchResponse) error {
	if len(resp.Results) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	st := stylesFor(cmd.OutOrStdout())
	cmd.Println(st.Title.Render(fmt.Sprintf("Results %d-%d of %d (%s, %s)",
		resp.Offset+1, resp.Offset+len(resp.Results), resp.Total,
		resp.Strategy, resp.Took.Round(time.Millisecond))))
	cmd.Println()
	for i := range resp.Results {
		r := &resp.Results[i]
		// Format: [N] Title (score, match)
		title := r.Title
		if title == "" {
			title = r.Path
		}
		cmd.Printf("  [%d] %s %s\n", resp.Offset+i+1, title,
			st.Muted.Render(fmt.Sprintf("(%.2f, %s)", r.Score, r.MatchType)))

		location := r.Path
		if r.Page > 0 {
			location += fmt.Sprintf(" p.%d", r.Page)
		}
		if r.Section != "" {
			location += " > " + r.Section
		}
		cmd.Printf("      %s\n", st.Path.Render(location))
		if r.Snippet != "" {
			cmd.Printf("      %s\n", st.snippet(r.Snippet))
		}
		cmd.Println()
	}
	return nil
}
