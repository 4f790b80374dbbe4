package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	Long:  `Shows document counts by status, chunk and embedding counts, queue depth and the embedder in use.`,
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output statistics as JSON")
	rootCmd.AddCommand(statsCmd)
}

// statsOutput is the JSON form of the stats command.
type statsOutput struct {
	*domain.Stats
	Embedder *domain.ResolvedEmbedderConfig `json:"embedder,omitempty"`
}

func runStats(cmd *cobra.Command, _ []string) error {
	if indexService == nil {
		return fmt.Errorf("stats: %w", errNotConfigured)
	}
	stats, err := indexService.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}
	if statsJSON {
		return outputJSON(cmd, statsOutput{Stats: stats, Embedder: embedderInfo})
	}

	st := stylesFor(cmd.OutOrStdout())
	cmd.Println(st.Title.Render("Index"))
	cmd.Printf("  Backend:     %s (schema v%d)\n", stats.Backend, stats.SchemaVersion)
	cmd.Printf("  Documents:   %d\n", stats.TotalDocuments)

	statuses := make([]domain.DocumentStatus, 0, len(stats.Documents))
	for s := range stats.Documents {
		statuses = append(statuses, s)
	}
	slices.Sort(statuses)
	for _, s := range statuses {
		cmd.Printf("    %-11s %d\n", s+":", stats.Documents[s])
	}
	if stats.Tombstoned > 0 {
		cmd.Printf("  Removed:     %d\n", stats.Tombstoned)
	}
	cmd.Printf("  Chunks:      %d (%d embedded)\n", stats.Chunks, stats.EmbeddedChunks)
	cmd.Printf("  Queue:       %d queued, %d processing, %d failed\n",
		stats.Queue.Queued, stats.Queue.Processing, stats.Queue.Failed)

	cmd.Println()
	cmd.Println(st.Title.Render("Embedder"))
	if embedderInfo == nil {
		cmd.Println(st.Warning.Render("  unavailable, search is keyword only"))
		return nil
	}
	e := embedderInfo
	cmd.Printf("  Model:       %s (%d dimensions)\n", e.Model, e.Dimensions)
	cmd.Printf("  Backend:     %s on %s, %s\n", e.Backend, e.Device, e.Quantization)
	if e.FallbackReason != "" {
		cmd.Printf("  Fallback:    %s\n", st.Muted.Render(e.FallbackReason))
	}
	return nil
}
