package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

var (
	indexForce       bool
	indexRetryFailed bool
	indexTags        []string
	indexJSON        bool
)

var indexCmd = &cobra.Command{
	Use:   "index <path>...",
	Short: "Index files and directories",
	Long: `Discovers files under the given paths and indexes every new or changed
one: text is extracted, scanned pages are recognised with OCR, and the
text is chunked and embedded. Files removed from an indexed directory
are dropped from the index.

Work interrupted by a crash is resumed first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "re-index files whose content has not changed")
	indexCmd.Flags().BoolVar(&indexRetryFailed, "retry-failed", false, "retry files that failed before")
	indexCmd.Flags().StringSliceVar(&indexTags, "tag", nil, "tag newly indexed documents")
	indexCmd.Flags().BoolVar(&indexJSON, "json", false, "output the summary as JSON")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	if indexService == nil {
		return fmt.Errorf("index: %w", errNotConfigured)
	}
	ctx := cmd.Context()

	if _, err := indexService.Resume(ctx); err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}

	stop := followProgress(cmd)
	sum, err := indexService.Index(ctx, absPaths(args), domain.IndexOptions{
		Tags:        indexTags,
		Force:       indexForce,
		RetryFailed: indexRetryFailed,
	})
	stop()
	if err != nil {
		return fmt.Errorf("index failed: %w", err)
	}

	if indexJSON {
		return outputJSON(cmd, sum)
	}
	printIndexSummary(cmd, sum)
	return nil
}

// printIndexSummary writes the counts and any per-file failures.
func printIndexSummary(cmd *cobra.Command, sum *domain.IndexSummary) {
	st := stylesFor(cmd.OutOrStdout())

	parts := []string{
		st.Success.Render(fmt.Sprintf("%d added", sum.Added)),
		fmt.Sprintf("%d updated", sum.Updated),
		fmt.Sprintf("%d unchanged", sum.Unchanged),
		fmt.Sprintf("%d removed", sum.Removed),
		fmt.Sprintf("%d skipped", sum.Skipped),
	}
	if sum.Failed > 0 {
		parts = append(parts, st.Error.Render(fmt.Sprintf("%d failed", sum.Failed)))
	} else {
		parts = append(parts, "0 failed")
	}
	cmd.Printf("%s %s\n", strings.Join(parts, ", "), st.Muted.Render("in "+sum.Duration.Round(time.Millisecond).String()))

	for _, fe := range sum.Errors {
		cmd.Printf("  %s %s: %s\n", st.Error.Render(string(fe.Stage)), fe.Path, fe.Message)
	}
	if sum.Cancelled {
		cmd.Println(st.Warning.Render("Interrupted; queued work resumes on the next run."))
	}
}

// followProgress prints a running count of finished documents to a
// terminal's stderr. The returned function stops it.
func followProgress(cmd *cobra.Command) func() {
	w := cmd.ErrOrStderr()
	if eventSource == nil || !isTerminal(w) {
		return func() {}
	}

	events, unsubscribe := eventSource.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		n := 0
		for ev := range events {
			if ev.Name != domain.EventDocumentCompleted {
				continue
			}
			n++
			fmt.Fprintf(w, "\rProcessed %d documents", n)
		}
		if n > 0 {
			fmt.Fprintln(w)
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func absPaths(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = absPath(p)
	}
	return out
}
