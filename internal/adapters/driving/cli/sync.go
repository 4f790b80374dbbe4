package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	syncNoProcess bool
	syncJSON      bool
)

var syncCmd = &cobra.Command{
	Use:   "sync [root]...",
	Short: "Synchronise the index with the file system",
	Long: `Reconciles the index with the given roots, or with schedule.roots from
the configuration when none are given. New and changed files are queued
and processed; files that no longer exist are removed from search.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncNoProcess, "no-process", false, "only queue changes, do not process them")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "output the summary as JSON")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if indexService == nil {
		return fmt.Errorf("sync: %w", errNotConfigured)
	}
	ctx := cmd.Context()

	roots := absPaths(args)
	if len(roots) == 0 && settings != nil {
		roots = settings.Schedule.Roots
	}
	if len(roots) == 0 {
		return errors.New("no roots to sync: pass paths or set schedule.roots in the configuration")
	}

	if _, err := indexService.Resume(ctx); err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}
	changes, err := indexService.Sync(ctx, roots)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	if syncNoProcess {
		if syncJSON {
			return outputJSON(cmd, changes)
		}
		cmd.Printf("%d added, %d updated, %d removed, %d unchanged (queued)\n",
			changes.Added, changes.Updated, changes.Removed, changes.Unchanged)
		return nil
	}

	stop := followProgress(cmd)
	sum, err := indexService.Drain(ctx)
	stop()
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	sum.Unchanged = changes.Unchanged
	sum.Removed = changes.Removed
	if syncJSON {
		return outputJSON(cmd, sum)
	}
	printIndexSummary(cmd, sum)
	return nil
}
