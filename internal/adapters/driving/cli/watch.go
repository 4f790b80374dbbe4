package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/discovery"
)

var (
	watchDebounce  time.Duration
	watchNoInitial bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [root]...",
	Short: "Keep the index in step with the file system",
	Long: `Watches the given roots, or schedule.roots from the configuration, and
indexes files as they are created, changed or removed. The roots are
synchronised once at start. When schedule.sync_cron is set, full syncs
also run on that schedule.

Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", discovery.DefaultDebounce, "wait for changes to settle before indexing")
	watchCmd.Flags().BoolVar(&watchNoInitial, "no-initial-sync", false, "skip the sync at start")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if indexService == nil {
		return fmt.Errorf("watch: %w", errNotConfigured)
	}
	roots := absPaths(args)
	if len(roots) == 0 && settings != nil {
		roots = settings.Schedule.Roots
	}
	if len(roots) == 0 {
		return errors.New("no roots to watch: pass paths or set schedule.roots in the configuration")
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	if !watchNoInitial {
		if _, err := indexService.Resume(ctx); err != nil {
			return fmt.Errorf("resume failed: %w", err)
		}
		sum, err := indexService.Index(ctx, roots, domain.IndexOptions{})
		if err != nil {
			return fmt.Errorf("initial sync failed: %w", err)
		}
		printIndexSummary(cmd, sum)
	}

	var opts discovery.Options
	if settings != nil {
		opts = discovery.Options{FollowHidden: settings.Indexing.FollowHidden, Ignore: settings.Indexing.Ignore}
	}
	w := discovery.NewWatcher(roots, opts, watchDebounce)
	defer w.Close()
	changes, err := w.Events(ctx)
	if err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}

	if scheduler != nil {
		g.Go(func() error { return scheduler.Start(ctx) })
	}
	g.Go(func() error { return applyChanges(ctx, cmd, roots, changes) })

	cmd.Printf("Watching %d root(s). Press Ctrl+C to stop.\n", len(roots))
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// applyChanges indexes each change as it arrives. A removal rescans the
// nearest surviving directory so the file is dropped from search.
func applyChanges(ctx context.Context, cmd *cobra.Command, roots []string, changes <-chan discovery.Change) error {
	st := stylesFor(cmd.OutOrStdout())
	for ch := range changes {
		var sum *domain.IndexSummary
		var err error
		if ch.Type == discovery.ChangeDeleted {
			sum, err = indexService.Index(ctx, []string{existingParent(ch.Path, roots)}, domain.IndexOptions{})
		} else {
			sum, err = indexService.Index(ctx, []string{ch.Path}, domain.IndexOptions{})
		}
		if err != nil {
			if ctx.Err() != nil || domain.IsSessionFatal(err) {
				return err
			}
			cmd.Printf("%s %s: %v\n", st.Error.Render("error"), ch.Path, err)
			continue
		}
		if sum.Added+sum.Updated+sum.Removed+sum.Failed > 0 {
			cmd.Printf("%s %s\n", st.Muted.Render(string(ch.Type)), st.Path.Render(ch.Path))
		}
	}
	return ctx.Err()
}

// existingParent returns the closest directory above path that still
// exists, stopping at the root that contains it.
func existingParent(path string, roots []string) string {
	dir := filepath.Dir(path)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		for _, r := range roots {
			if dir == r {
				return r
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
