// Package cli provides the sercha command line interface.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-local/internal/app"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-local/internal/logger"
)

// version is set at build time with -ldflags.
var version = "dev"

// skipServices marks commands that run without opening the index.
const skipServices = "skip-services"

var (
	configDir string
	verbose   bool
)

// Services used by the commands. They are set by loadServices before a
// command runs, or directly by tests.
var (
	indexService    driving.IndexService
	searchService   driving.SearchService
	documentService driving.DocumentService
	eventSource     driving.EventSource
	scheduler       driving.Scheduler
	settings        *domain.Settings
	embedderInfo    *domain.ResolvedEmbedderConfig

	closeServices = func() error { return nil }
)

// loadServices opens the application. Replaced in tests.
var loadServices = func(ctx context.Context) error {
	a, err := app.New(ctx, app.Options{ConfigDir: configDir})
	if err != nil {
		return err
	}
	indexService = a.Indexer
	searchService = a.Search
	documentService = a.Documents
	eventSource = a.Events
	scheduler = a.Scheduler
	settings = a.Settings
	if a.Embedder != nil {
		cfg := a.Embedder.Config()
		embedderInfo = &cfg
	}
	closeServices = a.Close
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "sercha",
	Short: "Offline hybrid search for your local documents",
	Long: `Sercha indexes the documents on this machine and searches them
by keyword and by meaning. Nothing leaves the machine.`,
	SilenceUsage:      true,
	PersistentPreRunE: prepare,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "configuration directory (default ~/.sercha)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print diagnostic logs to stderr")
}

func prepare(cmd *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)
	if cmd.Annotations[skipServices] == "true" || cmd.Name() == "help" || indexService != nil {
		return nil
	}
	return loadServices(cmd.Context())
}

// Execute runs the root command and releases the services afterwards.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if cerr := closeServices(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// errNotConfigured is returned when a command runs without its service.
var errNotConfigured = errors.New("services not configured")
