package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-local/internal/app"
	"github.com/custodia-labs/sercha-local/internal/cmdrun"
	"github.com/custodia-labs/sercha-local/internal/embedding/worker"
	"github.com/custodia-labs/sercha-local/internal/ipc"
	"github.com/custodia-labs/sercha-local/internal/logger"
	"github.com/custodia-labs/sercha-local/internal/ocr"
)

// workerCmd is started by the indexer in child isolation. It speaks
// JSON lines on stdin and stdout, so nothing else may write to stdout.
var workerCmd = &cobra.Command{
	Use:         "worker",
	Short:       "Run an embedding and OCR worker (internal)",
	Hidden:      true,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipServices: "true"},
	RunE:        runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	_, s, err := app.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("worker config: %w", err)
	}
	// Workers keep their own log file so rotation never races the parent.
	logger.Init(logger.Config{
		Dir:        filepath.Dir(s.Logging.File),
		File:       "worker.log",
		Level:      s.Logging.Level,
		MaxSizeMB:  s.Logging.MaxSizeMB,
		MaxBackups: s.Logging.MaxBackups,
		MaxAgeDays: s.Logging.MaxAgeDays,
	})

	providers := ocr.NewRegistry()
	app.RegisterOCRProviders(providers, cmdrun.Exec{})
	h := worker.NewHandler(app.EmbeddingBackends(s.Embedding), providers)
	defer h.Close()

	return ipc.Serve(cmd.Context(), os.Stdin, os.Stdout, h)
}
