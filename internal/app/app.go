// Package app assembles Sercha from its configuration. It is the only
// package that knows every concrete adapter; the CLI and MCP server talk
// to the result through driving ports.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/custodia-labs/sercha-local/internal/adapters/driven/config/file"
	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage/badger"
	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage/postgres"
	"github.com/custodia-labs/sercha-local/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/sercha-local/internal/chunker"
	"github.com/custodia-labs/sercha-local/internal/cmdrun"
	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/core/services"
	"github.com/custodia-labs/sercha-local/internal/embedding"
	"github.com/custodia-labs/sercha-local/internal/embedding/hash"
	"github.com/custodia-labs/sercha-local/internal/embedding/ollama"
	"github.com/custodia-labs/sercha-local/internal/ipc"
	"github.com/custodia-labs/sercha-local/internal/logger"
	"github.com/custodia-labs/sercha-local/internal/ocr"
	"github.com/custodia-labs/sercha-local/internal/ocr/pdfocr"
	"github.com/custodia-labs/sercha-local/internal/ocr/remote"
	"github.com/custodia-labs/sercha-local/internal/ocr/tesseract"
	"github.com/custodia-labs/sercha-local/internal/parsers"
	"github.com/custodia-labs/sercha-local/internal/registry"
)

var log = logger.ForComponent(logger.CompConfig)

// Options configures New.
type Options struct {
	// ConfigDir holds config.toml. Empty uses ~/.sercha.
	ConfigDir string

	// ConfigStore replaces the TOML store in ConfigDir when set. Logging
	// is left as configured by the caller.
	ConfigStore driven.ConfigStore

	// Settings replaces the loaded configuration when set.
	Settings *domain.Settings

	// Spawner starts worker processes in child isolation. Nil spawns the
	// configured worker command.
	Spawner ipc.Spawner

	// Runner executes external tools. Nil uses cmdrun.Exec.
	Runner cmdrun.Runner
}

// App holds the assembled services.
type App struct {
	Settings  *domain.Settings
	Config    driven.ConfigStore
	Store     driven.Storage
	Events    *services.EventBus
	Embedder  driven.Embedder
	OCR       *ocr.Service
	Indexer   *services.Indexer
	Search    *services.SearchService
	Documents *services.DocumentService
	Scheduler *services.Scheduler

	closers []func() error
}

// LoadConfig opens the config store, reads .env files and loads the
// settings. Structured logging is configured from the result.
func LoadConfig(configDir string) (*file.ConfigStore, *domain.Settings, error) {
	cfg, err := file.NewConfigStore(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open config: %w", err)
	}
	if err := cfg.LoadEnv(); err != nil {
		return nil, nil, err
	}
	settings, err := cfg.Load()
	if err != nil {
		return nil, nil, err
	}
	logger.Init(logger.Config{
		Dir:        filepath.Dir(settings.Logging.File),
		File:       filepath.Base(settings.Logging.File),
		Level:      settings.Logging.Level,
		MaxSizeMB:  settings.Logging.MaxSizeMB,
		MaxBackups: settings.Logging.MaxBackups,
		MaxAgeDays: settings.Logging.MaxAgeDays,
	})
	return cfg, settings, nil
}

// New builds every service. The caller must Close the result.
func New(ctx context.Context, opts Options) (_ *App, err error) {
	cfg, settings, configDir, err := loadOptions(opts)
	if err != nil {
		return nil, err
	}
	if opts.Settings != nil {
		settings = opts.Settings
	}
	if opts.Runner == nil {
		opts.Runner = cmdrun.Exec{}
	}

	a := &App{Settings: settings, Config: cfg, Events: services.NewEventBus(0)}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	store, sched, err := OpenStorage(ctx, settings.Storage)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	child := settings.Indexing.Isolation == domain.IsolationChild
	if child && opts.Spawner == nil {
		opts.Spawner, err = workerSpawner(settings.Indexing.WorkerCommand, configDir)
		if err != nil {
			return nil, err
		}
	}

	a.Embedder, err = a.openEmbedder(ctx, opts.Spawner)
	if err != nil {
		return nil, err
	}

	providers := ocr.NewRegistry()
	if child {
		p := remote.New(ipc.NewClient(opts.Spawner, ipc.Options{
			Name:    "ocr-worker",
			Timeout: settings.Indexing.MessageTimeout.Std(),
		}))
		providers.MustRegister(p)
		a.closers = append(a.closers, p.Close)
	} else {
		RegisterOCRProviders(providers, opts.Runner)
	}
	a.OCR = ocr.NewService(providers, ocr.Config{
		Languages:     settings.OCR.Languages,
		MinConfidence: settings.OCR.MinConfidence,
		Concurrency:   settings.OCR.Concurrency,
	}, a.Events)
	a.closers = append(a.closers, func() error { a.OCR.Close(); return nil })

	chunk, err := chunker.NewRegistry().Get(settings.Chunking.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}

	a.Indexer, err = services.NewIndexer(services.IndexerDeps{
		Store:    store,
		Parsers:  parsers.NewRegistry(parsers.Options{Runner: opts.Runner, MinPageChars: settings.OCR.MinPageChars}),
		Chunker:  chunk,
		OCR:      a.OCR,
		Embedder: a.Embedder,
		Events:   a.Events,
	}, *settings)
	if err != nil {
		return nil, err
	}
	a.Search = services.NewSearchService(store, a.Embedder, a.Events, settings.Search)
	a.Documents = services.NewDocumentService(store)
	a.Scheduler = services.NewScheduler(settings.Schedule, sched, a.Indexer)

	log.Debug("app_ready",
		slog.String("storage", string(settings.Storage.Backend)),
		slog.String("isolation", string(settings.Indexing.Isolation)),
		slog.Bool("embedder", a.Embedder != nil))
	return a, nil
}

// loadOptions returns the config store, its settings and the directory
// handed to worker children.
func loadOptions(opts Options) (driven.ConfigStore, *domain.Settings, string, error) {
	if opts.ConfigStore != nil {
		settings, err := opts.ConfigStore.Load()
		if err != nil {
			return nil, nil, "", err
		}
		return opts.ConfigStore, settings, opts.ConfigDir, nil
	}
	cfg, settings, err := LoadConfig(opts.ConfigDir)
	if err != nil {
		return nil, nil, "", err
	}
	return cfg, settings, cfg.Dir(), nil
}

// openEmbedder starts the embedding service. An embedder that cannot be
// started because no backend is available leaves search keyword-only.
func (a *App) openEmbedder(ctx context.Context, spawner ipc.Spawner) (driven.Embedder, error) {
	s := a.Settings
	var runner embedding.Runner
	if s.Indexing.Isolation == domain.IsolationChild {
		runner = embedding.NewWorkerRunner(spawner, embedding.WorkerOptions{
			Workers: s.Embedding.Workers,
			Timeout: s.Indexing.MessageTimeout.Std(),
		})
	} else {
		runner = embedding.NewInProcess(EmbeddingBackends(s.Embedding))
	}

	svc, err := embedding.NewService(ctx, runner, embedding.ConfigFromSettings(s.Embedding),
		embedding.WithRecorder(a.Config.RecordEmbedder))
	if err != nil {
		_ = runner.Close()
		if errors.Is(err, domain.ErrEmbeddingUnavailable) {
			log.Warn("embedder_unavailable", slog.String("error", err.Error()))
			return nil, nil
		}
		return nil, err
	}
	a.closers = append(a.closers, svc.Close)
	return svc, nil
}

// Close releases everything New opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStorage opens the configured backend and its scheduler store.
func OpenStorage(ctx context.Context, s domain.StorageSettings) (driven.Storage, driven.SchedulerStore, error) {
	switch s.Backend {
	case domain.BackendSQLite, "":
		st, err := sqlite.NewStore(s.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, st.SchedulerStore(), nil
	case domain.BackendPostgres:
		st, err := postgres.NewStore(ctx, s.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, st.SchedulerStore(), nil
	case domain.BackendBadger:
		st, err := badger.NewStore(s.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger store: %w", err)
		}
		// Scheduler history is not kept across restarts on badger.
		return st, memory.NewSchedulerStore(), nil
	case domain.BackendMemory:
		return memory.NewStore(), memory.NewSchedulerStore(), nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown storage backend %q", domain.ErrInvalidConfiguration, s.Backend)
	}
}

// EmbeddingBackends returns the built-in backends.
func EmbeddingBackends(s domain.EmbeddingSettings) *registry.Registry[embedding.Backend] {
	r := embedding.NewRegistry()
	r.MustRegister(ollama.New(ollama.Config{BaseURL: s.OllamaURL}))
	r.MustRegister(hash.New())
	return r
}

// RegisterOCRProviders adds the local OCR providers to r.
func RegisterOCRProviders(r *registry.Registry[driven.OCRProvider], runner cmdrun.Runner) {
	r.MustRegister(tesseract.New(runner))
	r.MustRegister(pdfocr.New(runner))
}

// workerSpawner starts `sercha worker` children, or the configured
// command when one is set.
func workerSpawner(command []string, configDir string) (*ipc.ExecSpawner, error) {
	if len(command) > 0 {
		return &ipc.ExecSpawner{Command: command[0], Args: command[1:], Stderr: os.Stderr}, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("%w: locate executable: %v", domain.ErrWorkerUnavailable, err)
	}
	return &ipc.ExecSpawner{
		Command: exe,
		Args:    []string{"worker", "--config", configDir},
		Stderr:  os.Stderr,
	}, nil
}
