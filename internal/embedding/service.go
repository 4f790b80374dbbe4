package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// Ensure Service implements the interface.
var _ driven.Embedder = (*Service)(nil)

// Defaults.
const (
	DefaultModel      = "multilingual-e5-small"
	DefaultDimensions = 384
	DefaultBatchSize  = 16
)

// Config is the requested embedder configuration.
type Config struct {
	Backend      string
	Model        string
	Dimensions   int
	Device       domain.Device
	Quantization domain.Quantization
	PreferGPU    bool
	BatchSize    int
	CacheSize    int
	CacheTTL     time.Duration
}

// ConfigFromSettings maps the embedding settings section.
func ConfigFromSettings(s domain.EmbeddingSettings) Config {
	return Config{
		Backend:      s.Backend,
		Model:        s.Model,
		Dimensions:   s.Dimensions,
		Device:       s.Device,
		Quantization: s.Quantization,
		PreferGPU:    s.PreferGPU,
		BatchSize:    s.BatchSize,
		CacheSize:    s.CacheSize,
		CacheTTL:     s.CacheTTL.Std(),
	}
}

// Option customises a Service.
type Option func(*Service)

// WithRecorder persists every resolution, including fallbacks.
func WithRecorder(record func(domain.ResolvedEmbedderConfig) error) Option {
	return func(s *Service) { s.record = record }
}

// WithGPUProbe replaces GPU detection.
func WithGPUProbe(probe func() bool) Option {
	return func(s *Service) { s.probe = probe }
}

// WithPlatform overrides the operating system used for device selection.
func WithPlatform(goos string) Option {
	return func(s *Service) { s.goos = goos }
}

// Service is the embedder used by indexing and search.
type Service struct {
	runner Runner
	cfg    Config
	cache  *QueryCache
	record func(domain.ResolvedEmbedderConfig) error
	probe  func() bool
	goos   string

	mu        sync.RWMutex
	resolved  domain.ResolvedEmbedderConfig
	fallbacks int
}

// NewService resolves the device, starts the runner and records the
// resolution. A GPU that fails to initialise is abandoned for the CPU
// straight away.
func NewService(ctx context.Context, runner Runner, cfg Config, opts ...Option) (*Service, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	s := &Service{
		runner: runner,
		cfg:    cfg,
		cache:  NewQueryCache(cfg.CacheSize, cfg.CacheTTL),
		probe:  DetectGPU,
		goos:   runtime.GOOS,
	}
	for _, opt := range opts {
		opt(s)
	}

	resolved := Resolve(cfg, s.goos, s.probe())
	loaded, err := runner.Start(ctx, resolved)
	if err != nil && resolved.GPUUsed && IsGPUError(err) {
		log.Warn("embedding_gpu_init_failed",
			slog.String("device", string(resolved.Device)),
			slog.String("error", err.Error()))
		s.fallbacks++
		resolved = toCPU(resolved, cfg.Quantization, err.Error())
		loaded, err = runner.Start(ctx, resolved)
	}
	if err != nil {
		return nil, fmt.Errorf("start embedder: %w", err)
	}

	s.resolved = s.apply(resolved, loaded)
	log.Info("embedder_ready",
		slog.String("model", s.resolved.Model),
		slog.String("backend", s.resolved.Backend),
		slog.String("device", string(s.resolved.Device)),
		slog.String("quantization", string(s.resolved.Quantization)),
		slog.Int("dimensions", s.resolved.Dimensions))
	s.persist(s.resolved)
	return s, nil
}

func (s *Service) apply(cfg domain.ResolvedEmbedderConfig, loaded Loaded) domain.ResolvedEmbedderConfig {
	if loaded.Backend != "" {
		cfg.Backend = loaded.Backend
	}
	if loaded.Dimensions > 0 {
		if s.cfg.Dimensions > 0 && loaded.Dimensions != s.cfg.Dimensions {
			log.Warn("embedding_dimensions_differ",
				slog.Int("configured", s.cfg.Dimensions),
				slog.Int("model", loaded.Dimensions))
		}
		cfg.Dimensions = loaded.Dimensions
	}
	return cfg
}

func (s *Service) persist(cfg domain.ResolvedEmbedderConfig) {
	if s.record == nil {
		return
	}
	if err := s.record(cfg); err != nil {
		log.Warn("embedder_record_failed", slog.String("error", err.Error()))
	}
}

// gpuErrorHints are runtime markers in errors from backends that do not
// wrap domain.ErrGPUFailure. Generic words such as "device" are left out:
// "no space left on device" must not move the embedder off the GPU.
var gpuErrorHints = []string{"cuda", "cudnn", "cublas", "directml", "gpu"}

// IsGPUError reports whether err came from the GPU runtime.
func IsGPUError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrGPUFailure) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range gpuErrorHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// EmbedDocuments embeds chunk texts in batches. Cancellation is honoured
// between batches; a batch that has started runs to completion.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string, progress driven.ProgressFunc) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	model := s.ModelName()

	for start := 0; start < len(texts); start += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+s.cfg.BatchSize, len(texts))
		batch := make([]string, end-start)
		for i, t := range texts[start:end] {
			batch[i] = PreparePassage(model, t)
		}

		vecs, err := s.embedBatch(context.WithoutCancel(ctx), batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
		if progress != nil {
			progress(end, len(texts))
		}
	}
	return out, nil
}

// EmbedQuery embeds a search query, through the cache.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	cfg := s.Config()
	key := cfg.Model + "|" + string(cfg.Device) + "|" + text
	return s.cache.Get(ctx, key, func(ctx context.Context) ([]float32, error) {
		vecs, err := s.embedBatch(ctx, []string{PrepareQuery(cfg.Model, text)})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		return vecs[0], nil
	})
}

// embedBatch runs one batch, falling back to the CPU and retrying once
// if the GPU fails. The device is read before the call: a batch that
// started on the GPU is retried even when a concurrent batch has already
// moved the runner to the CPU.
func (s *Service) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	startedOnGPU := s.onGPU()
	vecs, err := s.runner.Embed(ctx, batch)
	if err != nil && startedOnGPU && IsGPUError(err) {
		if ferr := s.fallback(ctx, err); ferr != nil {
			return nil, errors.Join(err, ferr)
		}
		vecs, err = s.runner.Embed(ctx, batch)
	}
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("model returned %d vectors for %d texts: %w", len(vecs), len(batch), domain.ErrEmbeddingUnavailable)
	}
	dims := s.Dimensions()
	for i, v := range vecs {
		if dims > 0 && len(v) != dims {
			return nil, fmt.Errorf("vector %d has %d dimensions, want %d: %w", i, len(v), dims, domain.ErrEmbeddingUnavailable)
		}
	}
	return vecs, nil
}

func (s *Service) onGPU() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolved.GPUUsed
}

// fallback moves the runner to the CPU. Only the first caller does the
// work; the device never returns to the GPU.
func (s *Service) fallback(ctx context.Context, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resolved.GPUUsed {
		return nil
	}

	next := toCPU(s.resolved, s.cfg.Quantization, cause.Error())
	log.Warn("embedding_gpu_fallback",
		slog.String("from", string(s.resolved.Device)),
		slog.String("reason", next.FallbackReason))

	loaded, err := s.runner.Start(ctx, next)
	if err != nil {
		return fmt.Errorf("restart embedder on cpu: %w", err)
	}
	s.resolved = s.apply(next, loaded)
	s.fallbacks++
	s.persist(s.resolved)
	return nil
}

// Fallbacks returns how many GPU to CPU transitions have happened.
func (s *Service) Fallbacks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallbacks
}

// Dimensions returns the vector size of the loaded model.
func (s *Service) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolved.Dimensions
}

// ModelName returns the model name.
func (s *Service) ModelName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolved.Model
}

// Config returns the current resolution.
func (s *Service) Config() domain.ResolvedEmbedderConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolved
}

// Cache returns the query cache, nil when disabled.
func (s *Service) Cache() *QueryCache {
	return s.cache
}

// Close stops the runner.
func (s *Service) Close() error {
	s.cache.Purge()
	return s.runner.Close()
}
