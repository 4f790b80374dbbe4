package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// mockRunner records what the service sends and fails on demand.
type mockRunner struct {
	dims int

	// startErr and embedErr are consulted with the current config.
	startErr func(cfg domain.ResolvedEmbedderConfig) error
	embedErr func(cfg domain.ResolvedEmbedderConfig) error

	mu      sync.Mutex
	current domain.ResolvedEmbedderConfig
	starts  []domain.ResolvedEmbedderConfig
	batches [][]string
	closed  bool
}

func (m *mockRunner) Start(_ context.Context, cfg domain.ResolvedEmbedderConfig) (Loaded, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts = append(m.starts, cfg)
	if m.startErr != nil {
		if err := m.startErr(cfg); err != nil {
			return Loaded{}, err
		}
	}
	m.current = cfg
	return Loaded{Backend: "mock", Dimensions: m.dims}, nil
}

func (m *mockRunner) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, texts)
	if m.embedErr != nil {
		if err := m.embedErr(m.current); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, m.dims)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func (m *mockRunner) Close() error {
	m.closed = true
	return nil
}

type recorder struct {
	mu      sync.Mutex
	history []domain.ResolvedEmbedderConfig
}

func (r *recorder) record(cfg domain.ResolvedEmbedderConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, cfg)
	return nil
}

func newTestService(t *testing.T, runner Runner, cfg Config, gpu bool, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithGPUProbe(func() bool { return gpu }), WithPlatform("linux")}, opts...)
	s, err := NewService(context.Background(), runner, cfg, opts...)
	require.NoError(t, err)
	return s
}

func TestService_EmbedDocumentsBatches(t *testing.T) {
	r := &mockRunner{dims: 3}
	s := newTestService(t, r, Config{Model: "multilingual-e5-small", BatchSize: 2}, false)

	var progress [][2]int
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := s.EmbedDocuments(context.Background(), texts, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})
	require.NoError(t, err)

	require.Len(t, vecs, 5)
	for i, v := range vecs {
		assert.Equal(t, float32(len(PassagePrefix)+i+1), v[0], "order preserved")
	}
	require.Len(t, r.batches, 3)
	assert.Equal(t, []string{"passage: a", "passage: bb"}, r.batches[0])
	assert.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, progress)
}

func TestService_EmptyInput(t *testing.T) {
	s := newTestService(t, &mockRunner{dims: 3}, Config{}, false)
	vecs, err := s.EmbedDocuments(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestService_CancelBetweenBatches(t *testing.T) {
	r := &mockRunner{dims: 2}
	s := newTestService(t, r, Config{BatchSize: 1}, false)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.EmbedDocuments(ctx, []string{"one", "two", "three"}, func(done, _ int) {
		if done == 1 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, r.batches, 1, "no batch starts after cancellation")
}

func TestService_GPUFallbackOnce(t *testing.T) {
	r := &mockRunner{
		dims: 4,
		embedErr: func(cfg domain.ResolvedEmbedderConfig) error {
			if cfg.Device.IsGPU() {
				return errors.New("CUDA error: an illegal memory access was encountered")
			}
			return nil
		},
	}
	rec := &recorder{}
	s := newTestService(t, r, Config{Device: domain.DeviceAuto, PreferGPU: true, BatchSize: 2}, true, WithRecorder(rec.record))

	start := s.Config()
	assert.Equal(t, domain.DeviceCUDA, start.Device)
	assert.Equal(t, domain.QuantFP16, start.Quantization)

	vecs, err := s.EmbedDocuments(context.Background(), []string{"a", "b", "c"}, nil)
	require.NoError(t, err)
	assert.Len(t, vecs, 3)

	cfg := s.Config()
	assert.Equal(t, domain.DeviceCPU, cfg.Device)
	assert.Equal(t, domain.QuantQ8, cfg.Quantization)
	assert.False(t, cfg.GPUUsed)
	assert.True(t, cfg.GPUDetected)
	assert.Contains(t, cfg.FallbackReason, "illegal memory access")
	assert.Equal(t, 1, s.Fallbacks())

	// The failed GPU batch is retried on the CPU; later batches stay there.
	require.Len(t, r.batches, 3)
	assert.Equal(t, r.batches[0], r.batches[1])
	require.Len(t, r.starts, 2)
	assert.Equal(t, domain.DeviceCPU, r.starts[1].Device)

	require.Len(t, rec.history, 2)
	assert.Equal(t, domain.DeviceCUDA, rec.history[0].Device)
	assert.True(t, rec.history[1].FellBack())

	_, err = s.EmbedDocuments(context.Background(), []string{"d"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Fallbacks())
	assert.Len(t, r.starts, 2)
}

// gatedRunner fails two GPU batches in a fixed order: the "fast" batch
// fails first and moves the service to the CPU, the "slow" batch is held
// inside its GPU call until that restart has happened and fails after it.
type gatedRunner struct {
	mu         sync.Mutex
	gpu        bool
	slowInGPU  chan struct{}
	cpuStarted chan struct{}
	cpuBatches [][]string
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{slowInGPU: make(chan struct{}), cpuStarted: make(chan struct{})}
}

func (r *gatedRunner) Start(_ context.Context, cfg domain.ResolvedEmbedderConfig) (Loaded, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gpu = cfg.Device.IsGPU()
	if !r.gpu {
		close(r.cpuStarted)
	}
	return Loaded{Backend: "mock", Dimensions: 2}, nil
}

func (r *gatedRunner) Embed(_ context.Context, texts []string) ([][]float32, error) {
	r.mu.Lock()
	gpu := r.gpu
	r.mu.Unlock()

	if gpu {
		if strings.HasSuffix(texts[0], "slow") {
			close(r.slowInGPU)
			<-r.cpuStarted
		} else {
			<-r.slowInGPU
		}
		return nil, errors.New("cuda: gpu failure")
	}

	r.mu.Lock()
	r.cpuBatches = append(r.cpuBatches, texts)
	r.mu.Unlock()
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (r *gatedRunner) Close() error { return nil }

func TestService_GPUFallbackRetriesConcurrentBatch(t *testing.T) {
	r := newGatedRunner()
	s := newTestService(t, r, Config{Device: domain.DeviceAuto, PreferGPU: true}, true)
	require.True(t, s.Config().GPUUsed)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, text := range []string{"fast", "slow"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.EmbedDocuments(context.Background(), []string{text}, nil)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("embedding did not finish")
	}

	require.NoError(t, errs[0])
	require.NoError(t, errs[1], "a batch that failed on the GPU after the fallback is retried on the CPU")
	assert.Equal(t, domain.DeviceCPU, s.Config().Device)
	assert.Equal(t, 1, s.Fallbacks())
	assert.Len(t, r.cpuBatches, 2)
}

func TestService_GPUInitFailure(t *testing.T) {
	r := &mockRunner{
		dims: 4,
		startErr: func(cfg domain.ResolvedEmbedderConfig) error {
			if cfg.Device.IsGPU() {
				return fmt.Errorf("load: %w", domain.ErrGPUFailure)
			}
			return nil
		},
	}
	rec := &recorder{}
	s := newTestService(t, r, Config{Device: domain.DeviceCUDA}, true, WithRecorder(rec.record))

	cfg := s.Config()
	assert.Equal(t, domain.DeviceCPU, cfg.Device)
	assert.Equal(t, domain.DeviceCUDA, cfg.RequestedDevice)
	assert.True(t, cfg.FellBack())
	assert.Equal(t, 1, s.Fallbacks())
	require.Len(t, rec.history, 1)
	assert.Equal(t, "mock", rec.history[0].Backend)
}

func TestService_NonGPUErrorIsNotFallback(t *testing.T) {
	r := &mockRunner{
		dims: 4,
		embedErr: func(domain.ResolvedEmbedderConfig) error {
			return errors.New("connection refused")
		},
	}
	s := newTestService(t, r, Config{Device: domain.DeviceAuto, PreferGPU: true}, true)

	_, err := s.EmbedDocuments(context.Background(), []string{"x"}, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, s.Fallbacks())
	assert.True(t, s.Config().GPUUsed)
}

func TestService_StartFailure(t *testing.T) {
	r := &mockRunner{startErr: func(domain.ResolvedEmbedderConfig) error {
		return domain.ErrEmbeddingUnavailable
	}}
	_, err := NewService(context.Background(), r, Config{}, WithGPUProbe(func() bool { return false }))
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestService_EmbedQueryCached(t *testing.T) {
	r := &mockRunner{dims: 2}
	s := newTestService(t, r, Config{Model: "e5-small", CacheSize: 4, CacheTTL: time.Minute}, false)

	v1, err := s.EmbedQuery(context.Background(), "solar panels")
	require.NoError(t, err)
	v2, err := s.EmbedQuery(context.Background(), "solar panels")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	require.Len(t, r.batches, 1)
	assert.Equal(t, []string{"query: solar panels"}, r.batches[0])
}

func TestService_DimensionMismatch(t *testing.T) {
	r := &mockRunner{dims: 2}
	s := newTestService(t, r, Config{Dimensions: 8}, false)
	assert.Equal(t, 2, s.Dimensions(), "model dimensions win")

	_, err := s.EmbedDocuments(context.Background(), []string{"x"}, nil)
	require.NoError(t, err)
}

func TestService_Close(t *testing.T) {
	r := &mockRunner{dims: 2}
	s := newTestService(t, r, Config{}, false)
	require.NoError(t, s.Close())
	assert.True(t, r.closed)
	assert.True(t, strings.HasPrefix(s.ModelName(), "multilingual"))
}
