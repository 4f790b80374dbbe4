package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/registry/registrytest"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		goos      string
		gpu       bool
		device    domain.Device
		quant     domain.Quantization
		gpuUsed   bool
		requested domain.Device
	}{
		{"auto linux gpu", Config{Device: domain.DeviceAuto, PreferGPU: true}, "linux", true, domain.DeviceCUDA, domain.QuantFP16, true, domain.DeviceAuto},
		{"auto windows gpu", Config{Device: domain.DeviceAuto, PreferGPU: true}, "windows", true, domain.DeviceDML, domain.QuantFP16, true, domain.DeviceAuto},
		{"auto darwin", Config{Device: domain.DeviceAuto, PreferGPU: true}, "darwin", true, domain.DeviceCPU, domain.QuantQ8, false, domain.DeviceAuto},
		{"auto no gpu", Config{Device: domain.DeviceAuto, PreferGPU: true}, "linux", false, domain.DeviceCPU, domain.QuantQ8, false, domain.DeviceAuto},
		{"auto gpu not preferred", Config{Device: domain.DeviceAuto}, "linux", true, domain.DeviceCPU, domain.QuantQ8, false, domain.DeviceAuto},
		{"explicit cpu", Config{Device: domain.DeviceCPU, PreferGPU: true}, "linux", true, domain.DeviceCPU, domain.QuantQ8, false, domain.DeviceCPU},
		{"explicit cuda", Config{Device: domain.DeviceCUDA}, "linux", false, domain.DeviceCUDA, domain.QuantFP16, true, domain.DeviceCUDA},
		{"explicit quantization", Config{Device: domain.DeviceCPU, Quantization: domain.QuantFP32}, "linux", false, domain.DeviceCPU, domain.QuantFP32, false, domain.DeviceCPU},
		{"empty device", Config{}, "linux", true, domain.DeviceCPU, domain.QuantQ8, false, domain.DeviceAuto},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.cfg, tt.goos, tt.gpu)
			assert.Equal(t, tt.device, got.Device)
			assert.Equal(t, tt.quant, got.Quantization)
			assert.Equal(t, tt.gpuUsed, got.GPUUsed)
			assert.Equal(t, tt.gpu, got.GPUDetected)
			assert.Equal(t, tt.requested, got.RequestedDevice)
			assert.False(t, got.FellBack())
		})
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"tab\tand\nnewline\r", "tab and newline "},
		{"nul\x00byte", "nulbyte"},
		{"bad\ufffdrune", "badrune"},
		{"zero\u200bwidth", "zerowidth"},
		{"bell\x07", "bell"},
		{"nbsp\u00a0space", "nbsp space"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanText(tt.in), "%q", tt.in)
	}
}

func TestPrefixes(t *testing.T) {
	assert.Equal(t, "query: hi there", PrepareQuery("multilingual-e5-small", "hi\tthere"))
	assert.Equal(t, "passage: body", PreparePassage("intfloat/E5-base", "body"))
	assert.Equal(t, "body", PreparePassage("nomic-embed-text", "body"))
	assert.Equal(t, "body", StripPrefix("passage: body"))
	assert.Equal(t, "q", StripPrefix("query: q"))
	assert.Equal(t, "none", StripPrefix("none"))
}

func TestIsGPUError(t *testing.T) {
	assert.True(t, IsGPUError(domain.ErrGPUFailure))
	assert.True(t, IsGPUError(errors.New("CUDA out of memory")))
	assert.True(t, IsGPUError(errors.New("DirectML device removed")))
	assert.False(t, IsGPUError(errors.New("connection refused")))
	assert.False(t, IsGPUError(errors.New("write model cache: no space left on device")))
	assert.False(t, IsGPUError(errors.New("open /dev/sda: no such device")))
	assert.False(t, IsGPUError(nil))
}

func TestQueryCache(t *testing.T) {
	c := NewQueryCache(8, time.Minute)
	var loads atomic.Int32
	load := func(context.Context) ([]float32, error) {
		loads.Add(1)
		time.Sleep(10 * time.Millisecond)
		return []float32{1, 2}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k", load)
			assert.NoError(t, err)
			assert.Equal(t, []float32{1, 2}, v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), loads.Load())

	v, err := c.Get(context.Background(), "k", load)
	require.NoError(t, err)
	v[0] = 99
	again, err := c.Get(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, float32(1), again[0], "cached vector must not be shared")

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), misses)
	assert.GreaterOrEqual(t, hits, int64(2))
}

func TestQueryCache_ErrorsNotCached(t *testing.T) {
	c := NewQueryCache(8, time.Minute)
	calls := 0
	load := func(context.Context) ([]float32, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return []float32{1}, nil
	}
	_, err := c.Get(context.Background(), "k", load)
	assert.Error(t, err)
	_, err = c.Get(context.Background(), "k", load)
	assert.NoError(t, err)
}

func TestQueryCache_Disabled(t *testing.T) {
	c := NewQueryCache(0, time.Minute)
	assert.Nil(t, c)
	v, err := c.Get(context.Background(), "k", func(context.Context) ([]float32, error) { return []float32{3}, nil })
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, v)
	c.Purge()
}

// stubBackend is a backend with a fixed probe result.
type stubBackend struct {
	name     string
	priority int
	probe    error
	dims     int
}

func (b *stubBackend) Name() string                { return b.name }
func (b *stubBackend) Priority() int               { return b.priority }
func (b *stubBackend) Probe(context.Context) error { return b.probe }

func (b *stubBackend) Load(_ context.Context, cfg domain.ResolvedEmbedderConfig) (Model, error) {
	if cfg.Device.IsGPU() {
		return nil, fmt.Errorf("cuda driver too old: %w", domain.ErrGPUFailure)
	}
	return &stubModel{dims: b.dims}, nil
}

type stubModel struct {
	dims int
}

func (m *stubModel) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, m.dims)
	}
	return out, nil
}

func (m *stubModel) Dimensions() int { return m.dims }
func (m *stubModel) Close() error    { return nil }

func TestBackendRegistryConformance(t *testing.T) {
	registrytest.RunConformance(t, "embedding backend", func(name string, priority int) Backend {
		return &stubBackend{name: name, priority: priority}
	})
}

func TestSelectBackend(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubBackend{name: "remote", priority: 50, probe: errors.New("unreachable")}))
	require.NoError(t, reg.Register(&stubBackend{name: "local", priority: 10}))

	b, err := SelectBackend(context.Background(), reg, BackendAuto)
	require.NoError(t, err)
	assert.Equal(t, "local", b.Name())

	_, err = SelectBackend(context.Background(), reg, "remote")
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)

	_, err = SelectBackend(context.Background(), reg, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = SelectBackend(context.Background(), NewRegistry(), "")
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestInProcess(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubBackend{name: "stub", priority: 1, dims: 4}))
	r := NewInProcess(reg)

	_, err := r.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)

	loaded, err := r.Start(context.Background(), domain.ResolvedEmbedderConfig{Backend: "auto", Device: domain.DeviceCPU})
	require.NoError(t, err)
	assert.Equal(t, Loaded{Backend: "stub", Dimensions: 4}, loaded)

	_, err = r.Start(context.Background(), domain.ResolvedEmbedderConfig{Backend: "stub", Device: domain.DeviceCUDA})
	assert.ErrorIs(t, err, domain.ErrGPUFailure)

	vecs, err := r.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	require.NoError(t, r.Close())
}
