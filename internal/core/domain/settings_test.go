package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultSettings_Valid tests that built-in defaults pass validation
func TestDefaultSettings_Valid(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	assert.Equal(t, BackendSQLite, s.Storage.Backend)
	assert.Equal(t, 1000, s.Chunking.MaxChunkSize)
	assert.Equal(t, 200, s.Chunking.ChunkOverlap)
	assert.Equal(t, "multilingual-e5-small", s.Embedding.Model)
	assert.Equal(t, 384, s.Embedding.Dimensions)
	assert.Equal(t, 16, s.Embedding.BatchSize)
	assert.Equal(t, 60, s.Search.RRFK)
	assert.Equal(t, StrategyHybrid, s.Search.DefaultStrategy)
}

// TestSettings_Validate tests rejection of settings that cannot be honoured
func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"unknown backend", func(s *Settings) { s.Storage.Backend = "mongo" }},
		{"postgres without dsn", func(s *Settings) { s.Storage.Backend = BackendPostgres }},
		{"zero chunk size", func(s *Settings) { s.Chunking.MaxChunkSize = 0 }},
		{"overlap equals size", func(s *Settings) { s.Chunking.ChunkOverlap = s.Chunking.MaxChunkSize }},
		{"negative overlap", func(s *Settings) { s.Chunking.ChunkOverlap = -1 }},
		{"unknown device", func(s *Settings) { s.Embedding.Device = "tpu" }},
		{"unknown quantization", func(s *Settings) { s.Embedding.Quantization = "int2" }},
		{"zero batch", func(s *Settings) { s.Embedding.BatchSize = 0 }},
		{"unknown isolation", func(s *Settings) { s.Indexing.Isolation = "vm" }},
		{"unknown strategy", func(s *Settings) { s.Search.DefaultStrategy = "llm" }},
		{"unknown diversity", func(s *Settings) { s.Search.Diversity = "random" }},
		{"negative weight", func(s *Settings) { s.Search.KeywordWeight = -0.1 }},
		{"decay above one", func(s *Settings) { s.Search.DecayFactor = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

// TestDuration_Text tests config file encoding of durations
func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Std())

	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))

	assert.ErrorIs(t, d.UnmarshalText([]byte("soon")), ErrInvalidConfiguration)
}

// TestSearchStrategy tests strategy helpers
func TestSearchStrategy(t *testing.T) {
	assert.True(t, StrategyHybrid.UsesSemantic())
	assert.True(t, StrategyHybrid.UsesKeyword())
	assert.True(t, StrategySemantic.UsesSemantic())
	assert.False(t, StrategySemantic.UsesKeyword())
	assert.False(t, StrategyKeyword.UsesSemantic())
	assert.False(t, SearchStrategy("fuzzy").IsValid())
}

// TestProgress tests progress arithmetic
func TestProgress(t *testing.T) {
	p := Progress{Processed: 1, Total: 4}
	assert.InDelta(t, 25.0, p.Percent(), 0.001)
	assert.False(t, p.Done())

	p.Processed = 4
	assert.True(t, p.Done())
	assert.Zero(t, Progress{}.Percent())
}

// TestOCRResult_Text tests joining of recognised regions
func TestOCRResult_Text(t *testing.T) {
	r := &OCRResult{Regions: []OCRRegionResult{
		{Region: OCRRegion{Page: 1}, Text: "first"},
		{Region: OCRRegion{Page: 2}, Err: "timeout"},
		{Region: OCRRegion{Page: 3}, Text: "third"},
	}}
	assert.Equal(t, "first\n\nthird", r.Text())
}
