package domain

import (
	"fmt"
	"time"
)

// StorageBackend names a persistence backend.
type StorageBackend string

// Available storage backends.
const (
	BackendSQLite   StorageBackend = "sqlite"
	BackendPostgres StorageBackend = "postgres"
	BackendBadger   StorageBackend = "badger"
	BackendMemory   StorageBackend = "memory"
)

// IsValid returns true if the backend is recognised.
func (b StorageBackend) IsValid() bool {
	switch b {
	case BackendSQLite, BackendPostgres, BackendBadger, BackendMemory:
		return true
	default:
		return false
	}
}

// Isolation selects where embedding and OCR run.
type Isolation string

// Isolation modes.
const (
	// IsolationInProcess runs models inside the orchestrator.
	IsolationInProcess Isolation = "in_process"

	// IsolationChild runs models in supervised worker processes.
	IsolationChild Isolation = "child"
)

// IsValid returns true if the isolation mode is recognised.
func (i Isolation) IsValid() bool {
	return i == IsolationInProcess || i == IsolationChild
}

// Duration is a time.Duration that encodes as a string in config files.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfiguration, b, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// StorageSettings configures persistence.
type StorageSettings struct {
	Backend     StorageBackend `toml:"backend"`
	DataDir     string         `toml:"data_dir"`
	PostgresDSN string         `toml:"postgres_dsn,omitempty"`
}

// ChunkingSettings configures text splitting.
type ChunkingSettings struct {
	Strategy           string `toml:"strategy"`
	MaxChunkSize       int    `toml:"max_chunk_size"`
	ChunkOverlap       int    `toml:"chunk_overlap"`
	PreserveParagraphs bool   `toml:"preserve_paragraphs"`
	PreserveSentences  bool   `toml:"preserve_sentences"`
}

// EmbeddingSettings configures the embedding subsystem.
type EmbeddingSettings struct {
	// Backend names the embedding provider, or "auto".
	Backend      string       `toml:"backend"`
	Model        string       `toml:"model"`
	Dimensions   int          `toml:"dimensions"`
	Device       Device       `toml:"device"`
	Quantization Quantization `toml:"quantization"`
	PreferGPU    bool         `toml:"prefer_gpu"`
	BatchSize    int          `toml:"batch_size"`
	Workers      int          `toml:"workers"`
	OllamaURL    string       `toml:"ollama_url"`
	CacheSize    int          `toml:"cache_size"`
	CacheTTL     Duration     `toml:"cache_ttl"`
}

// OCRSettings configures text recognition.
type OCRSettings struct {
	Enabled       bool     `toml:"enabled"`
	Languages     []string `toml:"languages"`
	Concurrency   int      `toml:"concurrency"`
	MinPageChars  int      `toml:"min_page_chars"`
	MinConfidence float64  `toml:"min_confidence"`
}

// IndexingSettings configures the pipeline.
type IndexingSettings struct {
	Isolation              Isolation `toml:"isolation"`
	MaxConcurrentDocuments int       `toml:"max_concurrent_documents"`
	BatchSize              int       `toml:"batch_size"`
	MaxRetries             int       `toml:"max_retries"`
	StorageRetries         int       `toml:"storage_retries"`
	MessageTimeout         Duration  `toml:"message_timeout"`
	FollowHidden           bool      `toml:"follow_hidden"`
	Ignore                 []string  `toml:"ignore"`
	WorkerCommand          []string  `toml:"worker_command,omitempty"`
}

// SearchSettings configures query defaults.
type SearchSettings struct {
	DefaultStrategy SearchStrategy    `toml:"default_strategy"`
	DefaultLimit    int               `toml:"default_limit"`
	SemanticWeight  float64           `toml:"semantic_weight"`
	KeywordWeight   float64           `toml:"keyword_weight"`
	RRFK            int               `toml:"rrf_k"`
	Diversity       DiversityStrategy `toml:"diversity"`
	MaxPerDocument  int               `toml:"max_per_document"`
	DecayFactor     float64           `toml:"decay_factor"`
	DedupThreshold  float64           `toml:"dedup_threshold"`
	HighlightTag    string            `toml:"highlight_tag"`
	SnippetLength   int               `toml:"snippet_length"`
	Timeout         Duration          `toml:"timeout"`
}

// ScheduleSettings configures periodic sync.
type ScheduleSettings struct {
	// SyncCron is a cron expression, empty disables scheduling.
	SyncCron string   `toml:"sync_cron"`
	Roots    []string `toml:"roots"`
}

// LoggingSettings configures log output.
type LoggingSettings struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Settings is the complete application configuration.
type Settings struct {
	Storage   StorageSettings   `toml:"storage"`
	Chunking  ChunkingSettings  `toml:"chunking"`
	Embedding EmbeddingSettings `toml:"embedding"`
	OCR       OCRSettings       `toml:"ocr"`
	Indexing  IndexingSettings  `toml:"indexing"`
	Search    SearchSettings    `toml:"search"`
	Schedule  ScheduleSettings  `toml:"schedule"`
	Logging   LoggingSettings   `toml:"logging"`

	// EmbedderHistory records every embedder resolution, newest last.
	EmbedderHistory []ResolvedEmbedderConfig `toml:"embedder_history,omitempty"`
}

// DefaultSettings returns the built-in configuration.
func DefaultSettings() Settings {
	return Settings{
		Storage: StorageSettings{
			Backend: BackendSQLite,
		},
		Chunking: ChunkingSettings{
			Strategy:           "recursive",
			MaxChunkSize:       1000,
			ChunkOverlap:       200,
			PreserveParagraphs: true,
			PreserveSentences:  true,
		},
		Embedding: EmbeddingSettings{
			Backend:      "auto",
			Model:        "multilingual-e5-small",
			Dimensions:   384,
			Device:       DeviceAuto,
			Quantization: QuantAuto,
			PreferGPU:    true,
			BatchSize:    16,
			Workers:      1,
			OllamaURL:    "http://localhost:11434",
			CacheSize:    256,
			CacheTTL:     Duration(10 * time.Minute),
		},
		OCR: OCRSettings{
			Enabled:       true,
			Languages:     []string{"eng"},
			Concurrency:   1,
			MinPageChars:  32,
			MinConfidence: 60,
		},
		Indexing: IndexingSettings{
			Isolation:              IsolationInProcess,
			MaxConcurrentDocuments: 4,
			BatchSize:              32,
			MaxRetries:             2,
			StorageRetries:         5,
			MessageTimeout:         Duration(2 * time.Minute),
			Ignore:                 []string{"node_modules", "vendor", "__pycache__"},
		},
		Search: SearchSettings{
			DefaultStrategy: StrategyHybrid,
			DefaultLimit:    10,
			SemanticWeight:  0.5,
			KeywordWeight:   0.5,
			RRFK:            60,
			Diversity:       DiversityCapThenFill,
			MaxPerDocument:  3,
			DecayFactor:     0.5,
			HighlightTag:    "mark",
			SnippetLength:   200,
			Timeout:         Duration(30 * time.Second),
		},
		Logging: LoggingSettings{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Validate reports the first setting that cannot be honoured.
//
//nolint:gocyclo // flat list of independent checks
func (s Settings) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
	}
	if !s.Storage.Backend.IsValid() {
		return invalid("unknown storage backend %q", s.Storage.Backend)
	}
	if s.Storage.Backend == BackendPostgres && s.Storage.PostgresDSN == "" {
		return invalid("postgres backend requires storage.postgres_dsn")
	}
	if s.Chunking.MaxChunkSize <= 0 {
		return invalid("chunking.max_chunk_size must be positive")
	}
	if s.Chunking.ChunkOverlap < 0 || s.Chunking.ChunkOverlap >= s.Chunking.MaxChunkSize {
		return invalid("chunking.chunk_overlap must be in [0, %d)", s.Chunking.MaxChunkSize)
	}
	if !s.Embedding.Device.IsValid() {
		return invalid("unknown embedding device %q", s.Embedding.Device)
	}
	if !s.Embedding.Quantization.IsValid() {
		return invalid("unknown quantization %q", s.Embedding.Quantization)
	}
	if s.Embedding.BatchSize <= 0 {
		return invalid("embedding.batch_size must be positive")
	}
	if s.Embedding.Dimensions <= 0 {
		return invalid("embedding.dimensions must be positive")
	}
	if !s.Indexing.Isolation.IsValid() {
		return invalid("unknown isolation %q", s.Indexing.Isolation)
	}
	if s.Indexing.MaxConcurrentDocuments <= 0 {
		return invalid("indexing.max_concurrent_documents must be positive")
	}
	if !s.Search.DefaultStrategy.IsValid() {
		return invalid("unknown search strategy %q", s.Search.DefaultStrategy)
	}
	if !s.Search.Diversity.IsValid() {
		return invalid("unknown diversity strategy %q", s.Search.Diversity)
	}
	if s.Search.SemanticWeight < 0 || s.Search.KeywordWeight < 0 {
		return invalid("search weights must not be negative")
	}
	if s.Search.DecayFactor < 0 || s.Search.DecayFactor > 1 {
		return invalid("search.decay_factor must be in [0, 1]")
	}
	return nil
}
