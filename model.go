package ragblade

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flarexio/ragblade/chunker"
	"github.com/flarexio/ragblade/embedder"
	"github.com/flarexio/ragblade/packer"
	"github.com/flarexio/ragblade/provider"
	"github.com/flarexio/ragblade/rag"
	"github.com/flarexio/ragblade/retriever"
	"github.com/flarexio/ragblade/vector"
)

var (
	ErrInvalidRequest    = errors.New("invalid request type")
	ErrInvalidResponse   = errors.New("invalid response type")
	ErrNotImplemented    = errors.New("method not implemented")
	ErrUnsupportedEngine = errors.New("unsupported index engine")
	ErrEmptyDocumentID   = errors.New("document id is required")
	ErrDuplicateDocument = errors.New("duplicate document id")
	ErrEmbeddingNotSet   = errors.New("embedding service not set")
	ErrGeneratorNotSet   = errors.New("generation service not set")
	ErrVectorIndexNotSet = errors.New("vector index not set")
)

type Config struct {
	Collection vector.CollectionConfig `json:"collection" yaml:"collection"`
	Chunking   chunker.Config          `json:"chunking" yaml:"chunking"`
	Retrieval  retriever.Config        `json:"retrieval" yaml:"retrieval"`
	Embedding  EmbeddingConfig         `json:"embedding" yaml:"embedding"`
	Generation GenerationConfig        `json:"generation" yaml:"generation"`
	Provider   provider.Config         `json:"-" yaml:"provider"`
	Index      IndexConfig             `json:"index" yaml:"index"`
}

func (cfg Config) Validate() error {
	if err := cfg.Collection.Validate(); err != nil {
		return fmt.Errorf("collection: %w", err)
	}

	if err := cfg.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}

	if err := cfg.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}

	if cfg.Embedding.Timeout < 0 {
		return fmt.Errorf("embedding: %w: timeout must not be negative", rag.ErrInvalidInput)
	}

	if cfg.Generation.Timeout < 0 {
		return fmt.Errorf("generation: %w: timeout must not be negative", rag.ErrInvalidInput)
	}

	if cfg.Generation.MaxPromptUnits < 0 {
		return fmt.Errorf("generation: %w: maxPromptUnits must not be negative", rag.ErrInvalidInput)
	}

	switch cfg.Index.Engine {
	case "", EngineMemory, EngineChromem, EnginePGVector:
	default:
		return fmt.Errorf("index: %w: %s", ErrUnsupportedEngine, cfg.Index.Engine)
	}

	return nil
}

type EmbeddingConfig struct {
	BatchSize         int      `json:"batch_size,omitempty" yaml:"batchSize"`
	Concurrency       int      `json:"concurrency,omitempty" yaml:"concurrency"`
	MaxAttempts       int      `json:"max_attempts,omitempty" yaml:"maxAttempts"`
	Timeout           Duration `json:"timeout,omitempty" yaml:"timeout"`
	RequestsPerSecond float64  `json:"requests_per_second,omitempty" yaml:"requestsPerSecond"`
	Burst             int      `json:"burst,omitempty" yaml:"burst"`
	Cache             string   `json:"cache,omitempty" yaml:"cache"`
}

// Embedder derives the embedder settings; dimensions come from the
// collection so the two can never disagree.
func (cfg EmbeddingConfig) Embedder(dims int) embedder.Config {
	return embedder.Config{
		Dimensions:        dims,
		BatchSize:         cfg.BatchSize,
		Concurrency:       cfg.Concurrency,
		MaxAttempts:       cfg.MaxAttempts,
		Timeout:           cfg.Timeout.Duration(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}
}

type GenerationConfig struct {
	Timeout        Duration `json:"timeout,omitempty" yaml:"timeout"`
	MaxAttempts    int      `json:"max_attempts,omitempty" yaml:"maxAttempts"`
	MaxPromptUnits int      `json:"max_prompt_units,omitempty" yaml:"maxPromptUnits"`
	Instruction    string   `json:"instruction,omitempty" yaml:"instruction"`
}

// defaultGenerationTimeout bounds each generation call when the config
// leaves the timeout unset.
var defaultGenerationTimeout = 60 * time.Second

func (cfg GenerationConfig) timeout() time.Duration {
	if cfg.Timeout <= 0 {
		return defaultGenerationTimeout
	}

	return cfg.Timeout.Duration()
}

func (cfg GenerationConfig) backoff() rag.Backoff {
	b := rag.DefaultBackoff()
	b.MaxAttempts = max(cfg.MaxAttempts, 1)
	return b
}

func (cfg GenerationConfig) instruction() string {
	if cfg.Instruction == "" {
		return rag.DefaultInstruction
	}

	return cfg.Instruction
}

type IndexEngine string

const (
	EngineMemory   IndexEngine = "memory"
	EngineChromem  IndexEngine = "chromem"
	EnginePGVector IndexEngine = "pgvector"
)

type IndexConfig struct {
	Engine   IndexEngine `json:"engine" yaml:"engine"`
	Path     string      `json:"path,omitempty" yaml:"path"`
	Compress bool        `json:"compress,omitempty" yaml:"compress"`
	DSN      string      `json:"-" yaml:"dsn"`
	Debug    bool        `json:"debug,omitempty" yaml:"debug"`
}

type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	str := d.Duration().String()
	return json.Marshal(str)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration().String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

// IngestReport summarises one ingestion run.
type IngestReport struct {
	RunID      string   `json:"run_id"`
	Collection string   `json:"collection"`
	Documents  int      `json:"documents"`
	Fragments  int      `json:"fragments"`
	Generation uint64   `json:"generation"`
	Duration   Duration `json:"duration"`
}

type Answer struct {
	Question  string   `json:"question"`
	Text      string   `json:"answer"`
	Fragments []string `json:"fragments"`
	Units     int      `json:"context_units"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Grounded reports whether any retrieved context reached the prompt.
func (a Answer) Grounded() bool {
	return len(a.Fragments) > 0
}

func newAnswer(question, text string, packed packer.Context) Answer {
	fragments := packed.Fragments
	if fragments == nil {
		fragments = []string{}
	}

	return Answer{
		Question:  question,
		Text:      text,
		Fragments: fragments,
		Units:     packed.Units,
		Truncated: packed.Truncated,
	}
}
