package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/flarexio/ragblade/rag"
	"github.com/flarexio/ragblade/vector"
)

type Config struct {
	K          int     `json:"k" yaml:"k"`
	UnitBudget int     `json:"unit_budget" yaml:"unitBudget"`
	MinScore   float64 `json:"min_score,omitempty" yaml:"minScore"`
}

func (cfg Config) Validate() error {
	if cfg.K <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", rag.ErrInvalidInput, cfg.K)
	}

	if cfg.UnitBudget <= 0 {
		return fmt.Errorf("%w: unitBudget must be positive, got %d", rag.ErrInvalidInput, cfg.UnitBudget)
	}

	return nil
}

// QueryEmbedder is the part of the embedder a retriever needs.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

type Retriever struct {
	embedder   QueryEmbedder
	index      vector.Index
	collection string
	cfg        Config
}

func New(embedder QueryEmbedder, index vector.Index, collection string, cfg Config) (*Retriever, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Retriever{embedder, index, collection, cfg}, nil
}

func (r *Retriever) Config() Config {
	return r.cfg
}

// Retrieve returns at most k fragments ranked by similarity to query. A k of
// zero or less uses the configured K. Hits scoring below MinScore are
// dropped. Failures carry the retrieval stage.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, filter vector.Filter) (vector.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, rag.Wrap(rag.StageRetrieval, "retrieve",
			fmt.Errorf("%w: empty query", rag.ErrInvalidInput))
	}

	if k <= 0 {
		k = r.cfg.K
	}

	vec, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, rag.Wrap(rag.StageRetrieval, "embed query", err)
	}

	result, err := r.index.Search(ctx, r.collection, vec, k, filter)
	if err != nil {
		return nil, rag.Wrap(rag.StageRetrieval, "search", err)
	}

	if r.cfg.MinScore > 0 {
		result = Above(result, r.cfg.MinScore)
	}

	return result, nil
}

// Above keeps the hits scoring at least floor; result order is preserved.
func Above(result vector.Result, floor float64) vector.Result {
	kept := make(vector.Result, 0, len(result))
	for _, hit := range result {
		if hit.Score >= floor {
			kept = append(kept, hit)
		}
	}

	return kept
}
