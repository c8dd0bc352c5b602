// Package embedder turns fragment text into vectors through an external
// EmbeddingService. Texts are sent in batches by a bounded worker pool; every
// call is rate limited, bounded by a timeout and retried while the failure
// is transient.
package embedder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/flarexio/ragblade/rag"
)

type Config struct {
	Dimensions        int
	BatchSize         int
	Concurrency       int
	MaxAttempts       int
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// defaultTimeout bounds each embedding call when Timeout is unset.
var defaultTimeout = 30 * time.Second

func (cfg Config) withDefaults() Config {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return cfg
}

type Cache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool, error)
	Put(ctx context.Context, model, text string, vec []float32) error
}

type Option func(*Embedder)

func WithCache(cache Cache) Option {
	return func(e *Embedder) {
		e.cache = cache
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Embedder) {
		e.log = log
	}
}

func WithBackoff(b rag.Backoff) Option {
	return func(e *Embedder) {
		e.backoff = b
	}
}

func New(svc rag.EmbeddingService, cfg Config, opts ...Option) (*Embedder, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: embedding dimensions must be positive", rag.ErrInvalidInput)
	}

	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	backoff := rag.DefaultBackoff()
	backoff.MaxAttempts = cfg.MaxAttempts

	e := &Embedder{
		svc:     svc,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		backoff: backoff,
		log:     zap.L(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.log = e.log.With(zap.String("model", svc.Model()))

	return e, nil
}

type Embedder struct {
	svc     rag.EmbeddingService
	cfg     Config
	limiter *rate.Limiter
	backoff rag.Backoff
	cache   Cache
	log     *zap.Logger
}

func (e *Embedder) Dimensions() int {
	return e.cfg.Dimensions
}

func (e *Embedder) Model() string {
	return e.svc.Model()
}

// EmbedBatch returns one vector per fragment, in fragment order.
func (e *Embedder) EmbedBatch(ctx context.Context, fragments []rag.Fragment) ([][]float32, error) {
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Text
	}

	return e.EmbedTexts(ctx, texts)
}

// EmbedTexts returns one vector per text, in input order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	missing := make([]int, 0, len(texts))
	for i, text := range texts {
		if vec, ok := e.cached(ctx, text); ok {
			vectors[i] = vec
			continue
		}

		missing = append(missing, i)
	}

	if len(missing) == 0 {
		return vectors, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for start := 0; start < len(missing); start += e.cfg.BatchSize {
		batch := missing[start:min(start+e.cfg.BatchSize, len(missing))]

		g.Go(func() error {
			batchTexts := make([]string, len(batch))
			for j, i := range batch {
				batchTexts[j] = texts[i]
			}

			vecs, err := e.embed(gctx, batchTexts)
			if err != nil {
				return err
			}

			for j, i := range batch {
				vectors[i] = vecs[j]
				e.store(gctx, texts[i], vecs[j])
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.log.Debug("texts embedded",
		zap.Int("texts", len(texts)),
		zap.Int("cached", len(texts)-len(missing)),
	)

	return vectors, nil
}

// EmbedOne embeds a single text, typically a query.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cached(ctx, text); ok {
		return vec, nil
	}

	var vec []float32
	err := rag.Retry(ctx, e.backoff, func(ctx context.Context) error {
		if err := e.wait(ctx); err != nil {
			return err
		}

		v, err := rag.Call(ctx, e.cfg.Timeout, func(ctx context.Context) ([]float32, error) {
			return e.svc.Embed(ctx, text)
		})
		if err != nil {
			return err
		}

		vec = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	if len(vec) != e.cfg.Dimensions {
		return nil, fmt.Errorf("%w: model returned %d dimensions, want %d",
			rag.ErrDimensionMismatch, len(vec), e.cfg.Dimensions)
	}

	e.store(ctx, text, vec)
	return vec, nil
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := rag.Retry(ctx, e.backoff, func(ctx context.Context) error {
		if err := e.wait(ctx); err != nil {
			return err
		}

		v, err := rag.Call(ctx, e.cfg.Timeout, func(ctx context.Context) ([][]float32, error) {
			return e.svc.EmbedBatch(ctx, texts)
		})
		if err != nil {
			e.log.Debug("embedding batch failed", zap.Int("size", len(texts)), zap.Error(err))
			return err
		}

		vecs = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}

	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: model returned %d vectors for %d texts",
			rag.ErrDimensionMismatch, len(vecs), len(texts))
	}

	for i, vec := range vecs {
		if len(vec) != e.cfg.Dimensions {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d",
				rag.ErrDimensionMismatch, i, len(vec), e.cfg.Dimensions)
		}
	}

	return vecs, nil
}

func (e *Embedder) wait(ctx context.Context) error {
	if err := e.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		return fmt.Errorf("%w: %w", rag.ErrTimeout, err)
	}

	return nil
}

func (e *Embedder) cached(ctx context.Context, text string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}

	vec, ok, err := e.cache.Get(ctx, e.svc.Model(), text)
	if err != nil {
		e.log.Warn("embedding cache read failed", zap.Error(err))
		return nil, false
	}

	if !ok || len(vec) != e.cfg.Dimensions {
		return nil, false
	}

	return vec, true
}

func (e *Embedder) store(ctx context.Context, text string, vec []float32) {
	if e.cache == nil {
		return
	}

	if err := e.cache.Put(ctx, e.svc.Model(), text, vec); err != nil {
		e.log.Warn("embedding cache write failed", zap.Error(err))
	}
}
