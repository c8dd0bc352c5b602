// Package memory is the in-process vector index. Each collection points at an
// immutable generation; loads build the next generation aside and publish it
// with a single pointer store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/flarexio/ragblade/rag"
	"github.com/flarexio/ragblade/vector"
)

type generation struct {
	number  uint64
	cfg     vector.CollectionConfig
	records map[string]vector.Record // by key
}

func (g *generation) info() vector.Info {
	return vector.Info{
		CollectionConfig: g.cfg,
		Generation:       g.number,
		Count:            len(g.records),
	}
}

type collection struct {
	sync.Mutex // serializes writers
	dropped    bool
	current    atomic.Pointer[generation]
}

func NewIndex() *Index {
	return &Index{
		collections: make(map[string]*collection),
		log:         zap.L().With(zap.String("index", "memory")),
	}
}

type Index struct {
	mu          sync.RWMutex
	collections map[string]*collection
	log         *zap.Logger
}

func (idx *Index) lookup(name string) (*collection, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	c, ok := idx.collections[name]
	return c, ok
}

func (idx *Index) lookupOrCreate(name string) *collection {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	c, ok := idx.collections[name]
	if !ok {
		c = new(collection)
		idx.collections[name] = c
	}

	return c
}

// lock returns the live collection with its writer lock held.
func (idx *Index) lock(name string) *collection {
	for {
		c := idx.lookupOrCreate(name)
		c.Lock()

		if !c.dropped {
			return c
		}

		c.Unlock()
	}
}

func (idx *Index) Load(ctx context.Context, cfg vector.CollectionConfig, records []vector.Record) (vector.Info, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return vector.Info{}, err
	}

	if err := vector.CheckRecords(cfg.Dimensions, records); err != nil {
		return vector.Info{}, err
	}

	c := idx.lock(cfg.Name)
	defer c.Unlock()

	current := c.current.Load()
	if current != nil {
		if err := vector.CheckCompatible(current.cfg, cfg); err != nil {
			return vector.Info{}, err
		}
	}

	next := &generation{
		number:  1,
		cfg:     cfg,
		records: make(map[string]vector.Record, len(records)),
	}

	if current != nil {
		next.number = current.number + 1

		if !cfg.Overwrite {
			for key, r := range current.records {
				next.records[key] = r
			}
		}
	}

	for i, r := range records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return vector.Info{}, fmt.Errorf("load %s: %w", cfg.Name, err)
			}
		}

		next.records[vector.Key(cfg.KeyPrefix, r.ID)] = vector.Record{
			ID:       r.ID,
			Vector:   append([]float32(nil), r.Vector...),
			Content:  r.Content,
			Metadata: vector.CloneMetadata(r.Metadata),
		}
	}

	c.current.Store(next)

	idx.log.Debug("generation published",
		zap.String("collection", cfg.Name),
		zap.Uint64("generation", next.number),
		zap.Int("count", len(next.records)),
	)

	return next.info(), nil
}

func (idx *Index) active(name string) (*generation, error) {
	c, ok := idx.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", rag.ErrUnknownCollection, name)
	}

	g := c.current.Load()
	if g == nil {
		return nil, fmt.Errorf("%w: %s", rag.ErrUnknownCollection, name)
	}

	return g, nil
}

func (idx *Index) Search(ctx context.Context, name string, query []float32, k int, filter vector.Filter) (vector.Result, error) {
	g, err := idx.active(name)
	if err != nil {
		return nil, err
	}

	if err := vector.CheckQuery(g.cfg.Dimensions, query, k); err != nil {
		return nil, err
	}

	hits := make([]vector.Hit, 0, len(g.records))
	for _, r := range g.records {
		if !filter.Match(r.Metadata) {
			continue
		}

		hits = append(hits, vector.Hit{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: vector.CloneMetadata(r.Metadata),
			Score:    vector.Score(g.cfg.Metric, query, r.Vector),
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return vector.Rank(hits, k), nil
}

func (idx *Index) Drop(ctx context.Context, name string) error {
	c, ok := idx.lookup(name)
	if !ok {
		return nil
	}

	c.Lock()
	defer c.Unlock()

	idx.mu.Lock()
	if idx.collections[name] == c {
		delete(idx.collections, name)
	}
	idx.mu.Unlock()

	c.dropped = true
	c.current.Store(nil)

	idx.log.Debug("collection dropped", zap.String("collection", name))
	return nil
}

func (idx *Index) Describe(ctx context.Context, name string) (vector.Info, error) {
	g, err := idx.active(name)
	if err != nil {
		return vector.Info{}, err
	}

	return g.info(), nil
}

func (idx *Index) Close() error {
	return nil
}
