// Package chromem runs the vector index on chromem-go. Every generation of a
// logical collection is its own chromem collection; an alias table maps the
// logical name onto the active one.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/flarexio/ragblade/rag"
	"github.com/flarexio/ragblade/vector"
)

const aliasFile = "aliases.yaml"

var physicalPattern = regexp.MustCompile(`_g\d+$`)

type Config struct {
	Persistent bool   `yaml:"persistent"`
	Path       string `yaml:"path"`
	Compress   bool   `yaml:"compress"`
}

type alias struct {
	Physical   string                  `yaml:"physical"`
	Generation uint64                  `yaml:"generation"`
	Count      int                     `yaml:"count"`
	Collection vector.CollectionConfig `yaml:"collection"`
}

func (a alias) info() vector.Info {
	return vector.Info{
		CollectionConfig: a.Collection,
		Generation:       a.Generation,
		Count:            a.Count,
	}
}

type aliasTable struct {
	Collections map[string]alias `yaml:"collections"`
}

// upstreamEmbeddings is handed to chromem so it never embeds on its own;
// every document arrives with its vector.
func upstreamEmbeddings(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("chromem: embeddings are computed upstream")
}

func NewIndex(cfg Config) (*Index, error) {
	idx := &Index{
		aliases: make(map[string]alias),
		writers: make(map[string]*sync.Mutex),
		log:     zap.L().With(zap.String("index", "chromem")),
	}

	if !cfg.Persistent {
		idx.db = chromem.NewDB()
		return idx, nil
	}

	db, err := chromem.NewPersistentDB(filepath.Join(cfg.Path, "collections"), cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrUnavailable, err)
	}

	idx.db = db
	idx.path = filepath.Join(cfg.Path, aliasFile)

	if err := idx.readAliases(); err != nil {
		return nil, err
	}

	idx.collectOrphans()

	return idx, nil
}

type Index struct {
	db   *chromem.DB
	path string

	mu      sync.RWMutex
	aliases map[string]alias

	writersMu sync.Mutex
	writers   map[string]*sync.Mutex

	log *zap.Logger
}

func (idx *Index) readAliases() error {
	bs, err := os.ReadFile(idx.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("%w: %w", rag.ErrUnavailable, err)
	}

	var table aliasTable
	if err := yaml.Unmarshal(bs, &table); err != nil {
		return fmt.Errorf("%w: alias table: %w", rag.ErrParse, err)
	}

	if table.Collections != nil {
		idx.aliases = table.Collections
	}

	return nil
}

// writeAliases replaces the alias file through a rename so a crash leaves
// either the old or the new table on disk. Callers hold idx.mu.
func (idx *Index) writeAliases(aliases map[string]alias) error {
	if idx.path == "" {
		return nil
	}

	bs, err := yaml.Marshal(aliasTable{aliases})
	if err != nil {
		return err
	}

	dir := filepath.Dir(idx.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "aliases-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(bs); err != nil {
		f.Close()
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), idx.path)
}

// collectOrphans deletes generation collections that no alias points at,
// left behind by a build that never got published.
func (idx *Index) collectOrphans() {
	active := make(map[string]bool, len(idx.aliases))
	for _, a := range idx.aliases {
		active[a.Physical] = true
	}

	for name := range idx.db.ListCollections() {
		if active[name] || !physicalPattern.MatchString(name) {
			continue
		}

		if err := idx.db.DeleteCollection(name); err != nil {
			idx.log.Warn("orphan not deleted", zap.String("physical", name), zap.Error(err))
			continue
		}

		idx.log.Info("orphan deleted", zap.String("physical", name))
	}
}

func (idx *Index) writer(name string) *sync.Mutex {
	idx.writersMu.Lock()
	defer idx.writersMu.Unlock()

	w, ok := idx.writers[name]
	if !ok {
		w = new(sync.Mutex)
		idx.writers[name] = w
	}

	return w
}

func (idx *Index) alias(name string) (alias, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	a, ok := idx.aliases[name]
	return a, ok
}

func physicalName(cfg vector.CollectionConfig, gen uint64) string {
	if cfg.KeyPrefix == "" {
		return fmt.Sprintf("%s_g%d", cfg.Name, gen)
	}

	return fmt.Sprintf("%s_%s_g%d", cfg.KeyPrefix, cfg.Name, gen)
}

func (idx *Index) Load(ctx context.Context, cfg vector.CollectionConfig, records []vector.Record) (vector.Info, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return vector.Info{}, err
	}

	if cfg.Metric != vector.Cosine {
		return vector.Info{}, fmt.Errorf("%w: chromem supports the cosine metric only", rag.ErrInvalidInput)
	}

	if err := vector.CheckRecords(cfg.Dimensions, records); err != nil {
		return vector.Info{}, err
	}

	w := idx.writer(cfg.Name)
	w.Lock()
	defer w.Unlock()

	current, exists := idx.alias(cfg.Name)
	if exists {
		if err := vector.CheckCompatible(current.Collection, cfg); err != nil {
			return vector.Info{}, err
		}
	}

	if err := ctx.Err(); err != nil {
		return vector.Info{}, fmt.Errorf("load %s: %w", cfg.Name, err)
	}

	docs := make(map[string]chromem.Document, len(records))
	if exists && !cfg.Overwrite {
		existing, err := idx.scan(ctx, current)
		if err != nil {
			return vector.Info{}, err
		}

		for _, doc := range existing {
			docs[doc.ID] = doc
		}
	}

	for _, r := range records {
		key := vector.Key(cfg.KeyPrefix, r.ID)
		docs[key] = chromem.Document{
			ID:        key,
			Metadata:  vector.CloneMetadata(r.Metadata),
			Embedding: append([]float32(nil), r.Vector...),
			Content:   r.Content,
		}
	}

	next := alias{
		Generation: current.Generation + 1,
		Count:      len(docs),
		Collection: cfg,
	}
	next.Physical = physicalName(cfg, next.Generation)

	if err := idx.build(ctx, next, docs); err != nil {
		idx.db.DeleteCollection(next.Physical)
		return vector.Info{}, err
	}

	if err := idx.publish(cfg.Name, next); err != nil {
		idx.db.DeleteCollection(next.Physical)
		return vector.Info{}, err
	}

	if exists {
		if err := idx.db.DeleteCollection(current.Physical); err != nil {
			idx.log.Warn("stale generation not deleted",
				zap.String("physical", current.Physical),
				zap.Error(err),
			)
		}
	}

	idx.log.Debug("generation published",
		zap.String("collection", cfg.Name),
		zap.String("physical", next.Physical),
		zap.Uint64("generation", next.Generation),
		zap.Int("count", next.Count),
	)

	return next.info(), nil
}

func (idx *Index) build(ctx context.Context, next alias, docs map[string]chromem.Document) error {
	// a crashed build may have left a collection under this name
	idx.db.DeleteCollection(next.Physical)

	c, err := idx.db.CreateCollection(next.Physical, map[string]string{
		"collection": next.Collection.Name,
	}, upstreamEmbeddings)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", rag.ErrUnavailable, next.Physical, err)
	}

	if len(docs) == 0 {
		return nil
	}

	batch := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		batch = append(batch, doc)
	}

	if err := c.AddDocuments(ctx, batch, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents to %s: %w", next.Physical, err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("load %s: %w", next.Collection.Name, err)
	}

	return nil
}

func (idx *Index) publish(name string, next alias) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	aliases := make(map[string]alias, len(idx.aliases)+1)
	for k, v := range idx.aliases {
		aliases[k] = v
	}
	aliases[name] = next

	if err := idx.writeAliases(aliases); err != nil {
		return fmt.Errorf("%w: write alias table: %w", rag.ErrUnavailable, err)
	}

	idx.aliases = aliases
	return nil
}

// scan reads every document of a generation. chromem has no listing call,
// so a query as wide as the collection stands in for one.
func (idx *Index) scan(ctx context.Context, a alias) ([]chromem.Document, error) {
	c := idx.db.GetCollection(a.Physical, nil)
	if c == nil {
		return nil, fmt.Errorf("%w: %s lost generation %d", rag.ErrUnavailable, a.Collection.Name, a.Generation)
	}

	n := c.Count()
	if n == 0 {
		return nil, nil
	}

	probe := make([]float32, a.Collection.Dimensions)
	probe[0] = 1

	results, err := c.QueryEmbedding(ctx, probe, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", a.Physical, err)
	}

	docs := make([]chromem.Document, len(results))
	for i, r := range results {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Metadata:  r.Metadata,
			Embedding: r.Embedding,
			Content:   r.Content,
		}
	}

	return docs, nil
}

// active resolves the logical name under the read lock, so the returned
// collection cannot be deleted by a concurrent flip before it is fetched.
func (idx *Index) active(name string) (alias, *chromem.Collection, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	a, ok := idx.aliases[name]
	if !ok {
		return alias{}, nil, fmt.Errorf("%w: %s", rag.ErrUnknownCollection, name)
	}

	c := idx.db.GetCollection(a.Physical, nil)
	if c == nil {
		return alias{}, nil, fmt.Errorf("%w: %s lost generation %d", rag.ErrUnavailable, name, a.Generation)
	}

	return a, c, nil
}

func (idx *Index) Search(ctx context.Context, name string, query []float32, k int, filter vector.Filter) (vector.Result, error) {
	a, c, err := idx.active(name)
	if err != nil {
		return nil, err
	}

	if err := vector.CheckQuery(a.Collection.Dimensions, query, k); err != nil {
		return nil, err
	}

	n := c.Count()
	if n == 0 {
		return vector.Result{}, nil
	}

	// chromem orders equal similarities arbitrarily; take every candidate and
	// rank them here.
	results, err := c.QueryEmbedding(ctx, query, n, map[string]string(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", a.Physical, err)
	}

	hits := make([]vector.Hit, len(results))
	for i, r := range results {
		hits[i] = vector.Hit{
			ID:       vector.TrimKey(a.Collection.KeyPrefix, r.ID),
			Content:  r.Content,
			Metadata: vector.CloneMetadata(r.Metadata),
			Score:    float64(r.Similarity),
		}
	}

	return vector.Rank(hits, k), nil
}

func (idx *Index) Drop(ctx context.Context, name string) error {
	w := idx.writer(name)
	w.Lock()
	defer w.Unlock()

	idx.mu.Lock()

	a, ok := idx.aliases[name]
	if !ok {
		idx.mu.Unlock()
		return nil
	}

	aliases := make(map[string]alias, len(idx.aliases))
	for k, v := range idx.aliases {
		if k != name {
			aliases[k] = v
		}
	}

	if err := idx.writeAliases(aliases); err != nil {
		idx.mu.Unlock()
		return fmt.Errorf("%w: write alias table: %w", rag.ErrUnavailable, err)
	}

	idx.aliases = aliases
	idx.mu.Unlock()

	if err := idx.db.DeleteCollection(a.Physical); err != nil {
		idx.log.Warn("dropped generation not deleted",
			zap.String("physical", a.Physical),
			zap.Error(err),
		)
	}

	idx.log.Debug("collection dropped", zap.String("collection", name))
	return nil
}

func (idx *Index) Describe(ctx context.Context, name string) (vector.Info, error) {
	a, ok := idx.alias(name)
	if !ok {
		return vector.Info{}, fmt.Errorf("%w: %s", rag.ErrUnknownCollection, name)
	}

	return a.info(), nil
}

func (idx *Index) Close() error {
	return nil
}
