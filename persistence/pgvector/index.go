// Package pgvector runs the vector index on PostgreSQL with the pgvector
// extension. Every record row carries the generation it belongs to;
// rag_collections names the active generation, and a rebuild flips it inside
// the transaction that wrote the new rows.
package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	"go.uber.org/zap"

	"github.com/flarexio/ragblade/rag"
	"github.com/flarexio/ragblade/vector"
)

const insertBatch = 500

type Config struct {
	DSN   string `yaml:"dsn"`
	Debug bool   `yaml:"debug"`
}

func NewIndex(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: pgvector dsn is required", rag.ErrInvalidInput)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))

	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	idx := &Index{
		db:      db,
		backoff: rag.DefaultBackoff(),
		writers: make(map[string]*sync.Mutex),
		log:     zap.L().With(zap.String("index", "pgvector")),
	}

	err := rag.Retry(ctx, idx.backoff, func(ctx context.Context) error {
		return classify(idx.migrate(ctx))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return idx, nil
}

type Index struct {
	db      *bun.DB
	backoff rag.Backoff

	writersMu sync.Mutex
	writers   map[string]*sync.Mutex

	log *zap.Logger
}

func (idx *Index) migrate(ctx context.Context) error {
	if _, err := idx.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return err
	}

	if _, err := idx.db.NewCreateTable().
		Model((*collectionRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}

	if _, err := idx.db.NewCreateTable().
		Model((*recordRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}

	_, err := idx.db.NewCreateIndex().
		Model((*recordRow)(nil)).
		Index("rag_records_generation_idx").
		IfNotExists().
		Column("collection", "generation").
		Exec(ctx)

	return err
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

// lockCollection takes the transaction scoped advisory lock for name. A
// rebuild running in another process holds it for its whole transaction.
func lockCollection(ctx context.Context, tx bun.Tx, name string) error {
	var acquired bool
	err := tx.NewRaw("SELECT pg_try_advisory_xact_lock(hashtext(?))", name).Scan(ctx, &acquired)
	if err != nil {
		return err
	}

	if !acquired {
		return fmt.Errorf("%w: %s is being rebuilt elsewhere", rag.ErrConflict, name)
	}

	return nil
}

func (idx *Index) Load(ctx context.Context, cfg vector.CollectionConfig, records []vector.Record) (vector.Info, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return vector.Info{}, err
	}

	if err := vector.CheckRecords(cfg.Dimensions, records); err != nil {
		return vector.Info{}, err
	}

	w := idx.writer(cfg.Name)
	w.Lock()
	defer w.Unlock()

	if err := ctx.Err(); err != nil {
		return vector.Info{}, fmt.Errorf("load %s: %w", cfg.Name, err)
	}

	rows := recordRows(cfg, records)

	var info vector.Info
	err := rag.Retry(ctx, idx.backoff, func(ctx context.Context) error {
		err := idx.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			i, err := load(ctx, tx, cfg, rows)
			if err != nil {
				return err
			}

			info = i
			return nil
		})

		return classify(err)
	})
	if err != nil {
		return vector.Info{}, err
	}

	idx.log.Debug("generation published",
		zap.String("collection", cfg.Name),
		zap.Uint64("generation", info.Generation),
		zap.Int("count", info.Count),
	)

	return info, nil
}

// recordRows keys records and keeps the last record per key, since one
// insert statement cannot touch a row twice.
func recordRows(cfg vector.CollectionConfig, records []vector.Record) []recordRow {
	positions := make(map[string]int, len(records))
	rows := make([]recordRow, 0, len(records))

	for _, r := range records {
		row := recordRow{
			Collection: cfg.Name,
			Key:        vector.Key(cfg.KeyPrefix, r.ID),
			FragmentID: r.ID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Embedding:  pgvector.NewVector(r.Vector),
		}

		if i, ok := positions[row.Key]; ok {
			rows[i] = row
			continue
		}

		positions[row.Key] = len(rows)
		rows = append(rows, row)
	}

	return rows
}

func load(ctx context.Context, tx bun.Tx, cfg vector.CollectionConfig, rows []recordRow) (vector.Info, error) {
	if err := lockCollection(ctx, tx, cfg.Name); err != nil {
		return vector.Info{}, err
	}

	current := new(collectionRow)
	err := tx.NewSelect().
		Model(current).
		Where("name = ?", cfg.Name).
		For("UPDATE").
		Scan(ctx)

	exists := true
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return vector.Info{}, err
		}

		exists = false
		current = &collectionRow{Name: cfg.Name}
	}

	if exists {
		if err := vector.CheckCompatible(current.info().CollectionConfig, cfg); err != nil {
			return vector.Info{}, err
		}
	}

	gen := current.Generation + 1

	// leftovers of a rolled back build are never visible, but clear them
	// before reusing the generation number
	if _, err := tx.NewDelete().
		Model((*recordRow)(nil)).
		Where("collection = ?", cfg.Name).
		Where("generation = ?", gen).
		Exec(ctx); err != nil {
		return vector.Info{}, err
	}

	if exists && !cfg.Overwrite {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rag_records (collection, generation, key, fragment_id, content, metadata, embedding)
			SELECT collection, ?, key, fragment_id, content, metadata, embedding
			FROM rag_records
			WHERE collection = ? AND generation = ?`,
			gen, cfg.Name, current.Generation,
		); err != nil {
			return vector.Info{}, err
		}
	}

	for batch := range slices.Chunk(rows, insertBatch) {
		for i := range batch {
			batch[i].Generation = gen
		}

		if _, err := tx.NewInsert().
			Model(&batch).
			On("CONFLICT (collection, generation, key) DO UPDATE").
			Set("fragment_id = EXCLUDED.fragment_id").
			Set("content = EXCLUDED.content").
			Set("metadata = EXCLUDED.metadata").
			Set("embedding = EXCLUDED.embedding").
			Exec(ctx); err != nil {
			return vector.Info{}, err
		}
	}

	count, err := tx.NewSelect().
		Model((*recordRow)(nil)).
		Where("collection = ?", cfg.Name).
		Where("generation = ?", gen).
		Count(ctx)
	if err != nil {
		return vector.Info{}, err
	}

	next := &collectionRow{
		Name:       cfg.Name,
		KeyPrefix:  cfg.KeyPrefix,
		Dimensions: cfg.Dimensions,
		Metric:     string(cfg.Metric),
		Generation: gen,
		Count:      count,
	}

	if _, err := tx.NewInsert().
		Model(next).
		On("CONFLICT (name) DO UPDATE").
		Set("key_prefix = EXCLUDED.key_prefix").
		Set("generation = EXCLUDED.generation").
		Set("count = EXCLUDED.count").
		Set("updated_at = current_timestamp").
		Exec(ctx); err != nil {
		return vector.Info{}, err
	}

	if _, err := tx.NewDelete().
		Model((*recordRow)(nil)).
		Where("collection = ?", cfg.Name).
		Where("generation <> ?", gen).
		Exec(ctx); err != nil {
		return vector.Info{}, err
	}

	return next.info(), nil
}

func (idx *Index) collection(ctx context.Context, name string) (*collectionRow, error) {
	row := new(collectionRow)

	err := rag.Retry(ctx, idx.backoff, func(ctx context.Context) error {
		err := idx.db.NewSelect().
			Model(row).
			Where("name = ?", name).
			Scan(ctx)

		return classify(err)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", rag.ErrUnknownCollection, name)
		}

		return nil, err
	}

	return row, nil
}

func distanceOperator(metric vector.Metric) string {
	if metric == vector.Euclidean {
		return "<->"
	}

	return "<=>"
}

func score(metric vector.Metric, distance float64) float64 {
	if metric == vector.Euclidean {
		return vector.DistanceScore(distance)
	}

	return 1 - distance
}

func (idx *Index) Search(ctx context.Context, name string, query []float32, k int, filter vector.Filter) (vector.Result, error) {
	row, err := idx.collection(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := vector.CheckQuery(row.Dimensions, query, k); err != nil {
		return nil, err
	}

	metric := vector.Metric(row.Metric)

	var hits []hitRow
	err = rag.Retry(ctx, idx.backoff, func(ctx context.Context) error {
		hits = hits[:0]

		// the generation subquery runs in the same snapshot as the scan, so a
		// concurrent flip is seen entirely or not at all
		q := idx.db.NewSelect().
			TableExpr("rag_records AS r").
			ColumnExpr("r.fragment_id, r.content, r.metadata").
			ColumnExpr("r.embedding "+distanceOperator(metric)+" ? AS distance", pgvector.NewVector(query)).
			Where("r.collection = ?", name).
			Where("r.generation = (SELECT generation FROM rag_collections WHERE name = ?)", name)

		keys := make([]string, 0, len(filter))
		for key := range filter {
			keys = append(keys, key)
		}
		slices.Sort(keys)

		for _, key := range keys {
			q = q.Where("r.metadata ->> ? = ?", key, filter[key])
		}

		// byte order on ties, as vector.Rank applies, so the LIMIT keeps the
		// same records under any database collation
		err := q.OrderExpr(`distance ASC, r.fragment_id COLLATE "C" ASC`).
			Limit(k).
			Scan(ctx, &hits)

		return classify(err)
	})
	if err != nil {
		return nil, err
	}

	result := make([]vector.Hit, len(hits))
	for i, h := range hits {
		result[i] = vector.Hit{
			ID:       h.FragmentID,
			Content:  h.Content,
			Metadata: h.Metadata,
			Score:    score(metric, h.Distance),
		}
	}

	return vector.Rank(result, k), nil
}

func (idx *Index) Drop(ctx context.Context, name string) error {
	w := idx.writer(name)
	w.Lock()
	defer w.Unlock()

	err := rag.Retry(ctx, idx.backoff, func(ctx context.Context) error {
		err := idx.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if err := lockCollection(ctx, tx, name); err != nil {
				return err
			}

			if _, err := tx.NewDelete().
				Model((*recordRow)(nil)).
				Where("collection = ?", name).
				Exec(ctx); err != nil {
				return err
			}

			_, err := tx.NewDelete().
				Model((*collectionRow)(nil)).
				Where("name = ?", name).
				Exec(ctx)

			return err
		})

		return classify(err)
	})
	if err != nil {
		return err
	}

	idx.log.Debug("collection dropped", zap.String("collection", name))
	return nil
}

func (idx *Index) Describe(ctx context.Context, name string) (vector.Info, error) {
	row, err := idx.collection(ctx, name)
	if err != nil {
		return vector.Info{}, err
	}

	return row.info(), nil
}

func (idx *Index) Close() error {
	return idx.db.Close()
}
