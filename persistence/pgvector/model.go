package pgvector

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"github.com/flarexio/ragblade/vector"
)

type collectionRow struct {
	bun.BaseModel `bun:"table:rag_collections,alias:c"`

	Name       string    `bun:"name,pk"`
	KeyPrefix  string    `bun:"key_prefix,notnull"`
	Dimensions int       `bun:"dimensions,notnull"`
	Metric     string    `bun:"metric,notnull"`
	Generation int64     `bun:"generation,notnull"`
	Count      int       `bun:"count,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func (row *collectionRow) info() vector.Info {
	return vector.Info{
		CollectionConfig: vector.CollectionConfig{
			Name:       row.Name,
			KeyPrefix:  row.KeyPrefix,
			Dimensions: row.Dimensions,
			Metric:     vector.Metric(row.Metric),
		},
		Generation: uint64(row.Generation),
		Count:      row.Count,
	}
}

type recordRow struct {
	bun.BaseModel `bun:"table:rag_records,alias:r"`

	Collection string            `bun:"collection,pk"`
	Generation int64             `bun:"generation,pk"`
	Key        string            `bun:"key,pk"`
	FragmentID string            `bun:"fragment_id,notnull"`
	Content    string            `bun:"content,notnull"`
	Metadata   map[string]string `bun:"metadata,type:jsonb"`
	Embedding  pgvector.Vector   `bun:"embedding,type:vector,notnull"`
}

type hitRow struct {
	FragmentID string            `bun:"fragment_id"`
	Content    string            `bun:"content"`
	Metadata   map[string]string `bun:"metadata,type:jsonb"`
	Distance   float64           `bun:"distance"`
}
