// Package vector defines the vector index port shared by every storage
// engine under persistence/.
package vector

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/flarexio/ragblade/rag"
)

type Metric string

const (
	Cosine    Metric = "cosine"
	Euclidean Metric = "euclidean"
)

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case Cosine, Euclidean:
		return m, nil
	case "l2":
		return Euclidean, nil
	case "":
		return Cosine, nil
	default:
		return "", fmt.Errorf("%w: unknown metric %q", rag.ErrInvalidInput, s)
	}
}

func (m *Metric) UnmarshalText(text []byte) error {
	metric, err := ParseMetric(string(text))
	if err != nil {
		return err
	}

	*m = metric
	return nil
}

type CollectionConfig struct {
	Name       string `json:"name" yaml:"name"`
	KeyPrefix  string `json:"key_prefix" yaml:"keyPrefix"`
	Dimensions int    `json:"dimensions" yaml:"dimensions"`
	Metric     Metric `json:"metric" yaml:"metric"`
	Overwrite  bool   `json:"overwrite" yaml:"overwrite"`
}

func (cfg CollectionConfig) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("%w: collection name is required", rag.ErrInvalidInput)
	}

	if strings.ContainsAny(cfg.KeyPrefix, ": ") {
		return fmt.Errorf("%w: key prefix %q must not contain ':' or spaces", rag.ErrInvalidInput, cfg.KeyPrefix)
	}

	if cfg.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive, got %d", rag.ErrInvalidInput, cfg.Dimensions)
	}

	if _, err := ParseMetric(string(cfg.Metric)); err != nil {
		return err
	}

	return nil
}

// Normalized returns cfg with the metric spelled canonically; an empty
// metric means cosine.
func (cfg CollectionConfig) Normalized() CollectionConfig {
	if m, err := ParseMetric(string(cfg.Metric)); err == nil {
		cfg.Metric = m
	}

	return cfg
}

// CheckCompatible reports whether cfg may be loaded into a collection that
// currently holds existing. Dimensions and metric never change; an upsert
// must keep the key prefix.
func CheckCompatible(existing, cfg CollectionConfig) error {
	if existing.Dimensions != cfg.Dimensions {
		return fmt.Errorf("%w: collection %s has %d dimensions, got %d",
			rag.ErrDimensionMismatch, cfg.Name, existing.Dimensions, cfg.Dimensions)
	}

	if existing.Metric != cfg.Metric {
		return fmt.Errorf("%w: collection %s uses metric %s, got %s",
			rag.ErrInvalidInput, cfg.Name, existing.Metric, cfg.Metric)
	}

	if !cfg.Overwrite && existing.KeyPrefix != cfg.KeyPrefix {
		return fmt.Errorf("%w: collection %s uses key prefix %q, got %q",
			rag.ErrInvalidInput, cfg.Name, existing.KeyPrefix, cfg.KeyPrefix)
	}

	return nil
}

type Record struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CheckRecords rejects a batch containing an empty id or a vector whose
// length is not dims.
func CheckRecords(dims int, records []Record) error {
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: record %d has no id", rag.ErrInvalidInput, i)
		}

		if len(r.Vector) != dims {
			return fmt.Errorf("%w: record %s has %d dimensions, want %d",
				rag.ErrDimensionMismatch, r.ID, len(r.Vector), dims)
		}
	}

	return nil
}

type Hit struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
}

// Result is ordered by descending score; equal scores are ordered by
// ascending id.
type Result []Hit

func (r Result) IDs() []string {
	ids := make([]string, len(r))
	for i, hit := range r {
		ids[i] = hit.ID
	}

	return ids
}

// Filter is an exact match on metadata keys. An empty filter matches every
// record.
type Filter map[string]string

func (f Filter) Match(metadata map[string]string) bool {
	for k, v := range f {
		if metadata[k] != v {
			return false
		}
	}

	return true
}

type Info struct {
	CollectionConfig
	Generation uint64 `json:"generation"`
	Count      int    `json:"count"`
}

type Index interface {
	// Load publishes records into the collection described by cfg, creating
	// it when needed. With cfg.Overwrite the previous contents are replaced
	// atomically; otherwise records are upserted by id. Readers never see a
	// partially loaded collection.
	Load(ctx context.Context, cfg CollectionConfig, records []Record) (Info, error)

	// Search returns at most k hits ranked by similarity to query.
	Search(ctx context.Context, collection string, query []float32, k int, filter Filter) (Result, error)

	// Drop removes the collection. Dropping an unknown collection succeeds.
	Drop(ctx context.Context, collection string) error

	// Describe reports the active generation of the collection.
	Describe(ctx context.Context, collection string) (Info, error)

	Close() error
}

// Key namespaces a record id inside an engine.
func Key(prefix, id string) string {
	if prefix == "" {
		return id
	}

	return prefix + ":" + id
}

func TrimKey(prefix, key string) string {
	if prefix == "" {
		return key
	}

	return strings.TrimPrefix(key, prefix+":")
}

func CloneMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}

	return maps.Clone(metadata)
}
