package pgvector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/flarexio/ragblade/rag"
	"github.com/flarexio/ragblade/vector"
	"github.com/flarexio/ragblade/vector/vectortest"
)

func TestIndexSuite(t *testing.T) {
	dsn := os.Getenv("RAGBLADE_PG_DSN")
	if dsn == "" {
		t.Skip("RAGBLADE_PG_DSN not set")
	}

	suite.Run(t, &vectortest.IndexSuite{
		NewIndex: func() vector.Index {
			idx, err := NewIndex(context.Background(), Config{DSN: dsn})
			require.NoError(t, err)

			return idx
		},
	})
}

func TestNewIndexRequiresDSN(t *testing.T) {
	_, err := NewIndex(context.Background(), Config{})
	assert.ErrorIs(t, err, rag.ErrInvalidInput)
}

func TestClassify(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(classify(nil))
	assert.ErrorIs(classify(io.ErrUnexpectedEOF), rag.ErrConnection)
	assert.ErrorIs(classify(fmt.Errorf("query: %w", context.DeadlineExceeded)), rag.ErrTimeout)
	assert.ErrorIs(classify(context.Canceled), context.Canceled)
	assert.False(rag.IsTransient(classify(context.Canceled)))

	conflict := fmt.Errorf("%w: busy", rag.ErrConflict)
	assert.Equal(conflict, classify(conflict))

	assert.ErrorIs(classify(errors.New("boom")), rag.ErrUnavailable)
}

func TestScore(t *testing.T) {
	assert := assert.New(t)

	assert.InDelta(1.0, score(vector.Cosine, 0), 1e-9)
	assert.InDelta(0.25, score(vector.Cosine, 0.75), 1e-9)
	assert.InDelta(0.5, score(vector.Euclidean, 1), 1e-9)
	assert.Equal("<=>", distanceOperator(vector.Cosine))
	assert.Equal("<->", distanceOperator(vector.Euclidean))
}

func TestRecordRowsKeepLastPerKey(t *testing.T) {
	assert := assert.New(t)

	cfg := vector.CollectionConfig{Name: "c", KeyPrefix: "blog", Dimensions: 1}
	rows := recordRows(cfg, []vector.Record{
		{ID: "a", Vector: []float32{1}, Content: "first"},
		{ID: "b", Vector: []float32{1}, Content: "b"},
		{ID: "a", Vector: []float32{1}, Content: "second"},
	})

	assert.Len(rows, 2)
	assert.Equal("blog:a", rows[0].Key)
	assert.Equal("second", rows[0].Content)
	assert.Equal("a", rows[0].FragmentID)
}
