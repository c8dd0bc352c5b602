package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cache, err := Open(":memory:")
	require.NoError(t, err)
	defer cache.Close()

	_, ok, err := cache.Get(ctx, "text-embedding-3-small", "torque")
	assert.NoError(err)
	assert.False(ok)

	vec := []float32{0.25, -1.5, 3}
	require.NoError(t, cache.Put(ctx, "text-embedding-3-small", "torque", vec))

	got, ok, err := cache.Get(ctx, "text-embedding-3-small", "torque")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(vec, got)

	_, ok, err = cache.Get(ctx, "nomic-embed-text", "torque")
	assert.NoError(err)
	assert.False(ok, "entries are scoped by model")
}

func TestCacheOverwrite(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cache, err := Open(":memory:")
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.Put(ctx, "m", "t", []float32{1}))
	require.NoError(t, cache.Put(ctx, "m", "t", []float32{2, 3}))

	got, ok, err := cache.Get(ctx, "m", "t")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal([]float32{2, 3}, got)

	n, err := cache.Len(ctx)
	assert.NoError(err)
	assert.Equal(1, n)
}

func TestCachePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "embeddings.db")

	cache, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, cache.Put(ctx, "m", "hybrid", []float32{0.5}))
	require.NoError(t, cache.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "m", "hybrid")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.5}, got)
}

func TestDecodeRejectsTruncatedBlob(t *testing.T) {
	_, err := decode([]byte{1, 2, 3})
	assert.Error(t, err)
}
