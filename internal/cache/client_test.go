package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), -time.Second))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientDeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)

	require.NoError(t, c.Set(ctx, "emb:a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "emb:b", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "other", []byte("3"), time.Minute))

	require.NoError(t, c.DeleteByPrefix(ctx, "emb:"))

	_, err := c.Get(ctx, "emb:a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "emb:b")
	assert.ErrorIs(t, err, ErrCacheMiss)

	got, err := c.Get(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}

func TestMemoryClientEviction(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(2)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 2*time.Minute))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 3*time.Minute))

	// The soonest-to-expire entry is evicted first.
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)

	got, err := c.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}

func TestEmbeddingCacheKey(t *testing.T) {
	a := EmbeddingCacheKey("hash-64", 64, "breach notification")
	b := EmbeddingCacheKey("hash-64", 64, "breach notification")
	assert.Equal(t, a, b)

	// Model, dimension and text all scope the key.
	assert.NotEqual(t, a, EmbeddingCacheKey("hash-128", 64, "breach notification"))
	assert.NotEqual(t, a, EmbeddingCacheKey("hash-64", 128, "breach notification"))
	assert.NotEqual(t, a, EmbeddingCacheKey("hash-64", 64, "lawful basis"))

	assert.Contains(t, a, "emb:hash-64:64:")
}
