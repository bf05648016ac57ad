package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexora-ai/rag-core/internal/config"
)

func TestHashProviderDeterministic(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider("hash-64", 64)

	a, err := p.Embed(ctx, []string{"the right to erasure"})
	require.NoError(t, err)
	b, err := p.Embed(ctx, []string{"the right to erasure"})
	require.NoError(t, err)

	require.Len(t, a, 1)
	assert.Equal(t, a[0], b[0])
	assert.Len(t, a[0], 64)
}

func TestHashProviderUnitNorm(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider("hash-64", 64)

	vectors, err := p.Embed(ctx, []string{"breach notification", "lawful basis", ""})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	for i, v := range vectors[:2] {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5, "vector %d", i)
	}

	// Empty text embeds to the zero vector rather than erroring.
	for _, x := range vectors[2] {
		assert.Zero(t, x)
	}
}

func TestHashProviderDefaults(t *testing.T) {
	p := NewHashProvider("", 0)
	assert.Equal(t, "hash-64", p.Model())
	assert.Equal(t, 64, p.Dimension())
}

func TestEmbedBatch(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider("hash-64", 8)

	texts := []string{"a", "b", "c", "d", "e"}
	batched, err := EmbedBatch(ctx, p, texts, 2)
	require.NoError(t, err)
	require.Len(t, batched, len(texts))

	whole, err := p.Embed(ctx, texts)
	require.NoError(t, err)
	assert.Equal(t, whole, batched)
}

func TestEmbedSingle(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider("hash-64", 8)

	v, err := EmbedSingle(ctx, p, "consent")
	require.NoError(t, err)
	assert.Len(t, v, 8)
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry(config.EmbeddingConfig{
		Provider: "hash", Model: "hash-64", Dimension: 64,
	})

	p, err := reg.Resolve("", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "hash-64", p.Model())
	assert.Equal(t, 64, p.Dimension())

	p, err = reg.Resolve("hash", "hash-128", 128)
	require.NoError(t, err)
	assert.Equal(t, "hash-128", p.Model())
	assert.Equal(t, 128, p.Dimension())

	_, err = reg.Resolve("tensorflow", "", 0)
	assert.Error(t, err)

	provider, model, dim := reg.Defaults()
	assert.Equal(t, "hash", provider)
	assert.Equal(t, "hash-64", model)
	assert.Equal(t, 64, dim)
}
