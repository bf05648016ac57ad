package embedding

import (
	"context"
	"math"
)

// HashProvider produces deterministic, normalized embeddings from character
// content. Texts sharing vocabulary land close in cosine space, which is
// enough for local development and tests without a hosted model.
type HashProvider struct {
	model     string
	dimension int
}

// NewHashProvider creates a deterministic local provider.
func NewHashProvider(model string, dimension int) *HashProvider {
	if model == "" {
		model = "hash-64"
	}
	if dimension <= 0 {
		dimension = 64
	}
	return &HashProvider{model: model, dimension: dimension}
}

// Embed generates deterministic embeddings for the given texts.
func (p *HashProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, p.dimension)
		for j, ch := range text {
			v[(j+int(ch))%p.dimension] += float32(ch) / 1000.0
		}
		vectors[i] = normalizeHash(v)
	}
	return vectors, nil
}

// Model returns the provider's model name.
func (p *HashProvider) Model() string { return p.model }

// Dimension returns the embedding dimension.
func (p *HashProvider) Dimension() int { return p.dimension }

func normalizeHash(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

var _ Provider = (*HashProvider)(nil)
