// Package embedding provides embedding generation behind a provider contract.
package embedding

import (
	"context"
	"fmt"

	"github.com/lexora-ai/rag-core/internal/config"
	"github.com/lexora-ai/rag-core/internal/core"
)

// Provider generates embeddings. Truncation and pooling policies live inside
// the provider; callers only see one vector per input text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// EmbedSingle embeds one text.
func EmbedSingle(ctx context.Context, p Provider, text string) ([]float32, error) {
	vectors, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in batches of batchSize.
func EmbedBatch(ctx context.Context, p Provider, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = 64
	}

	vectors := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := p.Embed(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// Registry resolves (provider, model, dimension) triples to concrete
// providers. A knowledge base pins its triple at creation time; chat context
// overrides resolve through the same path.
type Registry struct {
	defaults config.EmbeddingConfig
}

// NewRegistry creates a registry with configured defaults.
func NewRegistry(defaults config.EmbeddingConfig) *Registry {
	return &Registry{defaults: defaults}
}

// Defaults returns the configured default triple.
func (r *Registry) Defaults() (provider, model string, dim int) {
	return r.defaults.Provider, r.defaults.Model, r.defaults.Dimension
}

// Resolve returns a provider for the given triple. Empty fields fall back to
// the configured defaults.
func (r *Registry) Resolve(provider, model string, dim int) (Provider, error) {
	if provider == "" {
		provider = r.defaults.Provider
	}
	if model == "" {
		model = r.defaults.Model
	}
	if dim <= 0 {
		dim = r.defaults.Dimension
	}

	switch provider {
	case "hash":
		return NewHashProvider(model, dim), nil
	case "openai":
		return NewClient(Config{
			APIKey:    r.defaults.APIKey,
			BaseURL:   r.defaults.BaseURL,
			Model:     model,
			Dimension: dim,
			Timeout:   r.defaults.Timeout,
		})
	default:
		return nil, core.Ef(core.KindBadRequest, "unknown embedding provider: %s", provider)
	}
}
