// Package provider defines interfaces for pluggable components.
package provider

import (
	"context"
	"fmt"

	"github.com/spetr/chatwizard/pkg/types"
)

// EmbeddingProvider generates vector embeddings from text.
type EmbeddingProvider interface {
	// Name returns the provider name (e.g., "ollama", "openai").
	Name() string

	// Embed generates embeddings for the given texts.
	// Returns a slice of embeddings, one for each input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension size.
	Dimensions() int

	// MaxBatchSize returns the maximum number of texts per batch.
	MaxBatchSize() int

	// Warmup runs the one-time initialization. Repeated calls are no-ops.
	Warmup(ctx context.Context) error

	// Close releases any resources.
	Close() error
}

// EmbeddingConfig contains configuration for embedding providers.
type EmbeddingConfig struct {
	Provider   string // "ollama", "openai", "plugin", "hash"
	Model      string // Model name, or plugin executable name for "plugin"
	Endpoint   string // API endpoint
	APIKey     string // API key (for OpenAI)
	BatchSize  int    // Documents per batch
	Dimensions int    // 0 = provider default
	PluginDir  string // directory holding plugin executables
}

// EmbedText embeds a single string.
func EmbedText(ctx context.Context, p EmbeddingProvider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, &types.EmbeddingUnavailableError{
			Provider: p.Name(),
			Err:      fmt.Errorf("expected 1 embedding, got %d", len(vecs)),
		}
	}
	return vecs[0], nil
}
