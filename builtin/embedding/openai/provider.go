// Package openai implements EmbeddingProvider using OpenAI's API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// Default values
const (
	DefaultModel      = openai.SmallEmbedding3
	DefaultBatchSize  = 100 // OpenAI supports up to 2048 inputs per request
	DefaultDimensions = 1536
)

// Model dimensions for known models
var modelDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"nomic-embed-text":       768, // often served through OpenAI-compatible APIs
}

// Config contains OpenAI provider configuration.
type Config struct {
	Model      string
	APIKey     string
	BaseURL    string // Optional: custom API endpoint (for Azure, etc.)
	BatchSize  int
	Dimensions int // Set to 0 to use default for model
}

// Provider implements the EmbeddingProvider interface for OpenAI.
type Provider struct {
	config     Config
	client     *openai.Client
	init       provider.InitGuard
	dimensions int
	mu         sync.RWMutex
}

// New creates a new OpenAI embedding provider.
// Credentials are checked lazily by Warmup so a missing key surfaces as
// EmbeddingUnavailable on first use.
func New(cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = string(DefaultModel)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		if d, ok := modelDimensions[cfg.Model]; ok {
			dimensions = d
		} else {
			dimensions = DefaultDimensions
		}
	}

	return &Provider{
		config:     cfg,
		client:     openai.NewClientWithConfig(clientConfig),
		dimensions: dimensions,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "openai"
}

// Warmup checks that credentials are configured. Only success is remembered.
func (p *Provider) Warmup(ctx context.Context) error {
	return p.init.Do(ctx, func(ctx context.Context) error {
		if p.config.APIKey == "" {
			return &types.EmbeddingUnavailableError{
				Provider: p.Name(),
				Err:      &types.ConfigurationError{Provider: p.Name(), Reason: "API key not set"},
			}
		}
		return nil
	})
}

// Embed generates embeddings for the given texts.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.Warmup(ctx); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))

	// Process in batches
	for i := 0; i < len(texts); i += p.config.BatchSize {
		end := i + p.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		req := openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(p.config.Model),
		}

		resp, err := p.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return nil, p.wrapError(ctx, err)
		}
		if len(resp.Data) != len(batch) {
			return nil, &types.EmbeddingUnavailableError{
				Provider: p.Name(),
				Err:      fmt.Errorf("expected %d embeddings, got %d", len(batch), len(resp.Data)),
			}
		}

		// Response items carry their input index
		for j, data := range resp.Data {
			idx := data.Index
			if idx < 0 || idx >= len(batch) {
				idx = j
			}
			results[i+idx] = data.Embedding
		}

		if len(resp.Data) > 0 {
			p.mu.Lock()
			p.dimensions = len(resp.Data[0].Embedding)
			p.mu.Unlock()
		}
	}

	return results, nil
}

func (p *Provider) wrapError(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && ctx.Err() == nil {
		return &types.EmbeddingUnavailableError{
			Provider: p.Name(),
			Err: &types.VendorError{
				Provider:   p.Name(),
				StatusCode: apiErr.HTTPStatusCode,
				Code:       apiErr.Type,
				Message:    apiErr.Message,
			},
		}
	}
	return &types.EmbeddingUnavailableError{Provider: p.Name(), Err: provider.ClassifyError(p.Name(), ctx, err)}
}

// Dimensions returns the embedding dimensions.
func (p *Provider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dimensions
}

// MaxBatchSize returns the maximum batch size.
func (p *Provider) MaxBatchSize() int {
	return p.config.BatchSize
}

// Close releases resources.
func (p *Provider) Close() error {
	// HTTP client doesn't need explicit cleanup
	return nil
}

// Ensure Provider implements EmbeddingProvider interface
var _ provider.EmbeddingProvider = (*Provider)(nil)
