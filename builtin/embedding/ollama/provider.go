// Package ollama implements EmbeddingProvider using Ollama's API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// Default values
const (
	DefaultModel      = "nomic-embed-text"
	DefaultEndpoint   = "http://localhost:11434"
	DefaultBatchSize  = 32
	DefaultDimensions = 768  // nomic-embed-text default
	DefaultMaxChars   = 8000 // Safe limit for most embedding models (~2000 tokens)
)

// Config contains Ollama provider configuration.
type Config struct {
	Model      string
	Endpoint   string
	BatchSize  int
	Dimensions int // Set to 0 to auto-detect from first embedding
}

// Provider implements the EmbeddingProvider interface for Ollama.
type Provider struct {
	config     Config
	client     *http.Client
	init       provider.InitGuard
	dimensions int
	mu         sync.RWMutex
}

// New creates a new Ollama embedding provider.
func New(cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	return &Provider{
		config: cfg,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		dimensions: cfg.Dimensions,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ollama"
}

// Warmup checks that Ollama is running, the model is pulled, and loads the
// model into memory with one embedding request. It runs once; a failed
// attempt is retried on the next call.
func (p *Provider) Warmup(ctx context.Context) error {
	return p.init.Do(ctx, func(ctx context.Context) error {
		if err := p.available(ctx); err != nil {
			return &types.EmbeddingUnavailableError{Provider: p.Name(), Err: err}
		}
		if _, err := p.embedSingle(ctx, "warmup"); err != nil {
			return &types.EmbeddingUnavailableError{Provider: p.Name(), Err: err}
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

	// Ollama doesn't support batch embedding in a single call
	for i, text := range texts {
		embedding, err := p.embedSingle(ctx, text)
		if err != nil {
			return nil, &types.EmbeddingUnavailableError{
				Provider: p.Name(),
				Err:      fmt.Errorf("failed to embed text %d: %w", i, err),
			}
		}
		results[i] = embedding
	}

	return results, nil
}

// embedSingle embeds a single text.
func (p *Provider) embedSingle(ctx context.Context, text string) ([]float32, error) {
	// Truncate text if too long to avoid context length errors
	if len(text) > DefaultMaxChars {
		text = text[:DefaultMaxChars]
	}

	var result struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := p.post(ctx, "/api/embeddings", map[string]any{
		"model":  p.config.Model,
		"prompt": text,
	}, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, &types.VendorError{Provider: p.Name(), Message: "empty embedding returned"}
	}

	embedding := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		embedding[i] = float32(v)
	}

	// Auto-detect dimensions from first embedding
	p.mu.Lock()
	if p.dimensions == 0 {
		p.dimensions = len(embedding)
	}
	p.mu.Unlock()

	return embedding, nil
}

// available checks that Ollama is running and the model is present.
func (p *Provider) available(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint+"/api/version", nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return provider.ClassifyError(p.Name(), ctx, fmt.Errorf("ollama not available at %s: %w", p.config.Endpoint, err))
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &types.VendorError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: "version check failed"}
	}

	err = p.post(ctx, "/api/show", map[string]any{"name": p.config.Model}, nil)
	if vendorErr, ok := err.(*types.VendorError); ok && vendorErr.StatusCode == http.StatusNotFound {
		vendorErr.Code = "model_not_found"
		vendorErr.Message = fmt.Sprintf("model %s not found, run: ollama pull %s", p.config.Model, p.config.Model)
	}
	return err
}

// post sends a JSON request and decodes the JSON response into out when non-nil.
func (p *Provider) post(ctx context.Context, path string, payload, out any) error {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+path, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return provider.ClassifyError(p.Name(), ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &types.VendorError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Dimensions returns the embedding dimensions.
func (p *Provider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.dimensions > 0 {
		return p.dimensions
	}
	return DefaultDimensions
}

// MaxBatchSize returns the maximum batch size.
func (p *Provider) MaxBatchSize() int {
	return p.config.BatchSize
}

// Close releases resources.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// Ensure Provider implements EmbeddingProvider interface
var _ provider.EmbeddingProvider = (*Provider)(nil)
