// Package plugin implements EmbeddingProvider on top of an out-of-process
// embedding model served through hashicorp/go-plugin.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/spetr/chatwizard/pkg/plugin/host"
	"github.com/spetr/chatwizard/pkg/plugin/shared"
	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// Loader starts a plugin and returns its embedder. *host.Manager satisfies it
// through ManagerLoader.
type Loader interface {
	Load(name string) (shared.Embedder, error)
	Unload(name string) error
}

// ManagerLoader adapts a host.Manager to Loader.
type ManagerLoader struct {
	Manager *host.Manager
}

// Load starts the named plugin.
func (l ManagerLoader) Load(name string) (shared.Embedder, error) {
	p, err := l.Manager.LoadPlugin(name)
	if err != nil {
		return nil, err
	}
	return p.Embedder, nil
}

// Unload stops the named plugin.
func (l ManagerLoader) Unload(name string) error {
	return l.Manager.UnloadPlugin(name)
}

// Config contains plugin provider configuration.
type Config struct {
	Name       string // executable name inside the plugins directory
	Dimensions int    // expected dimension, 0 = whatever the plugin reports
}

// Provider implements the EmbeddingProvider interface for a plugin process.
// The process is spawned lazily on first use.
type Provider struct {
	config Config
	loader Loader
	init   provider.InitGuard

	mu       sync.RWMutex
	embedder shared.Embedder
	info     shared.ModelInfo
}

// New creates a new plugin embedding provider.
func New(cfg Config, loader Loader) *Provider {
	return &Provider{config: cfg, loader: loader}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "plugin:" + p.config.Name
}

// Warmup spawns the plugin, dispenses the embedder and loads its model.
// Concurrent first callers wait for one load; a failed load is retried on the next call.
func (p *Provider) Warmup(ctx context.Context) error {
	return p.init.Do(ctx, func(ctx context.Context) error {
		if p.loader == nil || p.config.Name == "" {
			return &types.EmbeddingUnavailableError{
				Provider: p.Name(),
				Err:      &types.ConfigurationError{Provider: p.Name(), Reason: "plugin name not set"},
			}
		}
		if err := ctx.Err(); err != nil {
			return provider.ClassifyError(p.Name(), ctx, err)
		}

		embedder, err := p.loader.Load(p.config.Name)
		if err != nil {
			return &types.EmbeddingUnavailableError{Provider: p.Name(), Err: err}
		}
		if err := embedder.Warmup(); err != nil {
			_ = p.loader.Unload(p.config.Name)
			return &types.EmbeddingUnavailableError{Provider: p.Name(), Err: err}
		}

		info := embedder.Info()
		if p.config.Dimensions > 0 && info.Dimensions != p.config.Dimensions {
			_ = p.loader.Unload(p.config.Name)
			return &types.EmbeddingUnavailableError{
				Provider: p.Name(),
				Err:      &types.DimensionMismatchError{Expected: p.config.Dimensions, Got: info.Dimensions},
			}
		}
		if info.MaxBatchSize <= 0 {
			info.MaxBatchSize = 1
		}

		p.mu.Lock()
		p.embedder = embedder
		p.info = info
		p.mu.Unlock()
		return nil
	})
}

// Embed generates embeddings for the given texts, splitting them into batches
// the plugin accepts.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.Warmup(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	embedder, batchSize := p.embedder, p.info.MaxBatchSize
	p.mu.RUnlock()

	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batchSize {
		// Checked between batches; a running RPC call cannot be interrupted.
		if err := ctx.Err(); err != nil {
			return nil, provider.ClassifyError(p.Name(), ctx, err)
		}

		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vecs, err := embedder.Embed(texts[i:end])
		if err != nil {
			return nil, &types.EmbeddingUnavailableError{Provider: p.Name(), Err: err}
		}
		if len(vecs) != end-i {
			return nil, &types.EmbeddingUnavailableError{
				Provider: p.Name(),
				Err:      fmt.Errorf("expected %d embeddings, got %d", end-i, len(vecs)),
			}
		}
		results = append(results, vecs...)
	}
	return results, nil
}

// Dimensions returns the embedding dimensions, 0 until the plugin is loaded
// unless configured.
func (p *Provider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.info.Dimensions > 0 {
		return p.info.Dimensions
	}
	return p.config.Dimensions
}

// MaxBatchSize returns the maximum batch size.
func (p *Provider) MaxBatchSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.info.MaxBatchSize > 0 {
		return p.info.MaxBatchSize
	}
	return 1
}

// Close stops the plugin process.
func (p *Provider) Close() error {
	p.mu.RLock()
	loaded := p.embedder != nil
	p.mu.RUnlock()

	if !loaded || p.loader == nil {
		return nil
	}
	return p.loader.Unload(p.config.Name)
}

// Ensure Provider implements EmbeddingProvider interface
var _ provider.EmbeddingProvider = (*Provider)(nil)
