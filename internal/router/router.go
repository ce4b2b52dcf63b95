// Package router maps logical model ids from the configuration to provider
// instances. Instances are built on first use and reused afterwards.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spetr/chatwizard/internal/config"
	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// Router resolves completion and embedding providers by model id.
type Router struct {
	cfg      *config.Config
	registry *provider.Registry

	mu         sync.Mutex
	completion map[string]provider.CompletionProvider
	embedding  map[string]provider.EmbeddingProvider
}

// New creates a router over the models in cfg. A nil registry means the
// default registry.
func New(cfg *config.Config, registry *provider.Registry) *Router {
	if registry == nil {
		registry = provider.DefaultRegistry
	}
	return &Router{
		cfg:        cfg,
		registry:   registry,
		completion: make(map[string]provider.CompletionProvider),
		embedding:  make(map[string]provider.EmbeddingProvider),
	}
}

// DefaultCompletionModel returns the configured default completion id.
func (r *Router) DefaultCompletionModel() string {
	return r.cfg.Models.DefaultCompletion
}

// DefaultEmbeddingModel returns the configured default embedding id.
func (r *Router) DefaultEmbeddingModel() string {
	return r.cfg.Models.DefaultEmbedding
}

// CompletionModels lists completion model ids in configuration order.
func (r *Router) CompletionModels() []string {
	return modelIDs(r.cfg.Models.Completion)
}

// EmbeddingModels lists embedding model ids in configuration order.
func (r *Router) EmbeddingModels() []string {
	return modelIDs(r.cfg.Models.Embedding)
}

func modelIDs(models []config.ModelConfig) []string {
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	return ids
}

// ResolveCompletionProvider returns the provider for a logical model id.
// An empty id selects the default model. Construction errors are returned
// on every call; only successfully built providers are cached.
func (r *Router) ResolveCompletionProvider(modelID string) (provider.CompletionProvider, error) {
	if modelID == "" {
		modelID = r.cfg.Models.DefaultCompletion
	}
	m, ok := r.cfg.CompletionModel(modelID)
	if !ok {
		return nil, &types.UnknownModelError{Kind: "completion", Model: modelID, Available: r.CompletionModels()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.completion[modelID]; ok {
		return p, nil
	}
	p, err := r.registry.CreateCompletion(m.Provider, m.CompletionConfig())
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", modelID, err)
	}
	slog.Debug("completion provider created", "model", modelID, "provider", p.Name(), "vendor_model", p.Model())
	r.completion[modelID] = p
	return p, nil
}

// ResolveEmbeddingProvider returns the embedding provider for a logical model id.
// An empty id selects the default model.
func (r *Router) ResolveEmbeddingProvider(modelID string) (provider.EmbeddingProvider, error) {
	if modelID == "" {
		modelID = r.cfg.Models.DefaultEmbedding
	}
	m, ok := r.cfg.EmbeddingModel(modelID)
	if !ok {
		return nil, &types.UnknownModelError{Kind: "embedding", Model: modelID, Available: r.EmbeddingModels()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.embedding[modelID]; ok {
		return p, nil
	}
	p, err := r.registry.CreateEmbedding(m.Provider, m.EmbeddingConfig(r.cfg.Plugins.Dir))
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", modelID, err)
	}
	slog.Debug("embedding provider created", "model", modelID, "provider", p.Name())
	r.embedding[modelID] = p
	return p, nil
}

// Close closes every provider the router has built.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, p := range r.completion {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	for id, p := range r.embedding {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	clear(r.completion)
	clear(r.embedding)
	return errors.Join(errs...)
}
