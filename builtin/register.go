// Package builtin registers all built-in providers with the default registry.
package builtin

import (
	simpleChunker "github.com/spetr/chatwizard/builtin/chunking/simple"
	tsChunker "github.com/spetr/chatwizard/builtin/chunking/treesitter"
	"github.com/spetr/chatwizard/builtin/completion/anthropic"
	"github.com/spetr/chatwizard/builtin/completion/echo"
	"github.com/spetr/chatwizard/builtin/completion/google"
	ollamaChat "github.com/spetr/chatwizard/builtin/completion/ollama"
	openaiChat "github.com/spetr/chatwizard/builtin/completion/openai"
	hashEmbed "github.com/spetr/chatwizard/builtin/embedding/hash"
	ollamaEmbed "github.com/spetr/chatwizard/builtin/embedding/ollama"
	openaiEmbed "github.com/spetr/chatwizard/builtin/embedding/openai"
	pluginEmbed "github.com/spetr/chatwizard/builtin/embedding/plugin"
	"github.com/spetr/chatwizard/builtin/vectorstore/memory"
	"github.com/spetr/chatwizard/builtin/vectorstore/sqlitevec"
	"github.com/spetr/chatwizard/pkg/plugin/host"
	"github.com/spetr/chatwizard/pkg/provider"
)

// PluginLogLevel is the hclog level used for plugin processes started by the
// "plugin" embedding provider.
var PluginLogLevel = "warn"

func init() {
	// Register completion providers
	provider.RegisterCompletion("openai", func(cfg provider.CompletionConfig) (provider.CompletionProvider, error) {
		p, err := openaiChat.New(openaiChat.Config{
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
			BaseURL: cfg.Endpoint,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	provider.RegisterCompletion("anthropic", func(cfg provider.CompletionConfig) (provider.CompletionProvider, error) {
		p, err := anthropic.New(anthropic.Config{
			Model:    cfg.Model,
			APIKey:   cfg.APIKey,
			Endpoint: cfg.Endpoint,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	provider.RegisterCompletion("google", func(cfg provider.CompletionConfig) (provider.CompletionProvider, error) {
		p, err := google.New(google.Config{
			Model:    cfg.Model,
			APIKey:   cfg.APIKey,
			Endpoint: cfg.Endpoint,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	provider.RegisterCompletion("ollama", func(cfg provider.CompletionConfig) (provider.CompletionProvider, error) {
		p, err := ollamaChat.New(ollamaChat.Config{
			Model:    cfg.Model,
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	provider.RegisterCompletion("echo", func(cfg provider.CompletionConfig) (provider.CompletionProvider, error) {
		return echo.New(echo.Config{Model: cfg.Model}), nil
	})

	// Register embedding providers
	provider.RegisterEmbedding("ollama", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return ollamaEmbed.New(ollamaEmbed.Config{
			Endpoint:   cfg.Endpoint,
			Model:      cfg.Model,
			BatchSize:  cfg.BatchSize,
			Dimensions: cfg.Dimensions,
		}), nil
	})

	provider.RegisterEmbedding("openai", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return openaiEmbed.New(openaiEmbed.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.Endpoint,
			BatchSize:  cfg.BatchSize,
			Dimensions: cfg.Dimensions,
		}), nil
	})

	provider.RegisterEmbedding("hash", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return hashEmbed.New(hashEmbed.Config{
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		}), nil
	})

	provider.RegisterEmbedding("plugin", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		manager := host.NewManager(cfg.PluginDir, PluginLogLevel)
		return pluginEmbed.New(pluginEmbed.Config{
			Name:       cfg.Model,
			Dimensions: cfg.Dimensions,
		}, pluginEmbed.ManagerLoader{Manager: manager}), nil
	})

	// Register chunking strategies
	provider.RegisterChunking("treesitter", func(cfg provider.ChunkingConfig) (provider.ChunkingStrategy, error) {
		return tsChunker.New(tsChunker.Config{
			MaxChunkSize: cfg.MaxChunkSize,
			Overlap:      cfg.Overlap,
		}), nil
	})

	provider.RegisterChunking("simple", func(cfg provider.ChunkingConfig) (provider.ChunkingStrategy, error) {
		return simpleChunker.New(simpleChunker.Config{
			MaxChunkSize: cfg.MaxChunkSize,
			Overlap:      cfg.Overlap,
		}), nil
	})

	// Register vector stores
	provider.RegisterVectorStore("memory", func(cfg provider.VectorStoreConfig) (provider.VectorIndex, error) {
		return memory.New(), nil
	})

	provider.RegisterVectorStore("sqlitevec", func(cfg provider.VectorStoreConfig) (provider.VectorIndex, error) {
		store := sqlitevec.New()
		if err := store.Init(cfg.Path); err != nil {
			return nil, err
		}
		return store, nil
	})
}
