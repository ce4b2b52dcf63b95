package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spetr/chatwizard/builtin"
	"github.com/spetr/chatwizard/internal/chat"
	"github.com/spetr/chatwizard/internal/config"
	"github.com/spetr/chatwizard/internal/ingest"
	"github.com/spetr/chatwizard/internal/rag"
	"github.com/spetr/chatwizard/internal/router"
	"github.com/spetr/chatwizard/pkg/provider"
)

// app holds the pipeline built from a project's configuration.
type app struct {
	root    string
	cfg     *config.Config
	router  *router.Router
	index   provider.VectorIndex
	chunker provider.ChunkingStrategy
	chat    *chat.Service
}

// projectRoot returns the absolute project directory from the --project flag.
func projectRoot() string {
	root := projectDir
	if root == "" {
		root, _ = os.Getwd()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return root
	}
	return abs
}

// loadEnv loads <project>/.env into the process environment.
// Variables that are already set are kept.
func loadEnv(root string) {
	path := filepath.Join(root, ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "path", path, "error", err)
	}
}

// loadConfig loads and validates the project configuration. Logging is
// reconfigured from the file unless the flags were set explicitly.
func loadConfig(cmd *cobra.Command, root string) (*config.Config, error) {
	cfg, warnings, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, format := cfg.Logging.Level, cfg.Logging.Format
	if cmd.Flags().Changed("log-level") {
		level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		format = logFormat
	}
	setupLogging(level, format)

	for _, w := range warnings {
		slog.Warn(w)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// openApp builds the router, vector index, chunker and chat service.
func openApp(cmd *cobra.Command) (*app, error) {
	root := projectRoot()
	cfg, err := loadConfig(cmd, root)
	if err != nil {
		return nil, err
	}
	builtin.PluginLogLevel = cfg.Plugins.LogLevel

	index, err := provider.DefaultRegistry.CreateVectorStore(cfg.VectorStore.Provider, provider.VectorStoreConfig{
		Provider: cfg.VectorStore.Provider,
		Path:     cfg.VectorStore.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	chunker, err := provider.DefaultRegistry.CreateChunking(cfg.Chunking.Strategy, provider.ChunkingConfig{
		Strategy:     cfg.Chunking.Strategy,
		MaxChunkSize: cfg.Chunking.MaxChunkSize,
		Overlap:      cfg.Chunking.Overlap,
	})
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	r := router.New(cfg, nil)
	orch := rag.New(r, index, rag.Config{
		EmbeddingModel:      cfg.Models.DefaultEmbedding,
		TopK:                cfg.Retrieval.TopK,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		MaxContextTokens:    cfg.Retrieval.MaxContextTokens,
	})

	return &app{
		root:    root,
		cfg:     cfg,
		router:  r,
		index:   index,
		chunker: chunker,
		chat:    chat.NewService(orch, chat.WithDefaults(cfg.ApplyGeneration)),
	}, nil
}

// withApp opens the application, runs fn and closes the application
// whether or not fn succeeded.
func withApp(cmd *cobra.Command, fn func(*app) error) (err error) {
	a, err := openApp(cmd)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close: %w", cerr))
		}
	}()
	return fn(a)
}

// embedder resolves and warms up the default embedding model.
func (a *app) embedder(ctx context.Context) (provider.EmbeddingProvider, error) {
	p, err := a.router.ResolveEmbeddingProvider("")
	if err != nil {
		return nil, err
	}
	if err := p.Warmup(ctx); err != nil {
		slog.Warn("embedding warmup failed", "error", err)
	}
	return p, nil
}

// ingester creates an ingester over the default embedding model.
func (a *app) ingester(ctx context.Context, onProgress func(ingest.Progress)) (*ingest.Ingester, error) {
	emb, err := a.embedder(ctx)
	if err != nil {
		return nil, err
	}
	return ingest.New(ingest.Config{
		Chunker:     a.chunker,
		Embedding:   emb,
		Index:       a.index,
		Root:        a.root,
		Include:     a.cfg.Ingest.Include,
		Exclude:     a.cfg.Ingest.Exclude,
		MaxFileSize: a.cfg.Ingest.MaxFileSize,
		OnProgress:  onProgress,
	}), nil
}

// Close releases providers, the chunker and the index.
func (a *app) Close() error {
	return errors.Join(
		a.router.Close(),
		a.chunker.Close(),
		a.index.Close(),
	)
}
