package provider

import (
	"github.com/spetr/chatwizard/pkg/types"
)

// ChunkingStrategy splits source text into chunks for embedding.
type ChunkingStrategy interface {
	// Name returns the strategy name (e.g., "treesitter", "simple").
	Name() string

	// Chunk splits a source into chunks.
	Chunk(src *types.SourceText) ([]*types.Chunk, error)

	// SupportsLanguage checks if a language is supported.
	SupportsLanguage(lang string) bool

	// Close releases any resources.
	Close() error
}

// ChunkingConfig contains configuration for chunking strategies.
type ChunkingConfig struct {
	Strategy     string // "treesitter", "simple"
	MaxChunkSize int    // Max tokens per chunk
	Overlap      int    // Tokens shared between consecutive chunks
}
