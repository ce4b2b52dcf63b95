package provider

import (
	"context"
	"fmt"
	"math"

	"github.com/spetr/chatwizard/pkg/types"
)

// VectorIndex stores documents with embeddings and answers top-k similarity queries.
type VectorIndex interface {
	// Name returns the store name (e.g., "memory", "sqlitevec").
	Name() string

	// AddDocuments inserts or overwrites documents keyed by ID.
	// The batch is validated before anything is written; on error the index is unchanged.
	AddDocuments(ctx context.Context, docs []*types.Document) error

	// FindSimilar returns up to limit documents by descending cosine similarity.
	// Equal scores keep insertion order. limit <= 0 returns an empty result.
	FindSimilar(ctx context.Context, query []float32, limit int) ([]*types.ScoredDocument, error)

	// DeleteDocument removes a document. Missing IDs are not an error.
	DeleteDocument(ctx context.Context, id string) error

	// DeleteByMetadata removes every document whose metadata[key] equals value.
	DeleteByMetadata(ctx context.Context, key, value string) (int, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Dimensions returns the established embedding dimension, 0 while empty.
	Dimensions() int

	// Close releases resources and closes connections.
	Close() error
}

// VectorStoreConfig contains configuration for vector stores.
type VectorStoreConfig struct {
	Provider string // "memory", "sqlitevec"
	Path     string // Path to database file
}

// ValidateBatch checks a batch before it is written to an index with the
// established dimension dims (0 while the index is empty). It returns the
// dimension the batch establishes. Nothing is written by the caller on error.
func ValidateBatch(docs []*types.Document, dims int) (int, error) {
	for _, d := range docs {
		if d == nil {
			return dims, fmt.Errorf("%w: nil document", types.ErrInvalidDocument)
		}
		if d.ID == "" {
			return dims, fmt.Errorf("%w: empty document id", types.ErrInvalidDocument)
		}
		if len(d.Embedding) == 0 {
			return dims, fmt.Errorf("%w: document %s has no embedding", types.ErrInvalidDocument, d.ID)
		}
		if dims == 0 {
			dims = len(d.Embedding)
		}
		if len(d.Embedding) != dims {
			return dims, &types.DimensionMismatchError{Expected: dims, Got: len(d.Embedding), ID: d.ID}
		}
		for _, x := range d.Embedding {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return dims, fmt.Errorf("%w: document %s has a non-finite embedding", types.ErrInvalidDocument, d.ID)
			}
		}
		if Norm(d.Embedding) == 0 {
			return dims, fmt.Errorf("%w: document %s has a zero-length embedding", types.ErrInvalidDocument, d.ID)
		}
	}
	return dims, nil
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
