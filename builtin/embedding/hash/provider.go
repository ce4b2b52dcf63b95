// Package hash implements an offline EmbeddingProvider using feature hashing.
// Each lower-cased word is hashed with SHA-256 into a bucket and a sign, and
// the resulting vector is normalized to unit length. Texts sharing words get
// positive cosine similarity, which is enough for demos and tests.
package hash

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/spetr/chatwizard/pkg/provider"
)

// Default values
const (
	DefaultDimensions = 384
	DefaultBatchSize  = 256
)

// Config contains hash provider configuration.
type Config struct {
	Dimensions int
	BatchSize  int
}

// Provider implements the EmbeddingProvider interface without a model.
type Provider struct {
	config Config
}

// New creates a new hash embedding provider.
func New(cfg Config) *Provider {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Provider{config: cfg}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "hash"
}

// Embed generates embeddings for the given texts.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, provider.ClassifyError(p.Name(), ctx, err)
		}
		out[i] = Vector(text, p.config.Dimensions)
	}
	return out, nil
}

// Vector returns the unit-length feature-hashed embedding of text.
// Text without any words maps to a fixed basis vector so the result is never zero.
func Vector(text string, dimensions int) []float32 {
	vec := make([]float32, dimensions)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		sum := sha256.Sum256([]byte(w))
		bucket := binary.BigEndian.Uint32(sum[:4]) % uint32(dimensions)
		if sum[4]&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// Dimensions returns the embedding dimensions.
func (p *Provider) Dimensions() int {
	return p.config.Dimensions
}

// MaxBatchSize returns the maximum batch size.
func (p *Provider) MaxBatchSize() int {
	return p.config.BatchSize
}

// Warmup is a no-op.
func (p *Provider) Warmup(ctx context.Context) error {
	return nil
}

// Close releases resources.
func (p *Provider) Close() error {
	return nil
}

// Ensure Provider implements EmbeddingProvider interface
var _ provider.EmbeddingProvider = (*Provider)(nil)
