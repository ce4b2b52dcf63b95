// Package memory implements an in-process VectorIndex with exact cosine ranking.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

type entry struct {
	doc  *types.Document
	seq  uint64
	norm float64
}

// Store implements the VectorIndex interface in memory.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	dimensions int
	nextSeq    uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Name returns the store name.
func (s *Store) Name() string {
	return "memory"
}

// AddDocuments inserts or overwrites documents. An overwritten document gets a
// new insertion sequence.
func (s *Store) AddDocuments(ctx context.Context, docs []*types.Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dims, err := provider.ValidateBatch(docs, s.dimensions)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}

	s.dimensions = dims
	for _, d := range docs {
		s.nextSeq++
		s.entries[d.ID] = &entry{
			doc:  d.Clone(),
			seq:  s.nextSeq,
			norm: provider.Norm(d.Embedding),
		}
	}
	return nil
}

// FindSimilar ranks all documents by cosine similarity to query.
func (s *Store) FindSimilar(ctx context.Context, query []float32, limit int) ([]*types.ScoredDocument, error) {
	if limit <= 0 {
		return []*types.ScoredDocument{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return []*types.ScoredDocument{}, nil
	}
	if len(query) != s.dimensions {
		return nil, &types.DimensionMismatchError{Expected: s.dimensions, Got: len(query)}
	}
	queryNorm := provider.Norm(query)
	if queryNorm == 0 {
		return []*types.ScoredDocument{}, nil
	}

	type scored struct {
		e     *entry
		score float32
	}
	candidates := make([]scored, 0, len(s.entries))
	for _, e := range s.entries {
		var dot float64
		for i, v := range e.doc.Embedding {
			dot += float64(v) * float64(query[i])
		}
		candidates = append(candidates, scored{e: e, score: float32(dot / (e.norm * queryNorm))})
	}

	// Map iteration order is random; the sequence tie-break makes the result deterministic.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].e.seq < candidates[j].e.seq
	})

	if limit > len(candidates) {
		limit = len(candidates)
	}
	results := make([]*types.ScoredDocument, limit)
	for i := 0; i < limit; i++ {
		results[i] = &types.ScoredDocument{
			Document: candidates[i].e.doc.Clone(),
			Score:    candidates[i].score,
		}
	}
	return results, nil
}

// DeleteDocument removes a document by ID.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, id)
	return nil
}

// DeleteByMetadata removes documents whose metadata[key] formats to value.
func (s *Store) DeleteByMetadata(ctx context.Context, key, value string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		v, ok := e.doc.Metadata[key]
		if !ok || fmt.Sprint(v) != value {
			continue
		}
		delete(s.entries, id)
		removed++
	}
	return removed, nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Dimensions returns the embedding dimension set by the first insert.
// It stays fixed even after every document is deleted.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimensions
}

// Close releases resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
	s.dimensions = 0
	return nil
}

// Ensure Store implements VectorIndex interface
var _ provider.VectorIndex = (*Store)(nil)
