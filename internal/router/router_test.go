package router

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/spetr/chatwizard/internal/config"
	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

type fakeCompletion struct {
	model  string
	closed atomic.Bool
}

func (f *fakeCompletion) Name() string { return "fake" }
func (f *fakeCompletion) Model() string { return f.model }
func (f *fakeCompletion) StreamChat(ctx context.Context, _ []types.Message, _ types.GenerationConfig, fn provider.FragmentFunc) error {
	return fn(f.model)
}
func (f *fakeCompletion) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeEmbedding struct{}

func (fakeEmbedding) Name() string                                         { return "fake" }
func (fakeEmbedding) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }
func (fakeEmbedding) Dimensions() int                                      { return 3 }
func (fakeEmbedding) MaxBatchSize() int                                    { return 1 }
func (fakeEmbedding) Warmup(context.Context) error                         { return nil }
func (fakeEmbedding) Close() error                                         { return nil }

func newTestRouter(t *testing.T) (*Router, *atomic.Int32) {
	t.Helper()
	var built atomic.Int32
	reg := provider.NewRegistry()
	reg.RegisterCompletion("fake", func(cfg provider.CompletionConfig) (provider.CompletionProvider, error) {
		built.Add(1)
		return &fakeCompletion{model: cfg.Model}, nil
	})
	reg.RegisterCompletion("keyed", func(cfg provider.CompletionConfig) (provider.CompletionProvider, error) {
		built.Add(1)
		if cfg.APIKey == "" {
			return nil, &types.ConfigurationError{Provider: "keyed", Reason: "API key not set"}
		}
		return &fakeCompletion{model: cfg.Model}, nil
	})
	reg.RegisterEmbedding("fake", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return fakeEmbedding{}, nil
	})

	cfg := &config.Config{
		Models: config.ModelsConfig{
			DefaultCompletion: "fast",
			DefaultEmbedding:  "vec",
			Completion: []config.ModelConfig{
				{ID: "fast", Provider: "fake", Model: "vendor-fast"},
				{ID: "smart", Provider: "fake", Model: "vendor-smart"},
				{ID: "locked", Provider: "keyed", Model: "vendor-locked"},
			},
			Embedding: []config.ModelConfig{
				{ID: "vec", Provider: "fake"},
			},
		},
	}
	return New(cfg, reg), &built
}

func TestResolveCompletionProvider(t *testing.T) {
	r, built := newTestRouter(t)

	p1, err := r.ResolveCompletionProvider("smart")
	if err != nil {
		t.Fatal(err)
	}
	if p1.Model() != "vendor-smart" {
		t.Errorf("Model() = %q, want vendor-smart", p1.Model())
	}
	p2, err := r.ResolveCompletionProvider("smart")
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Error("expected the cached instance to be reused")
	}
	if built.Load() != 1 {
		t.Errorf("factory called %d times, want 1", built.Load())
	}

	def, err := r.ResolveCompletionProvider("")
	if err != nil {
		t.Fatal(err)
	}
	if def.Model() != "vendor-fast" {
		t.Errorf("default model = %q, want vendor-fast", def.Model())
	}
}

func TestResolveUnknownModel(t *testing.T) {
	r, _ := newTestRouter(t)

	_, err := r.ResolveCompletionProvider("gpt-9")
	if !errors.Is(err, types.ErrUnknownModel) {
		t.Fatalf("expected unknown model error, got %v", err)
	}
	var unknown *types.UnknownModelError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownModelError, got %T", err)
	}
	if want := []string{"fast", "smart", "locked"}; !reflect.DeepEqual(unknown.Available, want) {
		t.Errorf("Available = %v, want %v", unknown.Available, want)
	}

	if _, err := r.ResolveEmbeddingProvider("nope"); !errors.Is(err, types.ErrUnknownModel) {
		t.Errorf("expected unknown model error, got %v", err)
	}
}

func TestConstructionErrorsAreNotCached(t *testing.T) {
	r, built := newTestRouter(t)

	for i := 0; i < 2; i++ {
		if _, err := r.ResolveCompletionProvider("locked"); !errors.Is(err, types.ErrConfiguration) {
			t.Fatalf("attempt %d: expected configuration error, got %v", i, err)
		}
	}
	if built.Load() != 2 {
		t.Errorf("factory called %d times, want 2", built.Load())
	}
}

func TestResolveEmbeddingProvider(t *testing.T) {
	r, _ := newTestRouter(t)
	p, err := r.ResolveEmbeddingProvider("")
	if err != nil {
		t.Fatal(err)
	}
	if p.Dimensions() != 3 {
		t.Errorf("Dimensions() = %d", p.Dimensions())
	}
	if got := r.EmbeddingModels(); !reflect.DeepEqual(got, []string{"vec"}) {
		t.Errorf("EmbeddingModels() = %v", got)
	}
}

func TestClose(t *testing.T) {
	r, built := newTestRouter(t)
	p, err := r.ResolveCompletionProvider("fast")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !p.(*fakeCompletion).closed.Load() {
		t.Error("provider was not closed")
	}

	// A closed router builds fresh instances on demand.
	if _, err := r.ResolveCompletionProvider("fast"); err != nil {
		t.Fatal(err)
	}
	if built.Load() != 2 {
		t.Errorf("factory called %d times, want 2", built.Load())
	}
}
