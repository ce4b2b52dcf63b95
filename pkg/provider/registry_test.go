package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/spetr/chatwizard/pkg/types"
)

type stubCompletion struct{ model string }

func (s *stubCompletion) Name() string  { return "stub" }
func (s *stubCompletion) Model() string { return s.model }
func (s *stubCompletion) StreamChat(ctx context.Context, _ []types.Message, _ types.GenerationConfig, fn FragmentFunc) error {
	return fn("ok")
}
func (s *stubCompletion) Close() error { return nil }

func TestRegistryCompletion(t *testing.T) {
	r := NewRegistry()
	r.RegisterCompletion("stub", func(cfg CompletionConfig) (CompletionProvider, error) {
		return &stubCompletion{model: cfg.Model}, nil
	})

	if !r.HasCompletion("stub") {
		t.Fatal("expected stub to be registered")
	}

	p, err := r.CreateCompletion("stub", CompletionConfig{Model: "m1"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Model() != "m1" {
		t.Errorf("Model() = %q", p.Model())
	}

	text, err := Collect(context.Background(), p, []types.Message{{Role: types.RoleUser, Content: "x"}}, types.GenerationConfig{})
	if err != nil || text != "ok" {
		t.Errorf("Collect() = %q, %v", text, err)
	}
}

func TestRegistryUnknown(t *testing.T) {
	r := NewRegistry()

	if _, err := r.CreateCompletion("missing", CompletionConfig{}); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
	if _, err := r.CreateEmbedding("missing", EmbeddingConfig{}); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
