package chat

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/spetr/chatwizard/internal/rag"
	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// scriptedProvider streams fragments, then returns err.
type scriptedProvider struct {
	fragments []string
	err       error
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }
func (p *scriptedProvider) Close() error  { return nil }
func (p *scriptedProvider) StreamChat(ctx context.Context, _ []types.Message, _ types.GenerationConfig, fn provider.FragmentFunc) error {
	emit := provider.NewEmitter(ctx, p.Name(), fn)
	for _, f := range p.fragments {
		if err := emit.Emit(f); err != nil {
			return err
		}
	}
	return p.err
}

type resolver struct{ p provider.CompletionProvider }

func (r resolver) ResolveCompletionProvider(string) (provider.CompletionProvider, error) {
	return r.p, nil
}

func (r resolver) ResolveEmbeddingProvider(string) (provider.EmbeddingProvider, error) {
	return nil, errors.New("no embeddings")
}

func newService(p provider.CompletionProvider) *Service {
	return NewService(rag.New(resolver{p}, nil, rag.Config{}))
}

var hello = Request{Conversation: []types.Message{{Role: types.RoleUser, Content: "Hello"}}}

func TestStreamHelloScenario(t *testing.T) {
	svc := newService(&scriptedProvider{fragments: []string{"Hi", " there"}})

	var got []string
	resp, err := svc.Stream(context.Background(), hello, func(f string) error {
		got = append(got, f)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"Hi", " there"}) {
		t.Errorf("fragments = %q", got)
	}
	if resp.Status != StatusCompleted {
		t.Errorf("status = %s", resp.Status)
	}
	if resp.Message.Role != types.RoleAssistant || resp.Message.Content != "Hi there" {
		t.Errorf("message = %+v", resp.Message)
	}
	if resp.Message.Metadata["vendor_model"] != "scripted-1" || resp.Message.Metadata["fragments"] != 2 {
		t.Errorf("metadata = %v", resp.Message.Metadata)
	}
}

func TestStreamFailureKeepsPartialMessage(t *testing.T) {
	transportErr := &types.TransportError{Provider: "scripted", Err: errors.New("connection reset")}
	svc := newService(&scriptedProvider{fragments: []string{"partial"}, err: transportErr})

	resp, err := svc.Stream(context.Background(), hello, nil)
	if !errors.Is(err, types.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if resp.Status != StatusFailed || resp.Message.Content != "partial" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Message.Metadata["error"] == nil {
		t.Error("expected the error in metadata")
	}
}

func TestStreamFailureBeforeContent(t *testing.T) {
	svc := newService(&scriptedProvider{err: &types.VendorError{Provider: "scripted", StatusCode: 400, Code: "invalid_request_error"}})

	resp, err := svc.Stream(context.Background(), hello, nil)
	var vendorErr *types.VendorError
	if !errors.As(err, &vendorErr) || vendorErr.Code != "invalid_request_error" {
		t.Fatalf("expected the vendor error unchanged, got %v", err)
	}
	if resp.Message.Content != "" {
		t.Errorf("content = %q, want empty", resp.Message.Content)
	}
}

func TestStreamCancellationIsNotAnError(t *testing.T) {
	svc := newService(&scriptedProvider{fragments: []string{"A", "B", "C"}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp, err := svc.Stream(ctx, hello, func(string) error {
		cancel()
		return nil
	})
	if err != nil {
		t.Fatalf("cancellation returned error %v", err)
	}
	if resp.Status != StatusCancelled || resp.Message.Content != "A" {
		t.Errorf("response = %+v", resp)
	}
}

func TestStreamAppliesDefaults(t *testing.T) {
	var seen types.GenerationConfig
	svc := NewService(streamerFunc(func(gen types.GenerationConfig) { seen = gen }),
		WithDefaults(func(g types.GenerationConfig) types.GenerationConfig {
			if g.Model == "" {
				g.Model = "default-model"
			}
			g.MaxTokens = 99
			return g
		}))

	resp, err := svc.Stream(context.Background(), hello, nil)
	if err != nil {
		t.Fatal(err)
	}
	if seen.Model != "default-model" || seen.MaxTokens != 99 {
		t.Errorf("generation = %+v", seen)
	}
	if resp.Message.Metadata["model"] != "default-model" {
		t.Errorf("metadata model = %v", resp.Message.Metadata["model"])
	}
}

type streamerFunc func(types.GenerationConfig)

func (f streamerFunc) Stream(_ context.Context, _ []types.Message, gen types.GenerationConfig, _ bool, fn provider.FragmentFunc) (*rag.Result, error) {
	f(gen)
	return &rag.Result{}, fn("ok")
}
