package rag

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/spetr/chatwizard/builtin/embedding/hash"
	"github.com/spetr/chatwizard/builtin/vectorstore/memory"
	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// recordingProvider streams fixed fragments and records the conversation it received.
type recordingProvider struct {
	fragments []string
	err       error
	got       []types.Message
	calls     int
}

func (p *recordingProvider) Name() string  { return "recording" }
func (p *recordingProvider) Model() string { return "vendor-model" }
func (p *recordingProvider) Close() error  { return nil }
func (p *recordingProvider) StreamChat(ctx context.Context, messages []types.Message, _ types.GenerationConfig, fn provider.FragmentFunc) error {
	p.calls++
	p.got = messages
	emit := provider.NewEmitter(ctx, p.Name(), fn)
	for _, f := range p.fragments {
		if err := emit.Emit(f); err != nil {
			return err
		}
	}
	return p.err
}

type failingEmbedding struct{ calls int }

func (e *failingEmbedding) Name() string      { return "failing" }
func (e *failingEmbedding) Dimensions() int   { return 8 }
func (e *failingEmbedding) MaxBatchSize() int { return 1 }
func (e *failingEmbedding) Close() error      { return nil }
func (e *failingEmbedding) Warmup(context.Context) error {
	return nil
}
func (e *failingEmbedding) Embed(context.Context, []string) ([][]float32, error) {
	e.calls++
	return nil, &types.EmbeddingUnavailableError{Provider: "failing", Err: errors.New("model not loaded")}
}

type fakeResolver struct {
	completion provider.CompletionProvider
	embedding  provider.EmbeddingProvider
	embedCalls int
}

func (r *fakeResolver) ResolveCompletionProvider(id string) (provider.CompletionProvider, error) {
	if id == "missing" {
		return nil, &types.UnknownModelError{Kind: "completion", Model: id}
	}
	return r.completion, nil
}

func (r *fakeResolver) ResolveEmbeddingProvider(string) (provider.EmbeddingProvider, error) {
	r.embedCalls++
	return r.embedding, nil
}

const dims = 256

func newIndex(t *testing.T, contents ...string) *memory.Store {
	t.Helper()
	idx := memory.New()
	docs := make([]*types.Document, len(contents))
	for i, c := range contents {
		docs[i] = &types.Document{
			ID:        fmt.Sprintf("doc-%d", i),
			Content:   c,
			Embedding: hash.Vector(c, dims),
			Metadata:  map[string]any{"source": "notes.md"},
		}
	}
	if err := idx.AddDocuments(context.Background(), docs); err != nil {
		t.Fatal(err)
	}
	return idx
}

func collect(t *testing.T, o *Orchestrator, messages []types.Message, useRAG bool) (*Result, string, error) {
	t.Helper()
	var b strings.Builder
	res, err := o.Stream(context.Background(), messages, types.GenerationConfig{Model: "m"}, useRAG, func(f string) error {
		b.WriteString(f)
		return nil
	})
	return res, b.String(), err
}

var hello = []types.Message{{Role: types.RoleUser, Content: "Hello"}}

func TestStreamWithoutRAG(t *testing.T) {
	p := &recordingProvider{fragments: []string{"Hi", " there"}}
	r := &fakeResolver{completion: p}
	o := New(r, nil, Config{})

	res, text, err := collect(t, o, hello, false)
	if err != nil {
		t.Fatal(err)
	}
	if text != "Hi there" {
		t.Errorf("text = %q, want %q", text, "Hi there")
	}
	want := []State{StateIdle, StateDelegating, StateStreaming, StateDone}
	if !reflect.DeepEqual(res.Transitions, want) {
		t.Errorf("transitions = %v, want %v", res.Transitions, want)
	}
	if r.embedCalls != 0 {
		t.Error("embedding should not be resolved without RAG")
	}
	if res.Fragments != 2 || res.Model != "vendor-model" {
		t.Errorf("result = %+v", res)
	}
}

func TestStreamAugmentsConversation(t *testing.T) {
	idx := newIndex(t,
		"the cat sat on the mat",
		"golang channels and goroutines",
		"stock market report for tuesday",
	)
	p := &recordingProvider{fragments: []string{"ok"}}
	r := &fakeResolver{completion: p, embedding: hash.New(hash.Config{Dimensions: dims})}
	o := New(r, idx, Config{TopK: 2})

	question := []types.Message{{Role: types.RoleUser, Content: "how do goroutines and channels work in golang"}}
	res, _, err := collect(t, o, question, true)
	if err != nil {
		t.Fatal(err)
	}

	want := []State{StateIdle, StateEmbedding, StateQuerying, StateAugmenting, StateDelegating, StateStreaming, StateDone}
	if !reflect.DeepEqual(res.Transitions, want) {
		t.Errorf("transitions = %v, want %v", res.Transitions, want)
	}
	if len(res.Retrieved) != 2 {
		t.Fatalf("retrieved %d documents, want 2", len(res.Retrieved))
	}
	if len(p.got) != 3 {
		t.Fatalf("provider received %d messages, want 3", len(p.got))
	}
	if p.got[0].Role != types.RoleSystem || p.got[0].Content != "golang channels and goroutines" {
		t.Errorf("first message = %+v, want the best match as system context", p.got[0])
	}
	if p.got[0].Metadata["source"] != "notes.md" {
		t.Errorf("context metadata = %v", p.got[0].Metadata)
	}
	if !reflect.DeepEqual(p.got[2], question[0]) {
		t.Errorf("last message = %+v, want the user turn", p.got[2])
	}
}

func TestRetrievalFailureFallsBackToOriginalConversation(t *testing.T) {
	idx := newIndex(t, "some document")
	emb := &failingEmbedding{}
	p := &recordingProvider{fragments: []string{"Hi", " there"}}
	o := New(&fakeResolver{completion: p, embedding: emb}, idx, Config{})

	res, text, err := collect(t, o, hello, true)
	if err != nil {
		t.Fatalf("retrieval failure must not fail the request: %v", err)
	}
	if text != "Hi there" {
		t.Errorf("text = %q", text)
	}
	if !reflect.DeepEqual(p.got, hello) {
		t.Errorf("provider received %+v, want the original conversation", p.got)
	}
	if !errors.Is(res.RetrievalErr, types.ErrEmbeddingUnavailable) {
		t.Errorf("RetrievalErr = %v", res.RetrievalErr)
	}
	if res.State() != StateDone {
		t.Errorf("final state = %s, want done", res.State())
	}
	if emb.calls != 1 {
		t.Errorf("embedding called %d times", emb.calls)
	}
}

func TestRetrievalDimensionMismatchDegrades(t *testing.T) {
	idx := newIndex(t, "indexed with the default test dimension")
	p := &recordingProvider{fragments: []string{"ok"}}
	r := &fakeResolver{completion: p, embedding: hash.New(hash.Config{Dimensions: 32})}

	res, _, err := collect(t, New(r, idx, Config{}), hello, true)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(res.RetrievalErr, types.ErrDimensionMismatch) {
		t.Errorf("RetrievalErr = %v, want dimension mismatch", res.RetrievalErr)
	}
	if !reflect.DeepEqual(p.got, hello) {
		t.Error("expected the unaugmented conversation")
	}
}

func TestRetrievalSkipsNonUserTurn(t *testing.T) {
	p := &recordingProvider{fragments: []string{"ok"}}
	r := &fakeResolver{completion: p, embedding: hash.New(hash.Config{Dimensions: dims})}
	o := New(r, newIndex(t, "doc"), Config{})

	msgs := []types.Message{
		{Role: types.RoleUser, Content: "Hello"},
		{Role: types.RoleAssistant, Content: "Hi"},
	}
	res, _, err := collect(t, o, msgs, true)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(res.RetrievalErr, ErrNoUserTurn) {
		t.Errorf("RetrievalErr = %v", res.RetrievalErr)
	}
	if r.embedCalls != 0 {
		t.Error("nothing should be embedded")
	}
}

func TestThresholdAndTokenBudget(t *testing.T) {
	idx := newIndex(t,
		"alpha beta gamma",
		"alpha beta delta epsilon zeta",
		"unrelated words entirely",
	)
	r := &fakeResolver{completion: &recordingProvider{fragments: []string{"ok"}}, embedding: hash.New(hash.Config{Dimensions: dims})}
	query := []types.Message{{Role: types.RoleUser, Content: "alpha beta gamma"}}

	// The exact match scores 1; the unrelated document is under the threshold.
	res, _, err := collect(t, New(r, idx, Config{TopK: 3, SimilarityThreshold: 0.3}), query, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range res.Retrieved {
		if d.Score < 0.3 {
			t.Errorf("document %s with score %v passed the threshold", d.Document.ID, d.Score)
		}
	}
	if len(res.Retrieved) == 0 || res.Retrieved[0].Document.ID != "doc-0" {
		t.Fatalf("expected doc-0 first, got %+v", res.Retrieved)
	}

	// Counting words, the budget fits only the first document.
	words := func(s string) int { return len(strings.Fields(s)) }
	res, _, err = collect(t, New(r, idx, Config{TopK: 3, MaxContextTokens: 4}, WithTokenCounter(words)), query, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Retrieved) != 1 {
		t.Errorf("retrieved %d documents within a 4 token budget, want 1", len(res.Retrieved))
	}
}

func TestUnknownModelFailsBeforeRetrieval(t *testing.T) {
	r := &fakeResolver{embedding: &failingEmbedding{}}
	o := New(r, newIndex(t, "doc"), Config{})

	res, err := o.Stream(context.Background(), hello, types.GenerationConfig{Model: "missing"}, true, func(string) error { return nil })
	if !errors.Is(err, types.ErrUnknownModel) {
		t.Fatalf("expected unknown model, got %v", err)
	}
	if r.embedCalls != 0 {
		t.Error("retrieval ran for an unknown model")
	}
	if res.State() != StateFailed {
		t.Errorf("state = %s", res.State())
	}
}

func TestCompletionFailure(t *testing.T) {
	vendorErr := &types.VendorError{Provider: "recording", StatusCode: 401, Message: "bad key"}
	p := &recordingProvider{err: vendorErr}
	res, text, err := collect(t, New(&fakeResolver{completion: p}, nil, Config{}), hello, false)
	if !errors.Is(err, types.ErrVendor) {
		t.Fatalf("expected vendor error, got %v", err)
	}
	if text != "" || res.Fragments != 0 {
		t.Errorf("expected no fragments, got %q", text)
	}
	want := []State{StateIdle, StateDelegating, StateFailed}
	if !reflect.DeepEqual(res.Transitions, want) {
		t.Errorf("transitions = %v, want %v", res.Transitions, want)
	}
}

func TestCancellation(t *testing.T) {
	p := &recordingProvider{fragments: []string{"A", "B", "C"}}
	o := New(&fakeResolver{completion: p}, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	res, err := o.Stream(ctx, hello, types.GenerationConfig{}, false, func(f string) error {
		got = append(got, f)
		cancel()
		return nil
	})
	if !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("delivered %v after cancellation", got)
	}
	if res.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", res.State())
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := map[string]int{"": 0, "abc": 1, "abcd": 1, "abcde": 2}
	for in, want := range tests {
		if got := EstimateTokens(in); got != want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", in, got, want)
		}
	}
}
