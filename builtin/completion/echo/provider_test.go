package echo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

func TestStreamChat(t *testing.T) {
	p := New(Config{})

	var got []string
	err := p.StreamChat(context.Background(), []types.Message{
		{Role: types.RoleUser, Content: "earlier"},
		{Role: types.RoleAssistant, Content: "reply"},
		{Role: types.RoleUser, Content: "Hi there"},
	}, types.GenerationConfig{}, func(f string) error {
		got = append(got, f)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "Hi" || got[1] != " there" {
		t.Errorf("fragments = %q, want [Hi, there]", got)
	}
}

func TestStreamChatContextPrefix(t *testing.T) {
	text, err := provider.Collect(context.Background(), New(Config{}), []types.Message{
		{Role: types.RoleSystem, Content: "doc one"},
		{Role: types.RoleSystem, Content: "doc two"},
		{Role: types.RoleUser, Content: "question"},
	}, types.GenerationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if text != "[context: 2] question" {
		t.Errorf("text = %q", text)
	}
}

func TestStreamChatCancel(t *testing.T) {
	p := New(Config{Delay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := p.StreamChat(ctx, []types.Message{{Role: types.RoleUser, Content: "one two three four"}},
		types.GenerationConfig{}, func(string) error {
			calls++
			cancel()
			return nil
		})
	if !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
