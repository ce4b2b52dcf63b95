package provider

import (
	"context"
	"time"

	"github.com/spetr/chatwizard/pkg/types"
)

// FragmentFunc receives one non-empty piece of generated text.
// Returning an error stops the stream; the provider returns that error unchanged.
type FragmentFunc func(fragment string) error

// CompletionProvider streams a chat completion from one vendor.
type CompletionProvider interface {
	// Name returns the provider name (e.g., "openai", "anthropic").
	Name() string

	// Model returns the vendor model identifier requests are sent to.
	Model() string

	// StreamChat sends the conversation upstream once and delivers fragments
	// to onFragment in the order the vendor emitted them.
	// It returns nil on normal completion, types.ErrCancelled when ctx is
	// cancelled, or a ConfigurationError, TransportError or VendorError.
	StreamChat(ctx context.Context, messages []types.Message, cfg types.GenerationConfig, onFragment FragmentFunc) error

	// Close releases any resources.
	Close() error
}

// CompletionConfig contains configuration for completion providers.
type CompletionConfig struct {
	Provider string        // "openai", "anthropic", "google", "ollama", "echo"
	Model    string        // vendor model name
	APIKey   string        // opaque credential
	Endpoint string        // API base URL override
	Timeout  time.Duration // default per-call deadline
}
