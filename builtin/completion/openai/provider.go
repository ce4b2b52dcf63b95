// Package openai implements CompletionProvider using OpenAI's chat completions API.
// Any OpenAI-compatible endpoint can be used by setting BaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// Default values
const (
	DefaultModel   = openai.GPT4
	DefaultTimeout = 2 * time.Minute
)

// Config contains OpenAI completion provider configuration.
type Config struct {
	Model   string
	APIKey  string
	BaseURL string        // Optional: custom OpenAI-compatible endpoint
	Timeout time.Duration // Default per-call deadline, overridden by GenerationConfig.Timeout
}

// Provider implements the CompletionProvider interface for OpenAI.
type Provider struct {
	config Config
	client *openai.Client
}

// New creates a new OpenAI completion provider.
// It fails with a ConfigurationError when no API key is given.
func New(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.APIKey == "" {
		return nil, &types.ConfigurationError{Provider: "openai", Reason: "API key not set"}
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Provider{
		config: cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "openai"
}

// Model returns the vendor model name.
func (p *Provider) Model() string {
	return p.config.Model
}

// StreamChat streams a chat completion.
func (p *Provider) StreamChat(ctx context.Context, messages []types.Message, cfg types.GenerationConfig, onFragment provider.FragmentFunc) error {
	if p.client == nil || p.config.APIKey == "" {
		return &types.ConfigurationError{Provider: p.Name(), Reason: "API key not set"}
	}
	if err := types.ValidateConversation(messages); err != nil {
		return err
	}

	ctx, cancel := provider.WithTimeout(ctx, cfg.Timeout, p.config.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Messages:    toChatMessages(messages),
		Temperature: temperature(cfg.Temperature),
		MaxTokens:   cfg.MaxTokens,
		Stream:      true,
	}

	emit := provider.NewEmitter(ctx, p.Name(), onFragment)

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return p.mapError(ctx, err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return p.mapError(ctx, err)
		}

		for _, choice := range resp.Choices {
			if err := emit.Emit(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
}

// mapError converts go-openai errors to the error taxonomy.
func (p *Provider) mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return provider.ClassifyError(p.Name(), ctx, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Type
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return &types.VendorError{
			Provider:   p.Name(),
			StatusCode: apiErr.HTTPStatusCode,
			Code:       code,
			Message:    apiErr.Message,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode >= http.StatusBadRequest {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if len(reqErr.Body) > 0 {
			msg = string(reqErr.Body)
		}
		return &types.VendorError{
			Provider:   p.Name(),
			StatusCode: reqErr.HTTPStatusCode,
			Message:    msg,
		}
	}

	return provider.ClassifyError(p.Name(), ctx, err)
}

// Close releases resources.
func (p *Provider) Close() error {
	return nil
}

func toChatMessages(messages []types.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case types.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case types.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// temperature maps an optional temperature onto go-openai's field, which
// omits zero. An explicit zero is sent as the smallest positive float32,
// which the API treats as greedy sampling.
func temperature(t *float32) float32 {
	switch {
	case t == nil:
		return 0
	case *t == 0:
		return math.SmallestNonzeroFloat32
	default:
		return *t
	}
}

// Ensure Provider implements CompletionProvider interface
var _ provider.CompletionProvider = (*Provider)(nil)
