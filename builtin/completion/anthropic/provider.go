// Package anthropic implements CompletionProvider using the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spetr/chatwizard/builtin/completion/internal/sse"
	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// Default values
const (
	DefaultEndpoint   = "https://api.anthropic.com"
	DefaultModel      = "claude-3-opus-20240229"
	DefaultMaxTokens  = 4096 // max_tokens is mandatory for this vendor
	DefaultTimeout    = 2 * time.Minute
	APIVersion        = "2023-06-01"
	messagesPath      = "/v1/messages"
	maxErrorBodyBytes = 64 * 1024
)

// Config contains Anthropic provider configuration.
type Config struct {
	Model    string
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// Provider implements the CompletionProvider interface for Anthropic.
type Provider struct {
	config Config
	client *http.Client
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature *float32  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

// streamEvent covers the event payloads the adapter reads.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// New creates a new Anthropic completion provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.APIKey == "" {
		return nil, &types.ConfigurationError{Provider: "anthropic", Reason: "API key not set"}
	}

	return &Provider{
		config: cfg,
		client: &http.Client{},
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "anthropic"
}

// Model returns the vendor model name.
func (p *Provider) Model() string {
	return p.config.Model
}

// StreamChat streams a chat completion. System messages are joined into the
// request's top-level system prompt; the rest are sent in order.
func (p *Provider) StreamChat(ctx context.Context, messages []types.Message, cfg types.GenerationConfig, onFragment provider.FragmentFunc) error {
	if p.client == nil || p.config.APIKey == "" {
		return &types.ConfigurationError{Provider: p.Name(), Reason: "API key not set"}
	}
	if err := types.ValidateConversation(messages); err != nil {
		return err
	}

	ctx, cancel := provider.WithTimeout(ctx, cfg.Timeout, p.config.Timeout)
	defer cancel()

	body, err := json.Marshal(p.buildRequest(messages, cfg))
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.config.Endpoint, "/")+messagesPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", APIVersion)

	emit := provider.NewEmitter(ctx, p.Name(), onFragment)

	resp, err := p.client.Do(req)
	if err != nil {
		return emit.Fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.statusError(resp)
	}

	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			if ctx.Err() != nil {
				return emit.Fail(ctx.Err())
			}
			return &types.TransportError{Provider: p.Name(), Err: io.ErrUnexpectedEOF}
		}
		if err != nil {
			return emit.Fail(err)
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
			return &types.TransportError{Provider: p.Name(), Err: fmt.Errorf("malformed event: %w", err)}
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type != "" && event.Delta.Type != "text_delta" {
				continue
			}
			if err := emit.Emit(event.Delta.Text); err != nil {
				return err
			}
		case "error":
			vendorErr := &types.VendorError{Provider: p.Name()}
			if event.Error != nil {
				vendorErr.Code = event.Error.Type
				vendorErr.Message = event.Error.Message
			}
			return vendorErr
		case "message_stop":
			return nil
		}
	}
}

func (p *Provider) buildRequest(messages []types.Message, cfg types.GenerationConfig) messagesRequest {
	req := messagesRequest{
		Model:     p.config.Model,
		MaxTokens: cfg.MaxTokens,
		Stream:    true,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature != nil {
		req.Temperature = types.Float32(*cfg.Temperature)
	}

	var system []string
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		req.Messages = append(req.Messages, message{Role: string(m.Role), Content: m.Content})
	}
	req.System = strings.Join(system, "\n\n")
	return req
}

func (p *Provider) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	vendorErr := &types.VendorError{Provider: p.Name(), StatusCode: resp.StatusCode}
	var parsed struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		vendorErr.Code = parsed.Error.Type
		vendorErr.Message = parsed.Error.Message
	} else {
		vendorErr.Message = strings.TrimSpace(string(body))
	}
	return vendorErr
}

// Close releases resources.
func (p *Provider) Close() error {
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	return nil
}

// Ensure Provider implements CompletionProvider interface
var _ provider.CompletionProvider = (*Provider)(nil)
