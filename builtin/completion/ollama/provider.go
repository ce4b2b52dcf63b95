// Package ollama implements CompletionProvider using Ollama's chat API.
package ollama

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

	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// Default values
const (
	DefaultModel    = "llama3.2"
	DefaultEndpoint = "http://localhost:11434"
	DefaultTimeout  = 5 * time.Minute // local models can take a while to load
)

// Config contains Ollama completion provider configuration.
type Config struct {
	Model    string
	Endpoint string
	APIKey   string // Optional bearer token for proxied deployments
	Timeout  time.Duration
}

// Provider implements the CompletionProvider interface for Ollama.
type Provider struct {
	config Config
	client *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature *float32 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	NumCtx      int      `json:"num_ctx,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// New creates a new Ollama completion provider. No credentials are required.
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

	return &Provider{
		config: cfg,
		client: &http.Client{},
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ollama"
}

// Model returns the vendor model name.
func (p *Provider) Model() string {
	return p.config.Model
}

// StreamChat streams a chat completion from NDJSON chunks.
func (p *Provider) StreamChat(ctx context.Context, messages []types.Message, cfg types.GenerationConfig, onFragment provider.FragmentFunc) error {
	if p.client == nil || p.config.Endpoint == "" {
		return &types.ConfigurationError{Provider: p.Name(), Reason: "endpoint not set"}
	}
	if err := types.ValidateConversation(messages); err != nil {
		return err
	}

	ctx, cancel := provider.WithTimeout(ctx, cfg.Timeout, p.config.Timeout)
	defer cancel()

	payload := chatRequest{
		Model:  p.config.Model,
		Stream: true,
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if cfg.Temperature != nil || cfg.MaxTokens > 0 || cfg.ContextWindow > 0 {
		opts := &chatOptions{NumPredict: cfg.MaxTokens, NumCtx: cfg.ContextWindow}
		if cfg.Temperature != nil {
			opts.Temperature = types.Float32(*cfg.Temperature)
		}
		payload.Options = opts
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.config.Endpoint, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	emit := provider.NewEmitter(ctx, p.Name(), onFragment)

	resp, err := p.client.Do(req)
	if err != nil {
		return emit.Fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk chatChunk
		err := decoder.Decode(&chunk)
		if errors.Is(err, io.EOF) {
			if ctx.Err() != nil {
				return emit.Fail(ctx.Err())
			}
			return &types.TransportError{Provider: p.Name(), Err: io.ErrUnexpectedEOF}
		}
		if err != nil {
			return emit.Fail(err)
		}

		if chunk.Error != "" {
			return &types.VendorError{Provider: p.Name(), Message: chunk.Error}
		}
		if err := emit.Emit(chunk.Message.Content); err != nil {
			return err
		}
		if chunk.Done {
			return nil
		}
	}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	vendorErr := &types.VendorError{Provider: "ollama", StatusCode: resp.StatusCode}
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		vendorErr.Message = parsed.Error
	} else {
		vendorErr.Message = strings.TrimSpace(string(body))
	}
	if resp.StatusCode == http.StatusNotFound {
		vendorErr.Code = "model_not_found"
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
