// Package google implements CompletionProvider using the Gemini generateContent API.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spetr/chatwizard/builtin/completion/internal/sse"
	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// Default values
const (
	DefaultEndpoint   = "https://generativelanguage.googleapis.com"
	DefaultModel      = "gemini-pro"
	DefaultTimeout    = 2 * time.Minute
	maxErrorBodyBytes = 64 * 1024
)

// Config contains Google provider configuration.
type Config struct {
	Model    string
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// Provider implements the CompletionProvider interface for Gemini models.
//
// Requests are single-shot: only the final message is sent as the user turn.
// System messages, including retrieved context, become the system instruction.
type Provider struct {
	config Config
	client *http.Client
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// New creates a new Google completion provider.
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
		return nil, &types.ConfigurationError{Provider: "google", Reason: "API key not set"}
	}

	return &Provider{
		config: cfg,
		client: &http.Client{},
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "google"
}

// Model returns the vendor model name.
func (p *Provider) Model() string {
	return p.config.Model
}

// StreamChat streams a completion for the last message of the conversation.
func (p *Provider) StreamChat(ctx context.Context, messages []types.Message, cfg types.GenerationConfig, onFragment provider.FragmentFunc) error {
	if p.client == nil || p.config.APIKey == "" {
		return &types.ConfigurationError{Provider: p.Name(), Reason: "API key not set"}
	}
	if err := types.ValidateConversation(messages); err != nil {
		return err
	}

	ctx, cancel := provider.WithTimeout(ctx, cfg.Timeout, p.config.Timeout)
	defer cancel()

	body, err := json.Marshal(buildRequest(messages, cfg))
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse",
		strings.TrimRight(p.config.Endpoint, "/"), url.PathEscape(p.config.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.config.APIKey)

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
			return nil
		}
		if err != nil {
			return emit.Fail(err)
		}

		var chunk generateResponse
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return &types.TransportError{Provider: p.Name(), Err: fmt.Errorf("malformed event: %w", err)}
		}
		if chunk.Error != nil {
			return &types.VendorError{
				Provider:   p.Name(),
				StatusCode: chunk.Error.Code,
				Code:       chunk.Error.Status,
				Message:    chunk.Error.Message,
			}
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		for _, pt := range chunk.Candidates[0].Content.Parts {
			if err := emit.Emit(pt.Text); err != nil {
				return err
			}
		}
	}
}

func buildRequest(messages []types.Message, cfg types.GenerationConfig) generateRequest {
	var system []part
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			system = append(system, part{Text: m.Content})
		}
	}

	last := messages[len(messages)-1]
	req := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: last.Content}}}},
	}
	if len(system) > 0 {
		req.SystemInstruction = &content{Parts: system}
	}
	if cfg.Temperature != nil || cfg.MaxTokens > 0 {
		gc := &generationConfig{MaxOutputTokens: cfg.MaxTokens}
		if cfg.Temperature != nil {
			gc.Temperature = types.Float32(*cfg.Temperature)
		}
		req.GenerationConfig = gc
	}
	return req
}

func (p *Provider) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	vendorErr := &types.VendorError{Provider: p.Name(), StatusCode: resp.StatusCode}
	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		vendorErr.Code = parsed.Error.Status
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
