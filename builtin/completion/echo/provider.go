// Package echo implements an offline CompletionProvider that streams the last
// user message back word by word.
package echo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// Config contains echo provider configuration.
type Config struct {
	Model string
	Delay time.Duration // pause between fragments
}

// Provider implements the CompletionProvider interface without network access.
type Provider struct {
	config Config
}

// New creates a new echo provider.
func New(cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = "echo"
	}
	return &Provider{config: cfg}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "echo"
}

// Model returns the model name.
func (p *Provider) Model() string {
	return p.config.Model
}

// StreamChat echoes the last user message. Retrieved system context is
// reported as a single bracketed prefix fragment.
func (p *Provider) StreamChat(ctx context.Context, messages []types.Message, cfg types.GenerationConfig, onFragment provider.FragmentFunc) error {
	if err := types.ValidateConversation(messages); err != nil {
		return err
	}

	ctx, cancel := provider.WithTimeout(ctx, cfg.Timeout, 0)
	defer cancel()
	emit := provider.NewEmitter(ctx, p.Name(), onFragment)

	var lastUser string
	systemCount := 0
	for _, m := range messages {
		switch m.Role {
		case types.RoleUser:
			lastUser = m.Content
		case types.RoleSystem:
			systemCount++
		}
	}

	if systemCount > 0 {
		if err := emit.Emit(fmt.Sprintf("[context: %d] ", systemCount)); err != nil {
			return err
		}
	}

	for _, word := range splitWords(lastUser) {
		if p.config.Delay > 0 {
			select {
			case <-ctx.Done():
				return emit.Fail(ctx.Err())
			case <-time.After(p.config.Delay):
			}
		}
		if err := emit.Emit(word); err != nil {
			return err
		}
	}
	return nil
}

// splitWords splits s into words, keeping the leading space on each word
// after the first so concatenation restores the input.
func splitWords(s string) []string {
	fields := strings.Fields(s)
	for i := 1; i < len(fields); i++ {
		fields[i] = " " + fields[i]
	}
	return fields
}

// Close releases resources.
func (p *Provider) Close() error {
	return nil
}

// Ensure Provider implements CompletionProvider interface
var _ provider.CompletionProvider = (*Provider)(nil)
