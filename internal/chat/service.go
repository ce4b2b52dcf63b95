// Package chat is the boundary between callers (CLI, MCP tools) and the
// retrieval and completion pipeline. It streams fragments to the caller and
// freezes them into an assistant message that the caller may persist.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spetr/chatwizard/internal/rag"
	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// Status is the terminal status of a streamed response.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Request is one chat turn.
type Request struct {
	Conversation []types.Message
	Generation   types.GenerationConfig
	UseRAG       bool
}

// Response holds the assistant message produced for a Request.
// Message is partial when Status is not StatusCompleted.
type Response struct {
	Message   types.Message
	Status    Status
	Retrieval *rag.Result
	Duration  time.Duration
}

// Streamer runs a (possibly augmented) completion.
type Streamer interface {
	Stream(ctx context.Context, messages []types.Message, gen types.GenerationConfig, useRAG bool, onFragment provider.FragmentFunc) (*rag.Result, error)
}

// Service handles chat requests.
type Service struct {
	streamer Streamer
	defaults func(types.GenerationConfig) types.GenerationConfig
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDefaults sets a function that fills unset generation fields.
func WithDefaults(fn func(types.GenerationConfig) types.GenerationConfig) Option {
	return func(s *Service) { s.defaults = fn }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a chat service.
func NewService(streamer Streamer, opts ...Option) *Service {
	s := &Service{streamer: streamer, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream delivers fragments of the assistant reply to onFragment as they
// arrive. A nil onFragment is allowed when only the final message matters.
//
// Cancellation is not an error: the response has StatusCancelled and the
// error is nil. Any other failure returns the typed error unchanged along
// with the partial response.
func (s *Service) Stream(ctx context.Context, req Request, onFragment provider.FragmentFunc) (*Response, error) {
	gen := req.Generation
	if s.defaults != nil {
		gen = s.defaults(gen)
	}

	start := time.Now()
	var b strings.Builder
	res, err := s.streamer.Stream(ctx, req.Conversation, gen, req.UseRAG, func(fragment string) error {
		b.WriteString(fragment)
		if onFragment != nil {
			return onFragment(fragment)
		}
		return nil
	})

	resp := &Response{
		Status:    StatusCompleted,
		Retrieval: res,
		Duration:  time.Since(start),
	}
	switch {
	case err == nil:
	case errors.Is(err, types.ErrCancelled):
		resp.Status = StatusCancelled
		err = nil
	default:
		resp.Status = StatusFailed
	}

	meta := map[string]any{
		"status":      string(resp.Status),
		"model":       gen.Model,
		"duration_ms": resp.Duration.Milliseconds(),
	}
	if res != nil {
		meta["provider"] = res.Provider
		meta["vendor_model"] = res.Model
		meta["fragments"] = res.Fragments
		if req.UseRAG {
			meta["retrieved_documents"] = len(res.Retrieved)
		}
	}
	if err != nil {
		meta["error"] = err.Error()
	}
	resp.Message = types.Message{
		Role:     types.RoleAssistant,
		Content:  b.String(),
		Metadata: meta,
	}

	logger := s.logger.With("model", gen.Model, "status", resp.Status, "duration", resp.Duration)
	if err != nil {
		logger.Error("chat failed", "error", err)
	} else {
		logger.Info("chat finished")
	}
	return resp, err
}
