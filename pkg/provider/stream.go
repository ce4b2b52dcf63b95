package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spetr/chatwizard/pkg/types"
)

// Emitter forwards vendor fragments to a FragmentFunc.
// Empty fragments are dropped and nothing is delivered once ctx is done.
type Emitter struct {
	ctx   context.Context
	name  string
	fn    FragmentFunc
	count int
}

// NewEmitter creates an emitter for one StreamChat call.
func NewEmitter(ctx context.Context, name string, fn FragmentFunc) *Emitter {
	return &Emitter{ctx: ctx, name: name, fn: fn}
}

// Emit delivers fragment unless it is empty.
// Errors returned by the callback are passed through unchanged.
func (e *Emitter) Emit(fragment string) error {
	if fragment == "" {
		return nil
	}
	if err := e.ctx.Err(); err != nil {
		return ClassifyError(e.name, e.ctx, err)
	}
	e.count++
	return e.fn(fragment)
}

// Fail maps a transport-level error to the error taxonomy.
func (e *Emitter) Fail(err error) error {
	return ClassifyError(e.name, e.ctx, err)
}

// Count returns the number of fragments delivered so far.
func (e *Emitter) Count() int {
	return e.count
}

// ClassifyError maps err to the error taxonomy.
// Typed errors are returned as they are. A cancelled ctx yields types.ErrCancelled,
// an expired deadline yields a timeout TransportError, anything else a TransportError.
func ClassifyError(name string, ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, types.ErrCancelled) ||
		errors.Is(err, types.ErrTransport) ||
		errors.Is(err, types.ErrVendor) ||
		errors.Is(err, types.ErrConfiguration) {
		return err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return &types.TransportError{Provider: name, Timeout: true, Err: err}
		}
		return fmt.Errorf("%s: %w", name, types.ErrCancelled)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &types.TransportError{Provider: name, Timeout: true, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", name, types.ErrCancelled)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &types.TransportError{Provider: name, Timeout: true, Err: err}
	}
	return &types.TransportError{Provider: name, Err: err}
}

// WithTimeout applies the per-call deadline. cfg.Timeout wins over fallback;
// zero for both leaves ctx unchanged.
func WithTimeout(ctx context.Context, timeout, fallback time.Duration) (context.Context, context.CancelFunc) {
	if timeout == 0 {
		timeout = fallback
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Collect runs StreamChat and concatenates the fragments.
// On error the partial text is returned alongside it.
func Collect(ctx context.Context, p CompletionProvider, messages []types.Message, cfg types.GenerationConfig) (string, error) {
	var b strings.Builder
	err := p.StreamChat(ctx, messages, cfg, func(fragment string) error {
		b.WriteString(fragment)
		return nil
	})
	return b.String(), err
}
