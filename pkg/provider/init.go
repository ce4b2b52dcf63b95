package provider

import (
	"context"
	"sync"
	"sync/atomic"
)

// InitGuard runs a one-time initialization.
// Concurrent first callers block until the first attempt finishes; only a
// successful attempt is remembered, so a failed load can be retried later.
type InitGuard struct {
	mu   sync.Mutex
	done atomic.Bool
}

// Do runs fn unless a previous call already succeeded.
func (g *InitGuard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.done.Load() {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done.Load() {
		return nil
	}
	if err := fn(ctx); err != nil {
		return err
	}
	g.done.Store(true)
	return nil
}

// Done reports whether initialization has succeeded.
func (g *InitGuard) Done() bool {
	return g.done.Load()
}
