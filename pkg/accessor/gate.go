package accessor

import (
	"context"
	"sync"
)

// Gate holds callers while the application is in the background.
// A new gate is open: the application starts in the foreground.
type Gate struct {
	mu   sync.Mutex
	open chan struct{} // closed while in foreground
}

// NewGate returns an open gate.
func NewGate() *Gate {
	ch := make(chan struct{})
	close(ch)
	return &Gate{open: ch}
}

// Wait blocks until the gate is open or ctx ends.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Open resolves the gate and releases every waiter. Opening an open gate
// is a no-op.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.open:
	default:
		close(g.open)
	}
}

// Close re-arms the gate so that new waiters block until the next Open.
// Closing a closed gate keeps the pending waiters on the same signal.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.open:
		g.open = make(chan struct{})
	default:
	}
}

// IsOpen reports whether the gate is currently open.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.open:
		return true
	default:
		return false
	}
}
