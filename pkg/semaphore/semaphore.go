// Package semaphore limits the number of concurrently served sockets.
package semaphore

import (
	"context"
	"fmt"
	"time"
)

// Slots is a counting semaphore backed by a buffered channel.
// A nil *Slots never limits anything.
type Slots struct {
	sem     chan struct{}
	timeout time.Duration
}

// New creates a semaphore with n free slots. Acquire gives up after
// timeout; a zero timeout waits as long as the context allows.
func New(n int, timeout time.Duration) *Slots {
	sem := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		sem <- struct{}{}
	}
	return &Slots{sem: sem, timeout: timeout}
}

// TryAcquire takes a slot without waiting and reports whether it got one.
func (s *Slots) TryAcquire() bool {
	if s == nil {
		return true
	}
	select {
	case <-s.sem:
		return true
	default:
		return false
	}
}

// Acquire waits for a free slot.
func (s *Slots) Acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		parent := ctx
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()

		select {
		case <-s.sem:
			return nil
		case <-ctx.Done():
			if parent.Err() != nil {
				return parent.Err()
			}
			return fmt.Errorf("timeout acquiring slot after %v", s.timeout)
		}
	}

	select {
	case <-s.sem:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot.
func (s *Slots) Release() {
	if s == nil {
		return
	}
	s.sem <- struct{}{}
}

// Free returns the number of currently available slots.
func (s *Slots) Free() int {
	if s == nil {
		return 0
	}
	return len(s.sem)
}
