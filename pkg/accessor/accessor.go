// Package accessor hands out one lazily established, shared connection.
//
// The first Acquire starts a connection attempt. Callers arriving while the
// attempt is in flight join it instead of starting their own, and once it
// succeeded every later Acquire gets the same connection until Release
// tears it down. All callers first pass a foreground gate, so nothing is
// dialed while the application sits in the background.
package accessor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"nodeshell/pkg/log"
)

var (
	// ErrReleased is returned to callers waiting on an attempt that was
	// abandoned by Release.
	ErrReleased = errors.New("connection released while establishing")

	// ErrConnectTimeout is returned when an attempt exceeds the configured
	// connect timeout.
	ErrConnectTimeout = errors.New("timed out establishing connection")
)

// Conn is the capability set the accessor needs to tear a connection down.
type Conn interface {
	RemoveAllListeners()
	Disconnect() error
}

// DialFunc establishes a new connection. It should return once the
// connection is usable and honor ctx.
type DialFunc[C Conn] func(ctx context.Context) (C, error)

// Options configure an Accessor.
type Options struct {
	// ConnectTimeout bounds each connection attempt. Zero waits forever.
	ConnectTimeout time.Duration

	// Gate is shared with the lifecycle source. Nil creates an open gate.
	Gate *Gate

	Logger *log.Logger
}

// Result is delivered by AcquireAsync.
type Result[C Conn] struct {
	Conn C
	Err  error
}

// attempt is the single in-flight connection attempt. seq is unique per
// attempt and keys the singleflight call, so a new attempt never joins the
// tail of a finished one.
type attempt struct {
	seq    int
	ctx    context.Context
	cancel context.CancelFunc
}

// Accessor owns at most one live connection and at most one pending
// attempt to establish it.
type Accessor[C Conn] struct {
	dial    DialFunc[C]
	gate    *Gate
	timeout time.Duration
	logger  *log.Logger

	group singleflight.Group

	mu       sync.Mutex
	live     C
	hasLive  bool
	pending  *attempt
	attempts int
}

// New creates an accessor dialing with dial.
func New[C Conn](dial DialFunc[C], opts Options) *Accessor[C] {
	gate := opts.Gate
	if gate == nil {
		gate = NewGate()
	}
	return &Accessor[C]{
		dial:    dial,
		gate:    gate,
		timeout: opts.ConnectTimeout,
		logger:  opts.Logger,
	}
}

// Foreground opens the gate; callers held by it proceed.
func (a *Accessor[C]) Foreground() {
	a.gate.Open()
}

// Background closes the gate; later callers wait for Foreground.
func (a *Accessor[C]) Background() {
	a.gate.Close()
}

// Acquire returns the shared connection, establishing it if needed.
// ctx bounds only this caller's wait. Giving up does not cancel the
// attempt other callers share.
func (a *Accessor[C]) Acquire(ctx context.Context) (C, error) {
	var zero C

	if err := a.gate.Wait(ctx); err != nil {
		return zero, fmt.Errorf("waiting for foreground: %w", err)
	}

	a.mu.Lock()
	if a.hasLive {
		c := a.live
		a.mu.Unlock()
		return c, nil
	}

	if a.pending == nil {
		a.pending = a.newAttempt()
	}
	p := a.pending
	ch := a.group.DoChan(strconv.Itoa(p.seq), func() (interface{}, error) {
		return a.establish(p)
	})
	a.mu.Unlock()

	select {
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(C), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// AcquireAsync runs Acquire in the background. The result is delivered
// exactly once on the returned channel.
func (a *Accessor[C]) AcquireAsync(ctx context.Context) <-chan Result[C] {
	out := make(chan Result[C], 1)
	go func() {
		c, err := a.Acquire(ctx)
		out <- Result[C]{Conn: c, Err: err}
	}()
	return out
}

// Release tears down the live connection: its listeners are removed and
// it is disconnected. An attempt still in flight is abandoned and its
// waiters receive ErrReleased. The next Acquire starts from scratch.
func (a *Accessor[C]) Release() {
	a.mu.Lock()
	p := a.pending
	live, hadLive := a.live, a.hasLive

	var zero C
	a.pending = nil
	a.live = zero
	a.hasLive = false
	a.mu.Unlock()

	if p != nil {
		a.logger.VerboseMsg("Abandoning connection attempt %d\n", p.seq)
		p.cancel()
	}

	if hadLive {
		live.RemoveAllListeners()
		if err := live.Disconnect(); err != nil {
			a.logger.ErrorMsg("Disconnecting: %s\n", err)
		}
		a.logger.VerboseMsg("Connection released\n")
	}
}

// Live returns the established connection, if there is one.
func (a *Accessor[C]) Live() (C, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live, a.hasLive
}

// Pending reports whether an attempt is in flight.
func (a *Accessor[C]) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil
}

// Attempts returns the number of connection attempts started so far.
func (a *Accessor[C]) Attempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts
}

// newAttempt must be called with a.mu held.
func (a *Accessor[C]) newAttempt() *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	if a.timeout > 0 {
		ctx, cancel = withTimeout(ctx, cancel, a.timeout)
	}
	a.attempts++
	return &attempt{seq: a.attempts, ctx: ctx, cancel: cancel}
}

func withTimeout(parent context.Context, parentCancel context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, d)
	return ctx, func() {
		cancel()
		parentCancel()
	}
}

// establish runs the dial of attempt p. It gives up when p's context
// ends even if the dial itself ignores the context; a connection that
// shows up afterwards is disconnected.
func (a *Accessor[C]) establish(p *attempt) (C, error) {
	var zero C

	resCh := make(chan dialResult[C], 1)
	go func() {
		c, err := a.dial(p.ctx)
		resCh <- dialResult[C]{c, err}
	}()

	var res dialResult[C]
	select {
	case res = <-resCh:
	case <-p.ctx.Done():
		go discardLate(resCh, a.logger)
		res.err = p.ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	current := a.pending == p
	if current {
		a.pending = nil
		defer p.cancel()
	}

	if res.err != nil {
		switch {
		case !current:
			return zero, ErrReleased
		case errors.Is(p.ctx.Err(), context.DeadlineExceeded):
			a.logger.ErrorMsg("Connection attempt timed out after %s\n", a.timeout)
			return zero, ErrConnectTimeout
		default:
			a.logger.ErrorMsg("Connection attempt failed: %s\n", res.err)
			return zero, fmt.Errorf("establishing connection: %w", res.err)
		}
	}

	if !current {
		res.c.RemoveAllListeners()
		_ = res.c.Disconnect()
		return zero, ErrReleased
	}

	a.live = res.c
	a.hasLive = true
	a.logger.InfoMsg("Socket connection established.\n")
	return res.c, nil
}

type dialResult[C Conn] struct {
	c   C
	err error
}

// discardLate waits for a dial that outlived its attempt and closes
// whatever it produced.
func discardLate[C Conn](resCh <-chan dialResult[C], logger *log.Logger) {
	res := <-resCh
	if res.err != nil {
		return
	}
	logger.VerboseMsg("Discarding connection of an abandoned attempt\n")
	res.c.RemoveAllListeners()
	_ = res.c.Disconnect()
}
