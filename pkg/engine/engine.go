// Package engine is the background runtime the shell drives. It serves
// a small HTTP API and the event socket on loopback and answers requests
// posted on the channel.
package engine

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"nodeshell/pkg/channel"
	"nodeshell/pkg/channel/msg"
	"nodeshell/pkg/config"
	"nodeshell/pkg/log"
	"nodeshell/pkg/transport/ws"
)

// Engine owns the HTTP listener and the channel handlers.
type Engine struct {
	shared *config.Shared
	cfg    *config.Engine
	ch     *channel.Channel
	logger *log.Logger

	version string
	started time.Time
	now     func() time.Time

	mu      sync.Mutex
	toggles map[string]channel.Listener
	active  map[string]channel.ID
	ready   chan struct{}
	addr    net.Addr
}

// New creates an engine answering on ch. version is reported by the
// HTTP API.
func New(shared *config.Shared, cfg *config.Engine, ch *channel.Channel, version string, logger *log.Logger) *Engine {
	e := &Engine{
		shared:  shared,
		cfg:     cfg,
		ch:      ch,
		logger:  logger,
		version: version,
		started: time.Now(),
		now:     time.Now,
		active:  make(map[string]channel.ID),
		ready:   make(chan struct{}),
	}
	e.toggles = map[string]channel.Listener{
		msg.EventEcho: e.onEcho,
	}
	return e
}

// Ready is closed once the HTTP API accepts connections.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// Addr returns the bound HTTP address. It is nil before Ready.
func (e *Engine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

// Run registers the channel handlers, serves HTTP and blocks until ctx
// ends, the channel closes or serving fails.
func (e *Engine) Run(ctx context.Context) error {
	e.registerChannel()

	nl, err := ws.Listen(e.shared.Addr())
	if err != nil {
		return fmt.Errorf("starting HTTP API: %w", err)
	}

	e.mu.Lock()
	e.addr = nl.Addr()
	e.mu.Unlock()
	close(e.ready)

	e.logger.VerboseMsg("Engine HTTP API listening on %s\n", nl.Addr())
	e.announce()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	var serveErr error
	wg.Go(func() {
		defer cancel()
		serveErr = ws.Serve(ctx, nl, e.Handler(), e.logger)
	})
	wg.Go(func() {
		select {
		case <-e.ch.Done():
			e.logger.VerboseMsg("Channel closed, stopping engine\n")
			cancel()
		case <-ctx.Done():
		}
	})
	wg.Wait()

	return serveErr
}

// announce posts started. Before Run listens there is nothing to
// announce yet, Run does it once the HTTP API is up.
func (e *Engine) announce() {
	addr := e.Addr()
	if addr == nil {
		return
	}
	e.post(msg.EventStarted, fmt.Sprintf("Engine is up, HTTP API on %s", addr))
}

// post sends on the channel and logs failures, the engine never stops
// because the shell went away.
func (e *Engine) post(event string, v any) {
	if err := e.ch.Post(event, v); err != nil {
		e.logger.ErrorMsg("Posting %s: %s\n", event, err)
	}
}

func (e *Engine) logToShell(format string, a ...any) {
	e.post(msg.EventLog, fmt.Sprintf(format, a...))
}
