// Package entrypoint provides the entry functions for the nodeshell
// commands. They wire the shell, the channel and the engine together,
// separating that from CLI argument parsing.
package entrypoint

import (
	"context"
	"fmt"
	"net"

	"nodeshell/pkg/channel"
	"nodeshell/pkg/config"
	"nodeshell/pkg/engine"
	"nodeshell/pkg/log"
)

// engineRunner is the part of an engine the entry points drive.
type engineRunner interface {
	Run(ctx context.Context) error
	Ready() <-chan struct{}
	Addr() net.Addr
}

// engineFactory is a function type for creating engines.
type engineFactory func(cfg *config.Config, ch *channel.Channel, version string, logger *log.Logger) engineRunner

// realEngineFactory returns the engine factory used in production.
func realEngineFactory() engineFactory {
	return func(cfg *config.Config, ch *channel.Channel, version string, logger *log.Logger) engineRunner {
		return engine.New(&cfg.Shared, &cfg.Engine, ch, version, logger)
	}
}

// startInBackground runs e until ctx ends and returns once its HTTP API is
// up. The returned wait func blocks until Run returned.
func startInBackground(ctx context.Context, e engineRunner, logger *log.Logger) (addr string, wait func(), err error) {
	finished := make(chan struct{})
	var runErr error
	go func() {
		defer close(finished)
		if runErr = e.Run(ctx); runErr != nil {
			logger.ErrorMsg("Engine: %s\n", runErr)
		}
	}()
	wait = func() { <-finished }

	select {
	case <-e.Ready():
		return e.Addr().String(), wait, nil
	case <-finished:
		if runErr == nil {
			runErr = fmt.Errorf("engine stopped before it was ready")
		}
		return "", wait, runErr
	case <-ctx.Done():
		return "", wait, ctx.Err()
	}
}
