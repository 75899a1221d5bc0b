package entrypoint

import (
	"context"
	"fmt"
	"net"

	"nodeshell/pkg/channel"
	"nodeshell/pkg/config"
	"nodeshell/pkg/log"
)

// Engine serves the channel on cfg.Engine.Channel, waits for one shell to
// attach and runs the engine for it until ctx ends or the shell goes away.
func Engine(ctx context.Context, cfg *config.Config, version string, logger *log.Logger) error {
	return serveEngine(ctx, cfg, version, logger, realEngineFactory())
}

func serveEngine(ctx context.Context, cfg *config.Config, version string, logger *log.Logger, newEngine engineFactory) error {
	conn, err := acceptShell(ctx, cfg, logger)
	if err != nil {
		return err
	}

	ch, err := channel.Accept(ctx, conn, channel.Options{LogFile: cfg.Shared.LogFile, Logger: logger})
	if err != nil {
		conn.Close()
		return fmt.Errorf("accepting channel: %w", err)
	}
	defer ch.Close()

	logger.InfoMsg("Shell attached from %s\n", conn.RemoteAddr())

	e := newEngine(cfg, ch, version, logger)
	if err := e.Run(ctx); err != nil {
		return fmt.Errorf("running engine: %w", err)
	}
	return nil
}

// acceptShell listens on the channel address and returns the first
// connection. The listener is closed once a shell connected or ctx ended.
func acceptShell(ctx context.Context, cfg *config.Config, logger *log.Logger) (net.Conn, error) {
	laddr, err := net.ResolveTCPAddr("tcp", cfg.Engine.Channel)
	if err != nil {
		return nil, fmt.Errorf("net.ResolveTCPAddr(tcp, %s): %w", cfg.Engine.Channel, err)
	}

	l, err := cfg.Deps.ListenTCP(laddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", laddr, err)
	}
	defer l.Close()

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	logger.InfoMsg("Waiting for a shell on %s\n", l.Addr())

	conn, err := l.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accepting shell: %w", err)
	}
	return conn, nil
}
