package entrypoint

import (
	"context"
	"fmt"
	"net"
	"sync"

	"nodeshell/pkg/app"
	"nodeshell/pkg/channel"
	"nodeshell/pkg/channel/msg"
	"nodeshell/pkg/config"
	"nodeshell/pkg/log"
	"nodeshell/pkg/pipeio"
)

// Prompt is shown before each command when stdin is a terminal.
const Prompt = "nodeshell> "

// Run starts the shell and feeds it commands read from stdin until input
// ends or ctx is cancelled. Without cfg.Shell.Attach the engine runs
// in-process, otherwise the shell attaches to the channel served by
// Engine.
func Run(ctx context.Context, cfg *config.Config, version string, logger *log.Logger) error {
	return run(ctx, cfg, version, logger, realEngineFactory())
}

func run(parent context.Context, cfg *config.Config, version string, logger *log.Logger, newEngine engineFactory) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	shellEnd, start, stopEngine, err := connect(ctx, cfg, version, logger, newEngine)
	if err != nil {
		return err
	}

	stdio := pipeio.NewStdio(cfg.Deps.StdinReader(), cfg.Deps.StdoutWriter())

	sh := app.New(app.Options{
		Channel:        shellEnd,
		Start:          start,
		ConnectTimeout: cfg.Shell.ConnectTimeout,
		Logger:         logger,
		Out:            stdio,
	})
	defer func() {
		sh.Sockets().Release()
		cancel()
		sh.Wait()
		shellEnd.Close()
		stopEngine()
		stdio.Close()
	}()

	if err := sh.OnDeviceReady(ctx); err != nil {
		return err
	}

	dispatch := func(line string) error {
		return sh.Dispatch(ctx, line)
	}
	report := func(err error) {
		logger.ErrorMsg("%s\n", err)
	}
	return pipeio.ReadLines(ctx, stdio, Prompt, dispatch, report)
}

// connect returns the shell end of the channel and the start func handed
// to the shell. stopEngine waits for an in-process engine to finish after
// ctx was cancelled.
func connect(ctx context.Context, cfg *config.Config, version string, logger *log.Logger, newEngine engineFactory) (
	shellEnd *channel.Channel, start app.StartFunc, stopEngine func(), err error,
) {
	opts := channel.Options{LogFile: cfg.Shared.LogFile, Logger: logger}

	if cfg.Shell.Attach != "" {
		conn, err := dialEngine(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		shellEnd, err = channel.Open(ctx, conn, opts)
		if err != nil {
			conn.Close()
			return nil, nil, nil, fmt.Errorf("opening channel to %s: %w", cfg.Shell.Attach, err)
		}

		addr := cfg.Shared.Addr()
		// the engine was up before the shell listened, ask it again
		start = func(context.Context) (string, error) {
			logger.InfoMsg("Attached to engine at %s\n", cfg.Shell.Attach)
			if err := shellEnd.Post(msg.EventControl, msg.Control{Action: msg.ActionAnnounce}); err != nil {
				return "", fmt.Errorf("asking engine to announce: %w", err)
			}
			return addr, nil
		}
		return shellEnd, start, func() {}, nil
	}

	shellEnd, engineEnd, err := channel.Pipe(ctx, opts)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating channel: %w", err)
	}
	e := newEngine(cfg, engineEnd, version, logger)

	var (
		mu   sync.Mutex
		wait = func() {}
	)
	start = func(ctx context.Context) (string, error) {
		addr, w, err := startInBackground(ctx, e, logger)
		mu.Lock()
		wait = w
		mu.Unlock()
		return addr, err
	}
	stopEngine = func() {
		mu.Lock()
		w := wait
		mu.Unlock()
		w()
		engineEnd.Close()
	}
	return shellEnd, start, stopEngine, nil
}

func dialEngine(cfg *config.Config) (net.Conn, error) {
	raddr, err := net.ResolveTCPAddr("tcp", cfg.Shell.Attach)
	if err != nil {
		return nil, fmt.Errorf("net.ResolveTCPAddr(tcp, %s): %w", cfg.Shell.Attach, err)
	}

	conn, err := cfg.Deps.DialTCP(raddr)
	if err != nil {
		return nil, fmt.Errorf("dialing engine at %s: %w", raddr, err)
	}
	return conn, nil
}
