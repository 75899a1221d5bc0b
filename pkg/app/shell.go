// Package app is the user facing side of nodeshell. A Shell reacts to
// lifecycle events, talks to the engine over the channel and its HTTP
// API, and reaches the engine's event socket through a shared accessor.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"nodeshell/pkg/accessor"
	"nodeshell/pkg/channel"
	"nodeshell/pkg/channel/msg"
	"nodeshell/pkg/format"
	"nodeshell/pkg/log"
	"nodeshell/pkg/socket"
)

// ErrNotStarted is returned by actions that need the engine's address
// before OnDeviceReady started it.
var ErrNotStarted = errors.New("engine not started")

// StartFunc starts the engine and returns the address its HTTP API
// listens on.
type StartFunc func(ctx context.Context) (addr string, err error)

// Options configure a Shell.
type Options struct {
	Channel *channel.Channel
	Start   StartFunc

	// ConnectTimeout bounds each socket connection attempt.
	ConnectTimeout time.Duration

	// Dial replaces the default socket dialer.
	Dial accessor.DialFunc[*socket.Socket]

	HTTPClient *http.Client
	Logger     *log.Logger

	// Out receives the output of the "log" and "help" commands.
	Out io.Writer
}

// Shell is the UI glue between lifecycle events, user actions and the
// engine.
type Shell struct {
	*DebugLog

	ch      *channel.Channel
	start   StartFunc
	sockets *accessor.Accessor[*socket.Socket]
	client  *http.Client
	logger  *log.Logger
	out     io.Writer

	tasks     conc.WaitGroup
	up        chan struct{}
	startOnce sync.Once

	mu       sync.Mutex
	ctx      context.Context
	addr     string
	message  string
	dataSub  *socket.Subscription
	extra    []channel.ID
	nextXtra int
	queue    chan struct{}
}

// New ...
func New(opts Options) *Shell {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	s := &Shell{
		DebugLog: NewDebugLog(opts.Logger),
		ch:       opts.Channel,
		start:    opts.Start,
		client:   client,
		logger:   opts.Logger,
		out:      out,
		ctx:      context.Background(),
		up:       make(chan struct{}),
		nextXtra: 1,
	}

	dial := opts.Dial
	if dial == nil {
		dial = s.dialSocket
	}
	s.sockets = accessor.New(dial, accessor.Options{
		ConnectTimeout: opts.ConnectTimeout,
		Logger:         opts.Logger,
	})
	return s
}

// Sockets exposes the socket accessor.
func (s *Shell) Sockets() *accessor.Accessor[*socket.Socket] {
	return s.sockets
}

// Message is the last HTTP API result shown to the user.
func (s *Shell) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// Wait blocks until background work started by channel events and queued
// commands is done.
func (s *Shell) Wait() {
	s.tasks.Wait()
}

func (s *Shell) receivedEvent(id string) {
	s.Append("Shell received event: " + id)
}

// OnDeviceReady wires the channel listeners and starts the engine.
func (s *Shell) OnDeviceReady(ctx context.Context) error {
	s.receivedEvent("deviceready")

	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.ch.SetListener(func(m channel.Message) {
		s.Append("[shell] received: " + m.String())
	})
	s.ch.On(msg.EventLog, func(m channel.Message) {
		s.Append("engine-log: " + m.String())
	})
	s.ch.On(msg.EventStarted, func(m channel.Message) {
		s.Append("Engine sent the 'started' event, with this message: " + m.String())
		s.background(func(ctx context.Context) {
			// started may overtake the return of the start func
			select {
			case <-s.up:
			case <-ctx.Done():
				return
			}
			_ = s.CheckHTTP(ctx)
		})
	})

	var err error
	s.startOnce.Do(func() {
		defer close(s.up)

		var addr string
		if addr, err = s.start(ctx); err != nil {
			return
		}
		s.mu.Lock()
		s.addr = addr
		s.mu.Unlock()
	})
	if err != nil {
		s.Append(fmt.Sprintf("Failed to start the engine: %s", err))
		return fmt.Errorf("starting engine: %w", err)
	}

	s.Append("Started the engine")
	return nil
}

// OnPause stops data updates of a live socket, tears it down and holds
// further connection attempts until OnResume.
func (s *Shell) OnPause(ctx context.Context) {
	s.receivedEvent("pause")

	if sock, ok := s.sockets.Live(); ok {
		s.Append("[shell] stopping socket via API")
		if err := s.stopUpdates(ctx, sock); err != nil {
			s.Append("Socket Error: " + err.Error())
		}
	}
	s.sockets.Release()
	s.sockets.Background()
}

// OnResume lets connection attempts proceed again and refreshes the HTTP
// status.
func (s *Shell) OnResume(ctx context.Context) error {
	s.receivedEvent("resume")
	s.sockets.Foreground()
	return s.CheckHTTP(ctx)
}

// enqueue runs fn as a tracked task on the lifecycle context, after the
// tasks enqueued before it finished. Errors are in the debug log already.
func (s *Shell) enqueue(fn func(ctx context.Context) error) {
	done := make(chan struct{})

	s.mu.Lock()
	prev := s.queue
	s.queue = done
	ctx := s.ctx
	s.mu.Unlock()

	s.tasks.Go(func() {
		defer close(done)
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				return
			}
		}
		if err := fn(ctx); err != nil {
			s.logger.VerboseMsg("Queued action: %s\n", err)
		}
	})
}

// background runs fn as a tracked task on the lifecycle context.
func (s *Shell) background(fn func(ctx context.Context)) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	s.tasks.Go(func() { fn(ctx) })
}

func (s *Shell) endpoint() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == "" {
		return "", ErrNotStarted
	}
	return s.addr, nil
}

func (s *Shell) dialSocket(ctx context.Context) (*socket.Socket, error) {
	addr, err := s.endpoint()
	if err != nil {
		return nil, err
	}

	opts := socket.DefaultOptions(s.logger)
	opts.HTTPClient = s.client
	return socket.Dial(ctx, format.SocketURL(addr), opts)
}
