package socket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"nodeshell/pkg/log"
	"nodeshell/pkg/transport/ws"
)

// Options configure Dial.
type Options struct {
	// Reconnect retries failed dials with exponential backoff until the
	// context ends.
	Reconnect bool

	// HandshakeTimeout bounds a single dial including the connect event.
	// Zero means no bound besides the context.
	HandshakeTimeout time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	HTTPClient *http.Client
	Logger     *log.Logger
}

// DefaultOptions mirror a socket.io client with reconnection enabled.
func DefaultOptions(logger *log.Logger) Options {
	return Options{
		Reconnect:        true,
		HandshakeTimeout: 5 * time.Second,
		InitialBackoff:   200 * time.Millisecond,
		MaxBackoff:       5 * time.Second,
		Logger:           logger,
	}
}

// Dial connects to an event socket served at url and returns once the
// server's connect event arrived.
func Dial(ctx context.Context, url string, opts Options) (*Socket, error) {
	attempt := func() (*Socket, error) {
		return dialOnce(ctx, url, opts)
	}

	if !opts.Reconnect {
		return attempt()
	}

	b := backoff.NewExponentialBackOff()
	if opts.InitialBackoff > 0 {
		b.InitialInterval = opts.InitialBackoff
	}
	if opts.MaxBackoff > 0 {
		b.MaxInterval = opts.MaxBackoff
	}

	notify := func(err error, next time.Duration) {
		opts.Logger.VerboseMsg("Dialing %s failed, retrying in %s: %s\n", url, next, err)
	}

	s, err := backoff.Retry(ctx, attempt, backoff.WithBackOff(b), backoff.WithNotify(notify))
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return s, nil
}

func dialOnce(ctx context.Context, url string, opts Options) (*Socket, error) {
	if opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.HandshakeTimeout)
		defer cancel()
	}

	c, err := ws.Dial(ctx, url, 0, opts.HTTPClient)
	if err != nil {
		return nil, err
	}

	s := newSocket(c, opts.Logger)
	go s.readLoop()

	select {
	case <-s.connected:
		opts.Logger.VerboseMsg("Socket %s connected to %s\n", s.ID(), url)
		return s, nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return nil, fmt.Errorf("waiting for connect event: %w", err)
		}
		return nil, fmt.Errorf("waiting for connect event: %w", ErrDisconnected)
	case <-ctx.Done():
		_ = s.Disconnect()
		return nil, fmt.Errorf("waiting for connect event: %w", ctx.Err())
	}
}

// Accept upgrades r to an event socket, assigns it a fresh id and sends
// the connect event. Incoming events are not processed until Run is
// called, so handlers registered in between see every event.
func Accept(w http.ResponseWriter, r *http.Request, logger *log.Logger) (*Socket, error) {
	c, err := ws.Accept(w, r)
	if err != nil {
		return nil, err
	}

	s := newSocket(c, logger)
	id := uuid.NewString()
	s.markConnected(id)

	if err := s.Emit(r.Context(), EventConnect, connectPayload{SID: id}); err != nil {
		_ = s.Disconnect()
		return nil, fmt.Errorf("sending connect event: %w", err)
	}

	return s, nil
}
