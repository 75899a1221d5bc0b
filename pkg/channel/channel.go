// Package channel is the message channel between the shell and the
// engine. One yamux session runs over the underlying connection and
// carries two streams, one per direction, each a sequence of gob encoded
// msg.Envelope frames.
package channel

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/yamux"

	"nodeshell/pkg/channel/msg"
	"nodeshell/pkg/log"
)

// ErrClosed is returned when posting on a closed channel.
var ErrClosed = errors.New("channel closed")

// Message is a received event.
type Message struct {
	Event string
	Data  []byte
}

// Decode unmarshals the JSON payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decoding %q payload: %w", m.Event, err)
	}
	return nil
}

// String returns the payload as text: JSON strings are unquoted, anything
// else is returned as raw JSON.
func (m Message) String() string {
	var s string
	if err := json.Unmarshal(m.Data, &s); err == nil {
		return s
	}
	return string(m.Data)
}

// Listener handles received events. Listeners run on the channel's
// dispatch goroutine, one at a time and in registration order.
type Listener func(Message)

// ID identifies a registered listener.
type ID uint64

type entry struct {
	id ID
	fn Listener
}

// Options configure a channel.
type Options struct {
	// LogFile receives a raw copy of all channel traffic when set.
	LogFile string
	Logger  *log.Logger
}

// Channel is one end of the shell/engine channel.
type Channel struct {
	sess *yamux.Session
	out  net.Conn
	in   net.Conn

	encMu sync.Mutex
	enc   *gob.Encoder
	dec   *gob.Decoder

	logger *log.Logger

	mu        sync.Mutex
	listeners map[string][]entry
	fallback  *entry
	nextID    ID

	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// Open is used by the shell: it starts a yamux client on conn and opens
// the outgoing stream followed by the incoming one.
func Open(ctx context.Context, conn net.Conn, opts Options) (*Channel, error) {
	conn, err := trace(conn, opts)
	if err != nil {
		return nil, err
	}

	sess, err := yamux.Client(conn, config())
	if err != nil {
		return nil, fmt.Errorf("yamux.Client(conn): %w", err)
	}

	out, err := openStream(ctx, sess)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("opening outgoing stream: %w", err)
	}
	in, err := openStream(ctx, sess)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("opening incoming stream: %w", err)
	}

	return start(sess, out, in, opts.Logger), nil
}

// Accept is used by the engine: it starts a yamux server on conn and
// accepts the streams opened by Open, in the same order.
func Accept(ctx context.Context, conn net.Conn, opts Options) (*Channel, error) {
	conn, err := trace(conn, opts)
	if err != nil {
		return nil, err
	}

	sess, err := yamux.Server(conn, config())
	if err != nil {
		return nil, fmt.Errorf("yamux.Server(conn): %w", err)
	}

	in, err := acceptStream(ctx, sess)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("accepting incoming stream: %w", err)
	}
	out, err := acceptStream(ctx, sess)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("accepting outgoing stream: %w", err)
	}

	return start(sess, out, in, opts.Logger), nil
}

// Pipe returns two connected channel ends running in-process.
func Pipe(ctx context.Context, opts Options) (shell *Channel, engine *Channel, err error) {
	a, b := net.Pipe()

	type result struct {
		c   *Channel
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		c, err := Accept(ctx, b, Options{Logger: opts.Logger})
		resCh <- result{c, err}
	}()

	shell, err = Open(ctx, a, opts)
	r := <-resCh
	if err != nil || r.err != nil {
		if shell != nil {
			shell.Close()
		}
		if r.c != nil {
			r.c.Close()
		}
		a.Close()
		b.Close()
		return nil, nil, errors.Join(err, r.err)
	}
	return shell, r.c, nil
}

func trace(conn net.Conn, opts Options) (net.Conn, error) {
	if opts.LogFile == "" {
		return conn, nil
	}
	logged, err := log.NewLoggedConn(conn, opts.LogFile)
	if err != nil {
		return nil, fmt.Errorf("log.NewLoggedConn(): %w", err)
	}
	return logged, nil
}

func start(sess *yamux.Session, out, in net.Conn, logger *log.Logger) *Channel {
	c := &Channel{
		sess:      sess,
		out:       out,
		in:        in,
		enc:       gob.NewEncoder(out),
		dec:       gob.NewDecoder(in),
		logger:    logger,
		listeners: make(map[string][]entry),
		done:      make(chan struct{}),
	}
	go c.receive()
	return c
}

// Post sends event with v as JSON payload.
func (c *Channel) Post(event string, v any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json.Marshal(%s payload): %w", event, err)
	}

	c.encMu.Lock()
	defer c.encMu.Unlock()

	if err := c.enc.Encode(msg.Envelope{Event: event, Data: data}); err != nil {
		return fmt.Errorf("posting %s: %w", event, err)
	}
	c.logger.VerboseMsg("channel: posted %s\n", event)
	return nil
}

// On registers fn for event.
func (c *Channel) On(event string, fn Listener) ID {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	c.listeners[event] = append(c.listeners[event], entry{id: c.nextID, fn: fn})
	return c.nextID
}

// SetListener sets the default listener for "message" events, replacing
// the previous one. It is called before any listener registered with On.
func (c *Channel) SetListener(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if fn == nil {
		c.fallback = nil
		return
	}
	c.nextID++
	c.fallback = &entry{id: c.nextID, fn: fn}
}

// RemoveListener removes the listener id from event and reports whether
// it was registered.
func (c *Channel) RemoveListener(event string, id ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.listeners[event]
	for i, e := range entries {
		if e.id == id {
			c.listeners[event] = append(entries[:i:i], entries[i+1:]...)
			if len(c.listeners[event]) == 0 {
				delete(c.listeners, event)
			}
			return true
		}
	}
	return false
}

// RemoveAllListeners removes all listeners registered with On for event.
func (c *Channel) RemoveAllListeners(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, event)
}

// ListenerCount returns the number of listeners for event, including the
// default listener for "message".
func (c *Channel) ListenerCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.listeners[event])
	if event == msg.EventMessage && c.fallback != nil {
		n++
	}
	return n
}

// Done is closed when the channel stopped receiving.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns why receiving stopped, nil after a regular Close.
func (c *Channel) Err() error {
	<-c.done
	return c.err
}

// Close shuts the channel down.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.out.Close()
		_ = c.in.Close()
		err = c.sess.Close()
	})
	return err
}

func (c *Channel) receive() {
	defer close(c.done)

	for {
		var env msg.Envelope
		if err := c.dec.Decode(&env); err != nil {
			if !errors.Is(err, io.EOF) && !c.sess.IsClosed() {
				c.err = fmt.Errorf("receiving: %w", err)
			}
			_ = c.Close()
			return
		}

		c.logger.VerboseMsg("channel: received %s\n", env.Event)
		c.dispatch(Message{Event: env.Event, Data: env.Data})
	}
}

func (c *Channel) dispatch(m Message) {
	c.mu.Lock()
	var targets []Listener
	if m.Event == msg.EventMessage && c.fallback != nil {
		targets = append(targets, c.fallback.fn)
	}
	for _, e := range c.listeners[m.Event] {
		targets = append(targets, e.fn)
	}
	c.mu.Unlock()

	for _, fn := range targets {
		fn(m)
	}
}

func openStream(ctx context.Context, sess *yamux.Session) (net.Conn, error) {
	type result struct {
		c   net.Conn
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		s, err := sess.Open()
		resCh <- result{s, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resCh:
		if r.err != nil {
			return nil, fmt.Errorf("session.Open(): %w", r.err)
		}
		return r.c, nil
	}
}

func acceptStream(ctx context.Context, sess *yamux.Session) (net.Conn, error) {
	type result struct {
		c   net.Conn
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		s, err := sess.Accept()
		resCh <- result{s, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resCh:
		if r.err != nil {
			return nil, fmt.Errorf("session.Accept(): %w", r.err)
		}
		return r.c, nil
	}
}
