// Package socket implements a duplex event socket on top of a websocket.
//
// Each websocket text message carries one event:
//
//	{"event": "data_update", "data": <any JSON value>}
//
// The serving side announces itself with the reserved "connect" event,
// which carries the socket id. A dialing socket is usable only after that
// event arrived. When the connection goes away, remaining listeners of the
// reserved "disconnect" event are called once.
package socket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"nodeshell/pkg/log"
)

// Reserved event names.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// ErrDisconnected is returned when emitting on a closed socket.
var ErrDisconnected = errors.New("socket disconnected")

// Message is a single received event.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the event payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("event %q carries no data", m.Event)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decoding %q payload: %w", m.Event, err)
	}
	return nil
}

// Handler is called for each received event it was registered for.
// Handlers run on the socket's reader goroutine, one at a time.
type Handler func(Message)

type connectPayload struct {
	SID string `json:"sid"`
}

// Socket is one end of an event socket. All methods are safe for
// concurrent use.
type Socket struct {
	conn   *websocket.Conn
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	id       string
	handlers map[string][]*subscription
	nextSub  uint64
	err      error

	closing       atomic.Bool
	connected     chan struct{}
	connectedOnce sync.Once
	done          chan struct{}
	closeOnce     sync.Once
}

func newSocket(conn *websocket.Conn, logger *log.Logger) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		conn:      conn,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		handlers:  make(map[string][]*subscription),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the id assigned by the serving side.
func (s *Socket) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Done is closed once the reader goroutine stopped.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the socket stopped, if it did.
func (s *Socket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// On registers h for event. The returned subscription removes exactly
// this registration.
func (s *Socket) On(event string, h Handler) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	sub := &subscription{id: s.nextSub, handler: h}
	s.handlers[event] = append(s.handlers[event], sub)

	return &Subscription{socket: s, event: event, id: sub.id}
}

// Off removes all listeners of event.
func (s *Socket) Off(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, event)
}

// RemoveAllListeners removes every listener of every event.
func (s *Socket) RemoveAllListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = make(map[string][]*subscription)
}

// ListenerCount returns the number of listeners registered for event.
func (s *Socket) ListenerCount(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers[event])
}

// TotalListeners returns the number of listeners over all events.
func (s *Socket) TotalListeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, subs := range s.handlers {
		n += len(subs)
	}
	return n
}

// Emit sends event with payload. A nil payload sends no data field.
func (s *Socket) Emit(ctx context.Context, event string, payload any) error {
	select {
	case <-s.done:
		return ErrDisconnected
	default:
	}

	msg := Message{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("json.Marshal(%s payload): %w", event, err)
		}
		msg.Data = data
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("json.Marshal(%s): %w", event, err)
	}

	if err := s.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		if s.closing.Load() || s.ctx.Err() != nil {
			return ErrDisconnected
		}
		return fmt.Errorf("emitting %s: %w", event, err)
	}

	s.logger.VerboseMsg("socket %s: sent %s\n", s.ID(), event)
	return nil
}

// Disconnect closes the socket. It does not wait for the reader
// goroutine, so it may be called from within a handler. Calling it more
// than once is a no-op.
func (s *Socket) Disconnect() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		err = s.conn.Close(websocket.StatusNormalClosure, "")
		if err != nil {
			_ = s.conn.CloseNow()
		}
		s.cancel()
	})

	var ce websocket.CloseError
	if errors.As(err, &ce) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Run processes incoming events of an accepted socket until it closes.
func (s *Socket) Run() {
	s.readLoop()
}

func (s *Socket) markConnected(id string) {
	s.connectedOnce.Do(func() {
		s.mu.Lock()
		s.id = id
		s.mu.Unlock()
		close(s.connected)
	})
}

// readLoop dispatches incoming events until the connection fails.
func (s *Socket) readLoop() {
	var err error
	defer func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		s.cancel()
		_ = s.conn.CloseNow()
		close(s.done)

		reason := ""
		if err != nil {
			reason = err.Error()
		}
		data, _ := json.Marshal(reason)
		s.dispatch(Message{Event: EventDisconnect, Data: data})
	}()

	for {
		var typ websocket.MessageType
		var frame []byte
		typ, frame, err = s.conn.Read(s.ctx)
		if err != nil {
			if s.closing.Load() || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				err = nil
			}
			return
		}
		if typ != websocket.MessageText {
			s.logger.VerboseMsg("socket %s: ignoring binary frame\n", s.ID())
			continue
		}

		var msg Message
		if uerr := json.Unmarshal(frame, &msg); uerr != nil {
			s.logger.ErrorMsg("socket %s: malformed frame: %s\n", s.ID(), uerr)
			continue
		}

		if msg.Event == EventConnect {
			var p connectPayload
			if derr := msg.Decode(&p); derr != nil {
				s.logger.ErrorMsg("socket: %s\n", derr)
				continue
			}
			s.markConnected(p.SID)
		}

		s.dispatch(msg)
	}
}

func (s *Socket) dispatch(msg Message) {
	s.mu.Lock()
	subs := make([]*subscription, len(s.handlers[msg.Event]))
	copy(subs, s.handlers[msg.Event])
	s.mu.Unlock()

	for _, sub := range subs {
		sub.handler(msg)
	}
}

type subscription struct {
	id      uint64
	handler Handler
}

// Subscription is a single listener registration.
type Subscription struct {
	socket *Socket
	event  string
	id     uint64
}

// Cancel removes the registration. It reports whether the listener was
// still registered.
func (sub *Subscription) Cancel() bool {
	s := sub.socket
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.handlers[sub.event]
	for i, candidate := range subs {
		if candidate.id == sub.id {
			s.handlers[sub.event] = append(subs[:i:i], subs[i+1:]...)
			if len(s.handlers[sub.event]) == 0 {
				delete(s.handlers, sub.event)
			}
			return true
		}
	}
	return false
}
