// Package ws provides the loopback websocket transport shared by the
// engine (serving side) and the shell (dialing side).
package ws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Subprotocol is negotiated on every event socket.
const Subprotocol = "events"

// Dial opens a websocket to url. A positive timeout bounds the handshake.
// The returned connection is not tied to ctx once the handshake is done.
// client may be nil.
func Dial(ctx context.Context, url string, timeout time.Duration, client *http.Client) (*websocket.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	opts := &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPClient:   client,
	}

	c, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("websocket.Dial(%s): %w", url, err)
	}
	return c, nil
}

// Accept upgrades an HTTP request to a websocket speaking Subprotocol.
func Accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket.Accept(): %w", err)
	}
	return c, nil
}
