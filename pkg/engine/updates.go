package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"nodeshell/pkg/log"
	"nodeshell/pkg/socket"
)

// Socket events understood by the engine.
const (
	EventStartDataUpdates = "start_data_updates"
	EventStopDataUpdates  = "stop_data_updates"
	EventDataUpdate       = "data_update"
)

// DataUpdate is the payload of EventDataUpdate.
type DataUpdate struct {
	Seq  int       `json:"seq"`
	Time time.Time `json:"time"`
}

const emitTimeout = 5 * time.Second

// updates pushes periodic data updates to one socket.
type updates struct {
	sock     *socket.Socket
	interval time.Duration
	logger   *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

func newUpdates(sock *socket.Socket, interval time.Duration, logger *log.Logger) *updates {
	return &updates{sock: sock, interval: interval, logger: logger}
}

// start begins pushing unless it already does. It reports whether a new
// pump was started.
func (u *updates) start(parent context.Context) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	u.cancel = cancel
	u.wg.Go(func() { u.pump(ctx) })
	return true
}

// stop reports whether a running pump was stopped.
func (u *updates) stop() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.cancel == nil {
		return false
	}
	u.cancel()
	u.cancel = nil
	return true
}

func (u *updates) wait() {
	u.wg.Wait()
}

func (u *updates) pump(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Every(u.interval), 1)

	for seq := 1; ; seq++ {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		// a cancelled write context would close the websocket, so writes
		// get their own bound
		wctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		err := u.sock.Emit(wctx, EventDataUpdate, DataUpdate{Seq: seq, Time: time.Now().UTC()})
		cancel()

		if err != nil {
			if !errors.Is(err, socket.ErrDisconnected) {
				u.logger.ErrorMsg("Socket %s: sending data update: %s\n", u.sock.ID(), err)
			}
			return
		}
	}
}
