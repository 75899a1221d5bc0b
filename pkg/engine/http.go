package engine

import (
	"context"
	"net/http"
	"runtime"

	json "github.com/goccy/go-json"

	"nodeshell/pkg/format"
	"nodeshell/pkg/socket"
)

// Status is the body of GET /.
type Status struct {
	Msg      string            `json:"msg"`
	Versions map[string]string `json:"versions"`
	Uptime   float64           `json:"uptime"`
}

// Greeting is Status.Msg.
const Greeting = "Hello from the engine"

// Handler serves the HTTP API and the event socket.
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", e.serveStatus)
	mux.HandleFunc("GET "+format.SocketPath, e.serveSocket)
	return mux
}

func (e *Engine) status() Status {
	return Status{
		Msg: Greeting,
		Versions: map[string]string{
			"nodeshell": e.version,
			"go":        runtime.Version(),
			"os":        runtime.GOOS,
			"arch":      runtime.GOARCH,
		},
		Uptime: e.now().Sub(e.started).Seconds(),
	}
}

func (e *Engine) serveStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(e.status()); err != nil {
		e.logger.ErrorMsg("Writing status to %s: %s\n", r.RemoteAddr, err)
	}
}

// serveSocket runs one event socket for as long as it stays open.
func (e *Engine) serveSocket(w http.ResponseWriter, r *http.Request) {
	s, err := socket.Accept(w, r, e.logger)
	if err != nil {
		e.logger.ErrorMsg("Accepting socket from %s: %s\n", r.RemoteAddr, err)
		return
	}
	e.logger.VerboseMsg("Socket %s connected from %s\n", s.ID(), r.RemoteAddr)

	u := newUpdates(s, e.cfg.DataInterval, e.logger)
	s.On(EventStartDataUpdates, func(socket.Message) {
		if u.start(r.Context()) {
			e.logger.VerboseMsg("Socket %s: data updates started\n", s.ID())
		}
	})
	s.On(EventStopDataUpdates, func(socket.Message) {
		if u.stop() {
			e.logger.VerboseMsg("Socket %s: data updates stopped\n", s.ID())
		}
	})

	stop := context.AfterFunc(r.Context(), func() { _ = s.Disconnect() })
	defer stop()

	s.Run()

	u.stop()
	u.wait()
	e.logger.VerboseMsg("Socket %s disconnected\n", s.ID())
}
