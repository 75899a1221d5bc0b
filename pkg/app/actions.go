package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"nodeshell/pkg/channel"
	"nodeshell/pkg/channel/msg"
	"nodeshell/pkg/engine"
	"nodeshell/pkg/format"
	"nodeshell/pkg/socket"
)

// EchoText is what SendEcho posts.
const EchoText = "Hello from the shell!"

// CheckHTTP queries the engine's HTTP API and reports the response.
func (s *Shell) CheckHTTP(ctx context.Context) error {
	s.Append("[shell] checking HTTP API")

	body, err := s.getStatus(ctx)
	if err != nil {
		s.mu.Lock()
		s.message = "HTTP err: " + err.Error()
		s.mu.Unlock()
		s.Append("HTTP err: " + err.Error())
		return err
	}

	s.mu.Lock()
	s.message = body
	s.mu.Unlock()
	s.Append("HTTP response: " + body)
	return nil
}

func (s *Shell) getStatus(ctx context.Context) (string, error) {
	addr, err := s.endpoint()
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, format.StatusURL(addr), nil)
	if err != nil {
		return "", fmt.Errorf("http.NewRequest(): %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: %s", req.URL, resp.Status)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return "", fmt.Errorf("response is not JSON: %w", err)
	}
	return compact.String(), nil
}

// StartSocket connects the event socket if needed and asks the engine for
// data updates.
func (s *Shell) StartSocket(ctx context.Context) error {
	s.Append("[shell] starting socket via API")

	sock, err := s.sockets.Acquire(ctx)
	if err != nil {
		s.Append("Socket Error: " + err.Error())
		return err
	}

	sub := sock.On(engine.EventDataUpdate, func(m socket.Message) {
		s.Append("Shell got socket data: " + string(m.Data))
	})

	s.mu.Lock()
	prev := s.dataSub
	s.dataSub = sub
	s.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	if err := sock.Emit(ctx, engine.EventStartDataUpdates, struct{}{}); err != nil {
		s.Append("Socket Error: " + err.Error())
		return err
	}
	return nil
}

// StopSocket asks the engine to stop data updates and drops all socket
// listeners.
func (s *Shell) StopSocket(ctx context.Context) error {
	s.Append("[shell] stopping socket via API")

	sock, err := s.sockets.Acquire(ctx)
	if err != nil {
		s.Append("Socket Error: " + err.Error())
		return err
	}
	if err := s.stopUpdates(ctx, sock); err != nil {
		s.Append("Socket Error: " + err.Error())
		return err
	}
	return nil
}

func (s *Shell) stopUpdates(ctx context.Context, sock *socket.Socket) error {
	err := sock.Emit(ctx, engine.EventStopDataUpdates, struct{}{})
	sock.RemoveAllListeners()

	s.mu.Lock()
	s.dataSub = nil
	s.mu.Unlock()
	return err
}

// ClearLog empties the debug log.
func (s *Shell) ClearLog() {
	s.Clear()
}

// SendEcho asks the engine to echo EchoText on the message event.
func (s *Shell) SendEcho() error {
	return s.post(msg.EventEcho, EchoText)
}

// ToggleEcho switches the engine's echo listener off or back on.
func (s *Shell) ToggleEcho() error {
	return s.post(msg.EventControl, msg.Control{
		Action:    msg.ActionToggleEventListeners,
		EventName: msg.EventEcho,
	})
}

// LoadAllDependencies asks the engine to load its dependencies.
func (s *Shell) LoadAllDependencies() error {
	return s.post(msg.EventControl, msg.Control{Action: msg.ActionLoadAllDependencies})
}

func (s *Shell) post(event string, v any) error {
	if err := s.ch.Post(event, v); err != nil {
		s.Append("Channel Error: " + err.Error())
		return err
	}
	return nil
}

// DoFileWrite has the engine write a random token to a file, reads the
// file back and reports both. It returns once the engine answered or ctx
// ended.
func (s *Shell) DoFileWrite(ctx context.Context) error {
	s.ch.RemoveAllListeners(msg.EventTestFileSaved)

	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	s.Append("Will tell the engine to write this to a file: " + token)

	result := make(chan error, 1)
	report := func(err error) {
		select {
		case result <- err:
		default:
		}
	}
	s.ch.On(msg.EventTestFileSaved, func(m channel.Message) {
		path := m.String()
		s.Append("Engine says it saved data in: " + path)

		data, err := os.ReadFile(path)
		if err != nil {
			s.Append(fmt.Sprintf("Error while getting %s -> %s", path, err))
			report(err)
			return
		}
		s.Append(fmt.Sprintf("Read %s Expected %s", data, token))
		if string(data) != token {
			report(fmt.Errorf("read %q from %s, expected %q", data, path, token))
			return
		}
		report(nil)
	})

	if err := s.post(msg.EventTestFile, token); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddAnotherEchoListener adds a numbered listener for message events.
func (s *Shell) AddAnotherEchoListener() {
	s.mu.Lock()
	n := s.nextXtra
	s.nextXtra++
	s.mu.Unlock()

	id := s.ch.On(msg.EventMessage, func(m channel.Message) {
		s.Append(fmt.Sprintf("Another %d : %s", n, m.String()))
	})

	s.mu.Lock()
	s.extra = append(s.extra, id)
	s.mu.Unlock()

	s.Append("Another listener has been added. Test it with Echo.")
}

// RemoveAnotherEchoListener removes the oldest listener added by
// AddAnotherEchoListener.
func (s *Shell) RemoveAnotherEchoListener() {
	s.mu.Lock()
	if len(s.extra) == 0 {
		s.mu.Unlock()
		s.Append("No more listeners to remove.")
		return
	}
	id := s.extra[0]
	s.extra = s.extra[1:]
	s.mu.Unlock()

	s.ch.RemoveListener(msg.EventMessage, id)
	s.Append("Removed another listener.")
}
