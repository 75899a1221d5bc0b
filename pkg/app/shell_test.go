package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"nodeshell/pkg/channel"
	"nodeshell/pkg/config"
	"nodeshell/pkg/engine"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newShell wires a shell to an engine running in-process and fires
// OnDeviceReady.
func newShell(t *testing.T) (*Shell, *syncBuffer) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	shellEnd, engineEnd, err := channel.Pipe(ctx, channel.Options{})
	if err != nil {
		cancel()
		t.Fatalf("channel.Pipe() error = %v", err)
	}

	shared := &config.Shared{Host: "127.0.0.1", Port: 0}
	ecfg := &config.Engine{DataInterval: 10 * time.Millisecond, StorageDir: t.TempDir()}
	e := engine.New(shared, ecfg, engineEnd, "test", nil)

	done := make(chan error, 1)
	start := func(ctx context.Context) (string, error) {
		go func() { done <- e.Run(ctx) }()
		select {
		case <-e.Ready():
			return e.Addr().String(), nil
		case err := <-done:
			return "", err
		}
	}

	out := &syncBuffer{}
	s := New(Options{Channel: shellEnd, Start: start, Out: out})

	t.Cleanup(func() {
		s.Sockets().Release()
		cancel()
		s.Wait()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
		shellEnd.Close()
		engineEnd.Close()
	})

	if err := s.OnDeviceReady(ctx); err != nil {
		t.Fatalf("OnDeviceReady() error = %v", err)
	}
	return s, out
}

// waitForLog waits until a debug log message contains substr.
func waitForLog(t *testing.T, s *Shell, substr string) string {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, m := range s.Messages() {
			if strings.Contains(m, substr) {
				return m
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no log message contains %q, log: %v", substr, s.Messages())
	return ""
}

func countLog(s *Shell, substr string) int {
	n := 0
	for _, m := range s.Messages() {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func TestShell_OnDeviceReady(t *testing.T) {
	t.Parallel()

	s, _ := newShell(t)

	waitForLog(t, s, "Shell received event: deviceready")
	waitForLog(t, s, "Started the engine")
	waitForLog(t, s, "Engine sent the 'started' event")
	waitForLog(t, s, "HTTP response: ")

	if !strings.Contains(s.Message(), engine.Greeting) {
		t.Errorf("Message() = %q, want the engine greeting", s.Message())
	}
}

func TestShell_OnDeviceReady_StartFails(t *testing.T) {
	t.Parallel()

	shellEnd, engineEnd, err := channel.Pipe(context.Background(), channel.Options{})
	if err != nil {
		t.Fatalf("channel.Pipe() error = %v", err)
	}
	defer shellEnd.Close()
	defer engineEnd.Close()

	boom := errors.New("boom")
	s := New(Options{
		Channel: shellEnd,
		Start:   func(context.Context) (string, error) { return "", boom },
	})

	if err := s.OnDeviceReady(context.Background()); !errors.Is(err, boom) {
		t.Errorf("OnDeviceReady() error = %v, want %v", err, boom)
	}
	waitForLog(t, s, "Failed to start the engine: boom")

	if err := s.CheckHTTP(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("CheckHTTP() error = %v, want %v", err, ErrNotStarted)
	}
	if !strings.HasPrefix(s.Message(), "HTTP err:") {
		t.Errorf("Message() = %q, want HTTP err", s.Message())
	}
}

func TestShell_SendEcho(t *testing.T) {
	t.Parallel()

	s, _ := newShell(t)

	if err := s.SendEcho(); err != nil {
		t.Fatalf("SendEcho() error = %v", err)
	}
	waitForLog(t, s, "[shell] received: "+EchoText)
}

func TestShell_AnotherEchoListeners(t *testing.T) {
	t.Parallel()

	s, _ := newShell(t)

	s.AddAnotherEchoListener()
	s.AddAnotherEchoListener()
	if err := s.SendEcho(); err != nil {
		t.Fatalf("SendEcho() error = %v", err)
	}
	waitForLog(t, s, "Another 1 : "+EchoText)
	waitForLog(t, s, "Another 2 : "+EchoText)

	s.RemoveAnotherEchoListener()
	s.ClearLog()
	if err := s.SendEcho(); err != nil {
		t.Fatalf("SendEcho() error = %v", err)
	}
	waitForLog(t, s, "Another 2 : "+EchoText)
	if n := countLog(s, "Another 1 :"); n != 0 {
		t.Errorf("removed listener still called %d times", n)
	}

	s.RemoveAnotherEchoListener()
	s.RemoveAnotherEchoListener()
	waitForLog(t, s, "No more listeners to remove.")
}

func TestShell_ToggleEcho(t *testing.T) {
	t.Parallel()

	s, _ := newShell(t)

	if err := s.ToggleEcho(); err != nil {
		t.Fatalf("ToggleEcho() error = %v", err)
	}
	waitForLog(t, s, `engine-log: Listeners for "node-echo" are now off`)

	if err := s.ToggleEcho(); err != nil {
		t.Fatalf("ToggleEcho() error = %v", err)
	}
	waitForLog(t, s, `engine-log: Listeners for "node-echo" are now on`)
}

func TestShell_LoadAllDependencies(t *testing.T) {
	t.Parallel()

	s, _ := newShell(t)

	if err := s.LoadAllDependencies(); err != nil {
		t.Fatalf("LoadAllDependencies() error = %v", err)
	}
	waitForLog(t, s, "engine-log: ")
}

func TestShell_DoFileWrite(t *testing.T) {
	t.Parallel()

	s, _ := newShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.DoFileWrite(ctx); err != nil {
		t.Fatalf("DoFileWrite() error = %v", err)
	}

	line := waitForLog(t, s, "Read ")
	fields := strings.Fields(line)
	// "N: Read X Expected Y"
	if len(fields) != 5 || fields[2] != fields[4] {
		t.Errorf("read back mismatch: %q", line)
	}
}

func TestShell_StartStopSocket(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping socket test in short mode")
	}
	t.Parallel()

	s, _ := newShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.StartSocket(ctx); err != nil {
		t.Fatalf("StartSocket() error = %v", err)
	}
	waitForLog(t, s, "Shell got socket data: ")

	if err := s.StopSocket(ctx); err != nil {
		t.Fatalf("StopSocket() error = %v", err)
	}

	sock, ok := s.Sockets().Live()
	if !ok {
		t.Fatal("no live socket after StopSocket")
	}
	if n := sock.TotalListeners(); n != 0 {
		t.Errorf("TotalListeners() = %d, want 0", n)
	}
	if n := s.Sockets().Attempts(); n != 1 {
		t.Errorf("Attempts() = %d, want 1", n)
	}
}

func TestShell_PauseResume(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping socket test in short mode")
	}
	t.Parallel()

	s, _ := newShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.StartSocket(ctx); err != nil {
		t.Fatalf("StartSocket() error = %v", err)
	}
	first, _ := s.Sockets().Live()

	s.OnPause(ctx)
	waitForLog(t, s, "Shell received event: pause")

	if _, ok := s.Sockets().Live(); ok {
		t.Error("socket still live after OnPause")
	}
	if n := first.TotalListeners(); n != 0 {
		t.Errorf("released socket has %d listeners", n)
	}

	short, shortCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer shortCancel()
	if _, err := s.Sockets().Acquire(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() while paused error = %v, want %v", err, context.DeadlineExceeded)
	}

	if err := s.OnResume(ctx); err != nil {
		t.Fatalf("OnResume() error = %v", err)
	}
	waitForLog(t, s, "Shell received event: resume")

	if err := s.StartSocket(ctx); err != nil {
		t.Fatalf("StartSocket() after resume error = %v", err)
	}
	second, _ := s.Sockets().Live()
	if second == first {
		t.Error("resume reused the released socket")
	}
	if n := s.Sockets().Attempts(); n != 2 {
		t.Errorf("Attempts() = %d, want 2", n)
	}
}

func TestShell_DispatchWhilePaused(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping socket test in short mode")
	}
	t.Parallel()

	s, _ := newShell(t)
	ctx := context.Background()

	for _, line := range []string{"pause", "start"} {
		if err := s.Dispatch(ctx, line); err != nil {
			t.Fatalf("Dispatch(%s) error = %v", line, err)
		}
	}

	// start waits for the foreground without holding up dispatch
	time.Sleep(50 * time.Millisecond)
	if n := s.Sockets().Attempts(); n != 0 {
		t.Errorf("Attempts() while paused = %d, want 0", n)
	}

	if err := s.Dispatch(ctx, "resume"); err != nil {
		t.Fatalf("Dispatch(resume) error = %v", err)
	}
	waitForLog(t, s, "Shell got socket data: ")

	if err := s.Dispatch(ctx, "stop"); err != nil {
		t.Fatalf("Dispatch(stop) error = %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		sock, ok := s.Sockets().Live()
		if ok && sock.TotalListeners() == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stop did not drop the socket listeners")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := countLog(s, "Socket Error: "); n != 0 {
		t.Errorf("%d socket errors logged: %v", n, s.Messages())
	}
	if n := s.Sockets().Attempts(); n != 1 {
		t.Errorf("Attempts() = %d, want 1", n)
	}
}

func TestShell_Dispatch(t *testing.T) {
	t.Parallel()

	s, out := newShell(t)
	ctx := context.Background()

	if err := s.Dispatch(ctx, ""); err != nil {
		t.Errorf("Dispatch(\"\") error = %v", err)
	}
	if err := s.Dispatch(ctx, "launch"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Dispatch(launch) error = %v, want %v", err, ErrUnknownCommand)
	}

	if err := s.Dispatch(ctx, "help"); err != nil {
		t.Fatalf("Dispatch(help) error = %v", err)
	}
	for _, name := range Commands() {
		if !strings.Contains(out.String(), name) {
			t.Errorf("help output does not list %q", name)
		}
	}

	if err := s.Dispatch(ctx, " ECHO "); err != nil {
		t.Fatalf("Dispatch(echo) error = %v", err)
	}
	waitForLog(t, s, "[shell] received: "+EchoText)

	if err := s.Dispatch(ctx, "log"); err != nil {
		t.Fatalf("Dispatch(log) error = %v", err)
	}
	if !strings.Contains(out.String(), "1: Shell received event: deviceready") {
		t.Errorf("log output = %q, want numbered messages", out.String())
	}

	if err := s.Dispatch(ctx, "clear"); err != nil {
		t.Fatalf("Dispatch(clear) error = %v", err)
	}
	if err := s.Dispatch(ctx, "add"); err != nil {
		t.Fatalf("Dispatch(add) error = %v", err)
	}
	if got := s.Messages(); len(got) == 0 || !strings.HasPrefix(got[0], "1: ") {
		t.Errorf("Messages() after clear = %v, want numbering from 1", got)
	}
}
