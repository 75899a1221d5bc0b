package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"nodeshell/pkg/channel"
	"nodeshell/pkg/channel/msg"
	"nodeshell/pkg/config"
	"nodeshell/pkg/log"
	"nodeshell/pkg/socket"
)

func testConfig(t *testing.T) (*config.Shared, *config.Engine) {
	t.Helper()
	return &config.Shared{Host: "127.0.0.1", Port: 0},
		&config.Engine{DataInterval: 10 * time.Millisecond, StorageDir: filepath.Join(t.TempDir(), "storage")}
}

// running starts an engine on an in-process channel and returns the
// shell end. Every event the shell receives is forwarded to the returned
// channel as "event: text".
func running(t *testing.T) (*Engine, *channel.Channel, <-chan string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	shellEnd, engineEnd, err := channel.Pipe(ctx, channel.Options{})
	if err != nil {
		cancel()
		t.Fatalf("channel.Pipe() error = %v", err)
	}

	events := make(chan string, 64)
	record := func(m channel.Message) { events <- m.Event + ": " + m.String() }
	for _, ev := range []string{msg.EventStarted, msg.EventLog, msg.EventMessage, msg.EventTestFileSaved} {
		shellEnd.On(ev, record)
	}

	shared, cfg := testConfig(t)
	e := New(shared, cfg, engineEnd, "test", log.NewLogger(io.Discard, true))

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run() did not return after cancel")
		}
		shellEnd.Close()
		engineEnd.Close()
	})

	select {
	case <-e.Ready():
	case err := <-done:
		t.Fatalf("Run() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine not ready")
	}

	return e, shellEnd, events
}

func next(t *testing.T, events <-chan string) string {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for channel event")
		return ""
	}
}

func TestEngine_PostsStarted(t *testing.T) {
	t.Parallel()

	e, _, events := running(t)

	got := next(t, events)
	if !strings.HasPrefix(got, msg.EventStarted+": ") {
		t.Fatalf("first event = %q, want started", got)
	}
	if !strings.Contains(got, e.Addr().String()) {
		t.Errorf("started message %q does not mention %s", got, e.Addr())
	}
}

func TestEngine_Echo(t *testing.T) {
	t.Parallel()

	_, shell, events := running(t)
	next(t, events) // started

	if err := shell.Post(msg.EventEcho, "Hello from the shell!"); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if got, want := next(t, events), "message: Hello from the shell!"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

func TestEngine_ToggleEcho(t *testing.T) {
	t.Parallel()

	_, shell, events := running(t)
	next(t, events) // started

	toggle := msg.Control{Action: msg.ActionToggleEventListeners, EventName: msg.EventEcho}

	if err := shell.Post(msg.EventControl, toggle); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if got := next(t, events); !strings.Contains(got, "now off") {
		t.Fatalf("event = %q, want listeners off", got)
	}

	// handled in order: the echo is dropped before the toggle turns it on
	if err := shell.Post(msg.EventEcho, "dropped"); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if err := shell.Post(msg.EventControl, toggle); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if got := next(t, events); !strings.Contains(got, "now on") {
		t.Fatalf("event = %q, want listeners on", got)
	}

	if err := shell.Post(msg.EventEcho, "back"); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if got, want := next(t, events), "message: back"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

func TestEngine_ToggleUnknownEvent(t *testing.T) {
	t.Parallel()

	_, shell, events := running(t)
	next(t, events) // started

	ctl := msg.Control{Action: msg.ActionToggleEventListeners, EventName: "nothing"}
	if err := shell.Post(msg.EventControl, ctl); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if got := next(t, events); !strings.Contains(got, "No listener to toggle") {
		t.Errorf("event = %q, want no listener", got)
	}
}

func TestEngine_UnknownControl(t *testing.T) {
	t.Parallel()

	_, shell, events := running(t)
	next(t, events) // started

	if err := shell.Post(msg.EventControl, msg.Control{Action: "reboot"}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if got := next(t, events); !strings.Contains(got, "Unknown control action") {
		t.Errorf("event = %q, want unknown action", got)
	}
}

func TestEngine_Announce(t *testing.T) {
	t.Parallel()

	e, shell, events := running(t)
	first := next(t, events)

	if err := shell.Post(msg.EventControl, msg.Control{Action: msg.ActionAnnounce}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if got := next(t, events); got != first {
		t.Errorf("announce = %q, want %q", got, first)
	}
	if !strings.Contains(first, e.Addr().String()) {
		t.Errorf("started = %q, want address %s", first, e.Addr())
	}
}

func TestEngine_LoadAllDependencies(t *testing.T) {
	t.Parallel()

	_, shell, events := running(t)
	next(t, events) // started

	if err := shell.Post(msg.EventControl, msg.Control{Action: msg.ActionLoadAllDependencies}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	got := next(t, events)
	if !strings.HasPrefix(got, msg.EventLog+": ") {
		t.Fatalf("event = %q, want angular-log", got)
	}
	if !strings.Contains(got, "Loaded") && !strings.Contains(got, "No build information") {
		t.Errorf("event = %q, want load report", got)
	}
}

func TestEngine_TestFile(t *testing.T) {
	t.Parallel()

	e, shell, events := running(t)
	next(t, events) // started

	if err := shell.Post(msg.EventTestFile, "k3j2h1"); err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	got := next(t, events)
	path, ok := strings.CutPrefix(got, msg.EventTestFileSaved+": ")
	if !ok {
		t.Fatalf("event = %q, want test-file-saved", got)
	}
	if !filepath.IsAbs(path) {
		t.Errorf("path %q is not absolute", path)
	}
	if filepath.Dir(path) != e.cfg.StorageDir {
		t.Errorf("file written to %s, want %s", filepath.Dir(path), e.cfg.StorageDir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("os.ReadFile() error = %v", err)
	}
	if string(data) != "k3j2h1" {
		t.Errorf("file content = %q, want %q", data, "k3j2h1")
	}
}

func TestEngine_StopsWhenChannelCloses(t *testing.T) {
	t.Parallel()

	shellEnd, engineEnd, err := channel.Pipe(context.Background(), channel.Options{})
	if err != nil {
		t.Fatalf("channel.Pipe() error = %v", err)
	}
	defer engineEnd.Close()

	shared, cfg := testConfig(t)
	e := New(shared, cfg, engineEnd, "test", nil)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	<-e.Ready()
	shellEnd.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after the channel closed")
	}
}

func TestEngine_Status(t *testing.T) {
	t.Parallel()

	shared, cfg := testConfig(t)
	e := New(shared, cfg, nil, "1.2.3", nil)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e.started = base
	e.now = func() time.Time { return base.Add(90 * time.Second) }

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if st.Msg != Greeting {
		t.Errorf("msg = %q, want %q", st.Msg, Greeting)
	}
	if st.Versions["nodeshell"] != "1.2.3" {
		t.Errorf("versions = %v, want nodeshell 1.2.3", st.Versions)
	}
	if st.Uptime != 90 {
		t.Errorf("uptime = %v, want 90", st.Uptime)
	}
}

func TestEngine_NotFound(t *testing.T) {
	t.Parallel()

	shared, cfg := testConfig(t)
	srv := httptest.NewServer(New(shared, cfg, nil, "test", nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEngine_DataUpdates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping socket test in short mode")
	}
	t.Parallel()

	shared, cfg := testConfig(t)
	srv := httptest.NewServer(New(shared, cfg, nil, "test", nil).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket"
	s, err := socket.Dial(ctx, url, socket.Options{})
	if err != nil {
		t.Fatalf("socket.Dial() error = %v", err)
	}
	defer s.Disconnect()

	updates := make(chan DataUpdate, 64)
	s.On(EventDataUpdate, func(m socket.Message) {
		var u DataUpdate
		if err := m.Decode(&u); err != nil {
			t.Errorf("Decode() error = %v", err)
			return
		}
		updates <- u
	})

	if err := s.Emit(ctx, EventStartDataUpdates, map[string]any{}); err != nil {
		t.Fatalf("Emit(start) error = %v", err)
	}

	for want := 1; want <= 3; want++ {
		select {
		case u := <-updates:
			if u.Seq != want {
				t.Errorf("update seq = %d, want %d", u.Seq, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for update %d", want)
		}
	}

	if err := s.Emit(ctx, EventStopDataUpdates, map[string]any{}); err != nil {
		t.Fatalf("Emit(stop) error = %v", err)
	}

	// at most one update may be in flight when stop arrives
	time.Sleep(100 * time.Millisecond)
	for len(updates) > 0 {
		<-updates
	}
	select {
	case u := <-updates:
		t.Errorf("update %d received after stop", u.Seq)
	case <-time.After(100 * time.Millisecond):
	}
}
