package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/google/uuid"

	"nodeshell/pkg/channel"
	"nodeshell/pkg/channel/msg"
)

func (e *Engine) registerChannel() {
	e.ch.On(msg.EventControl, e.onControl)
	e.ch.On(msg.EventTestFile, e.onTestFile)

	e.mu.Lock()
	defer e.mu.Unlock()
	for event, fn := range e.toggles {
		e.active[event] = e.ch.On(event, fn)
	}
}

func (e *Engine) onEcho(m channel.Message) {
	e.post(msg.EventMessage, m.String())
}

func (e *Engine) onControl(m channel.Message) {
	var ctl msg.Control
	if err := m.Decode(&ctl); err != nil {
		e.logToShell("Bad control message: %s", err)
		return
	}

	switch ctl.Action {
	case msg.ActionToggleEventListeners:
		e.toggle(ctl.EventName)
	case msg.ActionLoadAllDependencies:
		e.loadAllDependencies()
	case msg.ActionAnnounce:
		e.announce()
	default:
		e.logToShell("Unknown control action %q", ctl.Action)
	}
}

// toggle removes the engine's listener for event, or adds it back.
func (e *Engine) toggle(event string) {
	e.mu.Lock()
	fn, known := e.toggles[event]
	id, on := e.active[event]
	switch {
	case !known:
	case on:
		e.ch.RemoveListener(event, id)
		delete(e.active, event)
	default:
		e.active[event] = e.ch.On(event, fn)
	}
	e.mu.Unlock()

	switch {
	case !known:
		e.logToShell("No listener to toggle for %q", event)
	case on:
		e.logToShell("Listeners for %q are now off", event)
	default:
		e.logToShell("Listeners for %q are now on", event)
	}
}

// loadAllDependencies resolves the modules compiled into the binary and
// reports them to the shell.
func (e *Engine) loadAllDependencies() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		e.logToShell("No build information available")
		return
	}

	for _, d := range info.Deps {
		e.logger.VerboseMsg("Loaded %s@%s\n", d.Path, d.Version)
	}
	e.logToShell("Loaded %d dependencies of %s", len(info.Deps), info.Main.Path)
}

func (e *Engine) onTestFile(m channel.Message) {
	path, err := e.writeTestFile(m.String())
	if err != nil {
		e.logger.ErrorMsg("Writing test file: %s\n", err)
		e.logToShell("Could not write test file: %s", err)
		return
	}
	e.post(msg.EventTestFileSaved, path)
}

func (e *Engine) writeTestFile(content string) (string, error) {
	if err := os.MkdirAll(e.cfg.StorageDir, 0o755); err != nil {
		return "", fmt.Errorf("os.MkdirAll(%s): %w", e.cfg.StorageDir, err)
	}

	path, err := filepath.Abs(filepath.Join(e.cfg.StorageDir, "test-file-"+uuid.NewString()+".txt"))
	if err != nil {
		return "", fmt.Errorf("filepath.Abs(): %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("os.WriteFile(%s): %w", path, err)
	}
	return path, nil
}
