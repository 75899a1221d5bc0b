// Package msg defines the frames exchanged on the shell/engine channel.
// Frames are gob encoded; payloads are JSON so that either side can post
// plain strings as well as structured values.
package msg

// Well-known channel events.
const (
	EventMessage       = "message"
	EventStarted       = "started"
	EventLog           = "angular-log"
	EventEcho          = "node-echo"
	EventControl       = "control"
	EventTestFile      = "test-file"
	EventTestFileSaved = "test-file-saved"
)

// Control actions carried by EventControl.
const (
	ActionToggleEventListeners = "toggle-event-listeners"
	ActionLoadAllDependencies  = "load-all-dependencies"

	// ActionAnnounce asks the engine to post started again, for shells
	// that attach to an engine which is already up.
	ActionAnnounce = "announce"
)

// Envelope is one posted event.
type Envelope struct {
	Event string
	Data  []byte // JSON
}

// Control is the payload of EventControl.
type Control struct {
	Action    string `json:"action"`
	EventName string `json:"eventName,omitempty"`
}
