package botlink

import (
	"encoding/json"
	"time"
)

// Lifecycle and API event paths. Inbound notification paths are built by
// classification (message.*, notice.*, request.*, meta_event.*); the paths
// below are emitted by the library itself.
const (
	// EventReady fires once every enabled channel is connected.
	EventReady = "ready"

	// EventError carries an *Error for faults the library cannot handle
	// itself: malformed payloads, taxonomy violations, identity-lookup
	// failures. With no listener registered, the default handler panics.
	EventError = "error"

	EventSocketConnecting   = "socket.connecting"
	EventSocketConnect      = "socket.connect"
	EventSocketFailed       = "socket.failed"
	EventSocketError        = "socket.error"
	EventSocketClosing      = "socket.closing"
	EventSocketClose        = "socket.close"
	EventSocketReconnecting = "socket.reconnecting"
	EventSocketReconnect    = "socket.reconnect"
	EventSocketMaxReconnect = "socket.max_reconnect"

	// EventAPISendPre and EventAPISendPost bracket every command write.
	EventAPISendPre  = "api.send.pre"
	EventAPISendPost = "api.send.post"

	// EventAPIResponse fires for every frame observed on the command
	// channel, matched or not.
	EventAPIResponse = "api.response"
)

// Event is what listeners receive. Path is always set; the other fields
// are filled according to the event family.
type Event struct {
	Path    string  // full dot path, e.g. "message.group.@me"
	Channel Channel // originating channel for socket.*, api.* and error events

	Attempt int    // connection attempt for socket.connecting / socket.failed
	Code    int    // close code for socket.close
	Reason  string // close reason for socket.close

	Err error // *Error for error events, transport error for socket.error

	Payload *Payload        // decoded notification for inbound families
	Raw     json.RawMessage // raw frame, where one exists

	Time time.Time // local receive (or emit) timestamp
}
