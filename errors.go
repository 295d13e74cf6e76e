package botlink

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind classifies an Error.
type Kind string

const (
	// KindSocket covers missing or failed transport: no live command
	// socket for a call, or a send that died on the wire.
	KindSocket Kind = "socket"

	// KindInvalidChannel marks caller misuse of a channel selector.
	KindInvalidChannel Kind = "invalid_channel"

	// KindBadPayload marks an inbound frame that is not valid JSON.
	KindBadPayload Kind = "bad_payload"

	// KindTimeout marks a request whose deadline elapsed before a
	// matching response arrived.
	KindTimeout Kind = "timeout"

	// KindUnexpectedField marks an inbound payload outside the
	// classification taxonomy.
	KindUnexpectedField Kind = "unexpected_field"
)

// Error is the tagged error type used across the library. Kind is always
// set; the remaining fields are filled when they apply.
type Error struct {
	Kind    Kind
	Channel Channel         // channel the error belongs to, when known
	Field   string          // offending field for unexpected_field errors
	Action  string          // request action for timeout errors
	Timeout time.Duration   // deadline for timeout errors
	Payload json.RawMessage // offending frame, when available
	Err     error           // wrapped cause
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindSocket:
		msg = "socket failure"
	case KindInvalidChannel:
		msg = "invalid channel selector"
	case KindBadPayload:
		msg = "malformed payload"
	case KindTimeout:
		msg = fmt.Sprintf("request %q timed out after %v", e.Action, e.Timeout)
	case KindUnexpectedField:
		msg = fmt.Sprintf("unexpected %s in inbound payload", e.Field)
	default:
		msg = string(e.Kind)
	}
	if e.Channel != "" {
		msg += " (" + string(e.Channel) + " channel)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, k Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == k
}
