package streamer

import (
	"errors"
	"strings"

	"github.com/creachadair/streamer/code"
)

// Error is the concrete type of errors reporting the failure of a bridge
// session. Every *Error is fatal to the session that reported it.
type Error struct {
	Code       code.Code // the classification of the failure
	Task       string    // the name of the task owning the session, if known
	Message    string    // a human-readable description of the failure
	Diagnostic string    // text collected from the worker, if any
	Err        error     // the underlying error, if any
}

// Error renders e to a human-readable string for the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if e.Diagnostic != "" {
		sb.WriteString("\n")
		sb.WriteString(strings.TrimRight(e.Diagnostic, "\n"))
	}
	return sb.String()
}

// Unwrap supports error wrapping.
func (e *Error) Unwrap() error { return e.Err }

// ErrCode satisfies the code.ErrCoder interface.
func (e *Error) ErrCode() code.Code { return e.Code }

// ErrNotOpen is reported by a Bridge operation invoked before Open or Start.
var ErrNotOpen = errors.New("bridge is not open")

// ErrAlreadyOpen is reported by Open or Start on a bridge that already has a
// connection.
var ErrAlreadyOpen = errors.New("bridge is already open")

// ErrClosed is reported by a Bridge operation invoked after Close.
var ErrClosed = errors.New("bridge is closed")

// ErrRecordTooLarge is reported when a single encoded record does not fit
// in the transmit buffer.
var ErrRecordTooLarge = errors.New("record exceeds buffer size")
