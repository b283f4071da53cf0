// Package code defines the error codes that classify bridge failures.
package code

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// A Code classifies the failure of a bridge session. Every non-zero code is
// fatal to the session that reported it; codes are never used to decide on a
// retry.
type Code int32

func (c Code) String() string {
	if s, ok := stdError[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", c)
}

// An ErrCoder is a value that can report an error code value.
type ErrCoder interface {
	ErrCode() Code
}

// Err converts c to an error value, which is nil for code.NoError and
// otherwise an error value whose text is the string for c.
func (c Code) Err() error {
	if c == NoError {
		return nil
	}
	return codeError(c)
}

type codeError Code

func (c codeError) Error() string { return Code(c).String() }
func (c codeError) ErrCode() Code { return Code(c) }

// Pre-defined error codes.
const (
	NoError              Code = 0 // Denotes a nil error (used by FromError)
	ProtocolViolation    Code = 1 // Signal or frame inconsistent with the protocol state
	RemoteFailure        Code = 2 // The worker reported an error
	RemoteUnresponsive   Code = 3 // The worker did not respond in time
	TransportError       Code = 4 // The connection failed
	SerializationFailure Code = 5 // A record could not be encoded or decoded
	Cancelled            Code = 6 // The session context ended
)

var stdError = map[Code]string{
	NoError:              "no error (success)",
	ProtocolViolation:    "protocol violation",
	RemoteFailure:        "remote failure",
	RemoteUnresponsive:   "remote unresponsive",
	TransportError:       "transport error",
	SerializationFailure: "serialization failure",
	Cancelled:            "session cancelled",
}

// Register adds a new Code value with the specified message string.  This
// function will panic if the proposed value is already registered.
func Register(value int32, message string) Code {
	code := Code(value)
	if s, ok := stdError[code]; ok {
		panic(fmt.Sprintf("code %d is already registered for %q", code, s))
	}
	stdError[code] = message
	return code
}

// FromError returns a Code to categorize the specified error.
// If err == nil, it returns code.NoError.
// If err is (or wraps) an ErrCoder, it returns the reported code value.
// If err is context.Canceled or context.DeadlineExceeded, it returns code.Cancelled.
// If err is a timeout, it returns code.RemoteUnresponsive.
// Otherwise it returns code.TransportError.
func FromError(err error) Code {
	if err == nil {
		return NoError
	}
	var c ErrCoder
	if errors.As(err, &c) {
		return c.ErrCode()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	if IsTimeout(err) {
		return RemoteUnresponsive
	}
	return TransportError
}

// IsTimeout reports whether err denotes an expired I/O deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// IsClosed reports whether err denotes an orderly end of the connection.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
