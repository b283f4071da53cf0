// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package frame

import "fmt"

// A Signal is a control word sent by the worker to drive the bridge.
type Signal int32

// Signal values defined by the protocol. The values are non-positive so that
// they cannot collide with the positive payload lengths carried by the same
// control words.
const (
	BufferRequest       Signal = 0  // request the next buffer (single-stream mode)
	Finished            Signal = -1 // the worker is done; the session ends normally
	Error               Signal = -2 // the worker failed
	BufferRequestGroup0 Signal = -3 // request the next buffer of group 0
	BufferRequestGroup1 Signal = -4 // request the next buffer of group 1
)

var signalName = map[Signal]string{
	BufferRequest:       "BufferRequest",
	Finished:            "Finished",
	Error:               "Error",
	BufferRequestGroup0: "BufferRequestGroup0",
	BufferRequestGroup1: "BufferRequestGroup1",
}

func (s Signal) String() string {
	if n, ok := signalName[s]; ok {
		return n
	}
	return fmt.Sprintf("Signal(%d)", int32(s))
}

// IsRequest reports whether s asks the bridge for a buffer of data.
func (s Signal) IsRequest() bool {
	return s == BufferRequest || s == BufferRequestGroup0 || s == BufferRequestGroup1
}

// Group reports the group index requested by s. It returns 0 for
// BufferRequest, and -1 if s is not a buffer request.
func (s Signal) Group() int {
	switch s {
	case BufferRequest, BufferRequestGroup0:
		return 0
	case BufferRequestGroup1:
		return 1
	}
	return -1
}

// WordError is reported by Classify for a control word that is neither a
// defined signal nor a payload length.
type WordError struct {
	Word int32
}

func (e *WordError) Error() string { return fmt.Sprintf("undefined control word %d", e.Word) }

// Classify interprets a control word. If word is a defined signal, it returns
// that signal and a size of 0. If word is positive, it returns a size equal
// to word, and the signal value is meaningless. Otherwise it reports an error
// of concrete type *WordError.
func Classify(word int32) (Signal, int, error) {
	if word > 0 {
		return 0, int(word), nil
	}
	sig := Signal(word)
	if _, ok := signalName[sig]; !ok {
		return 0, 0, &WordError{Word: word}
	}
	return sig, 0, nil
}
