package streamer

import (
	"fmt"
	"io"

	"github.com/creachadair/streamer/code"
	"github.com/creachadair/streamer/codec"
)

// A Collector receives the records decoded from the payloads sent by a
// worker. An error reported by Collect ends the session.
type Collector interface {
	Collect(v any) error
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func(any) error

// Collect implements the Collector interface by calling f.
func (f CollectorFunc) Collect(v any) error { return f(v) }

// SliceCollector is a Collector that appends each record to a slice.
type SliceCollector struct {
	Values []any
}

// Collect implements the Collector interface.
func (s *SliceCollector) Collect(v any) error { s.Values = append(s.Values, v); return nil }

// A Receiver decodes inbound payloads into records. A Receiver is not safe
// for concurrent use.
type Receiver struct {
	codec codec.Codec
	size  int
	buf   []byte
}

// NewReceiver constructs a Receiver that decodes records with c from
// payloads of at most size bytes. It will panic if c == nil or size < 1.
func NewReceiver(c codec.Codec, size int) *Receiver {
	if c == nil {
		panic("streamer: nil codec")
	} else if size < 1 {
		panic(fmt.Sprintf("streamer: invalid buffer size %d", size))
	}
	return &Receiver{codec: c, size: size}
}

// CollectBuffer reads a payload of exactly size bytes from r, decodes the
// records it contains and passes each in order to c. It reports the number
// of records delivered.
//
// If size is not positive or exceeds the capacity of the receiver, or if the
// payload does not consist of a whole number of records, CollectBuffer
// reports an *Error with code.ProtocolViolation. If c fails, CollectBuffer
// stops and reports an *Error wrapping the failure; records delivered before
// the failure remain delivered. Errors reading from r are returned as-is.
func (v *Receiver) CollectBuffer(r io.Reader, c Collector, size int) (int, error) {
	if size <= 0 || size > v.size {
		return 0, &Error{
			Code:    code.ProtocolViolation,
			Message: fmt.Sprintf("external process sent a payload of %d bytes (limit %d)", size, v.size),
		}
	}
	if cap(v.buf) < size {
		v.buf = make([]byte, size, v.size)
	}
	data := v.buf[:size]
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, err
	}

	var nr int
	for len(data) != 0 {
		rec, n, err := v.codec.Decode(data)
		if err == nil && (n <= 0 || n > len(data)) {
			err = fmt.Errorf("decoder consumed %d of %d bytes", n, len(data))
		}
		if err != nil {
			return nr, &Error{
				Code:    code.ProtocolViolation,
				Message: "external process sent a malformed payload",
				Err:     err,
			}
		}
		data = data[n:]
		if err := c.Collect(rec); err != nil {
			return nr, &Error{
				Code:    code.FromError(err),
				Message: "collector rejected a record",
				Err:     err,
			}
		}
		nr++
	}
	return nr, nil
}

// Close releases the buffer held by v.
func (v *Receiver) Close() error {
	v.buf = nil
	return nil
}
