package streamer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/creachadair/streamer/code"
	"github.com/creachadair/streamer/codec"
	"github.com/creachadair/streamer/source"
)

// numGroups is the number of input groups a Sender tracks. Single-stream
// mode uses only group 0.
const numGroups = 2

// A Sender serializes outbound records into a bounded transmit buffer.
//
// Records are never split across buffers: when a record does not fit into
// the space remaining in the buffer of a group, its encoding is kept aside and
// becomes the first record of the next buffer sent for that group. A Sender
// does not perform I/O; the caller writes the contents of Bytes after each
// successful SendRecord or SendBuffer call.
//
// A Sender is not safe for concurrent use.
type Sender struct {
	codec codec.Codec
	size  int
	buf   []byte
	left  [numGroups][]byte
}

// NewSender constructs a Sender that encodes records with c into buffers of
// at most size bytes. It will panic if c == nil or size < 1.
func NewSender(c codec.Codec, size int) *Sender {
	if c == nil {
		panic("streamer: nil codec")
	} else if size < 1 {
		panic(fmt.Sprintf("streamer: invalid buffer size %d", size))
	}
	return &Sender{codec: c, size: size}
}

// SendRecord replaces the contents of the transmit buffer with the encoding
// of v, and reports the number of bytes encoded. Leftover records of the
// groups are not affected.
func (s *Sender) SendRecord(v any) (int, error) {
	out, err := s.codec.Append(s.buf[:0], v)
	if err != nil {
		s.buf = s.buf[:0]
		return 0, serializationError(err)
	} else if len(out) > s.size {
		s.buf = out[:0]
		return 0, serializationError(fmt.Errorf("%w (%d > %d)", ErrRecordTooLarge, len(out), s.size))
	}
	s.buf = out
	return len(out), nil
}

// SendBuffer fills the transmit buffer for the specified group. If a record
// was left over from the previous buffer of that group, it is placed first.
// Then records are taken from it and encoded until it is exhausted or the
// next record does not fit; that record is retained for the next call and
// HasRemaining(group) reports true. SendBuffer reports the number of bytes
// in the buffer.
//
// An error from it is returned as-is. A record that cannot be encoded, or
// whose encoding is larger than the buffer, is reported as an *Error with
// code.SerializationFailure.
func (s *Sender) SendBuffer(ctx context.Context, it source.Source[any], group int) (int, error) {
	if group < 0 || group >= numGroups {
		return 0, fmt.Errorf("invalid group %d", group)
	}
	s.buf = append(s.buf[:0], s.left[group]...)
	s.left[group] = nil
	for {
		ok, err := it.HasNext(ctx)
		if err != nil {
			return len(s.buf), err
		} else if !ok {
			break
		}
		v, err := it.Next(ctx)
		if err != nil {
			return len(s.buf), err
		}
		mark := len(s.buf)
		out, err := s.codec.Append(s.buf, v)
		if err != nil {
			s.buf = s.buf[:mark]
			return mark, serializationError(err)
		}
		s.buf = out
		if len(out) <= s.size {
			continue
		}

		// The last record overflowed the buffer. Keep it for the next call,
		// unless it could never fit.
		rec := out[mark:]
		s.buf = out[:mark]
		if len(rec) > s.size {
			return mark, serializationError(fmt.Errorf("%w (%d > %d)", ErrRecordTooLarge, len(rec), s.size))
		}
		s.left[group] = bytes.Clone(rec)
		break
	}
	return len(s.buf), nil
}

// HasRemaining reports whether a record of the given group was left over by
// the previous call to SendBuffer.
func (s *Sender) HasRemaining(group int) bool {
	return group >= 0 && group < numGroups && s.left[group] != nil
}

// Bytes returns the current contents of the transmit buffer. The slice is
// valid only until the next call to a method of s.
func (s *Sender) Bytes() []byte { return s.buf }

// Reset discards the leftover records of all groups, and empties the
// transmit buffer.
func (s *Sender) Reset() {
	s.buf = s.buf[:0]
	for i := range s.left {
		s.left[i] = nil
	}
}

// Close releases the buffers held by s. A closed Sender may be reused, and
// will allocate new buffers as needed.
func (s *Sender) Close() error {
	s.Reset()
	s.buf = nil
	return nil
}

func serializationError(err error) *Error {
	return &Error{
		Code:    code.SerializationFailure,
		Message: "cannot serialize record",
		Err:     err,
	}
}
