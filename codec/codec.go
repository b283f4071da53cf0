// Package codec defines the record serialization used by a bridge to fill
// its transmit buffers and to decode inbound payloads.
//
// A bridge does not interpret record contents. It relies on a Codec to turn
// one value into bytes, and to recover values from the front of a payload.
package codec

import (
	"errors"
	"fmt"
)

// A Codec encodes and decodes individual records. Implementations must be
// safe for concurrent use by multiple goroutines.
type Codec interface {
	// Append appends the encoding of v to dst and returns the extended slice.
	Append(dst []byte, v any) ([]byte, error)

	// Decode decodes one record from the front of src, and reports the
	// number of bytes consumed. If src holds only part of a record, Decode
	// reports an error wrapping ErrTruncated.
	Decode(src []byte) (any, int, error)
}

// ErrTruncated is reported by a Codec when a record extends past the end of
// its input.
var ErrTruncated = errors.New("truncated record")

// DecodeAll decodes all the records in src, in order. It reports an error if
// src does not consist of a whole number of records.
func DecodeAll(c Codec, src []byte) ([]any, error) {
	var out []any
	for len(src) != 0 {
		v, n, err := c.Decode(src)
		if err != nil {
			return out, err
		} else if n <= 0 || n > len(src) {
			return out, fmt.Errorf("decoder consumed %d of %d bytes", n, len(src))
		}
		out = append(out, v)
		src = src[n:]
	}
	return out, nil
}
