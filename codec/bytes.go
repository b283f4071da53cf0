package codec

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Bytes is a Codec for opaque binary records. Each record is encoded as a
// 4-byte big-endian length followed by the record bytes. Append accepts
// values of type []byte and string, and encodes an int as its decimal text.
// Decode always returns []byte.
var Bytes Codec = bytesCodec{}

type bytesCodec struct{}

const lenSize = 4

func (bytesCodec) Append(dst []byte, v any) ([]byte, error) {
	var data []byte
	switch t := v.(type) {
	case []byte:
		data = t
	case string:
		data = []byte(t)
	case int:
		data = strconv.AppendInt(nil, int64(t), 10)
	default:
		return dst, fmt.Errorf("encode: unsupported record type %T", v)
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(data)))
	return append(dst, data...), nil
}

func (bytesCodec) Decode(src []byte) (any, int, error) {
	if len(src) < lenSize {
		return nil, 0, fmt.Errorf("decode length: %w", ErrTruncated)
	}
	n := int(binary.BigEndian.Uint32(src))
	if len(src)-lenSize < n {
		return nil, 0, fmt.Errorf("decode %d bytes: %w", n, ErrTruncated)
	}
	out := make([]byte, n)
	copy(out, src[lenSize:])
	return out, lenSize + n, nil
}
