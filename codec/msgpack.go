package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack is a Codec that encodes each record as a single MessagePack value.
// Integers are encoded in the smallest form that holds their value.
//
// Decoded values use the loose interface mapping of the msgpack package:
// integers decode as int64 or uint64, floats as float64, strings as string,
// binary data as []byte, arrays as []any and maps as map[string]any where
// possible.
var Msgpack Codec = msgpackCodec{}

type msgpackCodec struct{}

func (msgpackCodec) Append(dst []byte, v any) ([]byte, error) {
	buf := bytes.NewBuffer(dst)
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)

	enc.Reset(buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return dst, fmt.Errorf("encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Decode(src []byte) (any, int, error) {
	rd := bytes.NewReader(src)
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)

	dec.Reset(rd)
	dec.UseLooseInterfaceDecoding(true)
	v, err := dec.DecodeInterface()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, 0, fmt.Errorf("decode: %w", ErrTruncated)
	} else if err != nil {
		return nil, 0, fmt.Errorf("decode: %w", err)
	}
	return v, len(src) - rd.Len(), nil
}
