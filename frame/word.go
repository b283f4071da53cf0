// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package frame

import (
	"encoding/binary"
	"fmt"
)

const (
	// WordSize is the encoded length of a control word in bytes.
	WordSize = 4

	// HeaderSize is the encoded length of a data header in bytes.
	HeaderSize = WordSize + 1

	// LastFlag is the flag byte marking the final data frame of a flush cycle.
	LastFlag = 32

	// Ack is the byte written to acknowledge an inbound payload.
	Ack = 0
)

// PutInt32 encodes v into the first WordSize bytes of buf in big-endian
// order. It panics if len(buf) < WordSize.
func PutInt32(buf []byte, v int32) { binary.BigEndian.PutUint32(buf, uint32(v)) }

// Int32 decodes a big-endian word from the first WordSize bytes of buf.
// It panics if len(buf) < WordSize.
func Int32(buf []byte) int32 { return int32(binary.BigEndian.Uint32(buf)) }

// EncodeInt32 returns the wire encoding of v.
func EncodeInt32(v int32) (out [WordSize]byte) {
	PutInt32(out[:], v)
	return
}

// EncodeHeader returns the data header for a payload of the given length.
// The flag byte is LastFlag if last is true, and 0 otherwise.
func EncodeHeader(length uint32, last bool) (out [HeaderSize]byte) {
	binary.BigEndian.PutUint32(out[:WordSize], length)
	if last {
		out[WordSize] = LastFlag
	}
	return
}

// DecodeHeader decodes a data header. It reports an error if the flag byte is
// neither 0 nor LastFlag.
func DecodeHeader(hdr [HeaderSize]byte) (length uint32, last bool, err error) {
	length = binary.BigEndian.Uint32(hdr[:WordSize])
	switch hdr[WordSize] {
	case 0:
		return length, false, nil
	case LastFlag:
		return length, true, nil
	}
	return 0, false, fmt.Errorf("invalid header flag %d", hdr[WordSize])
}
