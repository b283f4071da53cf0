package frame

import (
	"fmt"
	"io"
)

// ReadWord reads a single control word from r, using buf as scratch space.
// The caller must ensure len(buf) ≥ WordSize; buf is not retained.
func ReadWord(r io.Reader, buf []byte) (int32, error) {
	if _, err := io.ReadFull(r, buf[:WordSize]); err != nil {
		return 0, err
	}
	return Int32(buf), nil
}

// WriteWord writes a single control word to w.
func WriteWord(w io.Writer, v int32) error {
	word := EncodeInt32(v)
	_, err := w.Write(word[:])
	return err
}

// WriteSignal writes sig to w as a control word.
func WriteSignal(w io.Writer, sig Signal) error { return WriteWord(w, int32(sig)) }

// WriteData writes a data header for payload to w, followed by payload itself,
// in a single write.
func WriteData(w io.Writer, payload []byte, last bool) error {
	hdr := EncodeHeader(uint32(len(payload)), last)
	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(append(out, hdr[:]...), payload...)
	_, err := w.Write(out)
	return err
}

// ReadData reads a data header and its payload from r. The payload is
// returned in a new slice.
func ReadData(r io.Reader) ([]byte, bool, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, false, err
	}
	n, last, err := DecodeHeader(hdr)
	if err != nil {
		return nil, false, err
	}
	out := make([]byte, int(n))
	nr, err := io.ReadFull(r, out)
	return out[:nr], last, err
}

// WriteAck writes an acknowledgement byte to w.
func WriteAck(w io.Writer) error {
	_, err := w.Write([]byte{Ack})
	return err
}

// ReadAck reads an acknowledgement byte from r.
func ReadAck(r io.Reader) error {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	} else if b[0] != Ack {
		return fmt.Errorf("invalid acknowledgement %d", b[0])
	}
	return nil
}
