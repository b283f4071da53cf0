package frame_test

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/creachadair/streamer/frame"
)

func TestSignalRoundTrip(t *testing.T) {
	for _, sig := range []frame.Signal{
		frame.BufferRequest, frame.Finished, frame.Error,
		frame.BufferRequestGroup0, frame.BufferRequestGroup1,
	} {
		word := frame.EncodeInt32(int32(sig))
		got, size, err := frame.Classify(frame.Int32(word[:]))
		if err != nil {
			t.Errorf("Classify(%v): unexpected error: %v", sig, err)
		} else if got != sig || size != 0 {
			t.Errorf("Classify(%v): got (%v, %d), want (%v, 0)", sig, got, size, sig)
		}
	}
}

func TestInt32(t *testing.T) {
	tests := []struct {
		v    int32
		want []byte
	}{
		{0, []byte{0, 0, 0, 0}},
		{1, []byte{0, 0, 0, 1}},
		{-1, []byte{0xff, 0xff, 0xff, 0xff}},
		{-4, []byte{0xff, 0xff, 0xff, 0xfc}},
		{0x01020304, []byte{1, 2, 3, 4}},
		{math.MaxInt32, []byte{0x7f, 0xff, 0xff, 0xff}},
	}
	for _, test := range tests {
		got := frame.EncodeInt32(test.v)
		if !bytes.Equal(got[:], test.want) {
			t.Errorf("EncodeInt32(%d): got %v, want %v", test.v, got, test.want)
		}
		if v := frame.Int32(got[:]); v != test.v {
			t.Errorf("Int32(%v): got %d, want %d", got, v, test.v)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		word int32
		sig  frame.Signal
		size int
		ok   bool
	}{
		{0, frame.BufferRequest, 0, true},
		{-1, frame.Finished, 0, true},
		{-2, frame.Error, 0, true},
		{-3, frame.BufferRequestGroup0, 0, true},
		{-4, frame.BufferRequestGroup1, 0, true},
		{1, 0, 1, true},
		{4096, 0, 4096, true},
		{-5, 0, 0, false},
		{math.MinInt32, 0, 0, false},
	}
	for _, test := range tests {
		sig, size, err := frame.Classify(test.word)
		if !test.ok {
			var werr *frame.WordError
			if !errors.As(err, &werr) || werr.Word != test.word {
				t.Errorf("Classify(%d): got err=%v, want *WordError", test.word, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Classify(%d): unexpected error: %v", test.word, err)
		} else if size != test.size || (size == 0 && sig != test.sig) {
			t.Errorf("Classify(%d): got (%v, %d), want (%v, %d)", test.word, sig, size, test.sig, test.size)
		}
	}
}

func TestSignalGroup(t *testing.T) {
	tests := []struct {
		sig   frame.Signal
		group int
		req   bool
	}{
		{frame.BufferRequest, 0, true},
		{frame.BufferRequestGroup0, 0, true},
		{frame.BufferRequestGroup1, 1, true},
		{frame.Finished, -1, false},
		{frame.Error, -1, false},
	}
	for _, test := range tests {
		if got := test.sig.Group(); got != test.group {
			t.Errorf("%v.Group(): got %d, want %d", test.sig, got, test.group)
		}
		if got := test.sig.IsRequest(); got != test.req {
			t.Errorf("%v.IsRequest(): got %v, want %v", test.sig, got, test.req)
		}
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	const maxBuffer = 64 << 10
	for _, length := range []uint32{0, 1, maxBuffer} {
		for _, last := range []bool{true, false} {
			hdr := frame.EncodeHeader(length, last)
			wantFlag := byte(0)
			if last {
				wantFlag = frame.LastFlag
			}
			if hdr[4] != wantFlag {
				t.Errorf("EncodeHeader(%d, %v): flag byte is %d, want %d", length, last, hdr[4], wantFlag)
			}
			gotLen, gotLast, err := frame.DecodeHeader(hdr)
			if err != nil {
				t.Errorf("DecodeHeader(%v): unexpected error: %v", hdr, err)
			} else if gotLen != length || gotLast != last {
				t.Errorf("DecodeHeader(%v): got (%d, %v), want (%d, %v)", hdr, gotLen, gotLast, length, last)
			}
		}
	}
}

func TestDecodeHeaderBadFlag(t *testing.T) {
	hdr := [frame.HeaderSize]byte{0, 0, 0, 3, 7}
	if n, last, err := frame.DecodeHeader(hdr); err == nil {
		t.Errorf("DecodeHeader(%v): got (%d, %v), want error", hdr, n, last)
	}
}

func TestDataIO(t *testing.T) {
	var buf bytes.Buffer
	if err := frame.WriteData(&buf, []byte("payload"), true); err != nil {
		t.Fatalf("WriteData: unexpected error: %v", err)
	}
	if err := frame.WriteData(&buf, nil, false); err != nil {
		t.Fatalf("WriteData: unexpected error: %v", err)
	}
	if err := frame.WriteAck(&buf); err != nil {
		t.Fatalf("WriteAck: unexpected error: %v", err)
	}
	if err := frame.WriteSignal(&buf, frame.BufferRequestGroup1); err != nil {
		t.Fatalf("WriteSignal: unexpected error: %v", err)
	}

	data, last, err := frame.ReadData(&buf)
	if err != nil || string(data) != "payload" || !last {
		t.Errorf("ReadData: got (%q, %v, %v), want (payload, true, nil)", data, last, err)
	}
	data, last, err = frame.ReadData(&buf)
	if err != nil || len(data) != 0 || last {
		t.Errorf("ReadData: got (%q, %v, %v), want (\"\", false, nil)", data, last, err)
	}
	if err := frame.ReadAck(&buf); err != nil {
		t.Errorf("ReadAck: unexpected error: %v", err)
	}
	var scratch [frame.WordSize]byte
	if w, err := frame.ReadWord(&buf, scratch[:]); err != nil || frame.Signal(w) != frame.BufferRequestGroup1 {
		t.Errorf("ReadWord: got (%d, %v), want (%d, nil)", w, err, frame.BufferRequestGroup1)
	}
	if _, err := frame.ReadWord(&buf, scratch[:]); err != io.EOF {
		t.Errorf("ReadWord at end: got %v, want %v", err, io.EOF)
	}
}

func TestReadDataTruncated(t *testing.T) {
	hdr := frame.EncodeHeader(10, false)
	in := append(hdr[:], "short"...)
	if _, _, err := frame.ReadData(bytes.NewReader(in)); err != io.ErrUnexpectedEOF {
		t.Errorf("ReadData(truncated): got %v, want %v", err, io.ErrUnexpectedEOF)
	}
}
