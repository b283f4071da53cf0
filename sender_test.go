package streamer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/creachadair/streamer"
	"github.com/creachadair/streamer/code"
	"github.com/creachadair/streamer/codec"
	"github.com/creachadair/streamer/source"
	"github.com/google/go-cmp/cmp"
)

func decodeAll(t *testing.T, c codec.Codec, data []byte) []any {
	t.Helper()
	vs, err := codec.DecodeAll(c, data)
	if err != nil {
		t.Fatalf("DecodeAll: unexpected error: %v", err)
	}
	return vs
}

func TestSenderBuffers(t *testing.T) {
	ctx := context.Background()

	// Each record encodes to 5 bytes, so two fit in a buffer.
	s := streamer.NewSender(codec.Bytes, 10)
	it := source.Slice[any]("a", "b", "c")

	for i, want := range [][]any{
		{[]byte("a"), []byte("b")},
		{[]byte("c")},
		nil,
	} {
		n, err := s.SendBuffer(ctx, it, 0)
		if err != nil {
			t.Fatalf("SendBuffer %d: unexpected error: %v", i+1, err)
		}
		if n != len(s.Bytes()) {
			t.Errorf("SendBuffer %d: reported %d bytes, buffer has %d", i+1, n, len(s.Bytes()))
		}
		if diff := cmp.Diff(want, decodeAll(t, codec.Bytes, s.Bytes())); diff != "" {
			t.Errorf("SendBuffer %d: (-want, +got)\n%s", i+1, diff)
		}
		if got, want := s.HasRemaining(0), i == 0; got != want {
			t.Errorf("HasRemaining after buffer %d: got %v, want %v", i+1, got, want)
		}
	}
}

func TestSenderGroups(t *testing.T) {
	ctx := context.Background()
	s := streamer.NewSender(codec.Bytes, 6)

	it0 := source.Slice[any]("p", "q")
	it1 := source.Slice[any]("x", "y")
	if _, err := s.SendBuffer(ctx, it0, 0); err != nil {
		t.Fatalf("SendBuffer(0): %v", err)
	}
	if !s.HasRemaining(0) || s.HasRemaining(1) {
		t.Fatalf("HasRemaining: got (%v, %v), want (true, false)", s.HasRemaining(0), s.HasRemaining(1))
	}

	// A buffer for group 1 must not include the leftover of group 0.
	if _, err := s.SendBuffer(ctx, it1, 1); err != nil {
		t.Fatalf("SendBuffer(1): %v", err)
	}
	if diff := cmp.Diff([]any{[]byte("x")}, decodeAll(t, codec.Bytes, s.Bytes())); diff != "" {
		t.Errorf("Group 1 buffer: (-want, +got)\n%s", diff)
	}
	if _, err := s.SendBuffer(ctx, it0, 0); err != nil {
		t.Fatalf("SendBuffer(0): %v", err)
	}
	if diff := cmp.Diff([]any{[]byte("q")}, decodeAll(t, codec.Bytes, s.Bytes())); diff != "" {
		t.Errorf("Group 0 buffer: (-want, +got)\n%s", diff)
	}
	if !s.HasRemaining(1) {
		t.Error("HasRemaining(1): got false, want true")
	}

	s.Reset()
	if s.HasRemaining(0) || s.HasRemaining(1) {
		t.Error("HasRemaining after Reset: got true, want false")
	}
	if _, err := s.SendBuffer(ctx, it0, 2); err == nil {
		t.Error("SendBuffer(2): got nil error, want invalid group")
	}
}

func TestSenderRecord(t *testing.T) {
	s := streamer.NewSender(codec.Bytes, 8)
	n, err := s.SendRecord("abc")
	if err != nil {
		t.Fatalf("SendRecord: unexpected error: %v", err)
	} else if n != 7 {
		t.Errorf("SendRecord: got %d bytes, want 7", n)
	}
	if diff := cmp.Diff([]any{[]byte("abc")}, decodeAll(t, codec.Bytes, s.Bytes())); diff != "" {
		t.Errorf("SendRecord: (-want, +got)\n%s", diff)
	}
}

func TestSenderErrors(t *testing.T) {
	ctx := context.Background()
	check := func(t *testing.T, err error, wantIs error) {
		t.Helper()
		var e *streamer.Error
		if !errors.As(err, &e) {
			t.Fatalf("Got error %v (%T), want *streamer.Error", err, err)
		}
		if e.Code != code.SerializationFailure {
			t.Errorf("Error code: got %v, want %v", e.Code, code.SerializationFailure)
		}
		if wantIs != nil && !errors.Is(err, wantIs) {
			t.Errorf("Error: got %v, want %v", err, wantIs)
		}
	}
	t.Run("RecordTooLarge", func(t *testing.T) {
		s := streamer.NewSender(codec.Bytes, 6)
		_, err := s.SendRecord("too long")
		check(t, err, streamer.ErrRecordTooLarge)
	})
	t.Run("BufferTooLarge", func(t *testing.T) {
		s := streamer.NewSender(codec.Bytes, 6)
		_, err := s.SendBuffer(ctx, source.Slice[any]("a", "too long"), 0)
		check(t, err, streamer.ErrRecordTooLarge)
	})
	t.Run("Unencodable", func(t *testing.T) {
		s := streamer.NewSender(codec.Bytes, 64)
		_, err := s.SendBuffer(ctx, source.Slice[any](3.5), 0)
		check(t, err, nil)
	})
	t.Run("SourceError", func(t *testing.T) {
		s := streamer.NewSender(codec.Bytes, 64)
		_, err := s.SendBuffer(ctx, failSource{errBadInput}, 0)
		if !errors.Is(err, errBadInput) {
			t.Errorf("SendBuffer: got %v, want %v", err, errBadInput)
		}
	})
}

var errBadInput = errors.New("bad input")

// failSource is a source.Source that reports an error.
type failSource struct{ err error }

func (f failSource) HasNext(context.Context) (bool, error) { return false, f.err }
func (f failSource) Next(context.Context) (any, error)     { return nil, f.err }
