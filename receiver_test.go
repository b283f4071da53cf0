package streamer_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/creachadair/streamer"
	"github.com/creachadair/streamer/code"
	"github.com/creachadair/streamer/codec"
	"github.com/google/go-cmp/cmp"
)

func encode(t *testing.T, c codec.Codec, vs ...any) []byte {
	t.Helper()
	var buf []byte
	for _, v := range vs {
		var err error
		buf, err = c.Append(buf, v)
		if err != nil {
			t.Fatalf("Append %v: %v", v, err)
		}
	}
	return buf
}

func TestReceiver(t *testing.T) {
	data := encode(t, codec.Msgpack, "alpha", 2, "gamma")
	r := streamer.NewReceiver(codec.Msgpack, 64)

	var sc streamer.SliceCollector
	n, err := r.CollectBuffer(bytes.NewReader(data), &sc, len(data))
	if err != nil {
		t.Fatalf("CollectBuffer: unexpected error: %v", err)
	} else if n != 3 {
		t.Errorf("CollectBuffer: got %d records, want 3", n)
	}
	if diff := cmp.Diff([]any{"alpha", int64(2), "gamma"}, sc.Values); diff != "" {
		t.Errorf("Collected values: (-want, +got)\n%s", diff)
	}
}

func TestReceiverErrors(t *testing.T) {
	data := encode(t, codec.Bytes, "abc", "defgh")

	tests := []struct {
		name string
		in   []byte
		size int
		coll streamer.Collector
		want code.Code
		nrec int
	}{
		{"Oversize", data, 100, new(streamer.SliceCollector), code.ProtocolViolation, 0},
		{"Truncated", data[:len(data)-2], len(data) - 2, new(streamer.SliceCollector), code.ProtocolViolation, 1},
		{"CollectorFailed", data, len(data), streamer.CollectorFunc(func(v any) error {
			if string(v.([]byte)) == "defgh" {
				return errBadInput
			}
			return nil
		}), code.TransportError, 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := streamer.NewReceiver(codec.Bytes, 32)
			n, err := r.CollectBuffer(bytes.NewReader(test.in), test.coll, test.size)
			if got := code.FromError(err); got != test.want {
				t.Errorf("CollectBuffer: got code %v (%v), want %v", got, err, test.want)
			}
			if n != test.nrec {
				t.Errorf("CollectBuffer: got %d records, want %d", n, test.nrec)
			}
		})
	}

	t.Run("ShortRead", func(t *testing.T) {
		r := streamer.NewReceiver(codec.Bytes, 32)
		_, err := r.CollectBuffer(bytes.NewReader(data[:3]), new(streamer.SliceCollector), len(data))
		var e *streamer.Error
		if errors.As(err, &e) || err == nil {
			t.Errorf("CollectBuffer: got %v, want a plain read error", err)
		}
	})
}
