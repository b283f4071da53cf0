// Package worker implements the worker side of the bridge protocol.
//
// A worker is the external process that runs user logic on behalf of a
// bridge. It drives the session: it requests buffers of input, emits result
// records, and finally reports that it has finished or that it failed. A
// typical single-stream worker looks like:
//
//	w, err := worker.Dial(ctx, "tcp", addr, nil)
//	...
//	defer w.Close()
//	err = w.Process(func(v any) ([]any, error) {
//	   return []any{transform(v)}, nil
//	})
//
// The methods of a *Conn are not safe for concurrent use.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"

	"github.com/creachadair/streamer/codec"
	"github.com/creachadair/streamer/frame"
)

// Options control the behaviour of a worker connection. A nil *Options
// provides sensible defaults. The settings must agree with those of the
// bridge at the other end.
type Options struct {
	// If not nil, send debug logs to this writer.
	LogWriter io.Writer

	// The codec used for records. If nil, codec.Msgpack is used.
	Codec codec.Codec

	// The largest payload the worker will emit in one frame. If less than 1,
	// the default bridge buffer size (64 KiB) is used.
	BufferSize int
}

func (o *Options) logFunc() func(string, ...any) {
	if o == nil || o.LogWriter == nil {
		return func(string, ...any) {}
	}
	logger := log.New(o.LogWriter, "[worker] ", log.LstdFlags|log.Lshortfile)
	return func(msg string, args ...any) { logger.Output(2, fmt.Sprintf(msg, args...)) }
}

func (o *Options) codec() codec.Codec {
	if o == nil || o.Codec == nil {
		return codec.Msgpack
	}
	return o.Codec
}

func (o *Options) bufferSize() int {
	if o == nil || o.BufferSize < 1 {
		return 64 << 10
	}
	return o.BufferSize
}

// A Conn is the worker end of a bridge session.
type Conn struct {
	rwc   io.ReadWriteCloser
	codec codec.Codec
	size  int
	log   func(string, ...any)
	buf   []byte
}

// New constructs a worker connection that communicates with a bridge over
// rwc. The Conn takes ownership of rwc.
func New(rwc io.ReadWriteCloser, opts *Options) *Conn {
	return &Conn{
		rwc:   rwc,
		codec: opts.codec(),
		size:  opts.bufferSize(),
		log:   opts.logFunc(),
	}
}

// Dial connects to a bridge listening at the given address.
func Dial(ctx context.Context, network, addr string, opts *Options) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return New(conn, opts), nil
}

// Request sends sig to the bridge and reads the buffer sent in response,
// reporting the records it contains and whether it was the last buffer of
// its flush cycle. Request reports an error if sig is not a buffer request.
func (c *Conn) Request(sig frame.Signal) ([]any, bool, error) {
	if !sig.IsRequest() {
		return nil, false, fmt.Errorf("%v is not a buffer request", sig)
	}
	if err := frame.WriteSignal(c.rwc, sig); err != nil {
		return nil, false, err
	}
	data, last, err := frame.ReadData(c.rwc)
	if err != nil {
		return nil, false, err
	}
	recs, err := codec.DecodeAll(c.codec, data)
	if err != nil {
		return nil, false, err
	}
	c.log("%v: received %d records (%d bytes, last=%v)", sig, len(recs), len(data), last)
	return recs, last, nil
}

// RequestAll issues requests with sig until the bridge reports the last
// buffer of the flush cycle, and returns all the records received.
func (c *Conn) RequestAll(sig frame.Signal) ([]any, error) {
	var all []any
	for {
		recs, last, err := c.Request(sig)
		all = append(all, recs...)
		if err != nil {
			return all, err
		} else if last {
			return all, nil
		}
	}
}

// Emit sends the given records to the bridge. Records are packed into as few
// payloads as the buffer size allows, and each payload is acknowledged by the
// bridge before the next is sent. Emit does nothing if vs is empty.
func (c *Conn) Emit(vs ...any) error {
	c.buf = c.buf[:0]
	for _, v := range vs {
		mark := len(c.buf)
		out, err := c.codec.Append(c.buf, v)
		if err != nil {
			return err
		}
		if len(out) > c.size && mark > 0 {
			if err := c.flush(out[:mark]); err != nil {
				return err
			}
			out = append(out[:0], out[mark:]...)
		}
		if len(out) > c.size {
			return fmt.Errorf("record of %d bytes exceeds buffer size %d", len(out), c.size)
		}
		c.buf = out
	}
	if len(c.buf) == 0 {
		return nil
	}
	return c.flush(c.buf)
}

func (c *Conn) flush(payload []byte) error {
	if err := frame.WriteWord(c.rwc, int32(len(payload))); err != nil {
		return err
	}
	if _, err := c.rwc.Write(payload); err != nil {
		return err
	}
	c.log("Emitted %d bytes", len(payload))
	return frame.ReadAck(c.rwc)
}

// Finish reports to the bridge that the worker has finished.
func (c *Conn) Finish() error { return frame.WriteSignal(c.rwc, frame.Finished) }

// Fail reports to the bridge that the worker has failed. The bridge will
// wait for its grace period, and then end the session with an error.
func (c *Conn) Fail() error { return frame.WriteSignal(c.rwc, frame.Error) }

// A Variable is a broadcast variable received from a bridge.
type Variable struct {
	Name   string
	Values []any
}

// ReceiveBroadcast receives the broadcast variables sent by a call to the
// SendBroadcastVariables method of the bridge.
func (c *Conn) ReceiveBroadcast() ([]Variable, error) {
	v, err := c.requestOne()
	if err != nil {
		return nil, fmt.Errorf("variable count: %w", err)
	}
	n, err := toInt(v)
	if err != nil {
		return nil, fmt.Errorf("variable count: %w", err)
	}
	vars := make([]Variable, n)
	for i := range vars {
		v, err := c.requestOne()
		if err != nil {
			return nil, fmt.Errorf("variable %d name: %w", i, err)
		}
		vars[i].Name = toString(v)
		vars[i].Values, err = c.RequestAll(frame.BufferRequest)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", vars[i].Name, err)
		}
	}
	return vars, nil
}

// ReceiveMessage receives a text message sent by the SendMessage method of
// the bridge.
func (c *Conn) ReceiveMessage() (string, error) {
	v, err := c.requestOne()
	if err != nil {
		return "", err
	}
	return toString(v), nil
}

// requestOne requests a buffer that must contain exactly one record.
func (c *Conn) requestOne() (any, error) {
	recs, last, err := c.Request(frame.BufferRequest)
	if err != nil {
		return nil, err
	} else if len(recs) != 1 || !last {
		return nil, fmt.Errorf("got %d records (last=%v), want 1", len(recs), last)
	}
	return recs[0], nil
}

// Process runs a single-stream session: it requests every buffer of input,
// passes each record to fn, emits the results of each buffer, and reports
// that the worker has finished. If fn fails, Process reports the failure to
// the bridge and returns the error from fn.
//
// The bridge does not serve an input with no records, so Process must not be
// used for a session whose input may be empty.
func (c *Conn) Process(fn func(any) ([]any, error)) error {
	for {
		recs, last, err := c.Request(frame.BufferRequest)
		if err != nil {
			return err
		}
		var out []any
		for _, rec := range recs {
			vs, err := fn(rec)
			if err != nil {
				return c.abort(err)
			}
			out = append(out, vs...)
		}
		if err := c.Emit(out...); err != nil {
			return err
		}
		if last {
			return c.Finish()
		}
	}
}

// CoGroup runs a grouped session: it requests all the input of group 0 and
// then all the input of group 1, passes both to fn, emits the results, and
// reports that the worker has finished. If fn fails, CoGroup reports the
// failure to the bridge and returns the error from fn.
//
// An empty group must not be requested, so CoGroup requires both inputs to
// have at least one record.
func (c *Conn) CoGroup(fn func(g0, g1 []any) ([]any, error)) error {
	g0, err := c.RequestAll(frame.BufferRequestGroup0)
	if err != nil {
		return err
	}
	g1, err := c.RequestAll(frame.BufferRequestGroup1)
	if err != nil {
		return err
	}
	out, err := fn(g0, g1)
	if err != nil {
		return c.abort(err)
	}
	if err := c.Emit(out...); err != nil {
		return err
	}
	return c.Finish()
}

func (c *Conn) abort(err error) error {
	c.log("Aborting: %v", err)
	return errors.Join(err, c.Fail())
}

// Close closes the connection to the bridge.
func (c *Conn) Close() error { return c.rwc.Close() }

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int64:
		return int(t), nil
	case uint64:
		return int(t), nil
	case int:
		return t, nil
	case int8:
		return int(t), nil
	case uint8:
		return int(t), nil
	case []byte, string:
		return strconv.Atoi(toString(t))
	}
	return 0, fmt.Errorf("unexpected count type %T", v)
}
