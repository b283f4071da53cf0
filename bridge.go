// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package streamer

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/creachadair/streamer/code"
	"github.com/creachadair/streamer/frame"
	"github.com/creachadair/streamer/metrics"
	"github.com/creachadair/streamer/source"
	"github.com/google/uuid"
)

var (
	bridgeMetrics = new(expvar.Map)

	bridgesActiveGauge = new(expvar.Int)
	sessionsFailed     = new(expvar.Int)
	buffersSentCount   = new(expvar.Int)
	bytesSentCount     = new(expvar.Int)
	bytesReadCount     = new(expvar.Int)
	recordsReadCount   = new(expvar.Int)
)

func init() {
	bridgeMetrics.Set("bridges_active", bridgesActiveGauge)
	bridgeMetrics.Set("sessions_failed", sessionsFailed)
	bridgeMetrics.Set("buffers_sent", buffersSentCount)
	bridgeMetrics.Set("bytes_sent", bytesSentCount)
	bridgeMetrics.Set("bytes_read", bytesReadCount)
	bridgeMetrics.Set("records_read", recordsReadCount)
}

// BridgeMetrics returns a map of exported bridge metrics for use with the
// expvar package. This map is shared among all bridges created by NewBridge.
// The caller is free to add or modify keys in the map, but should not delete
// the existing ones.
//
// The map is not published by default. To publish it, the caller should call
// expvar.Publish or similar.
func BridgeMetrics() *expvar.Map { return bridgeMetrics }

// A Conn is the stream connecting a bridge to its worker. If the concrete
// type also implements SetReadDeadline and SetDeadline with the signatures of
// net.Conn, the bridge uses them to enforce its timeout and to interrupt
// blocked reads when a context ends. Otherwise, ending a context closes the
// connection.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

type deadlineConn interface {
	SetDeadline(time.Time) error
	SetReadDeadline(time.Time) error
}

// State is the lifecycle state of a Bridge.
type State int32

// Bridge states. A bridge moves from Idle to Ready when it is connected, to
// Streaming when an operation first exchanges data, and to Draining when the
// worker reports that it has finished. Failed and Closed are terminal.
const (
	Idle State = iota
	Ready
	Streaming
	Draining
	Closed
	Failed
)

var stateName = [...]string{
	Idle: "Idle", Ready: "Ready", Streaming: "Streaming",
	Draining: "Draining", Closed: "Closed", Failed: "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateName) {
		return stateName[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// A Bridge exchanges records with an external worker process over a single
// connection, following the worker's requests.
//
// The operations of a Bridge must be called from a single goroutine: the
// bridge owns one scratch word and one pair of buffers that are reused by
// every operation. State, Session and Diagnostics may be called concurrently
// with an operation; to abandon an operation in progress, end its context.
// Any error reported by an operation after
// the bridge is connected is fatal: the bridge enters the Failed state, and
// every later operation reports the same error.
type Bridge struct {
	id      string
	resolve ContextFunc
	log     func(string, ...any)
	opts    *BridgeOptions
	m       *metrics.M
	diag    diagBuffer

	// The fields below are used only by the goroutine running an operation.
	word [frame.WordSize]byte
	task string
	rc   RuntimeContext
	send *Sender
	recv *Receiver

	mu    sync.Mutex // protects the fields below
	state State
	conn  Conn
	err   error
}

// NewBridge constructs a new, unconnected Bridge. The runtime context of the
// bridge is resolved by calling cf when the bridge is opened; cf may be nil if
// the bridge has no context.
func NewBridge(cf ContextFunc, opts *BridgeOptions) *Bridge {
	id := uuid.NewString()
	return &Bridge{
		id:      id,
		resolve: cf,
		log:     opts.logFunc(id),
		opts:    opts,
		m:       opts.metrics(),
	}
}

// Session returns the unique session identifier assigned to b.
func (b *Bridge) Session() string { return b.id }

// State reports the current lifecycle state of b.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Diagnostics returns a writer that accumulates diagnostic text from the
// worker, such as the output of its standard error. The text collected is
// attached to any failure reported by b. The writer is safe for concurrent
// use and remains valid after b is closed.
func (b *Bridge) Diagnostics() io.Writer { return &b.diag }

// Open resolves the runtime context of b, then waits for the worker to
// connect to lst and attaches the resulting connection. Open closes lst
// before returning, whether or not it succeeds. The wait is bounded by ctx
// and by the AcceptTimeout of the bridge options.
func (b *Bridge) Open(ctx context.Context, lst net.Listener) error {
	defer lst.Close()
	if err := b.checkIdle(); err != nil {
		return err
	}
	if err := b.resolveContext(); err != nil {
		return err
	}
	if d := b.opts.acceptTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d, errAcceptTimeout)
		defer cancel()
	}
	b.log("Waiting for worker on %v", lst.Addr())

	type result struct {
		conn net.Conn
		err  error
	}
	ready := make(chan result, 1)
	go func() {
		conn, err := lst.Accept()
		ready <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		lst.Close()
		if r := <-ready; r.conn != nil {
			r.conn.Close()
		}
		if context.Cause(ctx) == errAcceptTimeout {
			return b.fail(&Error{
				Code:    code.RemoteUnresponsive,
				Message: fmt.Sprintf("external process for task %q did not connect", b.task),
				Err:     errAcceptTimeout,
			})
		}
		return b.fail(&Error{
			Code:    code.Cancelled,
			Message: "waiting for external process was interrupted",
			Err:     context.Cause(ctx),
		})

	case r := <-ready:
		if r.err != nil {
			return b.fail(&Error{
				Code:    code.FromError(r.err),
				Message: "accepting connection from external process failed",
				Err:     r.err,
			})
		}
		b.log("Accepted connection from %v", r.conn.RemoteAddr())
		return b.attach(r.conn)
	}
}

var errAcceptTimeout = errors.New("accept timed out")

// Start resolves the runtime context of b and attaches conn, which must
// already be connected to the worker. The bridge takes ownership of conn:
// it is closed when the bridge is closed, or at once if Start fails.
func (b *Bridge) Start(conn Conn) error {
	if err := b.checkIdle(); err != nil {
		conn.Close()
		return err
	}
	if err := b.resolveContext(); err != nil {
		conn.Close()
		return err
	}
	return b.attach(conn)
}

// SendBroadcastVariables transfers the broadcast variables named by cfg to
// the worker, in order. The worker receives the number of variables, then
// for each variable its name followed by its values in one or more buffers,
// each sent in response to a request from the worker.
//
// All the variables are resolved from the runtime context before any data
// are sent. If one of them cannot be resolved, SendBroadcastVariables reports
// an error without failing the session.
func (b *Bridge) SendBroadcastVariables(ctx context.Context, cfg BroadcastConfig) error {
	done, err := b.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	vars := make([]source.Source[any], len(cfg.Names))
	for i, name := range cfg.Names {
		if b.rc == nil {
			return fmt.Errorf("broadcast variable %q: no runtime context", name)
		}
		src, err := b.rc.BroadcastVariable(name)
		if err != nil {
			return fmt.Errorf("broadcast variable %q: %w", name, err)
		}
		vars[i] = src
	}

	b.setState(Streaming)
	if _, err := b.pull(ctx); err != nil {
		return err
	}
	if err := b.sendRecord(ctx, len(cfg.Names)); err != nil {
		return err
	}
	for i, name := range cfg.Names {
		if _, err := b.pull(ctx); err != nil {
			return err
		}
		if err := b.sendRecord(ctx, name); err != nil {
			return err
		}
		for {
			if _, err := b.pull(ctx); err != nil {
				return err
			}
			last, err := b.sendBuffer(ctx, vars[i], 0)
			if err != nil {
				return err
			} else if last {
				break
			}
		}
		b.send.Reset()
		b.log("Sent broadcast variable %q", name)
	}
	return nil
}

// SendMessage sends a single text record to the worker in response to its
// next request. See CloseMessage and ComputeSplitsMessage for commands
// understood by workers.
func (b *Bridge) SendMessage(ctx context.Context, text string) error {
	done, err := b.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	b.setState(Streaming)
	if _, err := b.pull(ctx); err != nil {
		return err
	}
	if err := b.sendRecord(ctx, text); err != nil {
		return err
	}
	b.send.Reset()
	return nil
}

// StreamWithoutGroups serves buffers of records from it to the worker as
// the worker requests them, and delivers the records the worker sends back
// to c, until the worker reports that it has finished.
//
// If it has no records, StreamWithoutGroups returns nil at once without
// communicating with the worker.
func (b *Bridge) StreamWithoutGroups(ctx context.Context, it source.Source[any], c Collector) error {
	done, err := b.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if more, err := it.HasNext(ctx); err != nil {
		return b.sourceFailure(ctx, err)
	} else if !more {
		return nil
	}
	return b.stream(ctx, c, func(sig frame.Signal) error {
		if sig != frame.BufferRequest {
			return b.violation("external process sent %v in single-stream mode", sig)
		}
		return b.serve(ctx, it, 0)
	})
}

// StreamWithGroups is as StreamWithoutGroups, but serves two inputs to the
// worker: it0 as group 0 and it1 as group 1. The worker chooses which group
// to request at each step; the bridge imposes no order between groups.
//
// If neither input has records, StreamWithGroups returns nil at once
// without communicating with the worker.
func (b *Bridge) StreamWithGroups(ctx context.Context, it0, it1 source.Source[any], c Collector) error {
	done, err := b.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	inputs := [numGroups]source.Source[any]{it0, it1}
	empty := true
	for _, it := range inputs {
		more, err := it.HasNext(ctx)
		if err != nil {
			return b.sourceFailure(ctx, err)
		}
		empty = empty && !more
	}
	if empty {
		return nil
	}
	return b.stream(ctx, c, func(sig frame.Signal) error {
		if sig == frame.BufferRequest {
			return b.violation("external process sent %v in grouped mode", sig)
		}
		g := sig.Group()
		return b.serve(ctx, inputs[g], g)
	})
}

// Close releases the connection and buffers of b. It is safe to call Close
// more than once; only the first call has any effect, and it reports the
// error, if any, from closing the connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Closed {
		return nil
	}
	wasOpen := b.conn != nil
	b.state = Closed
	var err error
	if b.conn != nil {
		if cerr := b.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	if b.send != nil {
		b.send.Close()
	}
	if b.recv != nil {
		b.recv.Close()
	}
	if wasOpen {
		bridgesActiveGauge.Add(-1)
	}
	b.log("Bridge closed (err=%v)", err)
	return err
}

// stream runs the request loop shared by both streaming modes. Each buffer
// request is passed to onRequest; inbound payloads are delivered to c.
func (b *Bridge) stream(ctx context.Context, c Collector, onRequest func(frame.Signal) error) error {
	b.setState(Streaming)
	for {
		word, err := b.pull(ctx)
		if err != nil {
			return err
		}
		sig, size, err := frame.Classify(word)
		if err != nil {
			return b.violation("external process sent %v", err)
		}
		switch {
		case size > 0:
			if err := b.collect(ctx, c, size); err != nil {
				return err
			}
		case sig.IsRequest():
			b.m.Count("bridge.requests", 1)
			if err := onRequest(sig); err != nil {
				return err
			}
		case sig == frame.Finished:
			b.log("Worker finished")
			b.send.Reset()
			b.setState(Draining)
			return nil
		default:
			return b.violation("external process sent unexpected %v", sig)
		}
	}
}

// serve responds to a buffer request for group g, whose input is it.
func (b *Bridge) serve(ctx context.Context, it source.Source[any], g int) error {
	more, err := it.HasNext(ctx)
	if err != nil {
		return b.sourceFailure(ctx, err)
	} else if !more && !b.send.HasRemaining(g) {
		return b.violation("external process requested data even though none is available")
	}
	_, err = b.sendBuffer(ctx, it, g)
	return err
}

// sendBuffer fills and writes the next buffer of group g from it, and
// reports whether that was the last buffer of the group.
func (b *Bridge) sendBuffer(ctx context.Context, it source.Source[any], g int) (bool, error) {
	if _, err := b.send.SendBuffer(ctx, it, g); err != nil {
		return false, b.sourceFailure(ctx, err)
	}
	more, err := it.HasNext(ctx)
	if err != nil {
		return false, b.sourceFailure(ctx, err)
	}
	last := !more && !b.send.HasRemaining(g)
	return last, b.write(ctx, b.send.Bytes(), last)
}

// sendRecord writes a single record as a complete buffer.
func (b *Bridge) sendRecord(ctx context.Context, v any) error {
	if _, err := b.send.SendRecord(v); err != nil {
		return b.sourceFailure(ctx, err)
	}
	return b.write(ctx, b.send.Bytes(), true)
}

// collect reads an inbound payload of the given size, delivers its records
// to c, and acknowledges it.
func (b *Bridge) collect(ctx context.Context, c Collector, size int) error {
	if err := b.setReadDeadline(ctx); err != nil {
		return err
	}
	n, err := b.recv.CollectBuffer(b.conn, c, size)
	b.m.Count("bridge.records_received", int64(n))
	recordsReadCount.Add(int64(n))
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return b.fail(e)
		}
		return b.readFailure(ctx, err)
	}
	b.m.Count("bridge.frames_received", 1)
	b.m.Count("bridge.bytes_received", int64(size))
	bytesReadCount.Add(int64(size))

	if err := frame.WriteAck(b.conn); err != nil {
		return b.writeFailure(ctx, err)
	}
	return nil
}

// pull reads the next control word from the worker. If the worker reports an
// error, pull waits for the grace period and then fails the session.
func (b *Bridge) pull(ctx context.Context) (int32, error) {
	if err := b.setReadDeadline(ctx); err != nil {
		return 0, err
	}
	word, err := frame.ReadWord(b.conn, b.word[:])
	if err != nil {
		return 0, b.readFailure(ctx, err)
	}
	if word == int32(frame.Error) {
		return 0, b.remoteFailure(ctx)
	}
	return word, nil
}

func (b *Bridge) write(ctx context.Context, payload []byte, last bool) error {
	if err := ctx.Err(); err != nil {
		return b.interrupted(ctx)
	}
	if err := frame.WriteData(b.conn, payload, last); err != nil {
		return b.writeFailure(ctx, err)
	}
	n := int64(frame.HeaderSize + len(payload))
	b.m.Count("bridge.frames_sent", 1)
	b.m.Count("bridge.bytes_sent", n)
	b.m.SetMaxValue("bridge.frame_size", int64(len(payload)))
	buffersSentCount.Add(1)
	bytesSentCount.Add(n)
	return nil
}

// setReadDeadline arms the read timeout, if the connection supports one.
// The context is checked after the deadline is set, so that an interrupt
// arriving concurrently cannot be overwritten.
func (b *Bridge) setReadDeadline(ctx context.Context) error {
	if dc, ok := b.conn.(deadlineConn); ok {
		var deadline time.Time
		if d := b.opts.timeout(); d > 0 {
			deadline = time.Now().Add(d)
		}
		dc.SetReadDeadline(deadline)
	}
	if ctx.Err() != nil {
		return b.interrupted(ctx)
	}
	return nil
}

func (b *Bridge) remoteFailure(ctx context.Context) error {
	if d := b.opts.gracePeriod(); d > 0 {
		b.log("Worker reported an error; waiting %v for diagnostics", d)
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}
	return b.fail(&Error{
		Code:    code.RemoteFailure,
		Message: fmt.Sprintf("external process for task %q terminated prematurely due to an error", b.task),
	})
}

func (b *Bridge) readFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return b.interrupted(ctx)
	}
	if code.IsTimeout(err) {
		return b.fail(&Error{
			Code:    code.RemoteUnresponsive,
			Message: fmt.Sprintf("external process for task %q stopped responding", b.task),
			Err:     err,
		})
	}
	return b.fail(&Error{
		Code:    code.TransportError,
		Message: fmt.Sprintf("reading from external process for task %q failed", b.task),
		Err:     err,
	})
}

func (b *Bridge) writeFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return b.interrupted(ctx)
	}
	return b.fail(&Error{
		Code:    code.TransportError,
		Message: fmt.Sprintf("writing to external process for task %q failed", b.task),
		Err:     err,
	})
}

// sourceFailure reports a failure of an input or of the sender.
func (b *Bridge) sourceFailure(ctx context.Context, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return b.fail(e)
	} else if ctx.Err() != nil {
		return b.interrupted(ctx)
	}
	return b.fail(&Error{
		Code:    code.FromError(err),
		Message: fmt.Sprintf("reading input for task %q failed", b.task),
		Err:     err,
	})
}

func (b *Bridge) interrupted(ctx context.Context) error {
	return b.fail(&Error{
		Code:    code.Cancelled,
		Message: fmt.Sprintf("session for task %q was interrupted", b.task),
		Err:     context.Cause(ctx),
	})
}

func (b *Bridge) violation(msg string, args ...any) error {
	return b.fail(&Error{
		Code:    code.ProtocolViolation,
		Message: fmt.Sprintf(msg, args...),
	})
}

// fail records e as the terminal error of the session and returns it.
func (b *Bridge) fail(e *Error) error {
	if e.Task == "" {
		e.Task = b.task
	}
	if e.Diagnostic == "" {
		e.Diagnostic = b.diag.String()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Closed {
		b.state = Failed
	}
	if b.err == nil {
		b.err = e
	}
	b.m.Count("bridge.failures", 1)
	sessionsFailed.Add(1)
	b.log("Session failed: %v", e)
	return e
}

// begin checks that b can run an operation and arranges for the end of ctx
// to interrupt it. The caller must call done when the operation ends.
func (b *Bridge) begin(ctx context.Context) (done func(), _ error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Idle:
		return nil, ErrNotOpen
	case Closed:
		return nil, ErrClosed
	case Failed:
		return nil, b.err
	}
	conn := b.conn
	if dc, ok := conn.(deadlineConn); ok {
		dc.SetDeadline(time.Time{}) // clear any stale interrupt
	}
	stop := context.AfterFunc(ctx, func() {
		if dc, ok := conn.(deadlineConn); ok {
			if dc.SetDeadline(time.Now()) == nil {
				return
			}
		}
		conn.Close()
	})
	return func() { stop() }, nil
}

func (b *Bridge) checkIdle() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Idle:
		return nil
	case Closed:
		return ErrClosed
	case Failed:
		return b.err
	}
	return ErrAlreadyOpen
}

// resolveContext calls the context function of b, if it has one.
func (b *Bridge) resolveContext() error {
	if b.resolve == nil {
		return nil
	}
	rc, err := b.resolve()
	if err != nil {
		return b.fail(&Error{
			Code:    code.FromError(err),
			Message: "resolving runtime context failed",
			Err:     err,
		})
	}
	b.rc = rc
	if rc != nil {
		b.task = rc.TaskName()
	}
	return nil
}

func (b *Bridge) attach(conn Conn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Idle {
		conn.Close()
		if b.state == Closed {
			return ErrClosed
		}
		return ErrAlreadyOpen
	}
	size := b.opts.bufferSize()
	b.conn = conn
	b.send = NewSender(b.opts.codec(), size)
	b.recv = NewReceiver(b.opts.codec(), size)
	b.state = Ready
	bridgesActiveGauge.Add(1)
	b.log("Bridge ready for task %q (buffer size %d)", b.task, size)
	return nil
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Closed && b.state != Failed {
		b.state = s
	}
}

// maxDiagnostic bounds the diagnostic text retained by a bridge. When the
// bound is exceeded the oldest text is discarded.
const maxDiagnostic = 64 << 10

type diagBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (d *diagBuffer) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = append(d.buf, p...)
	if n := len(d.buf) - maxDiagnostic; n > 0 {
		d.buf = append(d.buf[:0], d.buf[n:]...)
	}
	return len(p), nil
}

func (d *diagBuffer) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.buf)
}
