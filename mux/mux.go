// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package mux merges several independently-paced record channels into a
// single pull-based stream with one record of lookahead.
//
// A Stream is used on the input side of an operator with several upstream
// partitions: each partition is a Channel, and the operator consumes the
// union of their records through the HasNext and Next methods. The order of
// records within one channel is preserved; no order is defined between
// records of different channels.
package mux

import (
	"context"
	"fmt"
	"io"
	"log"
	"reflect"

	"github.com/creachadair/streamer/metrics"
)

// Status reports the outcome of a non-blocking poll of a Channel.
type Status int

const (
	Received  Status = iota // a record was stored in the carrier
	Empty                   // no record is available at present
	Exhausted               // the channel will deliver no further records
)

func (s Status) String() string {
	switch s {
	case Received:
		return "Received"
	case Empty:
		return "Empty"
	case Exhausted:
		return "Exhausted"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// A Channel is one partitioned source of records feeding a Stream.
type Channel[T any] interface {
	// TryRecv attempts, without blocking, to fill rec with the next record
	// of the channel. The contents of rec are unspecified unless the result
	// is Received. A non-nil error is fatal to the Stream.
	TryRecv(rec T) (Status, error)

	// Ready returns a channel that receives a value whenever the Channel may
	// have become able to deliver a record or to report exhaustion. A Stream
	// waits on Ready only after TryRecv has reported Empty, so a notification
	// sent before the poll must not be lost.
	Ready() <-chan struct{}
}

// ReadError is the concrete type of errors reported by a Stream when one of
// its channels fails.
type ReadError struct {
	Channel int   // the index of the channel that failed
	Err     error // the error reported by the channel
}

func (e *ReadError) Error() string { return fmt.Sprintf("channel %d: %v", e.Channel, e.Err) }

// Unwrap supports error wrapping.
func (e *ReadError) Unwrap() error { return e.Err }

// Options control the behaviour of a Stream created by New.
// A nil *Options provides sensible defaults.
type Options struct {
	// If not nil, send debug logs to this writer.
	LogWriter io.Writer

	// If not nil, record counts of records delivered and waits here.
	Metrics *metrics.M
}

func (o *Options) logFunc() func(string, ...any) {
	if o == nil || o.LogWriter == nil {
		return func(string, ...any) {}
	}
	logger := log.New(o.LogWriter, "[mux.Stream] ", log.LstdFlags|log.Lshortfile)
	return func(msg string, args ...any) { logger.Output(2, fmt.Sprintf(msg, args...)) }
}

func (o *Options) metrics() *metrics.M {
	if o == nil {
		return nil
	}
	return o.Metrics
}

// A Stream presents the union of a fixed set of channels as a single stream.
// A Stream is not safe for concurrent use by multiple goroutines.
type Stream[T any] struct {
	chs       []Channel[T]
	newRecord func() T
	log       func(string, ...any)
	m         *metrics.M

	live  []bool // live[i] is false once chs[i] is exhausted
	nlive int    // the number of true entries in live
	next  int    // the index of the channel to poll first

	slot T     // the lookahead record, valid when full is true
	full bool  // whether slot holds a record
	err  error // a fatal error from a previous pull
}

// New constructs a Stream over the given channels. The newRecord function is
// called to obtain a fresh carrier each time the stream pulls a record from
// its channels. The Stream retains chs, which the caller must not modify.
//
// New will panic if len(chs) == 0 or newRecord == nil.
func New[T any](chs []Channel[T], newRecord func() T, opts *Options) *Stream[T] {
	if len(chs) == 0 {
		panic("mux: no channels")
	} else if newRecord == nil {
		panic("mux: nil record constructor")
	}
	live := make([]bool, len(chs))
	for i := range live {
		live[i] = true
	}
	return &Stream[T]{
		chs:       chs,
		newRecord: newRecord,
		log:       opts.logFunc(),
		m:         opts.metrics(),
		live:      live,
		nlive:     len(chs),
	}
}

// HasNext reports whether another record is available, blocking until one
// arrives, all the channels are exhausted, or ctx ends. Once HasNext has
// reported false it will always do so. If a channel fails, or ctx ends while
// HasNext is waiting, the error is returned, and the stream reports the same
// error from all subsequent calls.
func (s *Stream[T]) HasNext(ctx context.Context) (bool, error) { return s.fill(ctx) }

// Next returns the next record, blocking as HasNext does if the lookahead is
// empty. If no further records are available, Next returns io.EOF.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	ok, err := s.fill(ctx)
	if err != nil {
		return zero, err
	} else if !ok {
		return zero, io.EOF
	}
	rec := s.slot
	s.slot, s.full = zero, false
	return rec, nil
}

// Live reports the number of channels that have not yet been exhausted.
func (s *Stream[T]) Live() int { return s.nlive }

// fill populates the lookahead slot if it is empty, and reports whether the
// slot is full.
func (s *Stream[T]) fill(ctx context.Context) (bool, error) {
	if s.full {
		return true, nil
	} else if s.err != nil {
		return false, s.err
	} else if s.nlive == 0 {
		return false, nil
	}

	for {
		rec, ok, err := s.poll()
		if err != nil {
			s.log("Stream failed: %v", err)
			s.err = err
			return false, err
		} else if ok {
			s.slot, s.full = rec, true
			s.m.Count("mux.records", 1)
			return true, nil
		} else if s.nlive == 0 {
			s.log("All %d channels exhausted", len(s.chs))
			s.m.Count("mux.exhausted", 1)
			return false, nil
		}

		s.m.Count("mux.waits", 1)
		if err := s.wait(ctx); err != nil {
			s.log("Wait interrupted: %v", err)
			s.err = err
			return false, err
		}
	}
}

// poll makes one round-robin pass over the live channels, beginning after the
// channel that most recently delivered a record. Each attempt gets a fresh
// carrier, so nothing a channel leaves in a carrier without delivering a
// record can reach the consumer. It reports the record, if one was received.
func (s *Stream[T]) poll() (T, bool, error) {
	var zero T
	n := len(s.chs)
	for i := 0; i < n; i++ {
		k := (s.next + i) % n
		if !s.live[k] {
			continue
		}
		rec := s.newRecord()
		st, err := s.chs[k].TryRecv(rec)
		if err != nil {
			return zero, false, &ReadError{Channel: k, Err: err}
		}
		switch st {
		case Received:
			s.next = (k + 1) % n
			return rec, true, nil
		case Exhausted:
			s.live[k] = false
			s.nlive--
			s.log("Channel %d exhausted (%d live)", k, s.nlive)
		}
	}
	return zero, false, nil
}

// wait blocks until some live channel signals readiness or ctx ends.
func (s *Stream[T]) wait(ctx context.Context) error {
	cases := make([]reflect.SelectCase, 0, s.nlive+1)
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})
	for i, ch := range s.chs {
		if s.live[i] {
			cases = append(cases, reflect.SelectCase{
				Dir:  reflect.SelectRecv,
				Chan: reflect.ValueOf(ch.Ready()),
			})
		}
	}
	if chosen, _, _ := reflect.Select(cases); chosen == 0 {
		return ctx.Err()
	}
	return nil
}
