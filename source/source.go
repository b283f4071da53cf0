// Package source defines the pull-based record source shared by the channel
// multiplexer and the bridge.
package source

import (
	"context"
	"io"
)

// A Source is a pull-based sequence of records with one-record lookahead.
//
// HasNext reports whether a further record is available, blocking if
// necessary until that can be determined. Calling HasNext repeatedly without
// an intervening call to Next must not consume more than one record.
//
// Next returns the next record. If no further records are available it
// returns io.EOF. Once HasNext has reported false, or Next has reported an
// error, the Source is exhausted and all further calls report the same.
type Source[T any] interface {
	HasNext(ctx context.Context) (bool, error)
	Next(ctx context.Context) (T, error)
}

// Slice returns a Source that yields the given values in order.
func Slice[T any](vs ...T) *SliceSource[T] { return &SliceSource[T]{vs: vs} }

// SliceSource is a Source over a slice of values. It is not safe for
// concurrent use.
type SliceSource[T any] struct {
	vs []T
}

// HasNext implements part of the Source interface. It never blocks.
func (s *SliceSource[T]) HasNext(context.Context) (bool, error) { return len(s.vs) != 0, nil }

// Next implements part of the Source interface.
func (s *SliceSource[T]) Next(context.Context) (T, error) {
	if len(s.vs) == 0 {
		var zero T
		return zero, io.EOF
	}
	next := s.vs[0]
	s.vs = s.vs[1:]
	return next, nil
}

// Len reports the number of values remaining in s.
func (s *SliceSource[T]) Len() int { return len(s.vs) }

// Any adapts a Source of concrete values to a Source of empty interfaces.
func Any[T any](src Source[T]) Source[any] {
	if s, ok := any(src).(Source[any]); ok {
		return s
	}
	return anySource[T]{src}
}

type anySource[T any] struct{ src Source[T] }

func (a anySource[T]) HasNext(ctx context.Context) (bool, error) { return a.src.HasNext(ctx) }

func (a anySource[T]) Next(ctx context.Context) (any, error) {
	v, err := a.src.Next(ctx)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Drain reads all the remaining values from src in order.
func Drain[T any](ctx context.Context, src Source[T]) ([]T, error) {
	var out []T
	for {
		ok, err := src.HasNext(ctx)
		if err != nil {
			return out, err
		} else if !ok {
			return out, nil
		}
		v, err := src.Next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}
