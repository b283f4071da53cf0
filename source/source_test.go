package source_test

import (
	"context"
	"io"
	"testing"

	"github.com/creachadair/streamer/source"
	"github.com/google/go-cmp/cmp"
)

func TestSlice(t *testing.T) {
	ctx := context.Background()
	s := source.Slice("a", "b", "c")

	// Repeated lookahead does not consume values.
	for i := 0; i < 3; i++ {
		if ok, err := s.HasNext(ctx); !ok || err != nil {
			t.Fatalf("HasNext: got (%v, %v), want (true, nil)", ok, err)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Len: got %d, want 3", s.Len())
	}

	got, err := source.Drain[string](ctx, s)
	if err != nil {
		t.Fatalf("Drain: unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("Drain: (-want, +got)\n%s", diff)
	}
	if ok, _ := s.HasNext(ctx); ok {
		t.Error("HasNext after drain: got true, want false")
	}
	if v, err := s.Next(ctx); err != io.EOF {
		t.Errorf("Next after drain: got (%q, %v), want io.EOF", v, err)
	}
}

func TestAny(t *testing.T) {
	ctx := context.Background()
	got, err := source.Drain(ctx, source.Any[int](source.Slice(1, 2, 3)))
	if err != nil {
		t.Fatalf("Drain: unexpected error: %v", err)
	}
	if diff := cmp.Diff([]any{1, 2, 3}, got); diff != "" {
		t.Errorf("Drain: (-want, +got)\n%s", diff)
	}

	// An already-untyped source is returned as-is.
	src := source.Slice[any]("x")
	if a := source.Any[any](src); a != source.Source[any](src) {
		t.Errorf("Any(Source[any]): got %T, want the input", a)
	}
}
