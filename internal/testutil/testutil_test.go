// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package testutil_test

import (
	"context"
	"testing"

	"github.com/creachadair/streamer"
	"github.com/creachadair/streamer/internal/testutil"
	"github.com/fortytw2/leaktest"
)

func TestNetwork(t *testing.T) {
	defer leaktest.Check(t)()

	lst, dial := testutil.Network(t, nil)
	b := streamer.NewBridge(nil, nil)
	defer b.Close()

	berr, werr := testutil.Run(context.Background(), func(ctx context.Context) error {
		return b.Open(ctx, lst)
	}, func() error {
		w, err := dial(context.Background())
		if err != nil {
			return err
		}
		return w.Close()
	})
	if berr != nil {
		t.Errorf("Open: unexpected error: %v", berr)
	}
	if werr != nil {
		t.Errorf("Dial: unexpected error: %v", werr)
	}
	if got := b.State(); got != streamer.Ready {
		t.Errorf("State: got %v, want %v", got, streamer.Ready)
	}
}

func TestPipe(t *testing.T) {
	b, w := testutil.Pipe(t, nil, nil, nil)
	if b == nil || w == nil {
		t.Fatal("Pipe returned a nil endpoint")
	}
	if got := b.State(); got != streamer.Ready {
		t.Errorf("State: got %v, want %v", got, streamer.Ready)
	}
}
