// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package testutil defines internal support code for writing tests.
package testutil

import (
	"context"
	"net"
	"testing"

	"github.com/creachadair/mds/mnet"
	"github.com/creachadair/streamer"
	"github.com/creachadair/streamer/worker"
	"golang.org/x/sync/errgroup"
)

// Pipe returns a bridge started on one end of an in-memory pipe, and a worker
// connected to the other end. Both are closed when t ends.
func Pipe(t *testing.T, cf streamer.ContextFunc, bopts *streamer.BridgeOptions, wopts *worker.Options) (*streamer.Bridge, *worker.Conn) {
	t.Helper()

	bc, wc := net.Pipe()
	b := streamer.NewBridge(cf, bopts)
	if err := b.Start(bc); err != nil {
		t.Fatalf("Start bridge: %v", err)
	}
	w := worker.New(wc, wopts)
	t.Cleanup(func() { w.Close(); b.Close() })
	return b, w
}

// Network returns a listener on a fresh in-memory network, and a function
// that dials a worker connection to it.
func Network(t *testing.T, wopts *worker.Options) (net.Listener, func(context.Context) (*worker.Conn, error)) {
	t.Helper()

	n := mnet.New(t.Name() + " network")
	lst := n.MustListen("tcp", "bridge:1234")
	dial := func(ctx context.Context) (*worker.Conn, error) {
		conn, err := n.DialContext(ctx, "tcp", lst.Addr().String())
		if err != nil {
			return nil, err
		}
		return worker.New(conn, wopts), nil
	}
	return lst, dial
}

// Run calls op on the bridge side and fn on the worker side concurrently,
// and reports their errors once both have returned.
func Run(ctx context.Context, op func(context.Context) error, fn func() error) (berr, werr error) {
	var g errgroup.Group
	g.Go(func() error { werr = fn(); return nil })
	berr = op(ctx)
	g.Wait()
	return berr, werr
}
