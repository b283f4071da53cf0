// Program streamworker is a reference worker for the streambridge program.
//
// Usage:
//
//	streamworker [options] <port>
//
// It connects to a bridge listening on the given port of the loopback
// interface, transforms the records it is sent, and returns the results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creachadair/streamer/frame"
	"github.com/creachadair/streamer/worker"
)

var (
	mode          = flag.String("mode", "echo", "Transformation: echo, upper, or count")
	doGroup       = flag.Bool("group", false, "Process two groups of input")
	doBroadcast   = flag.Bool("broadcast", false, "Receive broadcast variables before processing")
	dialTimeout   = flag.Duration("dial", 5*time.Second, "Timeout on dialing the bridge (0 for no timeout)")
	bufferSize    = flag.Int("buffer", 0, "Largest payload to emit (0 for the default)")
	withLogging   = flag.Bool("v", false, "Enable verbose logging")
	failAfter     = flag.Int("fail-after", 0, "Report a failure after this many records (0 to never fail)")
	stopwordsFrom = flag.String("stopwords", "", "Drop records equal to a value of this broadcast variable")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: %s [options] <port>

Connect to a bridge on the given port of the loopback interface, and process
the records it sends. The transformations are:

  echo  -- return each record unchanged
  upper -- return each record converted to upper case
  count -- return the number of records (one count per group with -group)

Options:
`, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("You must specify the port of the bridge")
	}
	fn, ok := transforms[*mode]
	if !ok {
		log.Fatalf("Unknown mode %q", *mode)
	}

	ctx := context.Background()
	if *dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *dialTimeout)
		defer cancel()
	}
	opts := &worker.Options{BufferSize: *bufferSize}
	if *withLogging {
		opts.LogWriter = os.Stderr
	}
	addr := net.JoinHostPort("127.0.0.1", flag.Arg(0))
	w, err := worker.Dial(ctx, "tcp", addr, opts)
	if err != nil {
		log.Fatalf("Dial %q: %v", addr, err)
	}
	defer w.Close()

	drop := make(map[string]bool)
	if *doBroadcast {
		vars, err := w.ReceiveBroadcast()
		if err != nil {
			log.Fatalf("Receiving broadcast variables: %v", err)
		}
		for _, v := range vars {
			log.Printf("Broadcast variable %q: %d values", v.Name, len(v.Values))
			if v.Name == *stopwordsFrom {
				for _, s := range v.Values {
					drop[fmt.Sprint(s)] = true
				}
			}
		}
	}

	var seen int
	apply := func(v any) ([]any, error) {
		seen++
		if *failAfter > 0 && seen > *failAfter {
			fmt.Fprintf(os.Stderr, "streamworker: giving up after %d records\n", *failAfter)
			return nil, fmt.Errorf("failed at record %d", seen)
		}
		if drop[fmt.Sprint(v)] {
			return nil, nil
		}
		return fn(v), nil
	}

	if *mode == "count" {
		err = count(w, apply)
	} else if *doGroup {
		err = w.CoGroup(func(g0, g1 []any) ([]any, error) {
			var out []any
			for _, v := range append(g0, g1...) {
				vs, err := apply(v)
				if err != nil {
					return nil, err
				}
				out = append(out, vs...)
			}
			return out, nil
		})
	} else {
		err = w.Process(apply)
	}
	if err != nil {
		log.Fatalf("Processing failed: %v", err)
	}
}

var transforms = map[string]func(any) []any{
	"echo":  func(v any) []any { return []any{v} },
	"upper": func(v any) []any { return []any{strings.ToUpper(fmt.Sprint(v))} },
	"count": func(v any) []any { return []any{v} },
}

// count reads all the input, and emits the number of records kept from each
// group.
func count(w *worker.Conn, apply func(any) ([]any, error)) error {
	sigs := []frame.Signal{frame.BufferRequest}
	if *doGroup {
		sigs = []frame.Signal{frame.BufferRequestGroup0, frame.BufferRequestGroup1}
	}
	var counts []any
	for _, sig := range sigs {
		recs, err := w.RequestAll(sig)
		if err != nil {
			return err
		}
		var n int
		for _, rec := range recs {
			vs, err := apply(rec)
			if err != nil {
				return errors.Join(err, w.Fail())
			}
			n += len(vs)
		}
		counts = append(counts, n)
	}
	if err := w.Emit(counts...); err != nil {
		return err
	}
	return w.Finish()
}
