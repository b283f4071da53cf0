/*
Package streamer implements the data plane between a stream-processing
operator and an external worker process that runs user logic.

# Bridges

A *Bridge owns one connection to a worker and moves records across it in
bounded buffers. The worker drives the exchange: it asks for a buffer of
input, sends back results, and eventually reports that it has finished or
that it failed. To create a bridge, provide a function that resolves the
runtime context of the owning task, and options:

	b := streamer.NewBridge(resolve, &streamer.BridgeOptions{
	   BufferSize: 32 << 10,
	   Timeout:    30 * time.Second,
	})
	defer b.Close()

The bridge is then attached to the worker, either by waiting for the worker
to connect to a listener:

	if err := b.Open(ctx, lst); err != nil {
	   log.Fatalf("Worker did not connect: %v", err)
	}

or by calling Start with a connection the caller has already established.

Once connected, the bridge can transfer broadcast variables and command
messages, and stream input. Records are pulled from a source.Source only
when the worker requests them, and every record the worker returns is passed
to a Collector:

	err := b.StreamWithoutGroups(ctx, input, streamer.CollectorFunc(func(v any) error {
	   fmt.Println(v)
	   return nil
	}))

StreamWithGroups does the same for two inputs at once, which the worker
requests separately by group. A session that fails is not retried: every
error reported by a connected bridge is an *Error whose Code classifies the
failure, and the bridge reports the same error for all later operations.

# Protocol

Every message from the worker begins with a 4-byte big-endian control word.
The words defined by package frame request a buffer (0 in single-stream mode,
-3 and -4 for groups 0 and 1), or report that the worker has finished (-1) or
failed (-2). A positive word is the length of a payload of result records
that follows it; the bridge answers each payload with a single zero byte.

Each buffer sent by the bridge has a 5-byte header, the payload length and a
flag byte that is 32 on the final buffer of a transfer and 0 otherwise. The
records in a payload are encoded with the codec.Codec of the bridge, by
default MessagePack. The worker side of the protocol is implemented by
package worker.
*/
package streamer
