package streamer

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/creachadair/streamer/codec"
	"github.com/creachadair/streamer/metrics"
)

const logFlags = log.LstdFlags | log.Lshortfile

// Default settings used when BridgeOptions does not override them.
const (
	DefaultBufferSize  = 64 << 10
	DefaultGracePeriod = 2 * time.Second
)

// BridgeOptions control the behaviour of a bridge created by NewBridge.
// A nil *BridgeOptions provides sensible defaults.
type BridgeOptions struct {
	// If not nil, send debug logs to this writer.
	LogWriter io.Writer

	// The codec used to encode outbound records and decode inbound ones.
	// If nil, codec.Msgpack is used.
	Codec codec.Codec

	// The capacity in bytes of the transmit and receive buffers. An outbound
	// data frame never exceeds this size, and an inbound payload larger than
	// this is a protocol violation. A value less than 1 uses DefaultBufferSize.
	BufferSize int

	// If positive, the longest the bridge will wait for any single read from
	// the worker before reporting that it stopped responding. Zero means no
	// limit. This requires a connection that supports read deadlines.
	Timeout time.Duration

	// If positive, the longest Open will wait for the worker to connect.
	AcceptTimeout time.Duration

	// How long to wait after the worker reports an error before failing the
	// session, so that its diagnostic output can arrive. A zero value uses
	// DefaultGracePeriod; a negative value disables the wait.
	GracePeriod time.Duration

	// If not nil, session statistics are recorded here.
	Metrics *metrics.M
}

func (o *BridgeOptions) logFunc(session string) func(string, ...any) {
	if o == nil || o.LogWriter == nil {
		return func(string, ...any) {}
	}
	prefix := fmt.Sprintf("[streamer.Bridge %s] ", session)
	logger := log.New(o.LogWriter, prefix, logFlags)
	return func(msg string, args ...any) { logger.Output(2, fmt.Sprintf(msg, args...)) }
}

func (o *BridgeOptions) codec() codec.Codec {
	if o == nil || o.Codec == nil {
		return codec.Msgpack
	}
	return o.Codec
}

func (o *BridgeOptions) bufferSize() int {
	if o == nil || o.BufferSize < 1 {
		return DefaultBufferSize
	}
	return o.BufferSize
}

func (o *BridgeOptions) timeout() time.Duration {
	if o == nil || o.Timeout < 0 {
		return 0
	}
	return o.Timeout
}

func (o *BridgeOptions) acceptTimeout() time.Duration {
	if o == nil || o.AcceptTimeout < 0 {
		return 0
	}
	return o.AcceptTimeout
}

func (o *BridgeOptions) gracePeriod() time.Duration {
	if o == nil || o.GracePeriod == 0 {
		return DefaultGracePeriod
	} else if o.GracePeriod < 0 {
		return 0
	}
	return o.GracePeriod
}

func (o *BridgeOptions) metrics() *metrics.M {
	if o == nil {
		return nil
	}
	return o.Metrics
}
