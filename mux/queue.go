package mux

import (
	"context"
	"errors"
	"sync"

	"github.com/creachadair/mds/queue"
)

// ErrQueueClosed is reported by Put and PutContext on a Queue that has been
// closed.
var ErrQueueClosed = errors.New("queue is closed")

// A Queue is an in-memory Channel of serialized records. Producers add
// records with Put and end the channel with Close or Fail; a Stream consumes
// them via TryRecv, which decodes each record into the carrier provided.
//
// A bounded Queue holds at most a fixed number of records; PutContext blocks
// while it is full.
//
// The methods of a Queue are safe for concurrent use by multiple goroutines.
type Queue[T any] struct {
	decode func([]byte, T) error
	limit  int           // maximum buffered records; 0 means unbounded
	ready  chan struct{} // signalled when a record or the end is available
	space  chan struct{} // signalled when a record is removed
	done   chan struct{} // closed when the queue ends

	mu     sync.Mutex
	buf    *queue.Queue[[]byte]
	closed bool
	err    error
}

// NewQueue constructs an empty open unbounded Queue that uses decode to fill
// carriers from serialized records. NewQueue will panic if decode == nil.
func NewQueue[T any](decode func([]byte, T) error) *Queue[T] {
	return NewBoundedQueue(decode, 0)
}

// NewBoundedQueue constructs an empty open Queue that buffers at most limit
// records. If limit <= 0 the queue is unbounded.
// NewBoundedQueue will panic if decode == nil.
func NewBoundedQueue[T any](decode func([]byte, T) error, limit int) *Queue[T] {
	if decode == nil {
		panic("mux: nil decoder")
	}
	return &Queue[T]{
		decode: decode,
		limit:  max(limit, 0),
		ready:  make(chan struct{}, 1),
		space:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		buf:    queue.New[[]byte](),
	}
}

// Put adds a serialized record to the end of q. The Queue takes ownership of
// rec. It reports ErrQueueClosed if q has been closed or failed.
// Put does not respect the limit of a bounded queue; use PutContext.
func (q *Queue[T]) Put(rec []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.buf.Add(rec)
	q.signal()
	return nil
}

// PutContext adds a serialized record to the end of q, blocking while q is at
// its limit until a record is removed, q ends, or ctx ends. It reports
// ErrQueueClosed if q has been closed or failed, or the error from ctx if ctx
// ends first.
func (q *Queue[T]) PutContext(ctx context.Context, rec []byte) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		} else if q.limit == 0 || q.buf.Len() < q.limit {
			q.buf.Add(rec)
			q.signal()
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.space:
		case <-q.done:
		}
	}
}

// Close marks q as complete. Records already added remain available, after
// which q reports Exhausted. Close is idempotent.
func (q *Queue[T]) Close() { q.end(nil) }

// Fail marks q as complete with an error. Records already added remain
// available, after which TryRecv reports err.
func (q *Queue[T]) Fail(err error) { q.end(err) }

func (q *Queue[T]) end(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.err = err
		close(q.done)
		q.signal()
	}
}

// Len reports the number of records buffered in q.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Len()
}

// TryRecv implements part of the Channel interface.
func (q *Queue[T]) TryRecv(rec T) (Status, error) {
	q.mu.Lock()
	next, ok := q.buf.Pop()
	closed, err := q.closed, q.err
	q.mu.Unlock()

	if ok {
		select {
		case q.space <- struct{}{}:
		default:
		}
		if err := q.decode(next, rec); err != nil {
			return Exhausted, err
		}
		return Received, nil
	} else if err != nil {
		return Exhausted, err
	} else if closed {
		return Exhausted, nil
	}
	return Empty, nil
}

// Ready implements part of the Channel interface.
func (q *Queue[T]) Ready() <-chan struct{} { return q.ready }

// signal posts a readiness notification if one is not already pending.
// The caller must hold q.mu.
func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
