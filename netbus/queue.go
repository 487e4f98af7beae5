package netbus

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Pop variants after Close.
var ErrQueueClosed = errors.New("netbus: queue closed")

// Queue is a bounded FIFO. When full, the oldest entry is evicted to admit
// the newest: a consumer that falls behind sees the freshest traffic rather
// than a stalled backlog. Writes come only from bus dispatch, reads only
// from the owning consumer.
type Queue[T any] struct {
	mu      sync.Mutex
	buf     []T
	cap     int
	closed  bool
	evicted int64

	// notify is a single-slot wake signal. Multiple pushes may coalesce
	// into one wake; Pop always re-checks the buffer.
	notify chan struct{}
}

// NewQueue creates a queue with the given capacity (minimum 1).
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		buf:    make([]T, 0, capacity),
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// Push appends v, evicting the oldest entry when the queue is full. Returns
// true when an eviction happened. Pushing to a closed queue is a no-op.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	evicted := false
	if len(q.buf) >= q.cap {
		copy(q.buf, q.buf[1:])
		q.buf = q.buf[:len(q.buf)-1]
		q.evicted++
		evicted = true
	}
	q.buf = append(q.buf, v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

// TryPop removes and returns the oldest entry without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.buf) == 0 {
		return zero, false
	}
	v := q.buf[0]
	q.buf = q.buf[1:]
	return v, true
}

// Pop blocks until an entry is available, the queue is closed, or ctx is
// done. After Close, remaining entries are still drained before
// ErrQueueClosed is returned.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			v := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// PopTimeout is Pop with a deadline. On timeout it returns false with a nil
// error so callers can treat it as "nothing arrived" rather than a failure.
func (q *Queue[T]) PopTimeout(ctx context.Context, d time.Duration) (T, bool, error) {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	v, err := q.Pop(tctx)
	if err != nil {
		var zero T
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, false, nil
		}
		return zero, false, err
	}
	return v, true, nil
}

// Len returns the current number of buffered entries.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Evicted returns how many entries were dropped to admit newer ones.
func (q *Queue[T]) Evicted() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

// Close marks the queue closed and wakes any blocked Pop. Idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
