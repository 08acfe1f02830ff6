package sensor

import (
	"errors"
	"sync"

	"github.com/banshee-data/canfd.gateway/internal/canfd"
)

// DefaultQueueCapacity is the per-sensor queue size used when none is given.
const DefaultQueueCapacity = 1000

// ErrQueueClosed is returned by Push once the queue's sensor is detached.
var ErrQueueClosed = errors.New("sensor: queue closed")

// Queue is a bounded frame queue with a drop-oldest overflow policy. The read
// end is a plain channel so consumers can select on it. Push never blocks:
// when the queue is full the longest-resident frame is evicted first.
type Queue struct {
	mu     sync.Mutex
	ch     chan canfd.Frame
	closed bool
}

// NewQueue creates a queue holding at most capacity frames. Capacities below
// one are raised to one.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan canfd.Frame, capacity)}
}

// Push appends f, evicting the oldest queued frame if the queue is full.
// It reports whether a frame was evicted.
func (q *Queue) Push(f canfd.Frame) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrQueueClosed
	}

	select {
	case q.ch <- f:
		return false, nil
	default:
	}

	evicted := false
	select {
	case <-q.ch:
		evicted = true
	default:
		// a consumer drained a slot between the two selects
	}
	// Only Push adds to ch and it holds mu, so a slot is free here.
	q.ch <- f
	return evicted, nil
}

// C returns the consumer-facing read end. It is closed once the queue is
// closed and drained.
func (q *Queue) C() <-chan canfd.Frame {
	return q.ch
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close stops further pushes and closes the read end. Frames already queued
// can still be received. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
