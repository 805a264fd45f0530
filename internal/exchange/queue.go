package exchange

import (
	"sync"

	"livetrader-go/internal/signal"
)

// TickQueue is a bounded FIFO that favors freshness: pushing into a full
// queue evicts the oldest tick instead of blocking the producer. Safe for
// one producer and one consumer on different goroutines.
type TickQueue struct {
	mu      sync.Mutex
	buf     []signal.Tick
	head    int
	size    int
	evicted uint64
}

// NewTickQueue creates a queue holding at most capacity ticks.
func NewTickQueue(capacity int) *TickQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &TickQueue{buf: make([]signal.Tick, capacity)}
}

// Push appends a tick, evicting the oldest one when full. It reports whether
// an eviction happened.
func (q *TickQueue) Push(t signal.Tick) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evict := q.size == len(q.buf)
	if evict {
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.evicted++
	}
	q.buf[(q.head+q.size)%len(q.buf)] = t
	q.size++
	return evict
}

// Pop removes and returns the oldest tick. The second return is false when
// the queue is empty, which does not imply disconnection.
func (q *TickQueue) Pop() (signal.Tick, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return signal.Tick{}, false
	}
	t := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return t, true
}

// Len returns the number of buffered ticks.
func (q *TickQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Evicted returns the number of ticks dropped to admit newer ones.
func (q *TickQueue) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}
