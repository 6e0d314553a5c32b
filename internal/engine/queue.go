package engine

import (
	"sync"

	"quant_trader/internal/core"
)

// queue is the engine's FIFO event buffer. Producers push from any
// goroutine; only the dispatch goroutine pops. wake carries at most one
// pending token so a push during a drain is never lost.
type queue struct {
	mu    sync.Mutex
	head  int
	items []core.Event
	wake  chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

// push appends the event and returns the resulting depth.
func (q *queue) push(ev core.Event) int {
	q.mu.Lock()
	q.items = append(q.items, ev)
	depth := len(q.items) - q.head
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return depth
}

// pop removes the oldest event. The backing slice is reused once the queue
// empties, so memory stays bounded by the worst backlog.
func (q *queue) pop() (core.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return core.Event{}, false
	}
	ev := q.items[q.head]
	q.items[q.head] = core.Event{} // release payload pointers
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return ev, true
}

func (q *queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
