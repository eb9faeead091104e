package taskengine

import (
	"container/heap"
	"sync"
	"time"
)

// queue is the in-memory priority queue workers pull from. Lower priority
// values dequeue first; ties break by enqueue time so equal-priority tasks
// stay roughly FIFO.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  descriptorHeap
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a descriptor. Pushing to a closed queue is a no-op.
func (q *queue) Push(d *descriptor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	heap.Push(&q.items, d)
	q.cond.Signal()
}

// Pop dequeues the next descriptor, blocking up to timeout. Returns nil on
// timeout or when the queue is closed, so worker shutdown stays responsive.
func (q *queue) Pop(timeout time.Duration) *descriptor {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}

		// sync.Cond has no timed wait; wake the waiter when the deadline
		// passes so the loop can re-check.
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		q.cond.Wait()
		timer.Stop()
	}

	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*descriptor)
}

// Close wakes all blocked workers and rejects further pushes.
func (q *queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of queued descriptors.
func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type descriptorHeap []*descriptor

func (h descriptorHeap) Len() int { return len(h) }

func (h descriptorHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}

func (h descriptorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *descriptorHeap) Push(x interface{}) {
	*h = append(*h, x.(*descriptor))
}

func (h *descriptorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return d
}
