package service

import (
	"container/heap"
	"sync"
	"time"

	"github.com/trackparse/api/internal/assets"
)

// waitItem is one job waiting for admission.
type waitItem struct {
	jobID       string
	audioHandle assets.Handle
	priority    int
	submittedAt time.Time
	enqueuedAt  time.Time
	deadline    time.Time
	seq         uint64
}

// waitQueue orders pending jobs by priority first, submission time second
// (FIFO tie-break). It is bounded; Reserve claims a slot before the job
// record exists so the bound is never overrun.
type waitQueue struct {
	mu       sync.Mutex
	items    waitHeap
	reserved int
	capacity int
	seq      uint64
}

func newWaitQueue(capacity int) *waitQueue {
	return &waitQueue{capacity: capacity}
}

// Reserve claims one queue slot ahead of job creation. Callers must either
// Push or Unreserve afterwards.
func (q *waitQueue) Reserve() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items)+q.reserved >= q.capacity {
		return false
	}
	q.reserved++
	return true
}

func (q *waitQueue) Unreserve() {
	q.mu.Lock()
	if q.reserved > 0 {
		q.reserved--
	}
	q.mu.Unlock()
}

// Push converts a reservation into a queued item.
func (q *waitQueue) Push(item *waitItem) {
	q.mu.Lock()
	if q.reserved > 0 {
		q.reserved--
	}
	q.seq++
	item.seq = q.seq
	item.enqueuedAt = time.Now()
	heap.Push(&q.items, item)
	q.mu.Unlock()
}

// Pop removes the highest-priority item, or nil when empty.
func (q *waitQueue) Pop() *waitItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*waitItem)
}

// Requeue returns an item that could not be admitted to the head of its
// priority class.
func (q *waitQueue) Requeue(item *waitItem) {
	q.mu.Lock()
	heap.Push(&q.items, item)
	q.mu.Unlock()
}

func (q *waitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type waitHeap []*waitItem

func (h waitHeap) Len() int { return len(h) }

func (h waitHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	if !h[i].submittedAt.Equal(h[j].submittedAt) {
		return h[i].submittedAt.Before(h[j].submittedAt)
	}
	return h[i].seq < h[j].seq
}

func (h waitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *waitHeap) Push(x any) { *h = append(*h, x.(*waitItem)) }

func (h *waitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
