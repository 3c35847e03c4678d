package main

import (
	"sync"

	"sonderx/telemetry"
)

// resultQueue is the thread-safe FIFO carrying detection batches from the
// scanner goroutine to the control loop. It is deliberately unbounded: the
// control loop drains at most one batch per tick, and a scanner that outruns
// it grows the queue rather than blocking or dropping. Accepted limitation.
type resultQueue struct {
	mu      sync.Mutex
	batches [][]telemetry.Detection
}

func newResultQueue() *resultQueue {
	return &resultQueue{}
}

// Push appends one detection batch.
func (q *resultQueue) Push(batch []telemetry.Detection) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	q.batches = append(q.batches, batch)
	q.mu.Unlock()
}

// Pop removes and returns the oldest batch, non-blocking.
func (q *resultQueue) Pop() ([]telemetry.Detection, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.batches) == 0 {
		return nil, false
	}
	batch := q.batches[0]
	q.batches = q.batches[1:]
	return batch, true
}

// Len returns the number of queued batches.
func (q *resultQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.batches)
}
