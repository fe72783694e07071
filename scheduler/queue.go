package scheduler

import (
	"context"
	"sync"
)

// dispatch is one unit of work handed from the tick loop to the worker
// pool: the job snapshot taken at dispatch time plus the execution row
// already created for it.
type dispatch struct {
	Job         *Job
	ExecutionID string
	TriggeredBy string
}

// dispatchQueue is an unbounded FIFO between the tick loop and the worker
// pool. Unbounded on purpose: the due scan is capped per tick, so depth is
// bounded by job count, and blocking the tick loop on a full channel would
// stall re-arming for every other job.
type dispatchQueue struct {
	mu      sync.Mutex
	items   []dispatch
	signal  chan struct{}
	closed  bool
	closeCh chan struct{}
}

func newDispatchQueue() *dispatchQueue {
	return &dispatchQueue{
		signal:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

// Push appends a dispatch. Pushes after Close are dropped.
func (q *dispatchQueue) Push(d dispatch) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, d)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop blocks until a dispatch is available, the context is done, or the
// queue is closed. The bool is false only when no dispatch was returned.
func (q *dispatchQueue) Pop(ctx context.Context) (dispatch, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			d := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return d, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return dispatch{}, false
		}

		select {
		case <-ctx.Done():
			return dispatch{}, false
		case <-q.closeCh:
		case <-q.signal:
		}
	}
}

// Len returns the number of queued dispatches.
func (q *dispatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes all blocked Pop calls. Queued items remain poppable so
// workers can drain before exiting.
func (q *dispatchQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.closeCh)
}
