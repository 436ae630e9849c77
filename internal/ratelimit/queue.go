package ratelimit

import "time"

// waiter is a queued acquire call. The done channel is buffered so a drain
// can deliver the grant without blocking on the waiter goroutine.
type waiter struct {
	cost       int
	priority   int
	seq        uint64
	enqueuedAt time.Time
	done       chan error
	index      int
}

// waiterQueue is a heap ordered by priority descending, then arrival
// sequence ascending, so equal-priority waiters are served FIFO.
type waiterQueue []*waiter

func (q waiterQueue) Len() int { return len(q) }

func (q waiterQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q waiterQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waiterQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waiterQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}
