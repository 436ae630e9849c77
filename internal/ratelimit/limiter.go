// Package ratelimit implements token-bucket admission control with a
// priority-ordered wait queue. The bucket refills lazily: token credit is
// computed from elapsed whole intervals on every acquire and drain, so no
// background goroutine runs while the limiter is idle. A single timer is
// armed only while waiters are queued, set to the instant the head waiter
// becomes satisfiable.
package ratelimit

import (
	"container/heap"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	apperrors "apibridge/internal/common/errors"
	"apibridge/internal/common/logging"
	"apibridge/internal/metrics"
)

// Priority levels for Acquire. Higher values are served first; waiters with
// equal priority are served in arrival order.
const (
	PriorityLow    = 0
	PriorityNormal = 5
	PriorityHigh   = 10
)

// RemainingHeader is the upstream response header carrying the provider's
// own view of the remaining quota.
const RemainingHeader = "X-RateLimit-Remaining"

// Config holds token bucket parameters.
type Config struct {
	// Capacity is the maximum token count (burst size).
	Capacity int
	// RefillAmount is the number of tokens credited per interval.
	RefillAmount int
	// RefillInterval is the cadence at which tokens are credited.
	RefillInterval time.Duration
}

// Validate checks the bucket parameters.
func (c Config) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if c.RefillAmount < 1 {
		return fmt.Errorf("refill amount must be positive, got %d", c.RefillAmount)
	}
	if c.RefillInterval <= 0 {
		return fmt.Errorf("refill interval must be positive, got %v", c.RefillInterval)
	}
	return nil
}

// Stats is a point-in-time snapshot of the limiter.
type Stats struct {
	TokensRemaining   float64 `json:"tokens_remaining"`
	Capacity          int     `json:"capacity"`
	QueueSize         int     `json:"queue_size"`
	TotalRequests     int64   `json:"total_requests"`
	ThrottledRequests int64   `json:"throttled_requests"`
	ThrottleRate      float64 `json:"throttle_rate"`
	AverageWaitMs     float64 `json:"average_wait_ms"`
}

// Limiter is a token-bucket rate limiter with a priority wait queue. All
// state is guarded by one mutex; grants are delivered to waiters over
// per-waiter channels so Acquire can block without holding the lock.
type Limiter struct {
	mu sync.Mutex

	capacity       int
	tokens         float64
	refillAmount   int
	refillInterval time.Duration
	lastRefill     time.Time

	queue waiterQueue
	seq   uint64
	timer *time.Timer

	totalRequests     int64
	throttledRequests int64
	totalWait         time.Duration
	servedWaiters     int64

	nowFn   func() time.Time
	logger  logging.Logger
	metrics *metrics.Metrics
}

// New creates a Limiter with a full bucket. The metrics argument may be nil.
func New(cfg Config, m *metrics.Metrics) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rate limiter config: %w", err)
	}

	l := &Limiter{
		capacity:       cfg.Capacity,
		tokens:         float64(cfg.Capacity),
		refillAmount:   cfg.RefillAmount,
		refillInterval: cfg.RefillInterval,
		nowFn:          time.Now,
		logger:         logging.GetGlobalLogger(),
		metrics:        m,
	}
	l.lastRefill = l.nowFn()
	return l, nil
}

// Acquire blocks until cost tokens have been debited from the bucket, the
// context is cancelled, or the queue is cleared. Cost must fit within the
// bucket capacity or the call can never succeed and fails immediately.
func (l *Limiter) Acquire(ctx context.Context, cost, priority int) error {
	if cost < 1 {
		cost = 1
	}
	if cost > l.capacity {
		return fmt.Errorf("cost %d exceeds bucket capacity %d", cost, l.capacity)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.refillLocked(l.nowFn())
	l.totalRequests++

	if l.tokens >= float64(cost) {
		l.tokens -= float64(cost)
		l.mu.Unlock()
		return nil
	}

	l.throttledRequests++
	if l.metrics != nil {
		l.metrics.IncrementThrottled()
	}

	w := &waiter{
		cost:       cost,
		priority:   priority,
		seq:        l.seq,
		enqueuedAt: l.nowFn(),
		done:       make(chan error, 1),
	}
	l.seq++
	heap.Push(&l.queue, w)
	l.updateQueueGaugeLocked()
	l.armTimerLocked()
	l.mu.Unlock()

	select {
	case err := <-w.done:
		return err
	case <-ctx.Done():
		l.mu.Lock()
		if w.index >= 0 {
			heap.Remove(&l.queue, w.index)
			l.updateQueueGaugeLocked()
			l.armTimerLocked()
			l.mu.Unlock()
			return ctx.Err()
		}
		l.mu.Unlock()
		// A grant or rejection raced the cancellation; honor it so the
		// debited tokens are not lost.
		return <-w.done
	}
}

// Stats returns a snapshot of the bucket and queue after applying any
// pending lazy refill.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(l.nowFn())

	s := Stats{
		TokensRemaining:   l.tokens,
		Capacity:          l.capacity,
		QueueSize:         l.queue.Len(),
		TotalRequests:     l.totalRequests,
		ThrottledRequests: l.throttledRequests,
	}
	if l.totalRequests > 0 {
		s.ThrottleRate = float64(l.throttledRequests) / float64(l.totalRequests)
	}
	if l.servedWaiters > 0 {
		s.AverageWaitMs = float64(l.totalWait.Milliseconds()) / float64(l.servedWaiters)
	}
	return s
}

// UpdateFromHeaders clamps the token count to the remaining quota the
// upstream API reports. The external signal wins but never exceeds local
// capacity, and the refill clock is left untouched so a clamp immediately
// followed by a lazy refill cannot double-credit. Malformed values are
// ignored.
func (l *Limiter) UpdateFromHeaders(headers http.Header) {
	raw := headers.Get(RemainingHeader)
	if raw == "" {
		return
	}
	remaining, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return
	}
	if remaining < 0 {
		remaining = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if remaining > float64(l.capacity) {
		remaining = float64(l.capacity)
	}
	l.tokens = remaining
	l.drainLocked(l.nowFn())
}

// ClearQueue rejects every pending waiter with ErrLimiterCleared and empties
// the queue. Used on shutdown so no caller is left blocked forever.
func (l *Limiter) ClearQueue() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cleared := len(l.queue)
	for _, w := range l.queue {
		w.index = -1
		w.done <- apperrors.ErrLimiterCleared
	}
	l.queue = l.queue[:0]
	if cleared > 0 {
		l.logger.Info("Rate limiter queue cleared", logging.Int("waiters", cleared))
	}
	l.updateQueueGaugeLocked()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// Reset restores the bucket to full capacity and zeroes all statistics,
// then drains any waiters the refilled bucket can now satisfy.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = float64(l.capacity)
	l.lastRefill = l.nowFn()
	l.totalRequests = 0
	l.throttledRequests = 0
	l.totalWait = 0
	l.servedWaiters = 0
	l.drainLocked(l.nowFn())
}

// refillLocked credits tokens for elapsed whole intervals. The refill clock
// advances by the consumed intervals only, never to now, so fractional
// progress toward the next interval is preserved across calls.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill)
	if elapsed < l.refillInterval {
		return
	}
	intervals := int64(elapsed / l.refillInterval)
	l.tokens += float64(intervals * int64(l.refillAmount))
	if l.tokens > float64(l.capacity) {
		l.tokens = float64(l.capacity)
	}
	l.lastRefill = l.lastRefill.Add(time.Duration(intervals) * l.refillInterval)
}

// drainLocked refills, then serves queued waiters in (priority desc,
// arrival asc) order while tokens suffice, and re-arms the timer for the
// next insufficient head.
func (l *Limiter) drainLocked(now time.Time) {
	l.refillLocked(now)

	for l.queue.Len() > 0 {
		head := l.queue[0]
		if l.tokens < float64(head.cost) {
			break
		}
		heap.Pop(&l.queue)
		l.tokens -= float64(head.cost)
		l.totalWait += now.Sub(head.enqueuedAt)
		l.servedWaiters++
		head.done <- nil
	}
	l.updateQueueGaugeLocked()
	l.armTimerLocked()
}

// armTimerLocked schedules the drain timer for the moment the head waiter
// becomes satisfiable, or stops it when the queue is empty.
func (l *Limiter) armTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.queue.Len() == 0 {
		return
	}

	head := l.queue[0]
	deficit := float64(head.cost) - l.tokens
	intervals := int64(deficit) / int64(l.refillAmount)
	if float64(intervals*int64(l.refillAmount)) < deficit {
		intervals++
	}
	fireAt := l.lastRefill.Add(time.Duration(intervals) * l.refillInterval)

	wait := fireAt.Sub(l.nowFn())
	if wait < 0 {
		wait = 0
	}
	l.timer = time.AfterFunc(wait, l.onTimer)
}

func (l *Limiter) onTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drainLocked(l.nowFn())
}

func (l *Limiter) updateQueueGaugeLocked() {
	if l.metrics != nil {
		l.metrics.SetQueueDepth(l.queue.Len())
	}
}
