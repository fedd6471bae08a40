package queue

import (
	"context"
	"fmt"

	"github.com/notifyhub/alertflow/internal/domain"
)

// PriorityQueue dispatches items to one of three buffered lanes by priority.
//
// Buffer sizes reflect expected traffic ratios:
//
//	High:   1 000  critical and urgent; small buffer applies back-pressure quickly
//	Normal: 5 000  high and normal; bulk of traffic
//	Low:    2 000  low; background / best-effort
//
// Workers dequeue via the double-select pattern, which guarantees that
// high-priority items are always served before normal or low ones, while
// still allowing fair competition between normal and low when high is empty.
type PriorityQueue struct {
	high   chan Item
	normal chan Item
	low    chan Item
}

func New() *PriorityQueue {
	return NewWithCapacity(1000, 5000, 2000)
}

// NewWithCapacity sizes each lane explicitly.
func NewWithCapacity(high, normal, low int) *PriorityQueue {
	return &PriorityQueue{
		high:   make(chan Item, high),
		normal: make(chan Item, normal),
		low:    make(chan Item, low),
	}
}

// Enqueue places an item on the lane for its priority.
// It is non-blocking: if the target lane is full, ErrQueueFull is returned
// immediately rather than blocking the caller (the HTTP handler).
func (q *PriorityQueue) Enqueue(item Item) error {
	tier, ok := TierFor(item.Priority)
	if !ok {
		return fmt.Errorf("unknown priority %q", item.Priority)
	}

	lane := q.low
	switch tier {
	case TierHigh:
		lane = q.high
	case TierNormal:
		lane = q.normal
	}

	select {
	case lane <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until an item is available or ctx is cancelled.
//
// A non-blocking select drains the high lane first; only when it is empty
// does the worker wait on all three lanes and ctx together.
//
// Returns (Item{}, false) when ctx is cancelled (graceful shutdown signal).
func (q *PriorityQueue) Dequeue(ctx context.Context) (Item, bool) {
	// Step 1: drain high before entering a fair wait.
	select {
	case item := <-q.high:
		return item, true
	default:
	}

	// Step 2: fair competition when high is empty.
	select {
	case item := <-q.high:
		return item, true
	case item := <-q.normal:
		return item, true
	case item := <-q.low:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	}
}

// Depths returns the current number of items waiting in each lane.
func (q *PriorityQueue) Depths() (high, normal, low int) {
	return len(q.high), len(q.normal), len(q.low)
}
