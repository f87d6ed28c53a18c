package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// QueueStats is a snapshot of one queue's counters.
type QueueStats struct {
	Put     int64 `json:"put"`
	Got     int64 `json:"got"`
	Dropped int64 `json:"dropped"`
	Size    int   `json:"size"`
}

// Queue is a fixed-capacity stage queue. Producers never block: when the
// queue is full the item is shed and counted instead.
type Queue[T any] struct {
	name    string
	ch      chan T
	put     atomic.Int64
	got     atomic.Int64
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewQueue creates a queue with the given capacity.
func NewQueue[T any](name string, capacity int, logger *slog.Logger) *Queue[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue[T]{
		name:   name,
		ch:     make(chan T, capacity),
		logger: logger,
	}
}

// TryPush enqueues the item, or drops it when the queue is full. The drop
// is counted and logged.
func (q *Queue[T]) TryPush(item T) bool {
	select {
	case q.ch <- item:
		q.put.Add(1)
		return true
	default:
		q.dropped.Add(1)
		q.logger.Warn("queue full, item dropped", "queue", q.name)
		return false
	}
}

// Pop blocks until an item arrives or the context is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	select {
	case item := <-q.ch:
		q.got.Add(1)
		return item, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// Stats returns the queue's counters.
func (q *Queue[T]) Stats() QueueStats {
	return QueueStats{
		Put:     q.put.Load(),
		Got:     q.got.Load(),
		Dropped: q.dropped.Load(),
		Size:    len(q.ch),
	}
}
