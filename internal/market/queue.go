package market

import (
	"errors"
	"sync/atomic"
)

var ErrQueueFull = errors.New("snapshot queue full")

// Queue is the bounded hand-off between feed goroutines and the engine.
// Publishing never blocks; the engine drains it at the start of each tick.
type Queue struct {
	ch      chan MarketSnapshot
	dropped atomic.Uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan MarketSnapshot, capacity)}
}

// TryPublish enqueues snap or drops it when the queue is full.
func (q *Queue) TryPublish(snap MarketSnapshot) error {
	select {
	case q.ch <- snap:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Sink adapts the queue to Feed.Run.
func (q *Queue) Sink() func(MarketSnapshot) {
	return func(s MarketSnapshot) { _ = q.TryPublish(s) }
}

// Drain removes everything currently queued without waiting.
func (q *Queue) Drain() []MarketSnapshot {
	n := len(q.ch)
	if n == 0 {
		return nil
	}
	out := make([]MarketSnapshot, 0, n)
	for i := 0; i < n; i++ {
		select {
		case s := <-q.ch:
			out = append(out, s)
		default:
			return out
		}
	}
	return out
}

func (q *Queue) Len() int { return len(q.ch) }

// Dropped reports how many snapshots were discarded because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
