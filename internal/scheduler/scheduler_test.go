package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextTimes_AlignsToBoundary(t *testing.T) {
	s := NewAlignedScheduler(5*time.Second, time.Second)
	now := time.Date(2024, 1, 1, 10, 0, 2, 0, time.UTC)

	boundary, wakeAt, wait := s.nextTimes(now)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 5, 0, time.UTC), boundary)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 6, 0, time.UTC), wakeAt)
	assert.Equal(t, 4*time.Second, wait)
}

func TestNextTimes_OffsetWithinCurrentInterval(t *testing.T) {
	s := NewAlignedScheduler(5*time.Second, 3*time.Second)
	now := time.Date(2024, 1, 1, 10, 0, 1, 0, time.UTC)

	boundary, wakeAt, wait := s.nextTimes(now)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), boundary)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 3, 0, time.UTC), wakeAt)
	assert.Equal(t, 2*time.Second, wait)
}

func TestRun_RunsSequentiallyUntilCancelled(t *testing.T) {
	s := NewAlignedScheduler(10*time.Millisecond, 0)
	s.RunImmediately = true
	ctx, cancel := context.WithCancel(context.Background())

	var runs, inflight, overlap atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, func(context.Context) {
			if inflight.Add(1) > 1 {
				overlap.Add(1)
			}
			defer inflight.Add(-1)
			if runs.Add(1) == 3 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
	assert.Zero(t, overlap.Load())
}

func TestRun_InvalidIntervalReturns(t *testing.T) {
	s := NewAlignedScheduler(0, 0)
	called := false
	s.Run(context.Background(), func(context.Context) { called = true })
	assert.False(t, called)
}
