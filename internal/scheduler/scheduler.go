// Package scheduler paces the engine on wall-clock aligned boundaries.
package scheduler

import (
	"context"
	"time"

	"deltabot/internal/logger"
)

var log = logger.Component("scheduler")

// AlignedScheduler runs a task at every multiple of Interval (UTC) plus
// Offset. The task runs on the scheduler goroutine, so runs never overlap;
// boundaries that pass while a run is still busy are skipped, not queued.
type AlignedScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

// Run blocks until ctx is done. The task receives ctx and should return
// promptly once it is cancelled.
func (s *AlignedScheduler) Run(ctx context.Context, task func(context.Context)) {
	if s == nil {
		return
	}
	if task == nil {
		log.Warnf("task is nil, exit")
		return
	}
	if s.Interval <= 0 {
		log.Warnf("invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Offset < 0 {
		log.Warnf("negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.Offset >= s.Interval {
		s.Offset %= s.Interval
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	_, wakeAt, wait := s.nextTimes(startAt)
	log.Infof("started interval=%s offset=%s run_immediately=%v first=%s (in %s)",
		s.Interval, s.Offset, s.RunImmediately, wakeAt.Format(time.RFC3339), wait.Truncate(time.Millisecond))

	if s.RunImmediately && ctx.Err() == nil {
		task(ctx)
	}

	var last time.Time
	for {
		now := s.nowFn().UTC()
		boundary, wakeAt, wait := s.nextTimes(now)
		if !last.IsZero() {
			if missed := int(boundary.Sub(last)/s.Interval) - 1; missed > 0 {
				log.Warnf("task overran, skipped %d tick(s)", missed)
			}
		}
		log.Debugf("next run at %s (in %s) uptime=%s",
			wakeAt.Format(time.RFC3339Nano), wait.Truncate(time.Millisecond), now.Sub(startAt).Truncate(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Infof("ctx done, exit")
			return
		case <-timer.C:
		}
		last = boundary
		task(ctx)
	}
}

// nextTimes returns the next interval boundary strictly after now, the
// moment to wake for it and how long that is from now.
func (s *AlignedScheduler) nextTimes(now time.Time) (boundary, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	boundary = now.Truncate(s.Interval).Add(s.Interval)
	wakeAt = boundary.Add(s.Offset)
	if wakeAt.Sub(now) > s.Interval {
		// offset lands past one full interval; the current boundary still qualifies
		boundary = boundary.Add(-s.Interval)
		wakeAt = boundary.Add(s.Offset)
	}
	return boundary, wakeAt, wakeAt.Sub(now)
}
