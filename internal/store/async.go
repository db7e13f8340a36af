package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"deltabot/internal/logger"
	"deltabot/internal/types"
)

var log = logger.Component("store")

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// Async decouples a Sink from the engine with a bounded queue drained by
// one worker. Enqueueing never blocks; a full queue drops the record.
type Async struct {
	sink    Sink
	queue   chan job
	timeout time.Duration

	dropped atomic.Uint64
	failed  atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	onDrop    func()
	onFail    func()
}

func NewAsync(sink Sink, size int) *Async {
	if size <= 0 {
		size = 256
	}
	return &Async{
		sink:    sink,
		queue:   make(chan job, size),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
}

// OnDrop registers a callback for every dropped record, e.g. a metric.
func (a *Async) OnDrop(fn func()) { a.onDrop = fn }

// OnFail registers a callback for every record the wrapped sink rejected.
func (a *Async) OnFail(fn func()) { a.onFail = fn }

func (a *Async) Dropped() uint64 { return a.dropped.Load() }
func (a *Async) Failed() uint64  { return a.failed.Load() }

func (a *Async) enqueue(name string, fn func(ctx context.Context) error) error {
	select {
	case <-a.done:
		return errors.New("store: async sink closed")
	default:
	}
	select {
	case a.queue <- job{name: name, fn: fn}:
		return nil
	default:
		a.dropped.Add(1)
		if a.onDrop != nil {
			a.onDrop()
		}
		return fmt.Errorf("store: queue full, %s dropped", name)
	}
}

func (a *Async) SaveOrder(_ context.Context, rec OrderRecord) error {
	return a.enqueue("order", func(ctx context.Context) error { return a.sink.SaveOrder(ctx, rec) })
}

func (a *Async) SaveRiskEvent(_ context.Context, rec RiskEventRecord) error {
	return a.enqueue("risk_event", func(ctx context.Context) error { return a.sink.SaveRiskEvent(ctx, rec) })
}

func (a *Async) SaveDecision(_ context.Context, rec DecisionRecord) error {
	return a.enqueue("decision", func(ctx context.Context) error { return a.sink.SaveDecision(ctx, rec) })
}

func (a *Async) SavePositions(_ context.Context, at time.Time, positions []types.PositionSnapshot) error {
	cp := append([]types.PositionSnapshot(nil), positions...)
	return a.enqueue("positions", func(ctx context.Context) error { return a.sink.SavePositions(ctx, at, cp) })
}

// PeakEquity reads through to the wrapped sink when it supports it.
func (a *Async) PeakEquity(ctx context.Context) (peak decimal.Decimal, ok bool, err error) {
	if ps, is := a.sink.(PeakSource); is {
		return ps.PeakEquity(ctx)
	}
	return peak, false, nil
}

// Run drains the queue until ctx ends, then flushes what is left.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.flush()
			return nil
		case j := <-a.queue:
			a.exec(context.Background(), j)
		}
	}
}

func (a *Async) flush() {
	a.closeOnce.Do(func() { close(a.done) })
	for {
		select {
		case j := <-a.queue:
			a.exec(context.Background(), j)
		default:
			return
		}
	}
}

func (a *Async) exec(parent context.Context, j job) {
	ctx, cancel := context.WithTimeout(parent, a.timeout)
	defer cancel()
	if err := j.fn(ctx); err != nil {
		a.failed.Add(1)
		if a.onFail != nil {
			a.onFail()
		}
		log.Warnf("persist %s failed: %v", j.name, err)
	}
}

// Close closes the wrapped sink. Call after Run returned.
func (a *Async) Close() error {
	a.closeOnce.Do(func() { close(a.done) })
	return a.sink.Close()
}
