package notifier

import (
	"context"
	"sync/atomic"
	"time"

	"deltabot/internal/logger"
	"deltabot/internal/risk"
)

var log = logger.Component("notifier")

// Alerter forwards critical risk transitions to a TextNotifier from its own
// goroutine. Notify never blocks the caller; overflow is dropped.
type Alerter struct {
	sink    TextNotifier
	queue   chan string
	dropped atomic.Uint64
	timeout time.Duration
}

func NewAlerter(sink TextNotifier, size int) *Alerter {
	if size <= 0 {
		size = 16
	}
	return &Alerter{sink: sink, queue: make(chan string, size), timeout: 30 * time.Second}
}

// Notify is a risk.Listener. Only halts, resumes and critical entries are sent.
func (a *Alerter) Notify(tr risk.Transition) {
	if !tr.Critical() && !(tr.From.TradingHalted && !tr.To.TradingHalted) {
		return
	}
	select {
	case a.queue <- RiskMessage(tr).RenderMarkdown():
	default:
		a.dropped.Add(1)
	}
}

func (a *Alerter) Dropped() uint64 { return a.dropped.Load() }

func (a *Alerter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-a.queue:
			sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
			if err := a.sink.SendText(sendCtx, text); err != nil {
				log.Warnf("alert delivery failed: %v", err)
			}
			cancel()
		}
	}
}
