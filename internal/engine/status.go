package engine

import (
	"time"

	"deltabot/internal/risk"
	"deltabot/internal/types"
)

// Status is an immutable snapshot published after every tick.
type Status struct {
	At              time.Time                `json:"at"`
	Tick            uint64                   `json:"tick"`
	Mode            string                   `json:"mode"`
	Exchange        string                   `json:"exchange"`
	Account         types.AccountState       `json:"account"`
	Risk            risk.State               `json:"risk"`
	Positions       []types.PositionSnapshot `json:"positions"`
	Breaker         string                   `json:"breaker"`
	StrategyVersion int64                    `json:"strategy_version"`
	Strategies      []string                 `json:"strategies"`
	QueueDepth      int                      `json:"queue_depth"`
	QueueDropped    uint64                   `json:"queue_dropped"`
	OutOfOrder      uint64                   `json:"out_of_order"`
	ResetPending    bool                     `json:"reset_pending"`
	LastError       string                   `json:"last_error,omitempty"`
}

// Status returns the latest published snapshot. Safe from any goroutine.
func (e *Engine) Status() Status {
	var out Status
	if st := e.status.Load(); st != nil {
		out = *st
	}
	out.ResetPending = e.resetReq.Load() != nil
	return out
}

func (e *Engine) publishStatus(now time.Time, err error) {
	st := &Status{
		At:              now,
		Tick:            e.ticks,
		Mode:            e.opts.Mode,
		Exchange:        e.exchange.Name(),
		Account:         e.account,
		Risk:            e.gate.State(),
		Positions:       e.ledger.Snapshot(),
		Breaker:         e.executor.Breaker().State().String(),
		StrategyVersion: e.setVersion,
		QueueDepth:      e.queue.Len(),
		QueueDropped:    e.queue.Dropped(),
		OutOfOrder:      e.outOfOrder.Load(),
	}
	for _, s := range e.set.Strategies() {
		st.Strategies = append(st.Strategies, s.ID())
	}
	if err != nil {
		st.LastError = err.Error()
	}
	e.status.Store(st)
}
