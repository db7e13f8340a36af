// Package store defines the persistence collaborator. Writes are best
// effort: the engine never waits on them and never fails a tick for them.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"deltabot/internal/types"
)

// Sink receives engine records. Implementations must be safe for use from
// the async worker goroutine.
type Sink interface {
	SaveOrder(ctx context.Context, rec OrderRecord) error
	SaveRiskEvent(ctx context.Context, rec RiskEventRecord) error
	SaveDecision(ctx context.Context, rec DecisionRecord) error
	SavePositions(ctx context.Context, at time.Time, positions []types.PositionSnapshot) error
	Close() error
}

// PeakSource is implemented by sinks that can recover the highest equity
// recorded so far, used to seed drawdown tracking after a restart.
type PeakSource interface {
	PeakEquity(ctx context.Context) (decimal.Decimal, bool, error)
}

// OrderRecord is a terminal order.
type OrderRecord struct {
	Token           string
	PositionID      string
	Symbol          string
	Kind            string
	Side            string
	State           string
	StrategyID      string
	Quantity        decimal.Decimal
	FilledQty       decimal.Decimal
	AvgPrice        decimal.Decimal
	Fee             decimal.Decimal
	Attempts        int
	ExchangeOrderID string
	Duplicate       bool
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type RiskEventRecord struct {
	At            time.Time
	Cause         string
	FromLevel     string
	ToLevel       string
	Halted        bool
	HaltReason    string
	Equity        decimal.Decimal
	PeakEquity    decimal.Decimal
	Drawdown      decimal.Decimal
	DailyRealized decimal.Decimal
	Exposure      decimal.Decimal
	OpenPositions int
}

// DecisionRecord pairs a signal with the risk gate's verdict.
type DecisionRecord struct {
	At         time.Time
	Symbol     string
	Direction  string
	Kind       string
	StrategyID string
	Strength   float64
	Confidence float64
	Price      decimal.Decimal
	Outcome    string
	Quantity   decimal.Decimal
	Reason     string
	Detail     string
}
