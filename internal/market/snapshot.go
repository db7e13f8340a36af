package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is one observation of a symbol's top of book. Values are
// copied into the store and never mutated after Record.
type MarketSnapshot struct {
	Symbol    string
	Timestamp time.Time
	Last      decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume    decimal.Decimal
}

// Mid returns (bid+ask)/2, or Last when either side is missing.
func (s MarketSnapshot) Mid() decimal.Decimal {
	if s.Bid.IsPositive() && s.Ask.IsPositive() {
		return s.Bid.Add(s.Ask).Div(decimal.NewFromInt(2))
	}
	return s.Last
}

// Feed supplies snapshots in timestamp order per symbol. Run blocks until ctx
// is done or the feed fails permanently; sink must not block.
type Feed interface {
	Run(ctx context.Context, sink func(MarketSnapshot)) error
}
