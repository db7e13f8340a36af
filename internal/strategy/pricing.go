package strategy

import (
	"github.com/shopspring/decimal"

	"deltabot/internal/types"
)

var hundred = decimal.NewFromInt(100)

// Protection attaches stop-loss and take-profit prices to entry signals.
// Percentages are expressed in percent.
type Protection struct {
	StopLossPct   decimal.Decimal
	TakeProfitPct decimal.Decimal
}

func NewProtection(stopLossPct, takeProfitPct float64) Protection {
	return Protection{
		StopLossPct:   decimal.NewFromFloat(stopLossPct),
		TakeProfitPct: decimal.NewFromFloat(takeProfitPct),
	}
}

// Apply fills StopLoss/TakeProfit on entries that do not carry them yet.
func (p Protection) Apply(sig types.Signal) types.Signal {
	if !sig.IsEntry() || !sig.Price.IsPositive() {
		return sig
	}
	if sig.StopLoss.IsZero() {
		sig.StopLoss = StopPrice(sig.Direction, sig.Price, p.StopLossPct)
	}
	if sig.TakeProfit.IsZero() {
		sig.TakeProfit = TargetPrice(sig.Direction, sig.Price, p.TakeProfitPct)
	}
	return sig
}

// StopPrice is entry moved against the position by pct percent.
func StopPrice(dir types.Direction, entry, pct decimal.Decimal) decimal.Decimal {
	return entry.Sub(dir.Sign().Mul(entry).Mul(pct).Div(hundred))
}

// TargetPrice is entry moved in favour of the position by pct percent.
func TargetPrice(dir types.Direction, entry, pct decimal.Decimal) decimal.Decimal {
	return entry.Add(dir.Sign().Mul(entry).Mul(pct).Div(hundred))
}

// StopHit reports whether price has reached the stop for a position on dir.
func StopHit(dir types.Direction, price, stop decimal.Decimal) bool {
	if !stop.IsPositive() || !price.IsPositive() {
		return false
	}
	switch dir {
	case types.DirectionLong:
		return price.LessThanOrEqual(stop)
	case types.DirectionShort:
		return price.GreaterThanOrEqual(stop)
	}
	return false
}

// TargetHit reports whether price has reached the take-profit level.
func TargetHit(dir types.Direction, price, target decimal.Decimal) bool {
	if !target.IsPositive() || !price.IsPositive() {
		return false
	}
	switch dir {
	case types.DirectionLong:
		return price.GreaterThanOrEqual(target)
	case types.DirectionShort:
		return price.LessThanOrEqual(target)
	}
	return false
}
