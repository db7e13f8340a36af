package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is a signal or position direction.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionFlat  Direction = "flat"
)

func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort || d == DirectionFlat
}

// Opposite returns the other side for long/short and flat for flat.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionFlat
	}
}

// Sign is +1 for long, -1 for short, 0 otherwise.
func (d Direction) Sign() decimal.Decimal {
	switch d {
	case DirectionLong:
		return decimal.NewFromInt(1)
	case DirectionShort:
		return decimal.NewFromInt(-1)
	default:
		return decimal.Zero
	}
}

type SignalKind string

const (
	KindEntry SignalKind = "entry"
	KindClose SignalKind = "close"
)

// Signal is one strategy recommendation for one symbol at one tick. A close
// signal carries the direction of the position it closes and its ID.
type Signal struct {
	Symbol       string
	Direction    Direction
	Kind         SignalKind
	Strength     float64
	Confidence   float64
	SuggestedQty decimal.Decimal
	StrategyID   string
	Timestamp    time.Time
	Price        decimal.Decimal
	StopLoss     decimal.Decimal
	TakeProfit   decimal.Decimal
	PositionID   string
	Reason       string
}

func (s Signal) IsClose() bool { return s.Kind == KindClose }

// IsEntry is true for directional entry signals. Flat never enters.
func (s Signal) IsEntry() bool {
	return s.Kind != KindClose && (s.Direction == DirectionLong || s.Direction == DirectionShort)
}

func (s Signal) String() string {
	if s.IsClose() {
		return fmt.Sprintf("close %s %s pos=%s (%s)", s.Direction, s.Symbol, s.PositionID, s.Reason)
	}
	return fmt.Sprintf("%s %s strength=%.2f by %s", s.Direction, s.Symbol, s.Strength, s.StrategyID)
}
