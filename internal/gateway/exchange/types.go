package exchange

import (
	"time"

	"github.com/shopspring/decimal"

	"deltabot/internal/types"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// SideFor maps a position direction and intent to the order side.
func SideFor(dir types.Direction, closing bool) OrderSide {
	buy := dir == types.DirectionLong
	if closing {
		buy = !buy
	}
	if buy {
		return SideBuy
	}
	return SideSell
}

// OrderRequest is a market order. ReduceOnly is set for closes.
type OrderRequest struct {
	Token      string
	Symbol     string
	Side       OrderSide
	Quantity   decimal.Decimal
	ReduceOnly bool
	// RefPrice is the engine's last seen price, used by venues that fill
	// locally and for slippage logging.
	RefPrice decimal.Decimal
}

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// OrderResult is the venue's acknowledgement.
type OrderResult struct {
	OrderID     string
	Token       string
	Status      OrderStatus
	FilledQty   decimal.Decimal
	AvgPrice    decimal.Decimal
	Fee         decimal.Decimal
	Duplicate   bool
	CompletedAt time.Time
}

// Position is a venue-reported open position.
type Position struct {
	Symbol     string
	Side       types.Direction
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal
	UpdatedAt  time.Time
}

type Balance struct {
	Currency  string
	Total     decimal.Decimal
	Available decimal.Decimal
	UpdatedAt time.Time
}

// Account converts a balance into the engine's account view.
func (b Balance) Account() types.AccountState {
	return types.AccountState{
		Equity:    b.Total,
		Available: b.Available,
		Currency:  b.Currency,
		UpdatedAt: b.UpdatedAt,
	}
}
