package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"deltabot/internal/gateway/exchange"
	"deltabot/internal/ledger"
	"deltabot/internal/types"
)

type State string

const (
	StateCreated         State = "created"
	StateSubmitting      State = "submitting"
	StateAcked           State = "acked"
	StateFailed          State = "failed"
	StateFilled          State = "filled"
	StatePartiallyFilled State = "partially_filled"
	StateCancelled       State = "cancelled"
)

// Terminal reports whether no further transition can follow.
func (s State) Terminal() bool {
	switch s {
	case StateFailed, StateFilled, StatePartiallyFilled, StateCancelled:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateCreated:    {StateSubmitting, StateFailed},
	StateSubmitting: {StateSubmitting, StateAcked, StateFailed},
	StateAcked:      {StateFilled, StatePartiallyFilled, StateCancelled},
	StateFailed:     {StateSubmitting},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Order tracks one market order from creation to a terminal state. Token
// doubles as the order id and the venue idempotency key.
type Order struct {
	Token      string
	PositionID string
	Kind       ledger.FillKind
	Signal     types.Signal
	Symbol     string
	Side       exchange.OrderSide
	Quantity   decimal.Decimal

	State           State
	History         []State
	Attempts        int
	ExchangeOrderID string
	FilledQty       decimal.Decimal
	AvgPrice        decimal.Decimal
	Fee             decimal.Decimal
	Duplicate       bool
	Err             error
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (o *Order) moveTo(to State, at time.Time) {
	if o.State == to && to != StateSubmitting {
		return
	}
	if !canTransition(o.State, to) {
		log.Warnf("order %s: unexpected transition %s -> %s", o.Token, o.State, to)
	}
	o.State = to
	o.History = append(o.History, to)
	o.UpdatedAt = at
}

// Succeeded is true for orders that moved quantity.
func (o Order) Succeeded() bool {
	return o.State == StateFilled || o.State == StatePartiallyFilled
}

func (o Order) IsClose() bool { return o.Kind == ledger.FillClose }
