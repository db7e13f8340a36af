package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountState is the balance view the risk gate sizes against.
type AccountState struct {
	Equity    decimal.Decimal `json:"equity"`
	Available decimal.Decimal `json:"available"`
	Currency  string          `json:"currency"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PositionSnapshot is the read-only projection of a ledger position used by
// persistence and the HTTP API.
type PositionSnapshot struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Side          Direction       `json:"side"`
	Status        string          `json:"status"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	Quantity      decimal.Decimal `json:"quantity"`
	StopLoss      decimal.Decimal `json:"stop_loss"`
	TakeProfit    decimal.Decimal `json:"take_profit"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	OpenedAt      time.Time       `json:"opened_at"`
	InFlight      string          `json:"in_flight,omitempty"`
}
