// Package exchange defines the contract between the order executor and a
// trading venue. Paper and Binance adapters implement Client.
package exchange

import "context"

type Client interface {
	Name() string

	// Submit places one order. Token is the idempotency key: resubmitting
	// the same token must never create a second order. A venue that has
	// already executed the token answers with Duplicate set and the
	// original fill.
	Submit(ctx context.Context, req OrderRequest) (OrderResult, error)

	Cancel(ctx context.Context, symbol, orderID string) error

	Positions(ctx context.Context) ([]Position, error)

	Balance(ctx context.Context) (Balance, error)
}
