package paper

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltabot/internal/gateway/exchange"
	"deltabot/internal/market"
	"deltabot/internal/types"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func priced(t *testing.T, last, bid, ask float64) *market.Store {
	t.Helper()
	s := market.NewStore(8)
	require.NoError(t, s.Record(market.MarketSnapshot{Symbol: "BTCUSD", Timestamp: time.Unix(100, 0), Last: d(last), Bid: d(bid), Ask: d(ask)}))
	return s
}

func TestPaper_FillsAtTouchAndDedupes(t *testing.T) {
	store := priced(t, 100, 99, 101)
	ex := New(store, 10000, 0)
	ctx := context.Background()

	res, err := ex.Submit(ctx, exchange.OrderRequest{Token: "t1", Symbol: "btcusd", Side: exchange.SideBuy, Quantity: d(2)})
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderStatusFilled, res.Status)
	assert.True(t, res.AvgPrice.Equal(d(101)))
	assert.False(t, res.Duplicate)

	again, err := ex.Submit(ctx, exchange.OrderRequest{Token: "t1", Symbol: "BTCUSD", Side: exchange.SideBuy, Quantity: d(2)})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, res.OrderID, again.OrderID)

	positions, err := ex.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, types.DirectionLong, positions[0].Side)
	assert.True(t, positions[0].Quantity.Equal(d(2)), "duplicate token did not double the position")
}

func TestPaper_CloseRealizesIntoBalance(t *testing.T) {
	store := priced(t, 100, 100, 100)
	ex := New(store, 1000, 10)
	ctx := context.Background()

	_, err := ex.Submit(ctx, exchange.OrderRequest{Token: "open", Symbol: "BTCUSD", Side: exchange.SideSell, Quantity: d(1)})
	require.NoError(t, err)
	require.NoError(t, store.Record(market.MarketSnapshot{Symbol: "BTCUSD", Timestamp: time.Unix(200, 0), Last: d(90), Bid: d(90), Ask: d(90)}))

	bal, err := ex.Balance(ctx)
	require.NoError(t, err)
	// 1000 - 0.1 fee + 10 unrealized
	assert.True(t, bal.Total.Equal(d(1009.9)), bal.Total.String())

	_, err = ex.Submit(ctx, exchange.OrderRequest{Token: "close", Symbol: "BTCUSD", Side: exchange.SideBuy, Quantity: d(5), ReduceOnly: true})
	require.NoError(t, err)
	positions, _ := ex.Positions(ctx)
	assert.Empty(t, positions, "reduce-only is capped at the open size")

	bal, _ = ex.Balance(ctx)
	assert.True(t, bal.Total.Equal(d(1009.81)), bal.Total.String())
}

func TestPaper_RejectsAndFaults(t *testing.T) {
	ex := New(nil, 1000, 0)
	ctx := context.Background()

	_, err := ex.Submit(ctx, exchange.OrderRequest{Token: "a", Symbol: "ETHUSD", Side: exchange.SideBuy, Quantity: d(1)})
	assert.ErrorIs(t, err, exchange.ErrRejected, "no price known")

	_, err = ex.Submit(ctx, exchange.OrderRequest{Token: "b", Symbol: "ETHUSD", Side: exchange.SideSell, Quantity: d(1), ReduceOnly: true, RefPrice: d(10)})
	assert.ErrorIs(t, err, exchange.ErrRejected)

	ex.InjectFaults(exchange.ErrRateLimited)
	_, err = ex.Submit(ctx, exchange.OrderRequest{Token: "c", Symbol: "ETHUSD", Side: exchange.SideBuy, Quantity: d(1), RefPrice: d(10)})
	assert.ErrorIs(t, err, exchange.ErrRateLimited)
	_, err = ex.Submit(ctx, exchange.OrderRequest{Token: "c", Symbol: "ETHUSD", Side: exchange.SideBuy, Quantity: d(1), RefPrice: d(10)})
	assert.NoError(t, err)
}
