package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltabot/internal/store"
	"deltabot/internal/types"
)

func openTemp(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "deltabot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormStore_OrderUpsertByToken(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	rec := store.OrderRecord{Token: "tok", Symbol: "BTCUSDT", Kind: "entry", Side: "BUY", State: "failed",
		Quantity: decimal.NewFromInt(5), Attempts: 3, Error: "rate limited", CreatedAt: at, UpdatedAt: at}
	require.NoError(t, s.SaveOrder(ctx, rec))

	rec.State = "filled"
	rec.FilledQty = decimal.NewFromInt(5)
	rec.AvgPrice = decimal.RequireFromString("1000.5")
	rec.Error = ""
	rec.UpdatedAt = at.Add(time.Minute)
	require.NoError(t, s.SaveOrder(ctx, rec))

	orders, err := s.RecentOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "filled", orders[0].State)
	assert.True(t, orders[0].AvgPrice.Equal(decimal.RequireFromString("1000.5")))
	assert.Empty(t, orders[0].Error)
}

func TestGormStore_PeakEquityFromLatestEvent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, ok, err := s.PeakEquity(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveRiskEvent(ctx, store.RiskEventRecord{At: time.Now(), ToLevel: "critical", PeakEquity: decimal.NewFromInt(10000)}))
	require.NoError(t, s.SaveRiskEvent(ctx, store.RiskEventRecord{At: time.Now(), ToLevel: "low", PeakEquity: decimal.NewFromInt(8900), Cause: "reset"}))

	peak, ok, err := s.PeakEquity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, peak.Equal(decimal.NewFromInt(8900)))
}

func TestGormStore_PositionsAndDecisions(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveDecision(ctx, store.DecisionRecord{At: at, Symbol: "BTCUSDT", Outcome: "rejected", Reason: "TradingHalted"}))
	require.NoError(t, s.SavePositions(ctx, at, []types.PositionSnapshot{{ID: "p1", Symbol: "BTCUSDT", Side: types.DirectionLong, Quantity: decimal.NewFromInt(2)}}))

	got, when, err := s.LatestPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
	assert.True(t, got[0].Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, when.Equal(at))
}
