package market

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func snap(symbol string, offset time.Duration, price float64) MarketSnapshot {
	return MarketSnapshot{
		Symbol:    symbol,
		Timestamp: t0.Add(offset),
		Last:      decimal.NewFromFloat(price),
	}
}

func TestStore_NonDecreasingSequencesAlwaysRecord(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 50; run++ {
		store := NewStore(32)
		offset := time.Duration(0)
		for i := 0; i < 200; i++ {
			// zero steps exercise equal timestamps
			offset += time.Duration(rng.Intn(3)) * time.Second
			require.NoError(t, store.Record(snap("BTCUSD", offset, 100+float64(i))))
		}
	}
}

func TestStore_RejectsOutOfOrder(t *testing.T) {
	store := NewStore(8)
	require.NoError(t, store.Record(snap("BTCUSD", 10*time.Second, 100)))

	err := store.Record(snap("BTCUSD", 5*time.Second, 99))
	assert.ErrorIs(t, err, ErrOutOfOrderData)

	// other symbols keep their own ordering
	assert.NoError(t, store.Record(snap("ETHUSD", 1*time.Second, 10)))

	latest, ok := store.Latest("btcusd")
	require.True(t, ok)
	assert.True(t, latest.Last.Equal(decimal.NewFromInt(100)))
}

func TestStore_RejectsNonPositivePrice(t *testing.T) {
	store := NewStore(8)
	for _, price := range []float64{0, -1} {
		err := store.Record(snap("BTCUSD", time.Second, price))
		assert.ErrorIs(t, err, ErrInvalidPrice, "price %v", price)
	}
	_, ok := store.Latest("BTCUSD")
	assert.False(t, ok)

	require.NoError(t, store.Record(snap("BTCUSD", time.Second, 100)))
	assert.ErrorIs(t, store.Record(MarketSnapshot{Symbol: "BTCUSD", Timestamp: t0.Add(2 * time.Second)}), ErrInvalidPrice)
	latest, ok := store.Latest("BTCUSD")
	require.True(t, ok)
	assert.True(t, latest.Timestamp.Equal(t0.Add(time.Second)))
}

func TestStore_WindowInsufficient(t *testing.T) {
	store := NewStore(8)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(snap("BTCUSD", time.Duration(i)*time.Second, float64(i+1))))
	}

	win, status := store.Window("BTCUSD", 5)
	assert.Equal(t, StatusInsufficient, status)
	assert.Len(t, win, 3)

	win, status = store.Window("BTCUSD", 2)
	assert.Equal(t, StatusOK, status)
	require.Len(t, win, 2)
	assert.True(t, win[0].Last.Equal(decimal.NewFromInt(2)))
	assert.True(t, win[1].Last.Equal(decimal.NewFromInt(3)))

	_, status = store.Window("UNKNOWN", 1)
	assert.Equal(t, StatusInsufficient, status)
}

func TestStore_EvictsOldest(t *testing.T) {
	store := NewStore(4)
	for i := 0; i < 10; i++ {
		require.NoError(t, store.Record(snap("BTCUSD", time.Duration(i)*time.Second, float64(i+1))))
	}
	win, status := store.Window("BTCUSD", 4)
	assert.Equal(t, StatusOK, status)
	require.Len(t, win, 4)
	for i, s := range win {
		assert.True(t, s.Last.Equal(decimal.NewFromInt(int64(7+i))), "index %d", i)
	}
	_, status = store.Window("BTCUSD", 5)
	assert.Equal(t, StatusInsufficient, status)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.TryPublish(snap("BTCUSD", 0, 1)))
	require.NoError(t, q.TryPublish(snap("BTCUSD", time.Second, 2)))
	assert.ErrorIs(t, q.TryPublish(snap("BTCUSD", 2*time.Second, 3)), ErrQueueFull)
	assert.Equal(t, uint64(1), q.Dropped())

	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.True(t, drained[0].Timestamp.Before(drained[1].Timestamp))
	assert.Nil(t, q.Drain())
}

func TestSnapshot_Mid(t *testing.T) {
	s := MarketSnapshot{Last: decimal.NewFromInt(10), Bid: decimal.NewFromInt(9), Ask: decimal.NewFromInt(11)}
	assert.True(t, s.Mid().Equal(decimal.NewFromInt(10)))
	s.Bid = decimal.Zero
	assert.True(t, s.Mid().Equal(s.Last))
}

func TestStore_GrowKeepsHistory(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(snap("BTCUSD", time.Duration(i)*time.Second, float64(i+1))))
	}
	s.Grow(6)
	assert.Equal(t, 6, s.Capacity())

	w, st := s.Window("BTCUSD", 3)
	assert.Equal(t, StatusOK, st)
	assert.True(t, w[0].Last.Equal(decimal.NewFromInt(3)))

	for i := 5; i < 8; i++ {
		require.NoError(t, s.Record(snap("BTCUSD", time.Duration(i)*time.Second, float64(i+1))))
	}
	w, st = s.Window("BTCUSD", 6)
	assert.Equal(t, StatusOK, st)
	assert.True(t, w[0].Last.Equal(decimal.NewFromInt(3)))
	assert.True(t, w[5].Last.Equal(decimal.NewFromInt(8)))
}
