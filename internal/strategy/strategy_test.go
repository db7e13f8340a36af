package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltabot/internal/analysis/indicator"
	"deltabot/internal/config"
	"deltabot/internal/types"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func set(tick int, price float64, values map[string]float64) indicator.IndicatorSet {
	return indicator.IndicatorSet{
		Symbol:    "BTCUSD",
		Timestamp: base.Add(time.Duration(tick) * time.Minute),
		Price:     decimal.NewFromFloat(price),
		Values:    values,
	}
}

func smaSet(tick int, short, long float64) indicator.IndicatorSet {
	return set(tick, 100, map[string]float64{"sma_10": short, "sma_30": long})
}

func newSMA(t *testing.T, params map[string]any) Strategy {
	t.Helper()
	s, err := NewSMACrossover(config.StrategyConfig{ID: "sma", Type: TypeSMACrossover, Params: params})
	require.NoError(t, err)
	return s
}

func TestSMACrossover_FirstValidTickNeverSignals(t *testing.T) {
	s := newSMA(t, nil)

	// only one tick of history
	_, ok := s.Evaluate("BTCUSD", []indicator.IndicatorSet{smaSet(0, 101, 100)})
	assert.False(t, ok)

	// previous tick has no averages yet
	absent := set(0, 100, map[string]float64{})
	_, ok = s.Evaluate("BTCUSD", []indicator.IndicatorSet{absent, smaSet(1, 101, 100)})
	assert.False(t, ok)

	// previous tick missing only the long average
	partial := set(0, 100, map[string]float64{"sma_10": 99})
	_, ok = s.Evaluate("BTCUSD", []indicator.IndicatorSet{partial, smaSet(1, 101, 100)})
	assert.False(t, ok)
}

func TestSMACrossover_Crosses(t *testing.T) {
	s := newSMA(t, nil)

	sig, ok := s.Evaluate("BTCUSD", []indicator.IndicatorSet{smaSet(0, 99, 100), smaSet(1, 100, 100)})
	require.True(t, ok)
	assert.Equal(t, types.DirectionLong, sig.Direction)
	assert.Equal(t, types.KindEntry, sig.Kind)
	assert.Equal(t, "sma", sig.StrategyID)
	assert.Equal(t, base.Add(time.Minute), sig.Timestamp)

	sig, ok = s.Evaluate("BTCUSD", []indicator.IndicatorSet{smaSet(0, 101, 100), smaSet(1, 99, 100)})
	require.True(t, ok)
	assert.Equal(t, types.DirectionShort, sig.Direction)

	// staying above is not a crossover
	_, ok = s.Evaluate("BTCUSD", []indicator.IndicatorSet{smaSet(0, 101, 100), smaSet(1, 102, 100)})
	assert.False(t, ok)
	// equal to equal is not a crossover either
	_, ok = s.Evaluate("BTCUSD", []indicator.IndicatorSet{smaSet(0, 100, 100), smaSet(1, 100, 100)})
	assert.False(t, ok)
}

func TestSMACrossover_MinStrength(t *testing.T) {
	s := newSMA(t, map[string]any{"min_strength": 0.9})
	_, ok := s.Evaluate("BTCUSD", []indicator.IndicatorSet{smaSet(0, 99, 100), smaSet(1, 100.01, 100)})
	assert.False(t, ok)
}

func TestSMACrossover_InvalidParams(t *testing.T) {
	_, err := NewSMACrossover(config.StrategyConfig{ID: "bad", Params: map[string]any{"short_period": 30, "long_period": 10}})
	assert.Error(t, err)
	_, err = NewSMACrossover(config.StrategyConfig{ID: "bad", Params: map[string]any{"rsi_oversold": 80, "rsi_overbought": 20}})
	assert.Error(t, err)
}

func rsiSet(tick int, v float64) indicator.IndicatorSet {
	return set(tick, 100, map[string]float64{"rsi_14": v})
}

func TestRSIReversion(t *testing.T) {
	s, err := NewRSIReversion(config.StrategyConfig{ID: "rsi", Params: map[string]any{"lookback": 3, "trend_filter": false}})
	require.NoError(t, err)
	assert.Equal(t, 4, s.Lookback())

	t.Run("recovers from oversold", func(t *testing.T) {
		sig, ok := s.Evaluate("BTCUSD", []indicator.IndicatorSet{rsiSet(0, 25), rsiSet(1, 31)})
		require.True(t, ok)
		assert.Equal(t, types.DirectionLong, sig.Direction)
		assert.Greater(t, sig.Strength, 0.0)
	})

	t.Run("gap in readings within lookback", func(t *testing.T) {
		gap := set(1, 100, map[string]float64{})
		sig, ok := s.Evaluate("BTCUSD", []indicator.IndicatorSet{rsiSet(0, 22), gap, rsiSet(2, 30)})
		require.True(t, ok)
		assert.Equal(t, types.DirectionLong, sig.Direction)
	})

	t.Run("fires once", func(t *testing.T) {
		_, ok := s.Evaluate("BTCUSD", []indicator.IndicatorSet{rsiSet(0, 25), rsiSet(1, 31), rsiSet(2, 35)})
		assert.False(t, ok)
	})

	t.Run("falls from overbought", func(t *testing.T) {
		sig, ok := s.Evaluate("BTCUSD", []indicator.IndicatorSet{rsiSet(0, 78), rsiSet(1, 69)})
		require.True(t, ok)
		assert.Equal(t, types.DirectionShort, sig.Direction)
	})

	t.Run("still oversold", func(t *testing.T) {
		_, ok := s.Evaluate("BTCUSD", []indicator.IndicatorSet{rsiSet(0, 20), rsiSet(1, 25)})
		assert.False(t, ok)
	})

	t.Run("below threshold outside lookback", func(t *testing.T) {
		empty := func(i int) indicator.IndicatorSet { return set(i, 100, map[string]float64{}) }
		hist := []indicator.IndicatorSet{rsiSet(0, 20), empty(1), empty(2), empty(3), rsiSet(4, 32)}
		_, ok := s.Evaluate("BTCUSD", hist)
		assert.False(t, ok)
	})
}

func TestRSIReversion_TrendFilterDampens(t *testing.T) {
	s, err := NewRSIReversion(config.StrategyConfig{ID: "rsi", Params: map[string]any{"trend_period": 20}})
	require.NoError(t, err)

	with := set(1, 100, map[string]float64{"rsi_14": 31, "sma_20": 90})
	against := set(1, 100, map[string]float64{"rsi_14": 31, "sma_20": 110})
	a, ok := s.Evaluate("BTCUSD", []indicator.IndicatorSet{rsiSet(0, 25), with})
	require.True(t, ok)
	b, ok := s.Evaluate("BTCUSD", []indicator.IndicatorSet{rsiSet(0, 25), against})
	require.True(t, ok)
	assert.InDelta(t, a.Strength*0.8, b.Strength, 1e-9)
	assert.Contains(t, b.Reason, "against trend")
}

func sig(id string, dir types.Direction) types.Signal {
	return types.Signal{Symbol: "BTCUSD", StrategyID: id, Direction: dir, Kind: types.KindEntry}
}

func TestMerge(t *testing.T) {
	_, ok := Merge(nil)
	assert.False(t, ok)

	_, ok = Merge([]types.Signal{sig("a", types.DirectionFlat)})
	assert.False(t, ok)

	got, ok := Merge([]types.Signal{sig("a", types.DirectionFlat), sig("b", types.DirectionLong), sig("c", types.DirectionLong)})
	require.True(t, ok)
	assert.Equal(t, "b", got.StrategyID, "first configured agreeing strategy wins")

	got, ok = Merge([]types.Signal{sig("a", types.DirectionLong), sig("b", types.DirectionShort)})
	require.True(t, ok)
	assert.Equal(t, types.DirectionFlat, got.Direction)
	assert.False(t, got.IsEntry())
	assert.Contains(t, got.Reason, "a=long")
	assert.Contains(t, got.Reason, "b=short")
}

func TestRegistry_BuildOrdersByPriority(t *testing.T) {
	disabled := false
	defs := []config.StrategyConfig{
		{ID: "rsi", Type: "RSI_REVERSION", Priority: 20},
		{ID: "sma", Type: TypeSMACrossover, Priority: 10},
		{ID: "off", Type: TypeSMACrossover, Priority: 1, Enabled: &disabled},
	}
	set, err := DefaultRegistry().Build(defs)
	require.NoError(t, err)
	ids := []string{}
	for _, s := range set.Strategies() {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{"sma", "rsi"}, ids)
	assert.Equal(t, 6, set.Lookback())
	assert.NotEmpty(t, set.Requirements())

	_, err = DefaultRegistry().Build([]config.StrategyConfig{{ID: "x", Type: "ml_magic"}})
	assert.ErrorContains(t, err, "unknown type")
	_, err = DefaultRegistry().Build([]config.StrategyConfig{{ID: "x", Type: TypeSMACrossover}, {ID: "x", Type: TypeSMACrossover}})
	assert.ErrorContains(t, err, "declared twice")
}

func TestSet_EvaluateConflictCancels(t *testing.T) {
	sma := newSMA(t, nil)
	rsi, err := NewRSIReversion(config.StrategyConfig{ID: "rsi", Params: map[string]any{"trend_filter": false}})
	require.NoError(t, err)
	s := NewSet(sma, rsi)

	prev := set(0, 100, map[string]float64{"sma_10": 99, "sma_30": 100, "rsi_14": 75})
	cur := set(1, 100, map[string]float64{"sma_10": 101, "sma_30": 100, "rsi_14": 65})
	got, ok := s.Evaluate("BTCUSD", []indicator.IndicatorSet{prev, cur})
	require.True(t, ok)
	assert.Equal(t, types.DirectionFlat, got.Direction)
}

func TestProtection(t *testing.T) {
	p := NewProtection(2, 3)
	long := p.Apply(types.Signal{Direction: types.DirectionLong, Kind: types.KindEntry, Price: decimal.NewFromInt(1000)})
	assert.True(t, long.StopLoss.Equal(decimal.NewFromInt(980)))
	assert.True(t, long.TakeProfit.Equal(decimal.NewFromInt(1030)))

	short := p.Apply(types.Signal{Direction: types.DirectionShort, Kind: types.KindEntry, Price: decimal.NewFromInt(1000)})
	assert.True(t, short.StopLoss.Equal(decimal.NewFromInt(1020)))
	assert.True(t, short.TakeProfit.Equal(decimal.NewFromInt(970)))

	keep := p.Apply(types.Signal{Direction: types.DirectionLong, Kind: types.KindEntry, Price: decimal.NewFromInt(1000), StopLoss: decimal.NewFromInt(950)})
	assert.True(t, keep.StopLoss.Equal(decimal.NewFromInt(950)))

	assert.True(t, StopHit(types.DirectionLong, decimal.NewFromInt(979), decimal.NewFromInt(980)))
	assert.False(t, StopHit(types.DirectionShort, decimal.NewFromInt(979), decimal.NewFromInt(1020)))
	assert.True(t, TargetHit(types.DirectionShort, decimal.NewFromInt(969), decimal.NewFromInt(970)))
	assert.False(t, TargetHit(types.DirectionLong, decimal.NewFromInt(1000), decimal.Zero))
}
