package strategy

import (
	"fmt"
	"math"

	"deltabot/internal/analysis/indicator"
	"deltabot/internal/config"
	"deltabot/internal/types"
)

const TypeRSIReversion = "rsi_reversion"

type RSIParams struct {
	Period      int     `toml:"period"`
	Oversold    float64 `toml:"oversold"`
	Overbought  float64 `toml:"overbought"`
	Lookback    int     `toml:"lookback"`
	TrendPeriod int     `toml:"trend_period"`
	TrendFilter bool    `toml:"trend_filter"`
	MinStrength float64 `toml:"min_strength"`
}

func DefaultRSIParams() RSIParams {
	return RSIParams{Period: 14, Oversold: 30, Overbought: 70, Lookback: 5, TrendPeriod: 20, TrendFilter: true}
}

func (p RSIParams) validate() error {
	if p.Period <= 1 {
		return fmt.Errorf("period must be > 1")
	}
	if p.Oversold <= 0 || p.Overbought >= 100 || p.Oversold >= p.Overbought {
		return fmt.Errorf("thresholds must satisfy 0 < oversold < overbought < 100")
	}
	if p.Lookback <= 0 {
		return fmt.Errorf("lookback must be > 0")
	}
	if p.TrendFilter && p.TrendPeriod <= 0 {
		return fmt.Errorf("trend_period must be > 0 when trend_filter is on")
	}
	if p.MinStrength < 0 || p.MinStrength > 1 {
		return fmt.Errorf("min_strength must be within [0, 1]")
	}
	return nil
}

// RSIReversion goes long when RSI climbs back to or above the oversold level
// after a reading below it within the lookback, and short on the mirrored
// move through the overbought level.
type RSIReversion struct {
	id       string
	p        RSIParams
	rsiKey   string
	trendKey string
}

func NewRSIReversion(def config.StrategyConfig) (Strategy, error) {
	p := DefaultRSIParams()
	if err := config.DecodeParams(def.Params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &RSIReversion{
		id:       def.ID,
		p:        p,
		rsiKey:   indicator.RSIOf(p.Period).Name,
		trendKey: indicator.SMA(p.TrendPeriod).Name,
	}, nil
}

func (r *RSIReversion) ID() string   { return r.id }
func (r *RSIReversion) Type() string { return TypeRSIReversion }

// Lookback covers the current tick plus the search window behind it.
func (r *RSIReversion) Lookback() int { return r.p.Lookback + 1 }

func (r *RSIReversion) Requirements() []indicator.Spec {
	specs := []indicator.Spec{indicator.RSIOf(r.p.Period)}
	if r.p.TrendFilter {
		specs = append(specs, indicator.SMA(r.p.TrendPeriod))
	}
	return specs
}

func (r *RSIReversion) Evaluate(symbol string, history []indicator.IndicatorSet) (types.Signal, bool) {
	if len(history) < 2 {
		return types.Signal{}, false
	}
	cur := history[len(history)-1]
	rsi, ok := cur.Value(r.rsiKey)
	if !ok {
		return types.Signal{}, false
	}
	prev, ok := r.previousRSI(history)
	if !ok {
		return types.Signal{}, false
	}
	var dir types.Direction
	switch {
	case prev < r.p.Oversold && rsi >= r.p.Oversold:
		dir = types.DirectionLong
	case prev > r.p.Overbought && rsi <= r.p.Overbought:
		dir = types.DirectionShort
	default:
		return types.Signal{}, false
	}
	strength := r.strength(cur, dir, prev, rsi)
	reason := fmt.Sprintf("rsi %.1f -> %.1f", prev, rsi)
	if r.p.TrendFilter && r.againstTrend(cur, dir) {
		strength *= 0.8
		reason += " (against trend)"
	}
	if strength < r.p.MinStrength {
		return types.Signal{}, false
	}
	return types.Signal{
		Symbol:     symbol,
		Direction:  dir,
		Kind:       types.KindEntry,
		Strength:   strength,
		Confidence: r.confidence(history),
		StrategyID: r.id,
		Timestamp:  cur.Timestamp,
		Price:      cur.Price,
		Reason:     reason,
	}, true
}

// previousRSI returns the most recent valid RSI before the current tick,
// searching at most Lookback ticks back.
func (r *RSIReversion) previousRSI(history []indicator.IndicatorSet) (float64, bool) {
	stop := len(history) - 1 - r.p.Lookback
	if stop < 0 {
		stop = 0
	}
	for i := len(history) - 2; i >= stop; i-- {
		if v, ok := history[i].Value(r.rsiKey); ok {
			return v, true
		}
	}
	return 0, false
}

func (r *RSIReversion) againstTrend(cur indicator.IndicatorSet, dir types.Direction) bool {
	trend, ok := cur.Value(r.trendKey)
	if !ok {
		return false
	}
	price := cur.Price.InexactFloat64()
	if dir == types.DirectionLong {
		return price < trend
	}
	return price > trend
}

func (r *RSIReversion) strength(cur indicator.IndicatorSet, dir types.Direction, prev, rsi float64) float64 {
	var strength float64
	change := rsi - prev
	if dir == types.DirectionLong {
		strength += math.Min((r.p.Oversold-prev)/r.p.Oversold, 0.4)
		if change > 0 {
			strength += math.Min(change/10, 0.2)
		}
	} else {
		strength += math.Min((prev-r.p.Overbought)/(100-r.p.Overbought), 0.4)
		if change < 0 {
			strength += math.Min(-change/10, 0.2)
		}
	}
	price := cur.Price.InexactFloat64()
	if lower, ok := cur.Value(indicator.BBLower); ok && dir == types.DirectionLong && price < lower {
		strength += 0.1
	}
	if upper, ok := cur.Value(indicator.BBUpper); ok && dir == types.DirectionShort && price > upper {
		strength += 0.1
	}
	return clamp01(strength)
}

// confidence rewards a consistent RSI slope across the history.
func (r *RSIReversion) confidence(history []indicator.IndicatorSet) float64 {
	var vals []float64
	for _, set := range history {
		if v, ok := set.Value(r.rsiKey); ok {
			vals = append(vals, v)
		}
	}
	conf := 0.5
	if len(vals) >= 3 {
		slope := (vals[len(vals)-1] - vals[0]) / float64(len(vals)-1)
		if math.Abs(slope) > 0.5 {
			conf += 0.2
		}
	}
	return clamp01(conf)
}
