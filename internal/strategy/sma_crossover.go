package strategy

import (
	"fmt"
	"math"

	"deltabot/internal/analysis/indicator"
	"deltabot/internal/config"
	"deltabot/internal/types"
)

const TypeSMACrossover = "sma_crossover"

// SMAParams configures the moving average crossover.
type SMAParams struct {
	ShortPeriod   int     `toml:"short_period"`
	LongPeriod    int     `toml:"long_period"`
	RSIPeriod     int     `toml:"rsi_period"`
	RSIOverbought float64 `toml:"rsi_overbought"`
	RSIOversold   float64 `toml:"rsi_oversold"`
	MinStrength   float64 `toml:"min_strength"`
}

func DefaultSMAParams() SMAParams {
	return SMAParams{ShortPeriod: 10, LongPeriod: 30, RSIPeriod: 14, RSIOverbought: 70, RSIOversold: 30}
}

func (p SMAParams) validate() error {
	if p.ShortPeriod <= 0 || p.LongPeriod <= 0 {
		return fmt.Errorf("periods must be > 0")
	}
	if p.ShortPeriod >= p.LongPeriod {
		return fmt.Errorf("short_period (%d) must be below long_period (%d)", p.ShortPeriod, p.LongPeriod)
	}
	if p.RSIOversold >= p.RSIOverbought {
		return fmt.Errorf("rsi_oversold must be below rsi_overbought")
	}
	if p.MinStrength < 0 || p.MinStrength > 1 {
		return fmt.Errorf("min_strength must be within [0, 1]")
	}
	return nil
}

// SMACrossover signals on the tick the short average crosses the long one.
// The previous tick must carry both averages, so the first tick with valid
// indicators never signals.
type SMACrossover struct {
	id                string
	p                 SMAParams
	shortKey, longKey string
	rsiKey            string
}

func NewSMACrossover(def config.StrategyConfig) (Strategy, error) {
	p := DefaultSMAParams()
	if err := config.DecodeParams(def.Params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &SMACrossover{
		id:       def.ID,
		p:        p,
		shortKey: indicator.SMA(p.ShortPeriod).Name,
		longKey:  indicator.SMA(p.LongPeriod).Name,
		rsiKey:   indicator.RSIOf(p.RSIPeriod).Name,
	}, nil
}

func (s *SMACrossover) ID() string    { return s.id }
func (s *SMACrossover) Type() string  { return TypeSMACrossover }
func (s *SMACrossover) Lookback() int { return 2 }

func (s *SMACrossover) Requirements() []indicator.Spec {
	return []indicator.Spec{indicator.SMA(s.p.ShortPeriod), indicator.SMA(s.p.LongPeriod), indicator.RSIOf(s.p.RSIPeriod)}
}

func (s *SMACrossover) Evaluate(symbol string, history []indicator.IndicatorSet) (types.Signal, bool) {
	if len(history) < 2 {
		return types.Signal{}, false
	}
	prev, cur := history[len(history)-2], history[len(history)-1]
	prevShort, ok1 := prev.Value(s.shortKey)
	prevLong, ok2 := prev.Value(s.longKey)
	curShort, ok3 := cur.Value(s.shortKey)
	curLong, ok4 := cur.Value(s.longKey)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return types.Signal{}, false
	}
	var dir types.Direction
	switch {
	case prevShort < prevLong && curShort >= curLong:
		dir = types.DirectionLong
	case prevShort > prevLong && curShort <= curLong:
		dir = types.DirectionShort
	default:
		return types.Signal{}, false
	}
	strength := s.strength(cur, curShort, curLong)
	rsi, hasRSI := cur.Value(s.rsiKey)
	if hasRSI {
		if dir == types.DirectionLong && rsi > s.p.RSIOverbought {
			strength *= 0.7
		}
		if dir == types.DirectionShort && rsi < s.p.RSIOversold {
			strength *= 0.7
		}
	}
	if strength < s.p.MinStrength {
		return types.Signal{}, false
	}
	return types.Signal{
		Symbol:     symbol,
		Direction:  dir,
		Kind:       types.KindEntry,
		Strength:   strength,
		Confidence: s.confidence(cur, dir),
		StrategyID: s.id,
		Timestamp:  cur.Timestamp,
		Price:      cur.Price,
		Reason:     fmt.Sprintf("sma%d %.4f crossed sma%d %.4f", s.p.ShortPeriod, curShort, s.p.LongPeriod, curLong),
	}, true
}

// strength scores the gap between averages, RSI context and momentum.
func (s *SMACrossover) strength(cur indicator.IndicatorSet, short, long float64) float64 {
	price := cur.Price.InexactFloat64()
	if price <= 0 {
		return 0
	}
	strength := math.Min(math.Abs(short-long)/price*100/2, 0.4)
	if rsi, ok := cur.Value(s.rsiKey); ok {
		switch {
		case rsi < s.p.RSIOversold, rsi > s.p.RSIOverbought:
			strength += 0.2
		case rsi >= 40 && rsi <= 60:
			strength += 0.1
		}
	}
	if change, ok := cur.Value(indicator.PriceChange); ok {
		strength += math.Min(math.Abs(change)*10, 0.2)
	}
	return clamp01(strength)
}

// confidence starts at 0.5, rises when RSI sits on the signal's side of
// neutral and falls on large single-tick moves.
func (s *SMACrossover) confidence(cur indicator.IndicatorSet, dir types.Direction) float64 {
	conf := 0.5
	if rsi, ok := cur.Value(s.rsiKey); ok {
		if (dir == types.DirectionLong && rsi > s.p.RSIOversold && rsi <= 60) ||
			(dir == types.DirectionShort && rsi < s.p.RSIOverbought && rsi >= 40) {
			conf += 0.2
		}
	}
	if change, ok := cur.Value(indicator.PriceChange); ok {
		if math.Abs(change) > 0.03 {
			conf -= 0.1
		} else {
			conf += 0.1
		}
	}
	return clamp01(conf)
}
