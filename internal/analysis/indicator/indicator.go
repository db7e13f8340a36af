package indicator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"deltabot/internal/market"
)

// Canonical names of the base indicator set.
const (
	SMAShort    = "sma_short"
	SMALong     = "sma_long"
	RSI         = "rsi"
	EMA         = "ema"
	BBUpper     = "bb_upper"
	BBMiddle    = "bb_middle"
	BBLower     = "bb_lower"
	MACD        = "macd"
	MACDSignal  = "macd_signal"
	MACDHist    = "macd_hist"
	VolumeSMA   = "volume_sma"
	PriceChange = "price_change"
)

type Kind string

const (
	KindSMA       Kind = "sma"
	KindEMA       Kind = "ema"
	KindRSI       Kind = "rsi"
	KindBBands    Kind = "bbands"
	KindMACD      Kind = "macd"
	KindVolumeSMA Kind = "volume_sma"
	KindChange    Kind = "price_change"
)

// Spec requests one indicator. Multi-output kinds (bbands, macd) write the
// fixed names above and ignore Name.
type Spec struct {
	Kind   Kind
	Name   string
	Period int
	// Slow and Signal are only used by MACD; Period is the fast length.
	Slow   int
	Signal int
	// Dev is the band width in standard deviations for bbands.
	Dev float64
}

// MinWindow is the number of closes required before the indicator is reported.
func (s Spec) MinWindow() int {
	switch s.Kind {
	case KindRSI:
		return s.Period + 1
	case KindMACD:
		return s.Slow + s.Signal - 1
	case KindChange:
		return 2
	default:
		return s.Period
	}
}

func SMA(period int) Spec {
	return Spec{Kind: KindSMA, Name: fmt.Sprintf("sma_%d", period), Period: period}
}
func EMAOf(period int) Spec {
	return Spec{Kind: KindEMA, Name: fmt.Sprintf("ema_%d", period), Period: period}
}
func RSIOf(period int) Spec {
	return Spec{Kind: KindRSI, Name: fmt.Sprintf("rsi_%d", period), Period: period}
}

// Settings describes the base set every tick computes.
type Settings struct {
	SMAShort     int
	SMALong      int
	RSIPeriod    int
	EMAPeriod    int
	BBPeriod     int
	BBDev        float64
	MACDFast     int
	MACDSlow     int
	MACDSignal   int
	VolumePeriod int
}

func DefaultSettings() Settings {
	return Settings{
		SMAShort:     10,
		SMALong:      30,
		RSIPeriod:    14,
		EMAPeriod:    20,
		BBPeriod:     20,
		BBDev:        2,
		MACDFast:     12,
		MACDSlow:     26,
		MACDSignal:   9,
		VolumePeriod: 20,
	}
}

func (s Settings) specs() []Spec {
	return []Spec{
		{Kind: KindSMA, Name: SMAShort, Period: s.SMAShort},
		{Kind: KindSMA, Name: SMALong, Period: s.SMALong},
		{Kind: KindRSI, Name: RSI, Period: s.RSIPeriod},
		{Kind: KindEMA, Name: EMA, Period: s.EMAPeriod},
		{Kind: KindBBands, Name: BBMiddle, Period: s.BBPeriod, Dev: s.BBDev},
		{Kind: KindMACD, Name: MACD, Period: s.MACDFast, Slow: s.MACDSlow, Signal: s.MACDSignal},
		{Kind: KindVolumeSMA, Name: VolumeSMA, Period: s.VolumePeriod},
		{Kind: KindChange, Name: PriceChange},
	}
}

// IndicatorSet is the per-tick derived view of one symbol. Missing keys mean
// the window was too short for that indicator.
type IndicatorSet struct {
	Symbol    string
	Timestamp time.Time
	Price     decimal.Decimal
	Values    map[string]float64
}

func (s IndicatorSet) Value(name string) (float64, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// Names returns the computed indicator names sorted, for logging.
func (s IndicatorSet) Names() []string {
	out := make([]string, 0, len(s.Values))
	for k := range s.Values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Calculator computes a fixed list of specs. It holds no per-symbol state.
type Calculator struct {
	specs    []Spec
	lookback int
}

// NewCalculator builds the base set from settings plus extra specs
// requested by strategies. Specs with duplicate names are computed once.
func NewCalculator(settings Settings, extra ...Spec) *Calculator {
	seen := make(map[string]bool)
	c := &Calculator{}
	for _, spec := range append(settings.specs(), extra...) {
		if spec.Kind != KindChange && spec.Period <= 0 {
			continue
		}
		if spec.Kind == KindMACD && (spec.Slow <= spec.Period || spec.Signal <= 0) {
			continue
		}
		if seen[spec.Name] {
			continue
		}
		seen[spec.Name] = true
		c.specs = append(c.specs, spec)
		if w := spec.MinWindow(); w > c.lookback {
			c.lookback = w
		}
	}
	return c
}

// Lookback is the longest window any configured indicator needs.
func (c *Calculator) Lookback() int { return c.lookback }

// Compute derives indicators from window (oldest first).
func (c *Calculator) Compute(symbol string, window []market.MarketSnapshot) IndicatorSet {
	set := IndicatorSet{Symbol: symbol, Values: make(map[string]float64)}
	n := len(window)
	if n == 0 {
		return set
	}
	last := window[n-1]
	set.Timestamp = last.Timestamp
	set.Price = last.Last
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, s := range window {
		closes[i] = s.Last.InexactFloat64()
		volumes[i] = s.Volume.InexactFloat64()
	}
	for _, spec := range c.specs {
		if n < spec.MinWindow() {
			continue
		}
		c.computeSpec(spec, closes, volumes, set.Values)
	}
	return set
}

func (c *Calculator) computeSpec(spec Spec, closes, volumes []float64, out map[string]float64) {
	switch spec.Kind {
	case KindSMA:
		put(out, spec.Name, tail(talib.Sma(closes, spec.Period)))
	case KindEMA:
		put(out, spec.Name, tail(talib.Ema(closes, spec.Period)))
	case KindRSI:
		// a window with no movement has no defined RSI
		if flat(closes[len(closes)-spec.Period-1:]) {
			return
		}
		put(out, spec.Name, tail(talib.Rsi(closes, spec.Period)))
	case KindBBands:
		upper, middle, lower := talib.BBands(closes, spec.Period, spec.Dev, spec.Dev, talib.SMA)
		put(out, BBUpper, tail(upper))
		put(out, BBMiddle, tail(middle))
		put(out, BBLower, tail(lower))
	case KindMACD:
		macd, signal, hist := talib.Macd(closes, spec.Period, spec.Slow, spec.Signal)
		put(out, MACD, tail(macd))
		put(out, MACDSignal, tail(signal))
		put(out, MACDHist, tail(hist))
	case KindVolumeSMA:
		put(out, spec.Name, tail(talib.Sma(volumes, spec.Period)))
	case KindChange:
		prev := closes[len(closes)-2]
		if prev != 0 {
			put(out, spec.Name, (closes[len(closes)-1]-prev)/prev)
		}
	}
}

func put(out map[string]float64, name string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	out[name] = v
}

func tail(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

func flat(series []float64) bool {
	for _, v := range series[1:] {
		if v != series[0] {
			return false
		}
	}
	return true
}
