package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"deltabot/internal/config"
	"deltabot/internal/ledger"
	"deltabot/internal/logger"
	"deltabot/internal/types"
)

var (
	hundred = decimal.NewFromInt(100)
	log     = logger.Component("risk")
)

// LedgerView is what the gate reads from the position ledger.
type LedgerView interface {
	Exposure() decimal.Decimal
	OpenCount() int
	RealizedSince(start time.Time) decimal.Decimal
	Positions() []ledger.Position
	CloseSignals(reason string, at time.Time) []types.Signal
}

// Limits are the gate's parameters. Percentages are fractions.
type Limits struct {
	RiskPerTrade     decimal.Decimal
	MaxDailyLoss     decimal.Decimal
	DrawdownLimit    decimal.Decimal
	MaxOpenPositions int
	MaxExposure      decimal.Decimal
	DefaultStop      decimal.Decimal
}

func LimitsFromConfig(cfg config.RiskConfig) Limits {
	return Limits{
		RiskPerTrade:     decimal.NewFromFloat(cfg.RiskPerTradePct).Div(hundred),
		MaxDailyLoss:     decimal.NewFromFloat(cfg.MaxDailyLoss),
		DrawdownLimit:    decimal.NewFromFloat(cfg.DrawdownLimitPct).Div(hundred),
		MaxOpenPositions: cfg.MaxOpenPositions,
		MaxExposure:      decimal.NewFromFloat(cfg.MaxExposure),
		DefaultStop:      decimal.NewFromFloat(cfg.StopLossPct).Div(hundred),
	}
}

// Validate rejects contradictory limits.
func (l Limits) Validate() error {
	one := decimal.NewFromInt(1)
	switch {
	case !l.RiskPerTrade.IsPositive() || l.RiskPerTrade.GreaterThan(one):
		return fmt.Errorf("risk per trade must be within (0, 1]")
	case !l.MaxDailyLoss.IsPositive():
		return fmt.Errorf("max daily loss must be positive")
	case !l.DrawdownLimit.IsPositive() || !l.DrawdownLimit.LessThan(one):
		return fmt.Errorf("drawdown limit must be within (0, 1)")
	case l.MaxOpenPositions <= 0:
		return fmt.Errorf("max open positions must be positive")
	case !l.MaxExposure.IsPositive():
		return fmt.Errorf("max exposure must be positive")
	case !l.DefaultStop.IsPositive() || !l.DefaultStop.LessThan(one):
		return fmt.Errorf("default stop must be within (0, 1)")
	}
	return nil
}

// Instrument bounds order quantities for one symbol.
type Instrument struct {
	Symbol  string
	MinQty  decimal.Decimal
	MaxQty  decimal.Decimal
	QtyStep decimal.Decimal
}

func InstrumentsFromConfig(items []config.InstrumentConfig) []Instrument {
	out := make([]Instrument, 0, len(items))
	for _, it := range items {
		out = append(out, Instrument{
			Symbol:  it.Symbol,
			MinQty:  decimal.NewFromFloat(it.MinQty),
			MaxQty:  decimal.NewFromFloat(it.MaxQty),
			QtyStep: decimal.NewFromFloat(it.QtyStep),
		})
	}
	return out
}

// Options tune trading-day handling.
type Options struct {
	Location      *time.Location
	ResetOnNewDay bool
}

// Gate approves, resizes or rejects signals and owns the risk State.
type Gate struct {
	limits      Limits
	instruments map[string]Instrument
	opts        Options

	mu        sync.RWMutex
	state     State
	listeners []Listener
	nowFn     func() time.Time
}

func NewGate(limits Limits, instruments []Instrument, opts Options) (*Gate, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("risk limits: %w", err)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	g := &Gate{
		limits:      limits,
		instruments: make(map[string]Instrument, len(instruments)),
		opts:        opts,
		state:       State{Level: LevelLow},
		nowFn:       time.Now,
	}
	for _, inst := range instruments {
		if inst.MaxQty.IsPositive() && inst.MinQty.GreaterThan(inst.MaxQty) {
			return nil, fmt.Errorf("instrument %s: min qty above max qty", inst.Symbol)
		}
		g.instruments[strings.ToUpper(inst.Symbol)] = inst
	}
	return g, nil
}

// SetClock overrides the time source. Tests only.
func (g *Gate) SetClock(now func() time.Time) { g.nowFn = now }

// OnTransition registers a listener for halt, level and session changes.
// Listeners run synchronously on the engine goroutine and must not block.
func (g *Gate) OnTransition(fn Listener) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.listeners = append(g.listeners, fn)
	g.mu.Unlock()
}

// State returns a copy of the current risk state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Gate) Limits() Limits { return g.limits }

// Seed sets the initial peak equity, e.g. from persisted history.
func (g *Gate) Seed(peak decimal.Decimal) {
	g.mutate("seed", func(s *State) {
		if peak.GreaterThan(s.PeakEquity) {
			s.PeakEquity = peak
		}
	})
}

// Assess refreshes the state at the start of a tick and applies the loss
// and drawdown limits before any new signal is considered. It returns
// emergency close signals when the drawdown limit trips on this call.
func (g *Gate) Assess(account types.AccountState, view LedgerView) []types.Signal {
	g.refresh(account, view)
	g.checkDailyLoss()
	return g.checkDrawdown(view)
}

// Observe refreshes exposure, counts and equity after fills without
// re-evaluating limits.
func (g *Gate) Observe(account types.AccountState, view LedgerView) {
	g.refresh(account, view)
}

// Evaluate runs sig through the ordered checks.
func (g *Gate) Evaluate(sig types.Signal, account types.AccountState, view LedgerView) Decision {
	st := g.refresh(account, view)
	if sig.IsClose() {
		qty := sig.SuggestedQty
		if !qty.IsPositive() {
			return g.decided(sig, withExposure(Rejected(ReasonInvalidSignal, "close without quantity"), st))
		}
		return g.decided(sig, withExposure(Approved(qty), st))
	}
	if !sig.IsEntry() {
		return g.decided(sig, withExposure(Rejected(ReasonInvalidSignal, "not an entry"), st))
	}

	// 1
	if st.TradingHalted {
		return g.decided(sig, withExposure(Rejected(ReasonTradingHalted, string(st.HaltReason)), st))
	}
	// 2
	if st.OpenPositions >= g.limits.MaxOpenPositions {
		return g.decided(sig, withExposure(Rejected(ReasonPositionLimitReached,
			fmt.Sprintf("%d open >= %d", st.OpenPositions, g.limits.MaxOpenPositions)), st))
	}
	// 3
	sized := g.size(sig, account)
	if !sized.Allowed() {
		return g.decided(sig, withExposure(sized, st))
	}
	// 4
	after := st.Exposure.Add(sized.Quantity.Mul(sig.Price))
	if after.GreaterThan(g.limits.MaxExposure) {
		return g.decided(sig, withExposure(Rejected(ReasonExposureLimitExceeded,
			fmt.Sprintf("exposure %s > %s", after.StringFixed(2), g.limits.MaxExposure.StringFixed(2))), st))
	}
	// 5
	if g.checkDailyLoss() {
		return g.decided(sig, withExposure(Rejected(ReasonDailyLossLimitReached,
			fmt.Sprintf("daily realized %s", g.State().DailyRealizedPnL.StringFixed(2))), st))
	}
	// 6
	if closes := g.checkDrawdown(view); closes != nil || g.drawdownBreached() {
		d := Rejected(ReasonDrawdownLimitExceeded, fmt.Sprintf("drawdown %s%%", g.State().Drawdown.Mul(hundred).StringFixed(2)))
		d.EmergencyCloses = closes
		return g.decided(sig, withExposure(d, st))
	}
	return g.decided(sig, withExposure(sized, st))
}

// size applies step 3: equity * risk / stop distance, clamped to the
// instrument maximum and floored to its step.
func (g *Gate) size(sig types.Signal, account types.AccountState) Decision {
	inst, ok := g.instruments[strings.ToUpper(sig.Symbol)]
	if !ok {
		return Rejected(ReasonUnknownInstrument, sig.Symbol)
	}
	if !account.Equity.IsPositive() {
		return Rejected(ReasonNoEquity, account.Equity.String())
	}
	if !sig.Price.IsPositive() {
		return Rejected(ReasonInvalidSignal, "signal without price")
	}
	distance := sig.Price.Sub(sig.StopLoss).Abs()
	if !sig.StopLoss.IsPositive() || distance.IsZero() {
		distance = sig.Price.Mul(g.limits.DefaultStop)
	}
	qty := account.Equity.Mul(g.limits.RiskPerTrade).Div(distance)
	resized := false
	detail := ""
	if inst.MaxQty.IsPositive() && qty.GreaterThan(inst.MaxQty) {
		detail = fmt.Sprintf("clamped %s to max %s", qty.StringFixed(6), inst.MaxQty)
		qty = inst.MaxQty
		resized = true
	}
	if sig.SuggestedQty.IsPositive() && sig.SuggestedQty.LessThan(qty) {
		detail = fmt.Sprintf("capped %s to suggested %s", qty.StringFixed(6), sig.SuggestedQty)
		qty = sig.SuggestedQty
		resized = true
	}
	if inst.QtyStep.IsPositive() {
		qty = qty.Div(inst.QtyStep).Floor().Mul(inst.QtyStep)
	}
	if !qty.IsPositive() || qty.LessThan(inst.MinQty) {
		return Rejected(ReasonSizeBelowMinimum, fmt.Sprintf("size %s below min %s", qty, inst.MinQty))
	}
	if resized {
		return Resized(qty, detail)
	}
	return Approved(qty)
}

func withExposure(d Decision, st State) Decision {
	d.Exposure = st.Exposure
	return d
}

func (g *Gate) decided(sig types.Signal, d Decision) Decision {
	switch d.Outcome {
	case OutcomeRejected:
		log.Infof("rejected %s: %s %s", sig, d.Reason, d.Detail)
	case OutcomeResized:
		log.Infof("resized %s to %s: %s", sig, d.Quantity, d.Detail)
	default:
		log.Debugf("approved %s qty=%s", sig, d.Quantity)
	}
	return d
}

// refresh recomputes derived fields from the ledger and account. It also
// rolls the trading day.
func (g *Gate) refresh(account types.AccountState, view LedgerView) State {
	now := g.nowFn()
	day, dayStart := g.tradingDay(now)
	exposure := view.Exposure()
	open := view.OpenCount()
	realized := view.RealizedSince(dayStart)
	positions := view.Positions()
	return g.mutate("refresh", func(s *State) {
		if s.SessionDay != day {
			if s.SessionDay != "" && g.opts.ResetOnNewDay && s.HaltReason == ReasonDailyLossLimitReached {
				s.TradingHalted = false
				s.HaltReason = ReasonNone
				log.Infof("trading day %s started, daily loss halt cleared", day)
			}
			s.SessionDay = day
		}
		s.Exposure = exposure
		s.OpenPositions = open
		s.DailyRealizedPnL = realized
		s.UpdatedAt = now
		if account.Equity.IsPositive() {
			s.Equity = account.Equity
			if account.Equity.GreaterThan(s.PeakEquity) {
				s.PeakEquity = account.Equity
			}
		}
		if s.PeakEquity.IsPositive() && s.Equity.IsPositive() {
			s.Drawdown = s.PeakEquity.Sub(s.Equity).Div(s.PeakEquity)
		}
		if s.Level != LevelCritical || !s.TradingHalted {
			s.Level = g.score(*s, positions)
		}
	})
}

// score follows a points model over exposure, open risk, drawdown and
// daily P&L.
func (g *Gate) score(s State, positions []ledger.Position) Level {
	if !s.Equity.IsPositive() {
		return LevelMedium
	}
	points := 0
	exposureRatio := s.Exposure.Div(s.Equity).InexactFloat64()
	switch {
	case exposureRatio > 0.8:
		points += 3
	case exposureRatio > 0.6:
		points += 2
	case exposureRatio > 0.4:
		points++
	}
	potential := decimal.Zero
	for _, p := range positions {
		if p.StopLoss.IsPositive() && p.MarkPrice.IsPositive() {
			potential = potential.Add(p.MarkPrice.Sub(p.StopLoss).Abs().Mul(p.Quantity))
		}
	}
	positionRisk := potential.Div(s.Equity).InexactFloat64()
	switch {
	case positionRisk > 0.1:
		points += 3
	case positionRisk > 0.05:
		points += 2
	case positionRisk > 0.02:
		points++
	}
	dd := s.Drawdown.InexactFloat64()
	limit := g.limits.DrawdownLimit.InexactFloat64()
	switch {
	case dd > limit:
		points += 4
	case dd > limit*0.7:
		points += 2
	case dd > limit*0.5:
		points++
	}
	pnl := s.DailyRealizedPnL.InexactFloat64()
	maxLoss := g.limits.MaxDailyLoss.InexactFloat64()
	switch {
	case pnl <= -maxLoss:
		points += 4
	case pnl < -maxLoss*0.7:
		points += 2
	case pnl < -maxLoss*0.5:
		points++
	}
	switch {
	case points >= 6:
		return LevelCritical
	case points >= 4:
		return LevelHigh
	case points >= 2:
		return LevelMedium
	default:
		return LevelLow
	}
}

// checkDailyLoss halts when the day's realized loss reached the limit. It
// reports whether the limit is reached.
func (g *Gate) checkDailyLoss() bool {
	reached := false
	g.mutate(string(ReasonDailyLossLimitReached), func(s *State) {
		if s.DailyRealizedPnL.Neg().LessThan(g.limits.MaxDailyLoss) {
			return
		}
		reached = true
		if !s.TradingHalted {
			s.TradingHalted = true
			s.HaltReason = ReasonDailyLossLimitReached
			log.Errorf("daily realized loss %s reached limit %s, trading halted",
				s.DailyRealizedPnL.StringFixed(2), g.limits.MaxDailyLoss.StringFixed(2))
		}
	})
	return reached
}

func (g *Gate) drawdownBreached() bool {
	st := g.State()
	return st.Drawdown.GreaterThan(g.limits.DrawdownLimit)
}

// checkDrawdown trips the critical state once per breach and returns one
// close signal per open position on that call.
func (g *Gate) checkDrawdown(view LedgerView) []types.Signal {
	tripped := false
	g.mutate(string(ReasonDrawdownLimitExceeded), func(s *State) {
		if !s.Drawdown.GreaterThan(g.limits.DrawdownLimit) {
			return
		}
		if s.Level == LevelCritical && s.TradingHalted && s.HaltReason == ReasonDrawdownLimitExceeded {
			return
		}
		s.Level = LevelCritical
		s.TradingHalted = true
		s.HaltReason = ReasonDrawdownLimitExceeded
		tripped = true
		log.Errorf("drawdown %s%% exceeds limit %s%%, halting and liquidating",
			s.Drawdown.Mul(hundred).StringFixed(2), g.limits.DrawdownLimit.Mul(hundred).StringFixed(2))
	})
	if !tripped {
		return nil
	}
	closes := view.CloseSignals("emergency: drawdown limit", g.nowFn())
	if closes == nil {
		closes = []types.Signal{}
	}
	return closes
}

// Reset is the explicit external reset: it clears the halt and returns the
// level to the scored value. Peak equity restarts from current equity.
func (g *Gate) Reset(reason string) {
	g.mutate("reset: "+reason, func(s *State) {
		s.TradingHalted = false
		s.HaltReason = ReasonNone
		s.Level = LevelLow
		if s.Equity.IsPositive() {
			s.PeakEquity = s.Equity
			s.Drawdown = decimal.Zero
		}
	})
	log.Warnf("risk state reset: %s", reason)
}

// Halt stops new entries on operator request.
func (g *Gate) Halt(reason string) {
	g.mutate("halt: "+reason, func(s *State) {
		if !s.TradingHalted {
			s.TradingHalted = true
			s.HaltReason = ReasonOperatorHalt
		}
	})
}

func (g *Gate) tradingDay(now time.Time) (string, time.Time) {
	local := now.In(g.opts.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.opts.Location)
	return start.Format("2006-01-02"), start
}

// mutate is the single write path of State. Listeners are told about halt,
// level and session changes after the lock is released.
func (g *Gate) mutate(cause string, fn func(*State)) State {
	g.mu.Lock()
	before := g.state
	fn(&g.state)
	after := g.state
	var listeners []Listener
	if significant(before, after) {
		listeners = append(listeners, g.listeners...)
	}
	g.mu.Unlock()
	if len(listeners) > 0 {
		tr := Transition{From: before, To: after, Cause: cause, At: g.nowFn()}
		for _, fn := range listeners {
			fn(tr)
		}
	}
	return after
}

func significant(a, b State) bool {
	return a.TradingHalted != b.TradingHalted || a.Level != b.Level ||
		a.HaltReason != b.HaltReason || a.SessionDay != b.SessionDay
}
