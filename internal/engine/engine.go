// Package engine runs the tick pipeline: market data in, risk-gated orders
// out. One goroutine owns every tick; other goroutines only read Status.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"deltabot/internal/analysis/indicator"
	"deltabot/internal/config"
	"deltabot/internal/execution"
	"deltabot/internal/gateway/exchange"
	"deltabot/internal/ledger"
	"deltabot/internal/logger"
	"deltabot/internal/market"
	"deltabot/internal/risk"
	"deltabot/internal/scheduler"
	"deltabot/internal/store"
	"deltabot/internal/strategy"
	"deltabot/internal/strategy/catalog"
	"deltabot/internal/types"
)

var log = logger.Component("engine")

type Options struct {
	Symbols         []string
	Mode            string
	TickInterval    time.Duration
	TickOffset      time.Duration
	RunImmediately  bool
	CloseOnShutdown bool
	ShutdownTimeout time.Duration
	// ReconcileEvery and SnapshotEvery count ticks; 0 disables.
	ReconcileEvery  int
	SnapshotEvery   int
	HistoryHeadroom int
	BalanceTimeout  time.Duration
	Indicators      indicator.Settings
	StopLossPct     float64
	TakeProfitPct   float64
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Symbols:         cfg.Symbols(),
		Mode:            strings.ToLower(cfg.Trading.Mode),
		TickInterval:    cfg.Engine.TickInterval,
		TickOffset:      cfg.Engine.TickOffset,
		RunImmediately:  cfg.Engine.RunImmediately,
		CloseOnShutdown: cfg.Engine.CloseOnShutdown,
		ShutdownTimeout: cfg.Engine.ShutdownTimeout,
		ReconcileEvery:  cfg.Engine.ReconcileEvery,
		SnapshotEvery:   cfg.Engine.SnapshotEvery,
		HistoryHeadroom: cfg.Engine.HistoryHeadroom,
		BalanceTimeout:  cfg.Execution.AttemptTimeout,
		Indicators:      indicator.DefaultSettings(),
		StopLossPct:     cfg.Risk.StopLossPct,
		TakeProfitPct:   cfg.Risk.TakeProfitPct,
	}
}

// StrategySource supplies versioned strategy definitions.
type StrategySource interface {
	Version() int64
	Snapshot() catalog.Snapshot
}

// Observer receives per-tick measurements. *metrics.Registry implements it.
type Observer interface {
	ObserveTick(d time.Duration, err error)
	ObserveSignal(sig types.Signal)
	ObserveDecision(d risk.Decision)
	ObserveOrder(kind, state string)
	ObserveRisk(st risk.State)
}

type nopObserver struct{}

func (nopObserver) ObserveTick(time.Duration, error) {}
func (nopObserver) ObserveSignal(types.Signal)       {}
func (nopObserver) ObserveDecision(risk.Decision)    {}
func (nopObserver) ObserveOrder(string, string)      {}
func (nopObserver) ObserveRisk(risk.State)           {}

// Deps are the collaborators the engine drives. Sink and Observer are
// optional.
type Deps struct {
	Market     *market.Store
	Queue      *market.Queue
	Gate       *risk.Gate
	Ledger     *ledger.Ledger
	Executor   *execution.Executor
	Exchange   exchange.Client
	Strategies StrategySource
	Registry   *strategy.Registry
	Sink       store.Sink
	Observer   Observer
}

type Engine struct {
	opts       Options
	market     *market.Store
	queue      *market.Queue
	gate       *risk.Gate
	ledger     *ledger.Ledger
	executor   *execution.Executor
	exchange   exchange.Client
	source     StrategySource
	registry   *strategy.Registry
	sink       store.Sink
	obs        Observer
	protection strategy.Protection

	// owned by the tick goroutine
	set         *strategy.Set
	setVersion  int64
	calc        *indicator.Calculator
	history     map[string][]indicator.IndicatorSet
	lastSeen    map[string]time.Time
	account     types.AccountState
	haveAccount bool
	ticks       uint64
	executed    bool

	outOfOrder atomic.Uint64
	resetReq   atomic.Pointer[string]
	haltReq    atomic.Pointer[string]
	status     atomic.Pointer[Status]

	nowFn func() time.Time
}

func New(opts Options, deps Deps) (*Engine, error) {
	switch {
	case deps.Market == nil, deps.Queue == nil, deps.Gate == nil, deps.Ledger == nil,
		deps.Executor == nil, deps.Exchange == nil, deps.Strategies == nil:
		return nil, errors.New("engine: missing dependency")
	}
	if len(opts.Symbols) == 0 {
		return nil, errors.New("engine: no symbols configured")
	}
	if deps.Registry == nil {
		deps.Registry = strategy.DefaultRegistry()
	}
	if deps.Sink == nil {
		deps.Sink = store.Nop{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.BalanceTimeout <= 0 {
		opts.BalanceTimeout = 5 * time.Second
	}
	if opts.HistoryHeadroom < 0 {
		opts.HistoryHeadroom = 0
	}
	if opts.Indicators == (indicator.Settings{}) {
		opts.Indicators = indicator.DefaultSettings()
	}
	symbols := make([]string, 0, len(opts.Symbols))
	for _, s := range opts.Symbols {
		symbols = append(symbols, strings.ToUpper(strings.TrimSpace(s)))
	}
	opts.Symbols = symbols

	e := &Engine{
		opts:       opts,
		market:     deps.Market,
		queue:      deps.Queue,
		gate:       deps.Gate,
		ledger:     deps.Ledger,
		executor:   deps.Executor,
		exchange:   deps.Exchange,
		source:     deps.Strategies,
		registry:   deps.Registry,
		sink:       deps.Sink,
		obs:        deps.Observer,
		protection: strategy.NewProtection(opts.StopLossPct, opts.TakeProfitPct),
		history:    make(map[string][]indicator.IndicatorSet),
		lastSeen:   make(map[string]time.Time),
		nowFn:      time.Now,
	}
	snap := e.source.Snapshot()
	set, err := e.registry.Build(snap.Strategies)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.installSet(set, snap.Version)

	e.executor.OnFinished(e.orderFinished)
	e.gate.OnTransition(e.riskChanged)
	e.publishStatus(e.nowFn(), nil)
	return e, nil
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.nowFn = now }

// Run ticks on the aligned schedule until ctx is cancelled. A tick in
// progress when ctx ends runs to completion, but its orders stop retrying
// and no new entries are sent; open positions are then closed on a fresh
// context if configured.
func (e *Engine) Run(ctx context.Context) error {
	sched := scheduler.NewAlignedScheduler(e.opts.TickInterval, e.opts.TickOffset)
	sched.RunImmediately = e.opts.RunImmediately
	log.Infof("starting mode=%s symbols=%s interval=%s", e.opts.Mode, strings.Join(e.opts.Symbols, ","), e.opts.TickInterval)
	sched.Run(ctx, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("tick %d panic: %v", e.ticks, r)
			}
		}()
		if err := e.Tick(ctx); err != nil {
			log.Errorf("tick %d: %v", e.ticks, err)
		}
	})
	e.shutdown()
	return nil
}

func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.ShutdownTimeout)
	defer cancel()
	if e.opts.CloseOnShutdown {
		if n := e.CloseAll(ctx, "shutdown"); n > 0 {
			log.Infof("closed %d position(s) on shutdown", n)
		}
	}
	now := e.nowFn()
	_ = e.sink.SavePositions(ctx, now, e.ledger.Snapshot())
	e.publishStatus(now, nil)
	log.Infof("stopped after %d ticks", e.ticks)
}

// CloseAll submits a close for every open or closing position and returns
// how many closed completely. Must not run concurrently with Tick.
func (e *Engine) CloseAll(ctx context.Context, reason string) int {
	closed := 0
	handled := make(map[string]bool)
	for _, sig := range e.ledger.CloseSignals(reason, e.nowFn()) {
		if e.execute(ctx, sig, sig.SuggestedQty, handled) {
			if p, ok := e.ledger.Get(sig.PositionID); ok && p.Status == ledger.StatusClosed {
				closed++
			}
		}
	}
	if remaining := e.ledger.OpenCount(); remaining > 0 {
		log.Warnf("%d position(s) still open after %s close", remaining, reason)
	}
	return closed
}

// RequestReset queues an operator reset of the risk state, applied at the
// start of the next tick.
func (e *Engine) RequestReset(reason string) {
	if strings.TrimSpace(reason) == "" {
		reason = "operator"
	}
	e.resetReq.Store(&reason)
}

// RequestHalt queues an operator halt of new entries.
func (e *Engine) RequestHalt(reason string) {
	if strings.TrimSpace(reason) == "" {
		reason = "operator"
	}
	e.haltReq.Store(&reason)
}

func (e *Engine) installSet(set *strategy.Set, version int64) {
	e.set = set
	e.setVersion = version
	e.calc = indicator.NewCalculator(e.opts.Indicators, set.Requirements()...)
	e.market.Grow(e.calc.Lookback() + e.opts.HistoryHeadroom)
	ids := make([]string, 0, len(set.Strategies()))
	for _, s := range set.Strategies() {
		ids = append(ids, s.ID())
	}
	log.Infof("strategy set v%d: %s (indicator lookback %d)", version, strings.Join(ids, ","), e.calc.Lookback())
}

func (e *Engine) historyLen() int {
	if n := e.set.Lookback(); n > 2 {
		return n
	}
	return 2
}

func (e *Engine) orderFinished(o execution.Order) {
	e.obs.ObserveOrder(string(o.Kind), string(o.State))
	rec := store.OrderRecord{
		Token:           o.Token,
		PositionID:      o.PositionID,
		Symbol:          o.Symbol,
		Kind:            string(o.Kind),
		Side:            string(o.Side),
		State:           string(o.State),
		StrategyID:      o.Signal.StrategyID,
		Quantity:        o.Quantity,
		FilledQty:       o.FilledQty,
		AvgPrice:        o.AvgPrice,
		Fee:             o.Fee,
		Attempts:        o.Attempts,
		ExchangeOrderID: o.ExchangeOrderID,
		Duplicate:       o.Duplicate,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	if err := e.sink.SaveOrder(context.Background(), rec); err != nil {
		log.Debugf("persist order %s: %v", o.Token, err)
	}
}

func (e *Engine) riskChanged(tr risk.Transition) {
	if tr.Critical() {
		log.Errorf("risk %s -> %s halted=%v reason=%s (%s)", tr.From.Level, tr.To.Level, tr.To.TradingHalted, tr.To.HaltReason, tr.Cause)
	} else {
		log.Infof("risk %s -> %s halted=%v (%s)", tr.From.Level, tr.To.Level, tr.To.TradingHalted, tr.Cause)
	}
	e.obs.ObserveRisk(tr.To)
	rec := store.RiskEventRecord{
		At:            tr.At,
		Cause:         tr.Cause,
		FromLevel:     string(tr.From.Level),
		ToLevel:       string(tr.To.Level),
		Halted:        tr.To.TradingHalted,
		HaltReason:    string(tr.To.HaltReason),
		Equity:        tr.To.Equity,
		PeakEquity:    tr.To.PeakEquity,
		Drawdown:      tr.To.Drawdown,
		DailyRealized: tr.To.DailyRealizedPnL,
		Exposure:      tr.To.Exposure,
		OpenPositions: tr.To.OpenPositions,
	}
	if err := e.sink.SaveRiskEvent(context.Background(), rec); err != nil {
		log.Debugf("persist risk event: %v", err)
	}
}
