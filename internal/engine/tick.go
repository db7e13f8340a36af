package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"deltabot/internal/analysis/indicator"
	"deltabot/internal/ledger"
	"deltabot/internal/market"
	"deltabot/internal/risk"
	"deltabot/internal/store"
	"deltabot/internal/types"
)

// Tick runs one pass of the pipeline. Failures of single steps are
// collected and returned; none of them stops the pass. Cancelling ctx only
// cuts order retries short; the rest of the pass runs detached from it.
func (e *Engine) Tick(ctx context.Context) error {
	work := context.WithoutCancel(ctx)
	start := time.Now()
	e.ticks++
	e.executed = false
	now := e.nowFn()
	var errs []error

	e.ingest()
	e.applyOperatorRequests()
	e.markPositions()
	if err := e.refreshAccount(work); err != nil {
		errs = append(errs, err)
	}
	if !e.haveAccount {
		// never size or assess against an unknown balance
		err := errors.Join(append(errs, errors.New("no account state yet, skipping risk and strategies"))...)
		e.finishTick(now, start, err)
		return err
	}

	handled := make(map[string]bool)
	for _, sig := range e.gate.Assess(e.account, e.ledger) {
		e.execute(ctx, sig, sig.SuggestedQty, handled)
	}
	for _, p := range e.ledger.PendingCloses() {
		if handled[p.ID] {
			continue
		}
		log.Infof("retrying close of %s %s", p.Symbol, p.ID)
		sig := p.CloseSignal("retry_close", now)
		e.execute(ctx, sig, sig.SuggestedQty, handled)
	}
	for _, sig := range e.ledger.ProtectiveExits(now) {
		e.submit(ctx, sig, handled)
	}

	e.rebuildStrategies()
	for _, symbol := range e.opts.Symbols {
		e.evaluateSymbol(ctx, symbol, handled)
	}

	if e.opts.ReconcileEvery > 0 && e.ticks%uint64(e.opts.ReconcileEvery) == 0 {
		if err := e.reconcile(work, now); err != nil {
			errs = append(errs, err)
		}
	}
	if e.executed {
		if err := e.refreshAccount(work); err != nil {
			errs = append(errs, err)
		}
	}
	e.gate.Observe(e.account, e.ledger)
	if e.opts.SnapshotEvery > 0 && e.ticks%uint64(e.opts.SnapshotEvery) == 0 {
		_ = e.sink.SavePositions(work, now, e.ledger.Snapshot())
	}
	err := errors.Join(errs...)
	e.finishTick(now, start, err)
	return err
}

func (e *Engine) finishTick(now, start time.Time, err error) {
	e.obs.ObserveRisk(e.gate.State())
	e.obs.ObserveTick(time.Since(start), err)
	e.publishStatus(now, err)
}

// ingest commits everything the feeds queued since the last tick.
func (e *Engine) ingest() {
	for _, snap := range e.queue.Drain() {
		if err := e.market.Record(snap); err != nil {
			if errors.Is(err, market.ErrOutOfOrderData) {
				e.outOfOrder.Add(1)
			}
			log.Warnf("dropping snapshot: %v", err)
		}
	}
}

func (e *Engine) applyOperatorRequests() {
	if reason := e.resetReq.Swap(nil); reason != nil {
		e.gate.Reset(*reason)
	}
	if reason := e.haltReq.Swap(nil); reason != nil {
		e.gate.Halt(*reason)
	}
}

func (e *Engine) markPositions() {
	for _, symbol := range e.opts.Symbols {
		if snap, ok := e.market.Latest(symbol); ok && snap.Last.IsPositive() {
			e.ledger.Mark(symbol, snap.Last)
		}
	}
}

// refreshAccount fetches the balance, keeping the last known one on error.
func (e *Engine) refreshAccount(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.BalanceTimeout)
	defer cancel()
	bal, err := e.exchange.Balance(ctx)
	if err != nil {
		if e.haveAccount {
			log.Warnf("balance unavailable, using last known equity %s: %v", e.account.Equity.StringFixed(2), err)
		}
		return fmt.Errorf("balance: %w", err)
	}
	e.account = bal.Account()
	e.haveAccount = true
	return nil
}

func (e *Engine) rebuildStrategies() {
	v := e.source.Version()
	if v == e.setVersion {
		return
	}
	snap := e.source.Snapshot()
	set, err := e.registry.Build(snap.Strategies)
	if err != nil {
		log.Errorf("strategy reload v%d rejected, keeping v%d: %v", v, e.setVersion, err)
		e.setVersion = v
		return
	}
	e.installSet(set, snap.Version)
}

func (e *Engine) evaluateSymbol(ctx context.Context, symbol string, handled map[string]bool) {
	latest, ok := e.market.Latest(symbol)
	if !ok {
		return
	}
	if seen, ok := e.lastSeen[symbol]; ok && !latest.Timestamp.After(seen) {
		// no new data for this symbol
		return
	}
	e.lastSeen[symbol] = latest.Timestamp

	window, _ := e.market.Window(symbol, e.market.Capacity())
	set := e.calc.Compute(symbol, window)
	h := append(e.history[symbol], set)
	if n := e.historyLen(); len(h) > n {
		h = append([]indicator.IndicatorSet(nil), h[len(h)-n:]...)
	}
	e.history[symbol] = h

	sig, ok := e.set.Evaluate(symbol, h)
	if !ok || sig.Direction == types.DirectionFlat {
		return
	}
	e.obs.ObserveSignal(sig)
	mapped, ok := e.mapSignal(sig, handled)
	if !ok {
		return
	}
	e.submit(ctx, mapped, handled)
}

// mapSignal turns a directional strategy signal into an entry when the
// symbol is flat, or a close of the active position when it points the
// other way. Signals agreeing with the active position are dropped.
func (e *Engine) mapSignal(sig types.Signal, handled map[string]bool) (types.Signal, bool) {
	pos, exists := e.ledger.Active(sig.Symbol)
	if !exists {
		sig.Kind = types.KindEntry
		return e.protection.Apply(sig), true
	}
	if handled[pos.ID] || pos.InFlight != "" || pos.Status != ledger.StatusOpen {
		return types.Signal{}, false
	}
	if pos.Side == sig.Direction {
		log.Debugf("holding %s %s, ignoring %s", pos.Symbol, pos.Side, sig)
		return types.Signal{}, false
	}
	c := pos.CloseSignal("reverse_signal", sig.Timestamp)
	c.StrategyID = sig.StrategyID
	c.Strength = sig.Strength
	c.Confidence = sig.Confidence
	if sig.Price.IsPositive() {
		c.Price = sig.Price
	}
	return c, true
}

// submit gates sig and executes it when allowed.
func (e *Engine) submit(ctx context.Context, sig types.Signal, handled map[string]bool) {
	dec := e.gate.Evaluate(sig, e.account, e.ledger)
	e.obs.ObserveDecision(dec)
	e.recordDecision(ctx, sig, dec)
	for _, c := range dec.EmergencyCloses {
		e.execute(ctx, c, c.SuggestedQty, handled)
	}
	if dec.Allowed() {
		e.execute(ctx, sig, dec.Quantity, handled)
	}
}

// execute hands one order to the executor. Each position is acted on at
// most once per tick.
func (e *Engine) execute(ctx context.Context, sig types.Signal, qty decimal.Decimal, handled map[string]bool) bool {
	if sig.IsClose() {
		if handled[sig.PositionID] {
			return false
		}
		handled[sig.PositionID] = true
	} else if ctx.Err() != nil {
		log.Infof("shutting down, not opening %s", sig)
		return false
	}
	e.executed = true
	o, err := e.executor.Execute(ctx, sig, qty)
	if o.PositionID != "" {
		handled[o.PositionID] = true
	}
	if err != nil {
		log.Warnf("%s %s qty=%s failed: %v", sig.Kind, sig, qty, err)
		return false
	}
	log.Infof("%s %s %s qty=%s filled=%s avg=%s state=%s", sig.Kind, o.Symbol, o.Side, o.Quantity, o.FilledQty, o.AvgPrice, o.State)
	return true
}

func (e *Engine) recordDecision(ctx context.Context, sig types.Signal, dec risk.Decision) {
	rec := store.DecisionRecord{
		At:         sig.Timestamp,
		Symbol:     sig.Symbol,
		Direction:  string(sig.Direction),
		Kind:       string(sig.Kind),
		StrategyID: sig.StrategyID,
		Strength:   sig.Strength,
		Confidence: sig.Confidence,
		Price:      sig.Price,
		Outcome:    string(dec.Outcome),
		Quantity:   dec.Quantity,
		Reason:     string(dec.Reason),
		Detail:     dec.Detail,
	}
	if rec.At.IsZero() {
		rec.At = e.nowFn()
	}
	if err := e.sink.SaveDecision(context.WithoutCancel(ctx), rec); err != nil {
		log.Debugf("persist decision: %v", err)
	}
}

// reconcile compares the ledger with the venue. Remote positions unknown
// locally are adopted; other differences are logged as drift.
func (e *Engine) reconcile(ctx context.Context, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.BalanceTimeout)
	defer cancel()
	remote, err := e.exchange.Positions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	seen := make(map[string]bool, len(remote))
	for _, rp := range remote {
		if !rp.Quantity.IsPositive() {
			continue
		}
		seen[rp.Symbol] = true
		local, ok := e.ledger.Active(rp.Symbol)
		if !ok {
			entry := rp.EntryPrice
			if !entry.IsPositive() {
				entry = rp.MarkPrice
			}
			p, err := e.ledger.Adopt(rp.Symbol, rp.Side, rp.Quantity, entry, now)
			if err != nil {
				log.Warnf("reconcile: cannot adopt %s: %v", rp.Symbol, err)
				continue
			}
			log.Warnf("reconcile: adopted %s %s qty=%s entry=%s as %s", p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.ID)
			continue
		}
		if local.Status != ledger.StatusOpen || local.InFlight != "" {
			continue
		}
		if local.Side != rp.Side || !local.Quantity.Equal(rp.Quantity) {
			log.Warnf("reconcile: drift on %s local=%s %s remote=%s %s", rp.Symbol, local.Side, local.Quantity, rp.Side, rp.Quantity)
		}
	}
	for _, p := range e.ledger.Positions() {
		if p.Status == ledger.StatusOpen && !seen[p.Symbol] {
			log.Warnf("reconcile: %s %s open locally but not on %s", p.Symbol, p.ID, e.exchange.Name())
		}
	}
	return nil
}
