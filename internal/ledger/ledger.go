package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"deltabot/internal/strategy"
	"deltabot/internal/types"
)

var (
	ErrUnknownPosition = errors.New("unknown position")
	ErrOrderInFlight   = errors.New("position already has an order in flight")
	ErrPositionExists  = errors.New("symbol already has an active position")
	ErrInvalidFill     = errors.New("invalid fill")
	ErrNotOpen         = errors.New("position is not open")
)

type Status string

const (
	StatusPending Status = "pending"
	StatusOpen    Status = "open"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
)

type FillKind string

const (
	FillEntry FillKind = "entry"
	FillClose FillKind = "close"
)

// Position is owned by the Ledger; callers only ever see copies.
type Position struct {
	ID            string
	Symbol        string
	Side          types.Direction
	EntryPrice    decimal.Decimal
	Quantity      decimal.Decimal
	Requested     decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	OpenedAt      time.Time
	ClosedAt      time.Time
	Status        Status
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	StrategyID    string
	// InFlight is the idempotency token of the outstanding order, if any.
	InFlight string
	// CloseToken is kept after a failed close so the retry reuses it.
	CloseToken string
}

// Notional values the position at its mark, or entry when unmarked.
func (p Position) Notional() decimal.Decimal {
	price := p.MarkPrice
	if !price.IsPositive() {
		price = p.EntryPrice
	}
	qty := p.Quantity
	if p.Status == StatusPending {
		qty = p.Requested
	}
	return qty.Mul(price).Abs()
}

func (p Position) Snapshot() types.PositionSnapshot {
	return types.PositionSnapshot{
		ID:            p.ID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		Status:        string(p.Status),
		EntryPrice:    p.EntryPrice,
		Quantity:      p.Quantity,
		StopLoss:      p.StopLoss,
		TakeProfit:    p.TakeProfit,
		MarkPrice:     p.MarkPrice,
		UnrealizedPnL: p.UnrealizedPnL,
		RealizedPnL:   p.RealizedPnL,
		OpenedAt:      p.OpenedAt,
		InFlight:      p.InFlight,
	}
}

// Fill is an execution applied against a position. Token deduplicates:
// a fill whose token was already applied is ignored.
type Fill struct {
	Token      string
	PositionID string
	Kind       FillKind
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Fee        decimal.Decimal
	Time       time.Time
	// Final marks the last fill of the order; it releases the in-flight slot.
	Final bool
}

type appliedFill struct {
	at         time.Time
	positionID string
}

type realizedEvent struct {
	at  time.Time
	pnl decimal.Decimal
}

// Ledger is the authoritative record of positions and P&L. The engine is the
// only writer; the mutex lets status readers take consistent snapshots.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*Position
	applied   map[string]appliedFill
	realized  []realizedEvent
	retention time.Duration
	nowFn     func() time.Time
}

func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*Position),
		applied:   make(map[string]appliedFill),
		retention: 72 * time.Hour,
		nowFn:     time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (l *Ledger) SetClock(now func() time.Time) { l.nowFn = now }

// Reserve records a pending entry for sig with the order token in flight.
func (l *Ledger) Reserve(sig types.Signal, qty decimal.Decimal, token string) (Position, error) {
	if !sig.IsEntry() {
		return Position{}, fmt.Errorf("reserve: %s is not an entry", sig)
	}
	if !qty.IsPositive() || token == "" {
		return Position{}, fmt.Errorf("reserve: qty and token are required")
	}
	symbol := strings.ToUpper(sig.Symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	if p := l.activeBySymbolLocked(symbol); p != nil {
		return Position{}, fmt.Errorf("%w: %s (%s)", ErrPositionExists, symbol, p.ID)
	}
	p := &Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       sig.Direction,
		Requested:  qty,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Status:     StatusPending,
		MarkPrice:  sig.Price,
		StrategyID: sig.StrategyID,
		InFlight:   token,
	}
	l.positions[p.ID] = p
	return *p, nil
}

// ApplyFill mutates the position for f. It returns false for duplicates.
func (l *Ledger) ApplyFill(f Fill) (bool, error) {
	if f.Token == "" {
		return false, fmt.Errorf("%w: missing token", ErrInvalidFill)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.applied[f.Token]; dup {
		return false, nil
	}
	p, ok := l.positions[f.PositionID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPosition, f.PositionID)
	}
	if f.Quantity.IsNegative() || (f.Quantity.IsPositive() && !f.Price.IsPositive()) {
		return false, fmt.Errorf("%w: qty=%s price=%s", ErrInvalidFill, f.Quantity, f.Price)
	}
	if f.Time.IsZero() {
		f.Time = l.nowFn()
	}
	switch f.Kind {
	case FillEntry:
		l.applyEntryLocked(p, f)
	case FillClose:
		if err := l.applyCloseLocked(p, f); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("%w: kind %q", ErrInvalidFill, f.Kind)
	}
	l.applied[f.Token] = appliedFill{at: f.Time, positionID: p.ID}
	if f.Final && p.InFlight == f.Token {
		p.InFlight = ""
	}
	// a partially filled close is spent; the remainder needs a fresh token
	if f.Final && f.Kind == FillClose && p.Status != StatusClosed {
		p.CloseToken = ""
	}
	l.remarkLocked(p)
	return true, nil
}

func (l *Ledger) applyEntryLocked(p *Position, f Fill) {
	if f.Quantity.IsZero() {
		return
	}
	total := p.Quantity.Add(f.Quantity)
	p.EntryPrice = p.EntryPrice.Mul(p.Quantity).Add(f.Price.Mul(f.Quantity)).Div(total)
	p.Quantity = total
	if !f.Fee.IsZero() {
		p.RealizedPnL = p.RealizedPnL.Sub(f.Fee)
		l.realized = append(l.realized, realizedEvent{at: f.Time, pnl: f.Fee.Neg()})
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = f.Time
	}
	if p.Status == StatusPending {
		p.Status = StatusOpen
	}
	if !p.MarkPrice.IsPositive() {
		p.MarkPrice = f.Price
	}
}

func (l *Ledger) applyCloseLocked(p *Position, f Fill) error {
	if p.Status != StatusOpen && p.Status != StatusClosing {
		return fmt.Errorf("%w: %s is %s", ErrNotOpen, p.ID, p.Status)
	}
	qty := decimal.Min(f.Quantity, p.Quantity)
	pnl := f.Price.Sub(p.EntryPrice).Mul(qty).Mul(p.Side.Sign()).Sub(f.Fee)
	p.RealizedPnL = p.RealizedPnL.Add(pnl)
	p.Quantity = p.Quantity.Sub(qty)
	l.realized = append(l.realized, realizedEvent{at: f.Time, pnl: pnl})
	if p.Quantity.IsZero() {
		p.Status = StatusClosed
		p.ClosedAt = f.Time
		p.CloseToken = ""
		p.UnrealizedPnL = decimal.Zero
	}
	l.pruneLocked(f.Time)
	return nil
}

// Release gives up an entry order that ended without (further) fills.
// A pending position with nothing filled disappears entirely.
func (l *Ledger) Release(positionID, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[positionID]
	if !ok || p.InFlight != token {
		return
	}
	p.InFlight = ""
	if p.Status == StatusPending && p.Quantity.IsZero() {
		delete(l.positions, positionID)
	}
}

// BeginClose claims the in-flight slot of an open position for a close
// order. A token left by an earlier failed close takes precedence over
// token, and the effective one is returned.
func (l *Ledger) BeginClose(positionID, token string) (string, Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[positionID]
	if !ok {
		return "", Position{}, fmt.Errorf("%w: %s", ErrUnknownPosition, positionID)
	}
	if p.Status != StatusOpen && p.Status != StatusClosing {
		return "", Position{}, fmt.Errorf("%w: %s is %s", ErrNotOpen, positionID, p.Status)
	}
	if p.InFlight != "" {
		return "", Position{}, fmt.Errorf("%w: %s holds %s", ErrOrderInFlight, positionID, p.InFlight)
	}
	if p.CloseToken == "" {
		p.CloseToken = token
	}
	p.InFlight = p.CloseToken
	p.Status = StatusClosing
	return p.CloseToken, *p, nil
}

// AbortClose frees the slot after a failed close. The position stays in
// closing so the engine retries it with the same token.
func (l *Ledger) AbortClose(positionID, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.positions[positionID]; ok && p.InFlight == token {
		p.InFlight = ""
	}
}

// Mark updates mark price and unrealized P&L for every live position of symbol.
func (l *Ledger) Mark(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	symbol = strings.ToUpper(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.positions {
		if p.Symbol == symbol && p.Status != StatusClosed {
			p.MarkPrice = price
			l.remarkLocked(p)
		}
	}
}

func (l *Ledger) remarkLocked(p *Position) {
	if p.Status == StatusClosed || p.Quantity.IsZero() || !p.MarkPrice.IsPositive() {
		p.UnrealizedPnL = decimal.Zero
		return
	}
	p.UnrealizedPnL = p.MarkPrice.Sub(p.EntryPrice).Mul(p.Quantity).Mul(p.Side.Sign())
}

// Exposure is the aggregate notional of every live position, pending
// reservations included.
func (l *Ledger) Exposure() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, p := range l.positions {
		if p.Status != StatusClosed {
			total = total.Add(p.Notional())
		}
	}
	return total
}

// OpenCount counts live positions (pending, open or closing).
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, p := range l.positions {
		if p.Status != StatusClosed {
			n++
		}
	}
	return n
}

func (l *Ledger) Unrealized() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, p := range l.positions {
		if p.Status != StatusClosed {
			total = total.Add(p.UnrealizedPnL)
		}
	}
	return total
}

// RealizedSince sums realized P&L of closes at or after start.
func (l *Ledger) RealizedSince(start time.Time) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, ev := range l.realized {
		if !ev.at.Before(start) {
			total = total.Add(ev.pnl)
		}
	}
	return total
}

func (l *Ledger) pruneLocked(now time.Time) {
	cut := now.Add(-l.retention)
	i := 0
	for i < len(l.realized) && l.realized[i].at.Before(cut) {
		i++
	}
	if i > 0 {
		l.realized = append([]realizedEvent(nil), l.realized[i:]...)
	}
	for id, p := range l.positions {
		if p.Status == StatusClosed && p.ClosedAt.Before(cut) {
			delete(l.positions, id)
		}
	}
	// tokens of live positions stay so their fills can never replay
	for token, a := range l.applied {
		if _, live := l.positions[a.positionID]; !live && a.at.Before(cut) {
			delete(l.applied, token)
		}
	}
}

func (l *Ledger) Get(id string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Active returns the live position of symbol, if any.
func (l *Ledger) Active(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p := l.activeBySymbolLocked(strings.ToUpper(symbol)); p != nil {
		return *p, true
	}
	return Position{}, false
}

func (l *Ledger) activeBySymbolLocked(symbol string) *Position {
	for _, p := range l.positions {
		if p.Symbol == symbol && p.Status != StatusClosed {
			return p
		}
	}
	return nil
}

// Positions returns copies of every live position ordered by open time.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		if p.Status != StatusClosed {
			out = append(out, *p)
		}
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (l *Ledger) Snapshot() []types.PositionSnapshot {
	positions := l.Positions()
	out := make([]types.PositionSnapshot, len(positions))
	for i, p := range positions {
		out[i] = p.Snapshot()
	}
	return out
}

// PendingCloses lists positions whose close failed earlier and that have no
// order in flight.
func (l *Ledger) PendingCloses() []Position {
	var out []Position
	for _, p := range l.Positions() {
		if p.Status == StatusClosing && p.InFlight == "" {
			out = append(out, p)
		}
	}
	return out
}

// CloseSignals synthesizes one close per open position, e.g. for emergency
// liquidation or shutdown.
func (l *Ledger) CloseSignals(reason string, at time.Time) []types.Signal {
	var out []types.Signal
	for _, p := range l.Positions() {
		if p.Status == StatusOpen || p.Status == StatusClosing {
			out = append(out, p.CloseSignal(reason, at))
		}
	}
	return out
}

// ProtectiveExits returns close signals for open positions whose mark has
// reached the stop-loss or take-profit.
func (l *Ledger) ProtectiveExits(at time.Time) []types.Signal {
	var out []types.Signal
	for _, p := range l.Positions() {
		if p.Status != StatusOpen || p.InFlight != "" {
			continue
		}
		switch {
		case strategy.StopHit(p.Side, p.MarkPrice, p.StopLoss):
			out = append(out, p.CloseSignal("stop_loss", at))
		case strategy.TargetHit(p.Side, p.MarkPrice, p.TakeProfit):
			out = append(out, p.CloseSignal("take_profit", at))
		}
	}
	return out
}

// CloseSignal builds a close for the whole remaining quantity of p.
func (p Position) CloseSignal(reason string, at time.Time) types.Signal {
	return types.Signal{
		Symbol:       p.Symbol,
		Direction:    p.Side,
		Kind:         types.KindClose,
		Strength:     1,
		Confidence:   1,
		SuggestedQty: p.Quantity,
		StrategyID:   "ledger",
		Timestamp:    at,
		Price:        p.MarkPrice,
		PositionID:   p.ID,
		Reason:       reason,
	}
}

// Adopt records a position found on the exchange but unknown locally.
func (l *Ledger) Adopt(symbol string, side types.Direction, qty, entry decimal.Decimal, openedAt time.Time) (Position, error) {
	if !qty.IsPositive() || !entry.IsPositive() {
		return Position{}, fmt.Errorf("adopt: qty and entry must be positive")
	}
	symbol = strings.ToUpper(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	if p := l.activeBySymbolLocked(symbol); p != nil {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionExists, symbol)
	}
	p := &Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entry,
		Quantity:   qty,
		OpenedAt:   openedAt,
		Status:     StatusOpen,
		MarkPrice:  entry,
		StrategyID: "reconcile",
	}
	l.positions[p.ID] = p
	return *p, nil
}
