// Package paper is an in-process exchange that fills market orders at the
// latest recorded price. It backs trading.mode=paper and the tests.
package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"deltabot/internal/gateway/exchange"
	"deltabot/internal/market"
	"deltabot/internal/types"
)

// PriceSource is satisfied by *market.Store.
type PriceSource interface {
	Latest(symbol string) (market.MarketSnapshot, bool)
}

type holding struct {
	qty   decimal.Decimal // signed, long positive
	entry decimal.Decimal
	at    time.Time
}

type Exchange struct {
	prices PriceSource
	feeBps decimal.Decimal

	mu       sync.Mutex
	cash     decimal.Decimal
	currency string
	holdings map[string]*holding
	orders   map[string]exchange.OrderResult
	faults   []error
	nowFn    func() time.Time
}

func New(prices PriceSource, balance, feeBps float64) *Exchange {
	return &Exchange{
		prices:   prices,
		feeBps:   decimal.NewFromFloat(feeBps),
		cash:     decimal.NewFromFloat(balance),
		currency: "USD",
		holdings: make(map[string]*holding),
		orders:   make(map[string]exchange.OrderResult),
		nowFn:    time.Now,
	}
}

func (e *Exchange) Name() string { return "paper" }

// SetClock overrides the time source. Tests only.
func (e *Exchange) SetClock(now func() time.Time) { e.nowFn = now }

// InjectFaults queues errors returned by the next Submit calls, one per call.
func (e *Exchange) InjectFaults(errs ...error) {
	e.mu.Lock()
	e.faults = append(e.faults, errs...)
	e.mu.Unlock()
}

func (e *Exchange) Submit(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return exchange.OrderResult{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.faults) > 0 {
		err := e.faults[0]
		e.faults = e.faults[1:]
		if err != nil {
			return exchange.OrderResult{}, err
		}
	}
	if req.Token == "" {
		return exchange.OrderResult{}, fmt.Errorf("%w: missing client token", exchange.ErrRejected)
	}
	if prior, ok := e.orders[req.Token]; ok {
		prior.Duplicate = true
		return prior, nil
	}
	if !req.Quantity.IsPositive() {
		return exchange.OrderResult{}, fmt.Errorf("%w: quantity %s", exchange.ErrRejected, req.Quantity)
	}
	symbol := strings.ToUpper(req.Symbol)
	price := e.fillPrice(symbol, req)
	if !price.IsPositive() {
		return exchange.OrderResult{}, fmt.Errorf("%w: no price for %s", exchange.ErrRejected, symbol)
	}

	signed := req.Quantity
	if req.Side == exchange.SideSell {
		signed = signed.Neg()
	}
	h := e.holdings[symbol]
	if req.ReduceOnly {
		if h == nil || h.qty.IsZero() || h.qty.Sign() == signed.Sign() {
			return exchange.OrderResult{}, fmt.Errorf("%w: reduce-only with no position in %s", exchange.ErrRejected, symbol)
		}
		if signed.Abs().GreaterThan(h.qty.Abs()) {
			signed = h.qty.Neg()
		}
	}
	now := e.nowFn()
	fee := signed.Abs().Mul(price).Mul(e.feeBps).Div(decimal.NewFromInt(10000))
	e.cash = e.cash.Sub(fee)
	e.apply(symbol, signed, price, now)

	res := exchange.OrderResult{
		OrderID:     "paper-" + uuid.NewString(),
		Token:       req.Token,
		Status:      exchange.OrderStatusFilled,
		FilledQty:   signed.Abs(),
		AvgPrice:    price,
		Fee:         fee,
		CompletedAt: now,
	}
	e.orders[req.Token] = res
	return res, nil
}

func (e *Exchange) fillPrice(symbol string, req exchange.OrderRequest) decimal.Decimal {
	if e.prices != nil {
		if snap, ok := e.prices.Latest(symbol); ok {
			switch {
			case req.Side == exchange.SideBuy && snap.Ask.IsPositive():
				return snap.Ask
			case req.Side == exchange.SideSell && snap.Bid.IsPositive():
				return snap.Bid
			case snap.Last.IsPositive():
				return snap.Last
			}
		}
	}
	return req.RefPrice
}

// apply nets a signed fill into the holding and realizes P&L on reduction.
func (e *Exchange) apply(symbol string, signed, price decimal.Decimal, at time.Time) {
	h := e.holdings[symbol]
	if h == nil || h.qty.IsZero() {
		e.holdings[symbol] = &holding{qty: signed, entry: price, at: at}
		return
	}
	if h.qty.Sign() == signed.Sign() {
		total := h.qty.Add(signed)
		h.entry = h.entry.Mul(h.qty.Abs()).Add(price.Mul(signed.Abs())).Div(total.Abs())
		h.qty = total
		return
	}
	closing := decimal.Min(signed.Abs(), h.qty.Abs())
	direction := decimal.NewFromInt(int64(h.qty.Sign()))
	e.cash = e.cash.Add(price.Sub(h.entry).Mul(closing).Mul(direction))
	rest := h.qty.Add(signed)
	switch {
	case rest.IsZero():
		delete(e.holdings, symbol)
	case rest.Sign() == h.qty.Sign():
		h.qty = rest
	default:
		e.holdings[symbol] = &holding{qty: rest, entry: price, at: at}
	}
}

func (e *Exchange) Cancel(ctx context.Context, symbol, orderID string) error {
	return nil
}

func (e *Exchange) Positions(ctx context.Context) ([]exchange.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]exchange.Position, 0, len(e.holdings))
	for symbol, h := range e.holdings {
		side := types.DirectionLong
		if h.qty.IsNegative() {
			side = types.DirectionShort
		}
		out = append(out, exchange.Position{
			Symbol:     symbol,
			Side:       side,
			Quantity:   h.qty.Abs(),
			EntryPrice: h.entry,
			MarkPrice:  e.markLocked(symbol, h),
			UpdatedAt:  h.at,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Balance reports cash plus unrealized P&L at the latest prices as equity.
func (e *Exchange) Balance(ctx context.Context) (exchange.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	equity := e.cash
	margin := decimal.Zero
	for symbol, h := range e.holdings {
		mark := e.markLocked(symbol, h)
		equity = equity.Add(mark.Sub(h.entry).Mul(h.qty))
		margin = margin.Add(h.qty.Abs().Mul(h.entry))
	}
	available := equity.Sub(margin)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return exchange.Balance{
		Currency:  e.currency,
		Total:     equity,
		Available: available,
		UpdatedAt: e.nowFn(),
	}, nil
}

func (e *Exchange) markLocked(symbol string, h *holding) decimal.Decimal {
	if e.prices != nil {
		if snap, ok := e.prices.Latest(symbol); ok && snap.Last.IsPositive() {
			return snap.Last
		}
	}
	return h.entry
}
