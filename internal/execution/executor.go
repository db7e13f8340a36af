package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"deltabot/internal/config"
	"deltabot/internal/gateway/exchange"
	"deltabot/internal/ledger"
	"deltabot/internal/logger"
	"deltabot/internal/pkg/circuit"
	"deltabot/internal/types"
)

var log = logger.Component("execution")

var (
	ErrCircuitOpen          = fmt.Errorf("execution: %w", circuit.ErrOpen)
	ErrRetryBudgetExhausted = errors.New("execution: retry budget exhausted")
	ErrNotResubmittable     = errors.New("execution: order cannot be resubmitted")
)

// Ledger is the slice of the position ledger the executor writes to.
type Ledger interface {
	Reserve(sig types.Signal, qty decimal.Decimal, token string) (ledger.Position, error)
	ApplyFill(f ledger.Fill) (bool, error)
	Release(positionID, token string)
	BeginClose(positionID, token string) (string, ledger.Position, error)
	AbortClose(positionID, token string)
}

type Options struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	BackoffFactor    float64
	MaxTotalWait     time.Duration
	AttemptTimeout   time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func OptionsFromConfig(cfg config.ExecutionConfig) Options {
	return Options{
		MaxAttempts:      cfg.MaxAttempts,
		InitialBackoff:   cfg.InitialBackoff,
		MaxBackoff:       cfg.MaxBackoff,
		BackoffFactor:    cfg.BackoffFactor,
		MaxTotalWait:     cfg.MaxTotalWait,
		AttemptTimeout:   cfg.AttemptTimeout,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetriable
	outcomeFatal
)

// Executor submits approved signals and applies the resulting fills to
// the ledger. Calls are expected from the engine goroutine; the token
// index is locked so status readers can inspect it.
type Executor struct {
	client  exchange.Client
	ledger  Ledger
	breaker *circuit.CircuitBreaker
	opts    Options

	mu       sync.Mutex
	finished map[string]Order
	hooks    []func(Order)

	nowFn func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(client exchange.Client, l Ledger, opts Options) *Executor {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffFactor <= 1 {
		opts.BackoffFactor = 2
	}
	return &Executor{
		client:   client,
		ledger:   l,
		breaker:  circuit.NewCircuitBreaker("exchange:"+client.Name(), opts.BreakerThreshold, opts.BreakerCooldown),
		opts:     opts,
		finished: make(map[string]Order),
		nowFn:    time.Now,
		sleep:    sleepCtx,
	}
}

// SetClock overrides the time source of the executor and its breaker. Tests only.
func (e *Executor) SetClock(now func() time.Time) {
	e.nowFn = now
	e.breaker.SetClock(now)
}

func (e *Executor) Breaker() *circuit.CircuitBreaker { return e.breaker }

// OnFinished registers a hook invoked with every order that reached a
// terminal state.
func (e *Executor) OnFinished(fn func(Order)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.hooks = append(e.hooks, fn)
	e.mu.Unlock()
}

// Execute turns an approved signal into an order of qty and drives it to a
// terminal state. Entries reserve a pending position first; closes claim
// the position's in-flight slot and reuse a token left by a failed close.
func (e *Executor) Execute(ctx context.Context, sig types.Signal, qty decimal.Decimal) (Order, error) {
	if !qty.IsPositive() {
		return Order{}, fmt.Errorf("execute %s: non-positive quantity %s", sig, qty)
	}
	now := e.nowFn()
	o := Order{
		Token:     uuid.NewString(),
		Signal:    sig,
		Symbol:    sig.Symbol,
		Quantity:  qty,
		State:     StateCreated,
		History:   []State{StateCreated},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sig.IsClose() {
		o.Kind = ledger.FillClose
		o.Side = exchange.SideFor(sig.Direction, true)
		token, pos, err := e.ledger.BeginClose(sig.PositionID, o.Token)
		if err != nil {
			return Order{}, fmt.Errorf("execute %s: %w", sig, err)
		}
		o.Token = token
		o.PositionID = pos.ID
		o.Symbol = pos.Symbol
		if qty.GreaterThan(pos.Quantity) {
			o.Quantity = pos.Quantity
		}
		if prior, ok := e.lookup(token); ok && prior.Succeeded() {
			e.ledger.AbortClose(pos.ID, token)
			return prior, nil
		}
	} else {
		o.Kind = ledger.FillEntry
		o.Side = exchange.SideFor(sig.Direction, false)
		pos, err := e.ledger.Reserve(sig, qty, o.Token)
		if err != nil {
			return Order{}, fmt.Errorf("execute %s: %w", sig, err)
		}
		o.PositionID = pos.ID
		o.Symbol = pos.Symbol
	}
	e.run(ctx, &o)
	return o, o.Err
}

// Resubmit retries a failed order with its original token. An order whose
// token already completed returns the recorded result without a call.
func (e *Executor) Resubmit(ctx context.Context, o Order) (Order, error) {
	if prior, ok := e.lookup(o.Token); ok && prior.Succeeded() {
		return prior, nil
	}
	if o.State != StateFailed {
		return o, fmt.Errorf("%w: %s is %s", ErrNotResubmittable, o.Token, o.State)
	}
	if o.IsClose() {
		token, pos, err := e.ledger.BeginClose(o.PositionID, o.Token)
		if err != nil {
			return o, fmt.Errorf("resubmit %s: %w", o.Token, err)
		}
		o.Token = token
		o.Quantity = decimal.Min(o.Quantity, pos.Quantity)
	} else {
		pos, err := e.ledger.Reserve(o.Signal, o.Quantity, o.Token)
		if err != nil {
			return o, fmt.Errorf("resubmit %s: %w", o.Token, err)
		}
		o.PositionID = pos.ID
	}
	o.Err = nil
	e.run(ctx, &o)
	return o, o.Err
}

// Order returns the terminal order recorded for token.
func (e *Executor) Order(token string) (Order, bool) { return e.lookup(token) }

func (e *Executor) lookup(token string) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.finished[token]
	return o, ok
}

// run is the bounded attempt loop. Only retriable failures feed the breaker.
func (e *Executor) run(ctx context.Context, o *Order) {
	if !e.breaker.Allow() {
		e.fail(o, ErrCircuitOpen)
		return
	}
	b := &backoff.Backoff{
		Min:    e.opts.InitialBackoff,
		Max:    e.opts.MaxBackoff,
		Factor: e.opts.BackoffFactor,
	}
	deadline := e.nowFn().Add(e.opts.MaxTotalWait)
	for attempt := 1; ; attempt++ {
		o.Attempts++
		o.moveTo(StateSubmitting, e.nowFn())
		res, err := e.attempt(ctx, o)
		switch classify(err) {
		case outcomeSuccess:
			e.breaker.RecordSuccess()
			e.complete(ctx, o, res)
			return
		case outcomeFatal:
			e.breaker.Release()
			e.fail(o, err)
			return
		}

		e.breaker.RecordFailure()
		log.Warnf("order %s %s %s attempt %d/%d failed: %v",
			o.Token, o.Side, o.Symbol, attempt, e.opts.MaxAttempts, err)
		if attempt >= e.opts.MaxAttempts {
			e.fail(o, fmt.Errorf("%w after %d attempts: %v", ErrRetryBudgetExhausted, attempt, err))
			return
		}
		wait := b.Duration()
		if e.opts.MaxTotalWait > 0 && e.nowFn().Add(wait).After(deadline) {
			e.fail(o, fmt.Errorf("%w: next wait %s passes deadline: %v", ErrRetryBudgetExhausted, wait, err))
			return
		}
		if serr := e.sleep(ctx, wait); serr != nil {
			e.fail(o, serr)
			return
		}
		if !e.breaker.Allow() {
			e.fail(o, ErrCircuitOpen)
			return
		}
	}
}

func (e *Executor) attempt(ctx context.Context, o *Order) (exchange.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return exchange.OrderResult{}, err
	}
	// an attempt already on the wire is not abandoned when ctx ends
	actx := context.WithoutCancel(ctx)
	if e.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, e.opts.AttemptTimeout)
		defer cancel()
	}
	res, err := e.client.Submit(actx, exchange.OrderRequest{
		Token:      o.Token,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   o.Quantity,
		ReduceOnly: o.IsClose(),
		RefPrice:   o.Signal.Price,
	})
	if err == nil && res.Status == exchange.OrderStatusRejected {
		err = fmt.Errorf("%w: venue status %s", exchange.ErrRejected, res.Status)
	}
	// a timed-out attempt under a live parent context is retriable
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return res, err
}

func classify(err error) outcome {
	switch exchange.Classify(err) {
	case exchange.ClassNone:
		return outcomeSuccess
	case exchange.ClassRetriable:
		return outcomeRetriable
	default:
		return outcomeFatal
	}
}

// complete moves an acknowledged order to its terminal state and applies
// the fill to the ledger in the same step.
func (e *Executor) complete(ctx context.Context, o *Order, res exchange.OrderResult) {
	now := e.nowFn()
	o.ExchangeOrderID = res.OrderID
	o.Duplicate = res.Duplicate
	o.moveTo(StateAcked, now)
	if res.Duplicate {
		log.Infof("order %s: venue reports token already executed, using original result", o.Token)
	}

	filled := decimal.Min(res.FilledQty, o.Quantity)
	if filled.LessThan(o.Quantity) {
		e.cancelRemainder(ctx, o, res)
	}
	if !filled.IsPositive() {
		e.releaseSlot(o)
		o.moveTo(StateCancelled, now)
		e.finish(*o)
		return
	}
	at := res.CompletedAt
	if at.IsZero() {
		at = now
	}
	o.FilledQty = filled
	o.AvgPrice = res.AvgPrice
	o.Fee = res.Fee
	if _, err := e.ledger.ApplyFill(ledger.Fill{
		Token:      o.Token,
		PositionID: o.PositionID,
		Kind:       o.Kind,
		Quantity:   filled,
		Price:      res.AvgPrice,
		Fee:        res.Fee,
		Time:       at,
		Final:      true,
	}); err != nil {
		log.Errorf("order %s: ledger rejected fill: %v", o.Token, err)
		o.Err = err
	}
	if filled.LessThan(o.Quantity) {
		o.moveTo(StatePartiallyFilled, now)
	} else {
		o.moveTo(StateFilled, now)
	}
	log.Infof("order %s %s %s %s filled %s @ %s", o.Token, o.Kind, o.Side, o.Symbol, filled, res.AvgPrice)
	e.finish(*o)
}

// cancelRemainder cancels the unfilled rest of an order the venue still
// holds open, so the ledger never trails a late fill. It runs even when ctx
// is already cancelled.
func (e *Executor) cancelRemainder(ctx context.Context, o *Order, res exchange.OrderResult) {
	if res.OrderID == "" {
		return
	}
	if res.Status != exchange.OrderStatusNew && res.Status != exchange.OrderStatusPartiallyFilled {
		return
	}
	timeout := e.opts.AttemptTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := e.client.Cancel(cctx, o.Symbol, res.OrderID); err != nil {
		log.Warnf("order %s: cancel remainder of %s: %v", o.Token, res.OrderID, err)
	}
}

func (e *Executor) fail(o *Order, err error) {
	o.Err = err
	e.releaseSlot(o)
	o.moveTo(StateFailed, e.nowFn())
	if errors.Is(err, ErrCircuitOpen) {
		log.Warnf("order %s %s %s not sent: %v", o.Token, o.Side, o.Symbol, err)
	} else {
		log.Errorf("order %s %s %s failed: %v", o.Token, o.Side, o.Symbol, err)
	}
	e.finish(*o)
}

func (e *Executor) releaseSlot(o *Order) {
	if o.IsClose() {
		e.ledger.AbortClose(o.PositionID, o.Token)
	} else {
		e.ledger.Release(o.PositionID, o.Token)
	}
}

const finishedRetention = 24 * time.Hour

func (e *Executor) finish(o Order) {
	e.mu.Lock()
	for token, prior := range e.finished {
		if o.UpdatedAt.Sub(prior.UpdatedAt) > finishedRetention {
			delete(e.finished, token)
		}
	}
	// a recorded success is never replaced by a later failure of the token
	if prior, ok := e.finished[o.Token]; !ok || !prior.Succeeded() || o.Succeeded() {
		e.finished[o.Token] = o
	}
	hooks := append([]func(Order){}, e.hooks...)
	e.mu.Unlock()
	for _, fn := range hooks {
		fn(o)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
