package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"deltabot/internal/types"
)

// Multi fans every record out to all sinks and joins their errors.
type Multi []Sink

func (m Multi) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SaveOrder(ctx context.Context, rec OrderRecord) error {
	return m.each(func(s Sink) error { return s.SaveOrder(ctx, rec) })
}

func (m Multi) SaveRiskEvent(ctx context.Context, rec RiskEventRecord) error {
	return m.each(func(s Sink) error { return s.SaveRiskEvent(ctx, rec) })
}

func (m Multi) SaveDecision(ctx context.Context, rec DecisionRecord) error {
	return m.each(func(s Sink) error { return s.SaveDecision(ctx, rec) })
}

func (m Multi) SavePositions(ctx context.Context, at time.Time, positions []types.PositionSnapshot) error {
	return m.each(func(s Sink) error { return s.SavePositions(ctx, at, positions) })
}

func (m Multi) Close() error {
	return m.each(func(s Sink) error { return s.Close() })
}

// PeakEquity returns the highest peak any member knows about.
func (m Multi) PeakEquity(ctx context.Context) (decimal.Decimal, bool, error) {
	best, found := decimal.Zero, false
	for _, s := range m {
		ps, ok := s.(PeakSource)
		if !ok {
			continue
		}
		peak, ok, err := ps.PeakEquity(ctx)
		if err != nil {
			return decimal.Zero, false, err
		}
		if ok && (!found || peak.GreaterThan(best)) {
			best, found = peak, true
		}
	}
	return best, found, nil
}

// Nop discards everything.
type Nop struct{}

func (Nop) SaveOrder(context.Context, OrderRecord) error                             { return nil }
func (Nop) SaveRiskEvent(context.Context, RiskEventRecord) error                     { return nil }
func (Nop) SaveDecision(context.Context, DecisionRecord) error                       { return nil }
func (Nop) SavePositions(context.Context, time.Time, []types.PositionSnapshot) error { return nil }
func (Nop) Close() error                                                             { return nil }
