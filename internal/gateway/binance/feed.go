package binance

import (
	"context"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"

	"deltabot/internal/market"
)

// Feed polls book tickers and 24h statistics over REST. It needs no keys.
type Feed struct {
	cfg     Config
	client  *futures.Client
	symbols map[string]struct{}
	nowFn   func() time.Time
}

func NewFeed(cfg Config, symbols []string) *Feed {
	final := cfg.withDefaults()
	final.APIKey, final.APISecret = "", ""
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	return &Feed{cfg: final, client: newFuturesClient(final), symbols: set, nowFn: time.Now}
}

func (f *Feed) Run(ctx context.Context, sink func(market.MarketSnapshot)) error {
	b := &backoff.Backoff{Min: f.cfg.PollInterval, Max: time.Minute, Factor: 2}
	log.Infof("binance feed polling %d symbols every %s", len(f.symbols), f.cfg.PollInterval)
	wait := time.Duration(0)
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		snaps, err := f.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait = b.Duration()
			log.Warnf("binance feed poll failed, retry in %s: %v", wait, err)
			continue
		}
		b.Reset()
		wait = f.cfg.PollInterval
		for _, s := range snaps {
			sink(s)
		}
	}
}

func (f *Feed) poll(ctx context.Context) ([]market.MarketSnapshot, error) {
	books, err := f.client.NewListBookTickersService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	stats, err := f.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	now := f.nowFn()
	bySymbol := make(map[string]market.MarketSnapshot, len(f.symbols))
	for _, st := range stats {
		if st == nil || !f.wanted(st.Symbol) {
			continue
		}
		bySymbol[st.Symbol] = market.MarketSnapshot{
			Symbol:    st.Symbol,
			Timestamp: now,
			Last:      parseDecimal(st.LastPrice),
			Volume:    parseDecimal(st.Volume),
		}
	}
	for _, bk := range books {
		if bk == nil || !f.wanted(bk.Symbol) {
			continue
		}
		snap, ok := bySymbol[bk.Symbol]
		if !ok {
			snap = market.MarketSnapshot{Symbol: bk.Symbol, Timestamp: now}
		}
		snap.Bid = parseDecimal(bk.BidPrice)
		snap.Ask = parseDecimal(bk.AskPrice)
		if !snap.Last.IsPositive() {
			snap.Last = snap.Mid()
		}
		bySymbol[bk.Symbol] = snap
	}
	out := make([]market.MarketSnapshot, 0, len(bySymbol))
	for _, s := range bySymbol {
		if s.Last.IsPositive() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *Feed) wanted(symbol string) bool {
	_, ok := f.symbols[strings.ToUpper(symbol)]
	return ok
}
