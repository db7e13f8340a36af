package gateway

import (
	"fmt"
	"strings"

	"deltabot/internal/config"
	"deltabot/internal/gateway/binance"
	"deltabot/internal/gateway/delta"
	"deltabot/internal/gateway/exchange"
	"deltabot/internal/gateway/paper"
	"deltabot/internal/market"
)

// NewExchangeFromConfig returns the order venue for trading.mode. Paper
// mode fills against prices, normally the engine's market store.
func NewExchangeFromConfig(cfg *config.Config, prices paper.PriceSource) (exchange.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if !cfg.Trading.IsLive() {
		return paper.New(prices, cfg.Trading.PaperBalance, cfg.Trading.PaperFeeBps), nil
	}
	switch name := strings.ToLower(strings.TrimSpace(cfg.Exchange.Name)); name {
	case "", "binance", "binance-futures":
		client, err := binance.NewClient(binance.ConfigFrom(cfg.Exchange, cfg.Feed))
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", cfg.Exchange.Name)
	}
}

// NewFeedFromConfig returns the market data feed for feed.source, or nil
// for "none" when snapshots are published by other means.
func NewFeedFromConfig(cfg *config.Config) (market.Feed, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	symbols := cfg.Symbols()
	switch src := strings.ToLower(strings.TrimSpace(cfg.Feed.Source)); src {
	case "", "none":
		return nil, nil
	case "binance":
		return binance.NewFeed(binance.ConfigFrom(cfg.Exchange, cfg.Feed), symbols), nil
	case "delta":
		return delta.NewFeed(cfg.Feed.WSURL, symbols), nil
	default:
		return nil, fmt.Errorf("unsupported market feed: %s", cfg.Feed.Source)
	}
}
