package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltabot/internal/config"
	"deltabot/internal/gateway/binance"
	"deltabot/internal/gateway/delta"
	"deltabot/internal/gateway/paper"
)

func baseConfig() *config.Config {
	return &config.Config{
		Instruments: []config.InstrumentConfig{{Symbol: "BTCUSDT"}},
		Trading:     config.TradingConfig{Mode: "paper", PaperBalance: 1000},
		Feed:        config.FeedConfig{Source: "none", WSURL: "wss://example.invalid"},
		Exchange:    config.ExchangeConfig{Name: "binance"},
	}
}

func TestNewExchangeFromConfig(t *testing.T) {
	cfg := baseConfig()
	client, err := NewExchangeFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &paper.Exchange{}, client)

	cfg.Trading.Mode = "live"
	cfg.Exchange.APIKey, cfg.Exchange.APISecret = "k", "s"
	client, err = NewExchangeFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &binance.Client{}, client)

	cfg.Exchange.Name = "kraken"
	_, err = NewExchangeFromConfig(cfg, nil)
	assert.Error(t, err)
}

func TestNewFeedFromConfig(t *testing.T) {
	cfg := baseConfig()
	feed, err := NewFeedFromConfig(cfg)
	require.NoError(t, err)
	assert.Nil(t, feed)

	cfg.Feed.Source = "delta"
	feed, err = NewFeedFromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, &delta.Feed{}, feed)

	cfg.Feed.Source = "binance"
	feed, err = NewFeedFromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, &binance.Feed{}, feed)

	cfg.Feed.Source = "carrier-pigeon"
	_, err = NewFeedFromConfig(cfg)
	assert.Error(t, err)
}
