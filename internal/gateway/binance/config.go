package binance

import (
	"strings"
	"time"

	"deltabot/internal/config"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	APIKey      string
	APISecret   string
	Testnet     bool
	RecvWindow  int64

	// PollInterval paces the REST ticker feed.
	PollInterval time.Duration
}

func ConfigFrom(ex config.ExchangeConfig, feed config.FeedConfig) Config {
	return Config{
		RESTBaseURL:  ex.BaseURL,
		HTTPTimeout:  ex.Timeout,
		APIKey:       ex.APIKey,
		APISecret:    ex.APISecret,
		Testnet:      ex.Testnet,
		RecvWindow:   ex.RecvWindow,
		PollInterval: feed.PollInterval,
	}
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		if out.Testnet {
			out.RESTBaseURL = "https://testnet.binancefuture.com"
		} else {
			out.RESTBaseURL = "https://fapi.binance.com"
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.RecvWindow <= 0 {
		out.RecvWindow = 5000
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 2 * time.Second
	}
	return out
}
