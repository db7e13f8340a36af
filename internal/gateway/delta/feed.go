// Package delta streams Delta Exchange tickers over its public websocket.
package delta

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"deltabot/internal/logger"
	"deltabot/internal/market"
)

var log = logger.Component("delta")

const tickerChannel = "v2/ticker"

type Feed struct {
	URL          string
	Symbols      []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration

	dialer *websocket.Dialer
}

func NewFeed(url string, symbols []string) *Feed {
	upper := make([]string, 0, len(symbols))
	for _, s := range symbols {
		upper = append(upper, strings.ToUpper(strings.TrimSpace(s)))
	}
	return &Feed{
		URL:          url,
		Symbols:      upper,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 20 * time.Second,
		dialer:       websocket.DefaultDialer,
	}
}

// Run keeps a subscription alive until ctx ends, reconnecting with backoff.
func (f *Feed) Run(ctx context.Context, sink func(market.MarketSnapshot)) error {
	if len(f.Symbols) == 0 {
		return errors.New("delta feed: no symbols")
	}
	b := &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true}
	for {
		started := time.Now()
		err := f.session(ctx, sink)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > time.Minute {
			b.Reset()
		}
		wait := b.Duration()
		log.Warnf("delta feed disconnected, reconnect in %s: %v", wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (f *Feed) session(ctx context.Context, sink func(market.MarketSnapshot)) error {
	conn, _, err := f.dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.URL, err)
	}
	defer conn.Close()
	log.Infof("delta feed connected to %s, subscribing %v", f.URL, f.Symbols)

	if err := conn.WriteJSON(subscribeMessage(f.Symbols)); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.keepalive(sessionCtx, conn)

	_ = conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		if snap, ok := parseTicker(msg); ok {
			sink(snap)
		}
	}
}

// keepalive pings until the session ends and closes the connection on
// ctx cancellation so the blocked read returns.
func (f *Feed) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(f.WriteTimeout))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func subscribeMessage(symbols []string) map[string]any {
	return map[string]any{
		"type": "subscribe",
		"payload": map[string]any{
			"channels": []map[string]any{{"name": tickerChannel, "symbols": symbols}},
		},
	}
}

// parseTicker reads a v2/ticker push. Timestamps arrive in microseconds.
func parseTicker(msg []byte) (market.MarketSnapshot, bool) {
	if !gjson.ValidBytes(msg) {
		return market.MarketSnapshot{}, false
	}
	res := gjson.ParseBytes(msg)
	if res.Get("type").String() != tickerChannel {
		return market.MarketSnapshot{}, false
	}
	symbol := res.Get("symbol").String()
	if symbol == "" {
		return market.MarketSnapshot{}, false
	}
	snap := market.MarketSnapshot{
		Symbol: strings.ToUpper(symbol),
		Last:   number(res.Get("close")),
		Bid:    number(res.Get("quotes.best_bid")),
		Ask:    number(res.Get("quotes.best_ask")),
		Volume: number(res.Get("volume")),
	}
	if !snap.Last.IsPositive() {
		snap.Last = number(res.Get("mark_price"))
	}
	if !snap.Last.IsPositive() {
		return market.MarketSnapshot{}, false
	}
	if ts := res.Get("timestamp").Int(); ts > 0 {
		snap.Timestamp = time.UnixMicro(ts).UTC()
	} else {
		snap.Timestamp = time.Now().UTC()
	}
	return snap, true
}

// number accepts both quoted and bare JSON numbers.
func number(v gjson.Result) decimal.Decimal {
	if !v.Exists() {
		return decimal.Zero
	}
	if v.Type == gjson.Number {
		d, err := decimal.NewFromString(v.Raw)
		if err == nil {
			return d
		}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v.String()))
	if err != nil {
		return decimal.Zero
	}
	return d
}
