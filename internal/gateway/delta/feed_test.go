package delta

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"deltabot/internal/market"
)

func TestParseTicker(t *testing.T) {
	snap, ok := parseTicker([]byte(`{"type":"v2/ticker","symbol":"BTCUSD","close":67000.5,"mark_price":"67001","quotes":{"best_bid":"66999.5","best_ask":"67001.5"},"volume":1523,"timestamp":1700000000123456}`))
	require.True(t, ok)
	assert.Equal(t, "BTCUSD", snap.Symbol)
	assert.True(t, snap.Last.Equal(decimal.RequireFromString("67000.5")))
	assert.True(t, snap.Ask.Equal(decimal.RequireFromString("67001.5")))
	assert.Equal(t, int64(1700000000123456), snap.Timestamp.UnixMicro())

	_, ok = parseTicker([]byte(`{"type":"subscriptions","payload":{}}`))
	assert.False(t, ok)
	_, ok = parseTicker([]byte(`not json`))
	assert.False(t, ok)

	markOnly, ok := parseTicker([]byte(`{"type":"v2/ticker","symbol":"ethusd","mark_price":"3000"}`))
	require.True(t, ok)
	assert.Equal(t, "ETHUSD", markOnly.Symbol)
	assert.True(t, markOnly.Last.Equal(decimal.NewFromInt(3000)))
}

func TestFeed_SubscribesAndStreams(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(msg)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"v2/ticker","symbol":"BTCUSD","close":"100","timestamp":1700000000000000}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	f := NewFeed("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"btcusd"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan market.MarketSnapshot, 1)
	done := make(chan error, 1)
	go func() {
		done <- f.Run(ctx, func(s market.MarketSnapshot) {
			select {
			case got <- s:
			default:
			}
		})
	}()

	select {
	case msg := <-subscribed:
		assert.Equal(t, "subscribe", gjson.Get(msg, "type").String())
		assert.Equal(t, "v2/ticker", gjson.Get(msg, "payload.channels.0.name").String())
		assert.Equal(t, "BTCUSD", gjson.Get(msg, "payload.channels.0.symbols.0").String())
	case <-ctx.Done():
		t.Fatal("no subscription received")
	}
	select {
	case s := <-got:
		assert.Equal(t, "BTCUSD", s.Symbol)
		assert.True(t, s.Last.Equal(decimal.NewFromInt(100)))
	case <-ctx.Done():
		t.Fatal("no snapshot received")
	}
	cancel()
	assert.NoError(t, <-done)
}
