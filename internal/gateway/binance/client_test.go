package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltabot/internal/gateway/exchange"
	"deltabot/internal/market"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{RESTBaseURL: srv.URL, APIKey: "k", APISecret: "s"})
	require.NoError(t, err)
	return c
}

func TestClient_SubmitMarketOrder(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fapi/v1/order", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tok-1", r.Form.Get("newClientOrderId"))
		assert.Equal(t, "MARKET", r.Form.Get("type"))
		assert.Equal(t, "SELL", r.Form.Get("side"))
		assert.Equal(t, "true", r.Form.Get("reduceOnly"))
		_, _ = w.Write([]byte(`{"orderId":42,"clientOrderId":"tok-1","symbol":"BTCUSDT","status":"FILLED","executedQty":"0.005","avgPrice":"65000.1","updateTime":1700000000000}`))
	})

	res, err := c.Submit(context.Background(), exchange.OrderRequest{
		Token: "tok-1", Symbol: "BTCUSDT", Side: exchange.SideSell, Quantity: decimal.RequireFromString("0.005"), ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", res.OrderID)
	assert.Equal(t, exchange.OrderStatusFilled, res.Status)
	assert.True(t, res.AvgPrice.Equal(decimal.RequireFromString("65000.1")))
	assert.False(t, res.Duplicate)
}

func TestClient_DuplicateTokenResolvesOriginal(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-4116,"msg":"ClientOrderId is duplicated."}`))
			return
		}
		assert.Equal(t, "tok-1", r.URL.Query().Get("origClientOrderId"))
		_, _ = w.Write([]byte(`{"orderId":7,"clientOrderId":"tok-1","symbol":"BTCUSDT","status":"FILLED","executedQty":"1","avgPrice":"100","updateTime":1700000000000}`))
	})

	res, err := c.Submit(context.Background(), exchange.OrderRequest{Token: "tok-1", Symbol: "BTCUSDT", Side: exchange.SideBuy, Quantity: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "7", res.OrderID)
}

func TestClient_ErrorClasses(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   exchange.Class
	}{
		{http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`, exchange.ClassRetriable},
		{http.StatusBadRequest, `{"code":-2019,"msg":"Margin is insufficient."}`, exchange.ClassFatal},
		{http.StatusBadGateway, `<html>bad gateway</html>`, exchange.ClassRetriable},
	}
	for _, tc := range cases {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		})
		_, err := c.Submit(context.Background(), exchange.OrderRequest{Token: "t", Symbol: "BTCUSDT", Side: exchange.SideBuy, Quantity: decimal.NewFromInt(1)})
		assert.Equal(t, tc.want, exchange.Classify(err), tc.body)
	}
}

func TestFeed_PollMergesBookAndStats(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/fapi/v1/ticker/bookTicker":
			_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","bidPrice":"99.5","bidQty":"1","askPrice":"100.5","askQty":"1"},{"symbol":"XRPUSDT","bidPrice":"1","bidQty":"1","askPrice":"1.1","askQty":"1"}]`))
		case "/fapi/v1/ticker/24hr":
			_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","lastPrice":"100","volume":"1234"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewFeed(Config{RESTBaseURL: srv.URL}, []string{"btcusdt"})
	snaps, err := f.poll(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	want := market.MarketSnapshot{Symbol: "BTCUSDT", Last: decimal.NewFromInt(100)}
	assert.Equal(t, want.Symbol, snaps[0].Symbol)
	assert.True(t, snaps[0].Last.Equal(want.Last))
	assert.True(t, snaps[0].Bid.Equal(decimal.RequireFromString("99.5")))
	assert.True(t, snaps[0].Volume.Equal(decimal.NewFromInt(1234)))
	assert.EqualValues(t, 2, calls.Load())
}
