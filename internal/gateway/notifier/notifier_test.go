package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltabot/internal/risk"
)

func TestTelegram_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "chat", payload["chat_id"])
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "chat")
	tg.BaseURL = srv.URL
	tg.Backoff = backoff.Backoff{Min: time.Millisecond, Max: time.Millisecond}
	require.NoError(t, tg.SendText(context.Background(), "hello"))
	assert.EqualValues(t, 2, calls.Load())
}

func TestTelegram_RequiresConfig(t *testing.T) {
	assert.Error(t, NewTelegram("", "").SendText(context.Background(), "x"))
}

type captured struct{ texts chan string }

func (c captured) SendText(_ context.Context, text string) error {
	c.texts <- text
	return nil
}

func TestAlerter_ForwardsOnlyCriticalTransitions(t *testing.T) {
	sink := captured{texts: make(chan string, 4)}
	a := NewAlerter(sink, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	a.Notify(risk.Transition{From: risk.State{Level: risk.LevelLow}, To: risk.State{Level: risk.LevelMedium}})
	a.Notify(risk.Transition{
		From:  risk.State{Level: risk.LevelHigh},
		To:    risk.State{Level: risk.LevelCritical, TradingHalted: true, HaltReason: risk.ReasonDrawdownLimitExceeded, Drawdown: decimal.NewFromFloat(0.11)},
		Cause: "DrawdownLimitExceeded",
	})

	select {
	case text := <-sink.texts:
		assert.True(t, strings.Contains(text, "Trading halted: DrawdownLimitExceeded"), text)
		assert.Contains(t, text, "drawdown 11.00%")
	case <-time.After(2 * time.Second):
		t.Fatal("alert not delivered")
	}
	assert.Empty(t, sink.texts)
}
