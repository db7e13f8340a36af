package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltabot/internal/pkg/circuit"
	"deltabot/internal/risk"
	"deltabot/internal/types"
)

func TestRegistry_CountersAndGauges(t *testing.T) {
	r := New()

	r.ObserveTick(10*time.Millisecond, nil)
	r.ObserveTick(10*time.Millisecond, errors.New("boom"))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tickErrors))

	r.ObserveSignal(types.Signal{Symbol: "BTCUSDT", Direction: types.DirectionLong, Kind: types.KindEntry})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.signals.WithLabelValues("BTCUSDT", "long", "entry")))

	r.ObserveDecision(risk.Rejected(risk.ReasonExposureLimitExceeded, ""))
	r.ObserveDecision(risk.Rejected(risk.ReasonExposureLimitExceeded, ""))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.decisions.WithLabelValues("rejected", "ExposureLimitExceeded")))

	r.BreakerChanged("exchange:paper", circuit.StateClosed, circuit.StateOpen)
	r.BreakerChanged("exchange:paper", circuit.StateOpen, circuit.StateHalfOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.breakerTrips))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.breakerState.WithLabelValues("exchange:paper")))

	r.ObserveRisk(risk.State{Level: risk.LevelCritical, TradingHalted: true, Drawdown: decimal.RequireFromString("0.11"), OpenPositions: 2})
	assert.Equal(t, 3.0, testutil.ToFloat64(r.riskLevel))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.halted))
	assert.InDelta(t, 0.11, testutil.ToFloat64(r.drawdown), 1e-9)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.openPositions))
}

func TestRegistry_HandlerExposesDrops(t *testing.T) {
	r := New()
	var dropped uint64 = 7
	r.WatchDrops("market", func() uint64 { return dropped })

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `deltabot_queue_dropped_total{queue="market"} 7`)
}
