package livehttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltabot/internal/config"
	"deltabot/internal/engine"
	"deltabot/internal/risk"
	"deltabot/internal/store"
	"deltabot/internal/store/journal"
	"deltabot/internal/strategy/catalog"
	"deltabot/internal/types"
)

type fakeEngine struct {
	mu     sync.Mutex
	status engine.Status
	resets []string
	halts  []string
}

func (f *fakeEngine) Status() engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEngine) RequestReset(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, reason)
}

func (f *fakeEngine) RequestHalt(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.halts = append(f.halts, reason)
}

type fakeCatalog struct {
	snap      catalog.Snapshot
	reloadErr error
	reloads   int
}

func (f *fakeCatalog) Snapshot() catalog.Snapshot { return f.snap }

func (f *fakeCatalog) Reload() error {
	f.reloads++
	if f.reloadErr != nil {
		return f.reloadErr
	}
	f.snap.Version++
	return nil
}

func newTestServer(t *testing.T, cfg ServerConfig) http.Handler {
	t.Helper()
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	eng := &fakeEngine{status: engine.Status{Tick: 3, At: time.Now()}}
	h := newTestServer(t, ServerConfig{Engine: eng, StaleAfter: time.Minute})
	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	eng.status.At = time.Now().Add(-time.Hour)
	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "stale", decode(t, rec)["status"])
}

func TestStatusAndPositions(t *testing.T) {
	eng := &fakeEngine{status: engine.Status{
		Tick: 9,
		Mode: "paper",
		Risk: risk.State{TradingHalted: true, HaltReason: risk.ReasonOperatorHalt, Level: risk.LevelLow},
		Positions: []types.PositionSnapshot{
			{ID: "a", Symbol: "BTCUSD", Side: types.DirectionLong, Quantity: decimal.NewFromInt(1)},
			{ID: "b", Symbol: "ETHUSD", Side: types.DirectionShort, Quantity: decimal.NewFromInt(2)},
		},
	}}
	h := newTestServer(t, ServerConfig{Engine: eng})

	rec := do(t, h, http.MethodGet, "/api/live/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 9, body["tick"])
	assert.Equal(t, true, body["risk"].(map[string]any)["trading_halted"])

	rec = do(t, h, http.MethodGet, "/api/live/positions?symbol=ethusd", "")
	require.Equal(t, http.StatusOK, rec.Code)
	positions := decode(t, rec)["positions"].([]any)
	require.Len(t, positions, 1)
	assert.Equal(t, "b", positions[0].(map[string]any)["id"])

	rec = do(t, h, http.MethodGet, "/api/live/risk", "")
	assert.Equal(t, string(risk.ReasonOperatorHalt), decode(t, rec)["risk"].(map[string]any)["halt_reason"])
}

func TestRiskActionsQueueOnEngine(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestServer(t, ServerConfig{Engine: eng})

	rec := do(t, h, http.MethodPost, "/api/live/risk/halt", `{"reason":"maintenance"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/live/risk/reset?reason=recovered", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, []string{"maintenance"}, eng.halts)
	assert.Equal(t, []string{"recovered"}, eng.resets)
}

func TestDecisionsFromJournal(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i, outcome := range []string{"approved", "rejected", "approved"} {
		require.NoError(t, j.SaveDecision(ctx, store.DecisionRecord{
			At: base.Add(time.Duration(i) * time.Minute), Symbol: "BTCUSD", Direction: "long", Kind: "entry",
			Outcome: outcome, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1),
		}))
	}
	h := newTestServer(t, ServerConfig{Engine: &fakeEngine{}, Decisions: j})

	rec := do(t, h, http.MethodGet, "/api/live/decisions?outcome=approved&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 2, body["total"])
	list := body["decisions"].([]any)
	require.Len(t, list, 1)

	rec = do(t, h, http.MethodGet, "/api/live/decisions?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecisionsWithoutJournal(t *testing.T) {
	h := newTestServer(t, ServerConfig{Engine: &fakeEngine{}})
	rec := do(t, h, http.MethodGet, "/api/live/decisions", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStrategiesAndReload(t *testing.T) {
	cat := &fakeCatalog{snap: catalog.Snapshot{Version: 4, Source: "strategies.yaml",
		Strategies: []config.StrategyConfig{{ID: "trend", Type: "sma_crossover"}}}}
	eng := &fakeEngine{status: engine.Status{StrategyVersion: 4}}
	h := newTestServer(t, ServerConfig{Engine: eng, Strategies: cat})

	rec := do(t, h, http.MethodGet, "/api/live/strategies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 4, body["version"])
	assert.EqualValues(t, 4, body["running_version"])
	assert.Len(t, body["strategies"], 1)

	rec = do(t, h, http.MethodPost, "/api/live/strategies/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, decode(t, rec)["version"])

	cat.reloadErr = errors.New("unknown strategy type")
	rec = do(t, h, http.MethodPost, "/api/live/strategies/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 2, cat.reloads)
}

func TestLogsTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deltabot.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))
	h := newTestServer(t, ServerConfig{Engine: &fakeEngine{}, LogPaths: map[string]string{"engine": path}})

	rec := do(t, h, http.MethodGet, "/api/live/logs?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"two", "three"}, decode(t, rec)["lines"])
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("deltabot_ticks_total 1\n"))
	})
	h := newTestServer(t, ServerConfig{Engine: &fakeEngine{}, Metrics: metrics})
	rec := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deltabot_ticks_total")
}
