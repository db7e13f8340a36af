package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
instruments:
  - symbol: btcusd
    max_qty: 10
strategies:
  items:
    - id: sma
      type: sma_crossover
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, defaultTickInterval, cfg.Engine.TickInterval)
	assert.True(t, cfg.Engine.CloseOnShutdown)
	assert.Equal(t, 1.0, cfg.Risk.RiskPerTradePct)
	assert.Equal(t, 100.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, 10.0, cfg.Risk.DrawdownLimitPct)
	assert.Equal(t, 5, cfg.Risk.MaxOpenPositions)
	assert.Equal(t, 3, cfg.Execution.MaxAttempts)
	assert.Equal(t, "paper", cfg.Trading.Mode)
	assert.Equal(t, 10000.0, cfg.Trading.PaperBalance)
	assert.Equal(t, []string{"BTCUSD"}, cfg.Symbols())
	assert.Equal(t, defaultInstrumentQtyStep, cfg.Instruments[0].QtyStep)
}

func TestLoad_ExplicitValuesSurvive(t *testing.T) {
	body := minimalConfig + `
engine:
  tick_interval: 2s
  close_on_shutdown: false
  reconcile_every: 0
execution:
  max_total_wait: 3s
  initial_backoff: 100ms
  max_backoff: 1s
`
	cfg, err := Load(writeFile(t, t.TempDir(), "config.yaml", body))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Engine.TickInterval)
	assert.False(t, cfg.Engine.CloseOnShutdown)
	assert.Equal(t, 0, cfg.Engine.ReconcileEvery)
	assert.Equal(t, 3*time.Second, cfg.Execution.MaxTotalWait)
	assert.Equal(t, 100*time.Millisecond, cfg.Execution.InitialBackoff)
}

func TestLoad_IncludeChain(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", minimalConfig+`
risk:
  max_daily_loss: 50
`)
	path := writeFile(t, dir, "config.yaml", `
include: [base.yaml]
risk:
  max_open_positions: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, 2, cfg.Risk.MaxOpenPositions)
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoad_RejectsContradictoryRisk(t *testing.T) {
	cases := map[string]string{
		"take profit below stop": "risk:\n  stop_loss_pct: 3\n  take_profit_pct: 2\n",
		"risk pct above 100":     "risk:\n  risk_per_trade_pct: 150\n",
		"drawdown at 100":        "risk:\n  drawdown_limit_pct: 100\n",
		"bad mode":               "trading:\n  mode: margin\n",
		"min above max":          "instruments:\n  - symbol: ETHUSD\n    min_qty: 5\n    max_qty: 1\n",
	}
	for name, extra := range cases {
		t.Run(name, func(t *testing.T) {
			body := minimalConfig + extra
			if name == "min above max" {
				body = "strategies:\n  items:\n    - id: sma\n      type: sma_crossover\n" + extra
			}
			_, err := Load(writeFile(t, t.TempDir(), "config.yaml", body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_SecretsFromEnv(t *testing.T) {
	t.Setenv(EnvExchangeKey, "key-from-env")
	t.Setenv(EnvExchangeSecret, "secret-from-env")
	body := minimalConfig + `
exchange:
  api_key: explicit
`
	cfg, err := Load(writeFile(t, t.TempDir(), "config.yaml", body))
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.Exchange.APIKey)
	assert.Equal(t, "secret-from-env", cfg.Exchange.APISecret)
}

func TestDecodeParams(t *testing.T) {
	var out struct {
		Short    int           `toml:"short_period"`
		Strength float64       `toml:"min_strength"`
		Cooldown time.Duration `toml:"cooldown"`
	}
	err := DecodeParams(map[string]any{"short_period": "7", "min_strength": 0.4, "cooldown": "1m"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 7, out.Short)
	assert.Equal(t, 0.4, out.Strength)
	assert.Equal(t, time.Minute, out.Cooldown)
}
