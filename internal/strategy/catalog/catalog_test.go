package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltabot/internal/config"
	"deltabot/internal/strategy"
)

const twoStrategies = `strategies:
  - id: trend
    type: sma_crossover
    priority: 1
    params:
      short_period: 5
      long_period: 20
  - id: revert
    type: rsi_reversion
    priority: 2
    params:
      period: "14"
      oversold: 25
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func buildCheck(defs []config.StrategyConfig) error {
	_, err := strategy.DefaultRegistry().Build(defs)
	return err
}

func TestOpen_LoadsAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	writeFile(t, path, twoStrategies)

	c, err := Open(path, buildCheck)
	require.NoError(t, err)
	snap := c.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	require.Len(t, snap.Strategies, 2)
	assert.Equal(t, "trend", snap.Strategies[0].ID)

	set, err := strategy.DefaultRegistry().Build(snap.Strategies)
	require.NoError(t, err)
	assert.Len(t, set.Strategies(), 2)
}

func TestOpen_RejectsBadParams(t *testing.T) {
	cases := map[string]string{
		"unknown param": `strategies:
  - id: a
    type: sma_crossover
    params: {short_period: 5, long_period: 20, typo: 1}
`,
		"out of range": `strategies:
  - id: a
    type: rsi_reversion
    params: {oversold: 150}
`,
		"unknown type": `strategies:
  - id: a
    type: martingale
`,
		"semantic check": `strategies:
  - id: a
    type: sma_crossover
    params: {short_period: 30, long_period: 20}
`,
		"unknown field": `strategies:
  - id: a
    type: sma_crossover
    weight: 3
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "strategies.yaml")
			writeFile(t, path, body)
			_, err := Open(path, buildCheck)
			assert.Error(t, err)
		})
	}
}

func TestReload_BumpsVersionAndKeepsLastGood(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	writeFile(t, path, twoStrategies)
	c, err := Open(path, buildCheck)
	require.NoError(t, err)

	writeFile(t, path, `strategies:
  - id: only
    type: sma_crossover
`)
	require.NoError(t, c.Reload())
	assert.Equal(t, int64(2), c.Version())
	assert.Equal(t, "only", c.Snapshot().Strategies[0].ID)

	writeFile(t, path, "strategies: [")
	assert.Error(t, c.Reload())
	assert.Equal(t, int64(2), c.Version())
	assert.Equal(t, "only", c.Snapshot().Strategies[0].ID)
}

func TestWatch_NotifiesOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	writeFile(t, path, twoStrategies)
	c, err := Open(path, buildCheck)
	require.NoError(t, err)

	got := make(chan Snapshot, 4)
	c.OnChange(func(s Snapshot) { got <- s })
	c.Watch()

	writeFile(t, path, `strategies:
  - id: watched
    type: rsi_reversion
`)
	select {
	case snap := <-got:
		assert.Equal(t, "watched", snap.Strategies[0].ID)
		assert.GreaterOrEqual(t, snap.Version, int64(2))
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestStatic_UsesInlineDefinitions(t *testing.T) {
	c, err := Static([]config.StrategyConfig{{ID: "x", Type: "sma_crossover"}}, buildCheck)
	require.NoError(t, err)
	assert.Equal(t, "inline", c.Snapshot().Source)
	assert.NoError(t, c.Reload())
	assert.Equal(t, int64(1), c.Version())

	_, err = Static(nil, buildCheck)
	assert.Error(t, err)
}
