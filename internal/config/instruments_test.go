package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadOverrides tests parsing the YAML instruments file
func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instruments.yaml")

	content := `
BTCUSDT:
  leverage: 12
  profit_pnl_target: 0.08
ETHUSDT:
  add_trigger_drop_pct: 0.03
  max_margin_pct: 0.4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	overrides, err := LoadOverrides(path)
	require.NoError(t, err)
	require.Len(t, overrides, 2)

	btc := overrides["BTCUSDT"]
	require.NotNil(t, btc.Leverage)
	assert.Equal(t, 12, *btc.Leverage)
	require.NotNil(t, btc.ProfitPnlTarget)
	assert.InDelta(t, 0.08, *btc.ProfitPnlTarget, 1e-9)
	assert.Nil(t, btc.AddTriggerDropPct)

	eth := overrides["ETHUSDT"]
	require.NotNil(t, eth.AddTriggerDropPct)
	assert.InDelta(t, 0.03, *eth.AddTriggerDropPct, 1e-9)
	require.NotNil(t, eth.MaxMarginPct)
	assert.InDelta(t, 0.4, *eth.MaxMarginPct, 1e-9)
}

// TestLoadOverridesMissingFile tests the error path for an absent file
func TestLoadOverridesMissingFile(t *testing.T) {
	_, err := LoadOverrides(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read instruments file")
}

// TestLoadOverridesBadYAML tests the error path for malformed YAML
func TestLoadOverridesBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte("BTCUSDT: [not a mapping"), 0o600))

	_, err := LoadOverrides(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse instruments file")
}

// TestApplyOverrides tests merging overrides into parsed instruments
func TestApplyOverrides(t *testing.T) {
	defaults := StrategyParams{
		Leverage:               10,
		ProfitPnlTarget:        0.10,
		ProfitBalanceThreshold: 0.003,
		InitialEntryPct:        0.006,
		AddTriggerDropPct:      0.02,
		PositionCeilingPct:     0.10,
	}

	instruments := []Instrument{
		{Symbol: "BTCUSDT", Side: SideLong, AutomaticMode: true, Params: defaults},
		{Symbol: "ETHUSDT", Side: SideShort, Params: defaults},
	}

	lev := 6
	drop := 0.04
	ApplyOverrides(instruments, map[string]ParamsOverride{
		"BTCUSDT": {Leverage: &lev},
		"ETHUSDT": {AddTriggerDropPct: &drop},
		"XRPUSDT": {Leverage: &lev}, // not configured; ignored
	})

	assert.Equal(t, 6, instruments[0].Params.Leverage)
	assert.InDelta(t, 0.02, instruments[0].Params.AddTriggerDropPct, 1e-9)
	assert.Equal(t, 10, instruments[1].Params.Leverage)
	assert.InDelta(t, 0.04, instruments[1].Params.AddTriggerDropPct, 1e-9)

	// Untouched fields keep their defaults
	assert.InDelta(t, 0.10, instruments[0].Params.ProfitPnlTarget, 1e-9)
	assert.InDelta(t, 0.10, instruments[1].Params.PositionCeilingPct, 1e-9)
}
