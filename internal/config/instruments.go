package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ParamsOverride holds per-instrument overrides from the instruments file.
// Pointer fields distinguish "not specified" from an explicit zero.
type ParamsOverride struct {
	Leverage               *int     `yaml:"leverage"`
	ProfitPnlTarget        *float64 `yaml:"profit_pnl_target"`
	ProfitBalanceThreshold *float64 `yaml:"profit_balance_threshold"`
	InitialEntryPct        *float64 `yaml:"initial_entry_pct"`
	AddTriggerDropPct      *float64 `yaml:"add_trigger_drop_pct"`
	PositionCeilingPct     *float64 `yaml:"position_ceiling_pct"`
	MaxMarginPct           *float64 `yaml:"max_margin_pct"`
}

// LoadOverrides reads a YAML instruments file keyed by symbol:
//
//	BTCUSDT:
//	  leverage: 12
//	  profit_pnl_target: 0.08
//	ETHUSDT:
//	  add_trigger_drop_pct: 0.03
//
// The file only tunes parameters; which instruments run, and their side and
// automatic flags, remain governed by SYMBOL.
func LoadOverrides(path string) (map[string]ParamsOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instruments file: %w", err)
	}

	overrides := make(map[string]ParamsOverride)
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse instruments file %s: %w", path, err)
	}

	return overrides, nil
}

// ApplyOverrides merges file overrides into the parsed instruments.
// Symbols present in the file but absent from SYMBOL are ignored with a
// warning.
func ApplyOverrides(instruments []Instrument, overrides map[string]ParamsOverride) {
	bySymbol := make(map[string]int, len(instruments))
	for i, inst := range instruments {
		bySymbol[inst.Symbol] = i
	}

	for symbol, ov := range overrides {
		i, ok := bySymbol[symbol]
		if !ok {
			log.Warn().
				Str("symbol", symbol).
				Msg("Instruments file entry has no matching SYMBOL instrument, ignoring")
			continue
		}

		p := &instruments[i].Params
		if ov.Leverage != nil {
			p.Leverage = *ov.Leverage
		}
		if ov.ProfitPnlTarget != nil {
			p.ProfitPnlTarget = *ov.ProfitPnlTarget
		}
		if ov.ProfitBalanceThreshold != nil {
			p.ProfitBalanceThreshold = *ov.ProfitBalanceThreshold
		}
		if ov.InitialEntryPct != nil {
			p.InitialEntryPct = *ov.InitialEntryPct
		}
		if ov.AddTriggerDropPct != nil {
			p.AddTriggerDropPct = *ov.AddTriggerDropPct
		}
		if ov.PositionCeilingPct != nil {
			p.PositionCeilingPct = *ov.PositionCeilingPct
		}
		if ov.MaxMarginPct != nil {
			p.MaxMarginPct = *ov.MaxMarginPct
		}
	}
}
