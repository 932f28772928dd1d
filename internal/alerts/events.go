package alerts

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Event is one of the enumerated notification kinds. Each kind renders
// to a fixed alert shape; callers build events, never raw Alerts.
type Event interface {
	Alert() Alert
}

// PositionAction labels what the executed plan did to the position.
type PositionAction string

const (
	ActionOpened  PositionAction = "Opened"
	ActionAdded   PositionAction = "Added"
	ActionReduced PositionAction = "Reduced"
	ActionClosed  PositionAction = "Closed"
)

// PositionUpdate reports an executed order with the post-action position
// snapshot.
type PositionUpdate struct {
	Action            PositionAction
	Symbol            string
	Side              string
	Quantity          decimal.Decimal
	Price             decimal.Decimal
	PostSizeContracts decimal.Decimal
	PostValueUsd      decimal.Decimal
	PostPctOfEquity   decimal.Decimal // percent, not fraction
	Equity            decimal.Decimal
}

func (e PositionUpdate) Alert() Alert {
	return Alert{
		Title:    fmt.Sprintf("Position %s", e.Action),
		Severity: SeverityInfo,
		Message: fmt.Sprintf("%s %s %s: %s contracts @ %s",
			e.Action, e.Symbol, e.Side, e.Quantity.String(), e.Price.String()),
		Metadata: map[string]interface{}{
			"symbol":             e.Symbol,
			"side":               e.Side,
			"quantity":           e.Quantity.String(),
			"price":              e.Price.String(),
			"position_contracts": e.PostSizeContracts.String(),
			"position_value_usd": e.PostValueUsd.StringFixed(2),
			"pct_of_equity":      e.PostPctOfEquity.StringFixed(2) + "%",
			"equity_usd":         e.Equity.StringFixed(2),
		},
	}
}

// VolatilityHigh reports that the volatility gate is blocking entries.
type VolatilityHigh struct {
	Symbol     string
	AtrRatio   float64
	BBWidthPct float64
	HistVolPct float64
}

func (e VolatilityHigh) Alert() Alert {
	return Alert{
		Title:    "Volatility High",
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("%s volatility is elevated; entries are blocked", e.Symbol),
		Metadata: map[string]interface{}{
			"symbol":       e.Symbol,
			"atr_ratio":    fmt.Sprintf("%.2f", e.AtrRatio),
			"bb_width_pct": fmt.Sprintf("%.2f", e.BBWidthPct),
			"hist_vol_pct": fmt.Sprintf("%.2f", e.HistVolPct),
		},
	}
}

// DeclineVelocity reports a dangerous downward move.
type DeclineVelocity struct {
	Symbol    string
	Kind      string
	Score     float64
	RocShort  float64
	RocMedium float64
}

func (e DeclineVelocity) Alert() Alert {
	return Alert{
		Title:    "Decline Velocity",
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("%s is declining at %s velocity (score %.1f)", e.Symbol, e.Kind, e.Score),
		Metadata: map[string]interface{}{
			"symbol":     e.Symbol,
			"kind":       e.Kind,
			"score":      fmt.Sprintf("%.1f", e.Score),
			"roc_short":  fmt.Sprintf("%.4f", e.RocShort),
			"roc_medium": fmt.Sprintf("%.4f", e.RocMedium),
		},
	}
}

// MarginWarning reports a margin level approaching liquidation.
type MarginWarning struct {
	Symbol           string
	MarginLevel      decimal.Decimal
	Equity           decimal.Decimal
	PositionValueUsd decimal.Decimal
}

func (e MarginWarning) Alert() Alert {
	return Alert{
		Title:    "Margin Warning",
		Severity: SeverityCritical,
		Message: fmt.Sprintf("%s margin level %s is approaching liquidation",
			e.Symbol, e.MarginLevel.StringFixed(2)),
		Metadata: map[string]interface{}{
			"symbol":             e.Symbol,
			"margin_level":       e.MarginLevel.StringFixed(2),
			"equity_usd":         e.Equity.StringFixed(2),
			"position_value_usd": e.PositionValueUsd.StringFixed(2),
		},
	}
}

// ExecutionError reports a failed workflow stage for one instrument.
type ExecutionError struct {
	Symbol    string
	Stage     string
	ErrorKind string
	Message   string
}

func (e ExecutionError) Alert() Alert {
	return Alert{
		Title:    "Execution Error",
		Severity: SeverityCritical,
		Message:  fmt.Sprintf("%s %s failed: %s", e.Symbol, e.Stage, e.Message),
		Metadata: map[string]interface{}{
			"symbol":     e.Symbol,
			"stage":      e.Stage,
			"error_kind": e.ErrorKind,
		},
	}
}

// Started announces the process coming up with its instrument set.
type Started struct {
	Instruments []string
	Testnet     bool
}

func (e Started) Alert() Alert {
	env := "mainnet"
	if e.Testnet {
		env = "testnet"
	}
	return Alert{
		Title:    "Bot Started",
		Severity: SeverityInfo,
		Message:  fmt.Sprintf("Watching %s on %s", strings.Join(e.Instruments, ", "), env),
		Metadata: map[string]interface{}{
			"instruments": strings.Join(e.Instruments, ","),
			"environment": env,
		},
	}
}

// Stopped announces a clean shutdown of loop mode.
type Stopped struct {
	Reason string
}

func (e Stopped) Alert() Alert {
	return Alert{
		Title:    "Bot Stopped",
		Severity: SeverityInfo,
		Message:  fmt.Sprintf("Shutting down: %s", e.Reason),
		Metadata: map[string]interface{}{
			"reason": e.Reason,
		},
	}
}
