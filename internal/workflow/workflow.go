// Package workflow drives one management pass over the configured
// instruments: cancel stale orders, set leverage, gather exchange state,
// build the market snapshot, run the decision engine, and execute
// whatever it returns. Instruments are isolated from each other; a
// failure on one is recorded and alerted but never aborts the tick.
package workflow

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradewell-labs/margingale/internal/alerts"
	"github.com/tradewell-labs/margingale/internal/config"
	"github.com/tradewell-labs/margingale/internal/exchange"
	"github.com/tradewell-labs/margingale/internal/metrics"
	"github.com/tradewell-labs/margingale/internal/strategy"
)

// Outcome results. "managed" means the decision engine ran to a verdict
// and any ordered action executed; "skipped" means the pipeline stopped
// before the engine (relevance gate, short candle history); "error"
// means a stage failed.
const (
	OutcomeManaged = "managed"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

const (
	// tickSafetyMargin is shaved off the run interval so a slow tick
	// finishes (or times out) before the next one is due.
	tickSafetyMargin = 5 * time.Second

	// oneShotBudget bounds a single-tick run, which has no interval to
	// derive a deadline from.
	oneShotBudget = 2 * time.Minute
)

// marginWarningLevel is where the margin alert fires, between healthy
// and the engine's own intervention level.
var (
	marginWarningLevel = decimal.RequireFromString("1.5")
	percentScale       = decimal.NewFromInt(100)
)

// Outcome is the per-instrument result of one tick, logged as a single
// structured record and returned so callers can inspect a run.
type Outcome struct {
	Symbol         string
	Result         string
	Action         strategy.Action
	Reason         string
	Price          decimal.Decimal
	SizeContracts  decimal.Decimal
	ValueUsd       decimal.Decimal
	Equity         decimal.Decimal
	UnrealizedPnl  decimal.Decimal
	MarginLevel    decimal.Decimal
	VolatilityHigh bool
	DeclineKind    string
}

// Runner owns the per-tick pipeline. It holds no position state of its
// own; everything is re-read from the exchange every tick.
type Runner struct {
	client exchange.Exchange
	alerts *alerts.Manager
	cfg    *config.Config
	log    zerolog.Logger
}

// NewRunner wires the tick pipeline. The alert manager may be nil in
// tests; alerts are then dropped.
func NewRunner(client exchange.Exchange, manager *alerts.Manager, cfg *config.Config) *Runner {
	return &Runner{
		client: client,
		alerts: manager,
		cfg:    cfg,
		log:    config.NewLogger("workflow"),
	}
}

// Tick runs one management pass over every configured instrument and
// returns the per-instrument outcomes. Errors are embedded in the
// outcomes; the pass itself always completes.
func (r *Runner) Tick(ctx context.Context) []Outcome {
	ctx, cancel := context.WithTimeout(ctx, r.tickBudget())
	defer cancel()

	outcomes := make([]Outcome, 0, len(r.cfg.Instruments))
	for _, inst := range r.cfg.Instruments {
		outcomes = append(outcomes, r.runInstrument(ctx, inst))
	}
	return outcomes
}

func (r *Runner) tickBudget() time.Duration {
	if r.cfg.RunInterval <= 0 {
		return oneShotBudget
	}
	budget := r.cfg.RunInterval - tickSafetyMargin
	if budget < time.Second {
		budget = r.cfg.RunInterval
	}
	return budget
}

func (r *Runner) runInstrument(ctx context.Context, inst config.Instrument) Outcome {
	started := time.Now()
	out := r.manage(ctx, inst)

	metrics.RecordTick(inst.Symbol, out.Result, float64(time.Since(started).Milliseconds()))
	metrics.RecordAction(inst.Symbol, string(out.Action))
	r.record(out)
	return out
}

// record emits the one-line-per-instrument-per-tick log that the rest of
// the tooling greps and graphs.
func (r *Runner) record(o Outcome) {
	evt := r.log.Info()
	if o.Result == OutcomeError {
		evt = r.log.Error()
	}
	evt.
		Str("symbol", o.Symbol).
		Str("outcome", o.Result).
		Str("action", string(o.Action)).
		Str("reason", o.Reason).
		Str("price", o.Price.String()).
		Str("positionSizeContracts", o.SizeContracts.String()).
		Str("positionValueUsd", o.ValueUsd.String()).
		Str("equity", o.Equity.String()).
		Str("unrealizedPnl", o.UnrealizedPnl.String()).
		Str("marginLevel", o.MarginLevel.String()).
		Bool("volatilityHigh", o.VolatilityHigh).
		Str("declineKind", o.DeclineKind).
		Msg("Instrument outcome")
}

// publish sends an alert best-effort. Delivery failure is counted and
// logged but never fails the tick.
func (r *Runner) publish(ctx context.Context, event alerts.Event) {
	if r.alerts == nil {
		return
	}
	if err := r.alerts.Publish(ctx, event); err != nil {
		metrics.RecordAlertFailure()
		r.log.Warn().Err(err).Msg("Alert delivery failed")
	}
}
