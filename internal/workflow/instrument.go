package workflow

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/tradewell-labs/margingale/internal/alerts"
	"github.com/tradewell-labs/margingale/internal/config"
	"github.com/tradewell-labs/margingale/internal/exchange"
	"github.com/tradewell-labs/margingale/internal/indicators"
	"github.com/tradewell-labs/margingale/internal/market"
	"github.com/tradewell-labs/margingale/internal/metrics"
	"github.com/tradewell-labs/margingale/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// tickState is everything one instrument pass reads from the exchange.
type tickState struct {
	pos     *exchange.Position
	ticker  *exchange.Ticker
	candles []indicators.Candle
	acc     *exchange.Account
}

// manage runs the full pipeline for one instrument: prepare, gather,
// snapshot, gate, decide, execute, alert. Every exit path fills the
// outcome; errors never propagate past this function.
func (r *Runner) manage(ctx context.Context, inst config.Instrument) Outcome {
	out := Outcome{Symbol: inst.Symbol, Action: strategy.ActionNone}

	// Prepare: clear resting orders first so the leverage change and the
	// sizing below see a clean book.
	if _, err := r.client.CancelAllOpen(ctx, inst.Symbol); err != nil {
		return r.fail(ctx, out, "cancelAllOpen", err)
	}
	if err := r.client.SetLeverage(ctx, inst.Symbol, inst.Side, inst.Params.Leverage); err != nil {
		return r.fail(ctx, out, "setLeverage", err)
	}

	state, err := r.gather(ctx, inst)
	if err != nil {
		return r.fail(ctx, out, "gather", err)
	}
	pos := state.pos
	if pos.IsAbsent() {
		pos = nil
	}

	out.Equity = state.acc.TotalEquityUsd
	metrics.UpdateEquity(state.acc.TotalEquityUsd.InexactFloat64())
	r.updatePositionGauges(inst.Symbol, pos)
	if pos != nil {
		out.SizeContracts = pos.SizeContracts
		out.ValueUsd = pos.PositionValueUsd
		out.UnrealizedPnl = pos.UnrealizedPnl
		out.MarginLevel = pos.MarginLevel
	}

	snap, err := market.BuildSnapshot(state.ticker, state.candles, r.cfg.EmaIntervalMin, r.thresholds())
	if err != nil {
		if errors.Is(err, indicators.ErrInsufficientData) {
			out.Result = OutcomeSkipped
			out.Reason = "insufficient candle history"
			return out
		}
		return r.fail(ctx, out, "snapshot", err)
	}
	out.Price = snap.LastPrice
	out.VolatilityHigh = snap.Volatility.IsHigh
	out.DeclineKind = string(snap.Decline.Kind)
	metrics.UpdateMarketGates(inst.Symbol, snap.Volatility.IsHigh, snap.Decline.Score)

	if ok, reason := strategy.Relevant(inst, pos, snap); !ok {
		out.Result = OutcomeSkipped
		out.Reason = reason
		return out
	}

	plan := strategy.Decide(inst, pos, snap, state.acc)
	out.Action = plan.Action
	out.Reason = plan.Reason

	if plan.IsOrder() {
		req, err := r.execute(ctx, inst, pos, snap, plan)
		if err != nil {
			return r.fail(ctx, out, "execute", err)
		}
		r.reportFill(ctx, inst, plan, req, state.acc, &out)
	}

	r.observe(ctx, inst, pos, snap, state)
	out.Result = OutcomeManaged
	return out
}

// gather pulls position, ticker, candles and equity concurrently. Any
// failure cancels the siblings and fails the instrument.
func (r *Runner) gather(ctx context.Context, inst config.Instrument) (*tickState, error) {
	state := &tickState{}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		state.pos, err = r.client.GetPosition(ctx, inst.Symbol)
		return err
	})
	g.Go(func() error {
		var err error
		state.ticker, err = r.client.GetTicker(ctx, inst.Symbol)
		return err
	})
	g.Go(func() error {
		var err error
		state.candles, err = r.client.GetCandles(ctx, inst.Symbol, r.cfg.EmaIntervalMin, market.CandleLimit)
		return err
	})
	g.Go(func() error {
		var err error
		state.acc, err = r.client.GetEquity(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return state, nil
}

// orderFor lowers an order plan to the concrete request. Open and add
// carry their price and size from the engine; reduce is a marketable
// reduce-only limit at the touch (a long sells at the bid, a short buys
// at the ask) so it fills immediately without chasing the book; close
// carries the flattened size at the last price for reporting only.
func orderFor(inst config.Instrument, pos *exchange.Position, snap *market.Snapshot, plan strategy.ActionPlan) exchange.LimitOrderRequest {
	switch plan.Action {
	case strategy.ActionReduce:
		side := exchange.SideToOrder(pos.Side).Opposite()
		price := snap.BestBid
		if side == exchange.OrderSideBuy {
			price = snap.BestAsk
		}
		return exchange.LimitOrderRequest{
			Symbol:     inst.Symbol,
			Side:       side,
			Quantity:   pos.SizeContracts.Mul(plan.Fraction),
			LimitPrice: price,
			ReduceOnly: true,
		}
	case strategy.ActionClose:
		return exchange.LimitOrderRequest{
			Symbol:     inst.Symbol,
			Side:       exchange.SideToOrder(pos.Side).Opposite(),
			Quantity:   pos.SizeContracts,
			LimitPrice: snap.LastPrice,
			ReduceOnly: true,
		}
	default:
		return exchange.LimitOrderRequest{
			Symbol:     inst.Symbol,
			Side:       plan.Side,
			Quantity:   plan.Quantity,
			LimitPrice: plan.LimitPrice,
		}
	}
}

// execute turns the plan into exchange calls and returns the request it
// placed (for close, the request describes the flatten).
func (r *Runner) execute(ctx context.Context, inst config.Instrument, pos *exchange.Position, snap *market.Snapshot, plan strategy.ActionPlan) (exchange.LimitOrderRequest, error) {
	req := orderFor(inst, pos, snap, plan)
	if plan.Action == strategy.ActionClose {
		return req, r.client.ClosePosition(ctx, inst.Symbol)
	}
	_, err := r.client.PlaceLimit(ctx, req)
	return req, err
}

// reportFill re-reads the position after an executed order and emits the
// position-update alert. The order already went through, so a failure
// here only degrades the alert, not the outcome.
func (r *Runner) reportFill(ctx context.Context, inst config.Instrument, plan strategy.ActionPlan, req exchange.LimitOrderRequest, acc *exchange.Account, out *Outcome) {
	post, err := r.client.GetPosition(ctx, inst.Symbol)
	if err != nil {
		r.log.Warn().Err(err).Str("symbol", inst.Symbol).Msg("Post-action position read failed")
		return
	}
	if post.IsAbsent() {
		post = nil
	}
	r.updatePositionGauges(inst.Symbol, post)

	update := alerts.PositionUpdate{
		Action:   positionAction(plan.Action),
		Symbol:   inst.Symbol,
		Side:     string(inst.Side),
		Quantity: req.Quantity,
		Price:    req.LimitPrice,
		Equity:   acc.TotalEquityUsd,
	}
	if post != nil {
		out.SizeContracts = post.SizeContracts
		out.ValueUsd = post.PositionValueUsd
		out.UnrealizedPnl = post.UnrealizedPnl
		out.MarginLevel = post.MarginLevel
		update.PostSizeContracts = post.SizeContracts
		update.PostValueUsd = post.PositionValueUsd
		if acc.TotalEquityUsd.IsPositive() {
			update.PostPctOfEquity = post.PositionValueUsd.Div(acc.TotalEquityUsd).Mul(percentScale)
		}
	} else {
		out.SizeContracts = decimal.Zero
		out.ValueUsd = decimal.Zero
		out.UnrealizedPnl = decimal.Zero
		out.MarginLevel = decimal.Zero
	}
	r.publish(ctx, update)
}

// observe emits the standing market and margin alerts for the tick.
// These fire on observation, independent of what the engine decided.
func (r *Runner) observe(ctx context.Context, inst config.Instrument, pos *exchange.Position, snap *market.Snapshot, state *tickState) {
	if snap.Volatility.IsHigh {
		r.publish(ctx, alerts.VolatilityHigh{
			Symbol:     inst.Symbol,
			AtrRatio:   snap.Volatility.ATRRatio,
			BBWidthPct: snap.Volatility.BBWidthPct,
			HistVolPct: snap.Volatility.HistVolPct,
		})
	}
	if snap.Decline.IsDangerous() {
		r.publish(ctx, alerts.DeclineVelocity{
			Symbol:    inst.Symbol,
			Kind:      string(snap.Decline.Kind),
			Score:     snap.Decline.Score,
			RocShort:  snap.Decline.ROCShort,
			RocMedium: snap.Decline.ROCMedium,
		})
	}
	if pos != nil && pos.MarginLevel.LessThan(marginWarningLevel) {
		r.publish(ctx, alerts.MarginWarning{
			Symbol:           inst.Symbol,
			MarginLevel:      pos.MarginLevel,
			Equity:           state.acc.TotalEquityUsd,
			PositionValueUsd: pos.PositionValueUsd,
		})
	}
}

// fail finalizes an errored instrument: classify, alert (unless the
// outer deadline was simply hit), and fill the outcome. The stage in the
// alert prefers the adapter's operation name over the pipeline step.
func (r *Runner) fail(ctx context.Context, out Outcome, stage string, err error) Outcome {
	kind := exchange.KindOf(err)
	var ee *exchange.Error
	if errors.As(err, &ee) && ee.Op != "" {
		stage = ee.Op
	}

	out.Result = OutcomeError
	out.Reason = err.Error()

	if kind == exchange.KindCancelled || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.log.Warn().Str("symbol", out.Symbol).Str("stage", stage).Msg("Instrument pass cancelled")
		return out
	}

	r.publish(ctx, alerts.ExecutionError{
		Symbol:    out.Symbol,
		Stage:     stage,
		ErrorKind: kindLabel(kind),
		Message:   err.Error(),
	})
	return out
}

func (r *Runner) updatePositionGauges(symbol string, pos *exchange.Position) {
	if pos == nil {
		metrics.ClearPosition(symbol)
		return
	}
	metrics.UpdatePosition(symbol,
		pos.PositionValueUsd.InexactFloat64(),
		pos.UnrealizedPnl.InexactFloat64(),
		pos.MarginLevel.InexactFloat64())
}

func (r *Runner) thresholds() indicators.Thresholds {
	return indicators.Thresholds{
		ATRRatio:   r.cfg.Volatility.ATRRatio,
		BBWidthPct: r.cfg.Volatility.BBWidthPct,
		HistVolPct: r.cfg.Volatility.HistVolPct,
	}
}

func positionAction(a strategy.Action) alerts.PositionAction {
	switch a {
	case strategy.ActionOpen:
		return alerts.ActionOpened
	case strategy.ActionAdd:
		return alerts.ActionAdded
	case strategy.ActionReduce:
		return alerts.ActionReduced
	default:
		return alerts.ActionClosed
	}
}

func kindLabel(kind exchange.ErrorKind) string {
	if kind == "" {
		return "unknown"
	}
	return string(kind)
}
