package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tradewell-labs/margingale/internal/config"
	"github.com/tradewell-labs/margingale/internal/exchange"
	"github.com/tradewell-labs/margingale/internal/market"
)

// Decision thresholds shared by every instrument. The per-instrument
// knobs live in config.StrategyParams; these are structural to the
// branch cascade itself.
var (
	// marginCriticalLevel is the liquidation-headroom floor below which
	// averaging in overrides every safety gate.
	marginCriticalLevel = decimal.NewFromInt(2)

	// oversizeCloseFraction and oversizeTrimFraction ladder the
	// profit-taking reductions by the margin share of equity.
	oversizeCloseFraction = decimal.RequireFromString("0.10")
	oversizeTrimFraction  = decimal.RequireFromString("0.075")

	halfSize  = decimal.RequireFromString("0.5")
	thirdSize = decimal.RequireFromString("0.33")

	// safeDeclineRelief raises the position ceiling by 50% while the
	// decline classifier reads Slow.
	safeDeclineRelief = decimal.RequireFromString("1.5")
)

// Decide maps one instrument's tick state to an action plan. It is a
// pure function: same inputs, same verdict, no side effects. Branches
// are evaluated in fixed priority order and the first match wins.
func Decide(inst config.Instrument, pos *exchange.Position, snap *market.Snapshot, acc *exchange.Account) ActionPlan {
	equity := acc.TotalEquityUsd
	if !equity.IsPositive() {
		return NoOp("account has no equity")
	}
	if snap == nil || !snap.LastPrice.IsPositive() {
		return NoOp("no market data")
	}

	// Stale snapshots (zero value, non-zero contracts) count as flat.
	if pos.IsAbsent() {
		pos = nil
	}

	// 1. Margin-critical override: protect the position before anything
	// else, ignoring volatility and decline state.
	if pos != nil && pos.MarginLevel.LessThan(marginCriticalLevel) {
		return decideMarginCritical(inst, pos, snap, equity)
	}

	// 2. Profitable-position management.
	if pos != nil && pos.UnrealizedPnl.IsPositive() {
		return decideProfit(inst, pos, equity)
	}

	// 3. Averaging into a losing position.
	if pos != nil {
		if plan, ok := decideAdd(inst, pos, snap, equity); ok {
			return plan
		}
	}

	// 4. Opening from flat.
	if pos == nil {
		if !inst.AutomaticMode {
			return NoOp("manual mode; waiting for operator")
		}
		return decideOpen(inst, snap, equity)
	}

	// 5. Safety net; the relevance gate normally catches this state.
	return NoOp("no applicable rule")
}

// Relevant is the workflow's cheap pre-filter. Most quiet ticks end here
// and never run the full cascade; the returned reason feeds the skip
// record directly.
func Relevant(inst config.Instrument, pos *exchange.Position, snap *market.Snapshot) (bool, string) {
	if pos.IsAbsent() {
		if !inst.AutomaticMode && !snap.OpenTrend(inst.Side) {
			return false, "waiting for trend"
		}
		return true, ""
	}

	healthy := pos.MarginLevel.GreaterThanOrEqual(marginCriticalLevel)
	losing := !pos.UnrealizedPnl.IsPositive()
	if healthy && losing && !snap.AddTrend(pos.Side) {
		return false, "holding; nothing to do"
	}
	return true, ""
}

func decideMarginCritical(inst config.Instrument, pos *exchange.Position, snap *market.Snapshot, equity decimal.Decimal) ActionPlan {
	qty := addQuantity(pos, inst.Params, snap.LastPrice)

	// The margin cap binds even here: liquidation protection may not
	// spend equity the operator has fenced off.
	if marginCap := decimal.NewFromFloat(inst.Params.MaxMarginPct); marginCap.IsPositive() {
		usage := pos.PositionMarginUsd.Div(equity)
		factor := taperFactor(usage, marginCap)
		if factor.IsZero() {
			return NoOp("margin cap reached")
		}
		qty = qty.Mul(factor)
	}

	side := exchange.SideToOrder(pos.Side)
	return AddToPosition(side, qty, snap.LimitFor(side), "liquidation protection")
}

func decideProfit(inst config.Instrument, pos *exchange.Position, equity decimal.Decimal) ActionPlan {
	positionFraction := pos.PositionMarginUsd.Div(equity)
	balanceFloor := decimal.NewFromFloat(inst.Params.ProfitBalanceThreshold).Mul(equity)
	clearsFloor := pos.UnrealizedPnl.GreaterThanOrEqual(balanceFloor)

	if positionFraction.GreaterThan(oversizeCloseFraction) && clearsFloor {
		return ReducePosition(halfSize, "halving oversized position")
	}
	if positionFraction.GreaterThan(oversizeTrimFraction) {
		return ReducePosition(thirdSize, "trimming oversized position")
	}

	pnlOfMargin := decimal.Zero
	if pos.PositionMarginUsd.IsPositive() {
		pnlOfMargin = pos.UnrealizedPnl.Div(pos.PositionMarginUsd)
	}
	if pnlOfMargin.GreaterThanOrEqual(decimal.NewFromFloat(inst.Params.ProfitPnlTarget)) {
		if clearsFloor {
			return ClosePosition("profit target reached")
		}
		return NoOp("profit below balance threshold")
	}

	return NoOp("profitable, below reduce/close thresholds")
}

// decideAdd returns ok=false when the trend or drop predicate fails, so
// the cascade falls through to the safety net. Once both hold, every
// outcome is a verdict, blocked adds included.
func decideAdd(inst config.Instrument, pos *exchange.Position, snap *market.Snapshot, equity decimal.Decimal) (ActionPlan, bool) {
	if !snap.AddTrend(pos.Side) {
		return ActionPlan{}, false
	}

	trigger := decimal.NewFromFloat(inst.Params.AddTriggerDropPct)
	if entryDrop(pos.Side, pos.EntryPrice, snap.LastPrice).LessThan(trigger) {
		return ActionPlan{}, false
	}

	if snap.Volatility.IsHigh {
		return NoOp("volatility high; add blocked"), true
	}
	if snap.Decline.IsDangerous() {
		return NoOp(fmt.Sprintf("decline velocity %s; add blocked", snap.Decline.Kind)), true
	}

	qty := addQuantity(pos, inst.Params, snap.LastPrice)
	leverage := decimal.NewFromInt(int64(inst.Params.Leverage))

	ceiling := decimal.NewFromFloat(inst.Params.PositionCeilingPct)
	if snap.Decline.IsSafe() {
		ceiling = ceiling.Mul(safeDeclineRelief)
	}

	if projectedMarginFraction(pos, qty, snap.LastPrice, leverage, equity).GreaterThan(ceiling) {
		marginCap := decimal.NewFromFloat(inst.Params.MaxMarginPct)
		if !marginCap.IsPositive() {
			return NoOp("add would exceed position ceiling"), true
		}
		usage := pos.PositionMarginUsd.Div(equity)
		factor := taperFactor(usage, marginCap)
		if factor.IsZero() {
			return NoOp("margin cap reached"), true
		}
		qty = qty.Mul(factor)
	}

	side := exchange.SideToOrder(pos.Side)
	return AddToPosition(side, qty, snap.LimitFor(side), "averaging into drawdown"), true
}

func decideOpen(inst config.Instrument, snap *market.Snapshot, equity decimal.Decimal) ActionPlan {
	if !snap.OpenTrend(inst.Side) {
		if inst.Side == config.SideShort {
			return NoOp("price above slow EMA; waiting for short trend")
		}
		return NoOp("price below slow EMA; waiting for long trend")
	}

	if snap.Volatility.IsHigh {
		return NoOp("volatility high; open blocked")
	}
	if snap.Decline.IsDangerous() {
		return NoOp(fmt.Sprintf("decline velocity %s; open blocked", snap.Decline.Kind))
	}

	qty := decimal.NewFromFloat(inst.Params.InitialEntryPct).
		Mul(equity).
		Mul(decimal.NewFromInt(int64(inst.Params.Leverage))).
		Div(snap.LastPrice)
	if !qty.IsPositive() {
		return NoOp("computed entry size is zero")
	}

	side := exchange.SideToOrder(inst.Side)
	return OpenPosition(side, qty, snap.LimitFor(side))
}
