package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/tradewell-labs/margingale/internal/config"
	"github.com/tradewell-labs/margingale/internal/exchange"
)

// addQuantity implements the martingale amplification. With fractional
// loss L = |unrealizedPnl| / positionValue, the add is
// positionValue * leverage * max(L, addTriggerDropPct) / lastPrice:
// deeper losses buy proportionally more contracts.
func addQuantity(pos *exchange.Position, params config.StrategyParams, lastPrice decimal.Decimal) decimal.Decimal {
	loss := pos.UnrealizedPnl.Abs().Div(pos.PositionValueUsd)
	trigger := decimal.NewFromFloat(params.AddTriggerDropPct)
	if loss.LessThan(trigger) {
		loss = trigger
	}

	leverage := decimal.NewFromInt(int64(params.Leverage))
	return pos.PositionValueUsd.Mul(leverage).Mul(loss).Div(lastPrice)
}

// taperFactor shrinks adds quadratically as margin usage approaches the
// hard cap: ((cap - usage) / cap)^2, floored at zero. A zero factor
// means the cap is spent.
func taperFactor(usage, cap decimal.Decimal) decimal.Decimal {
	if !cap.IsPositive() {
		return decimal.NewFromInt(1)
	}
	headroom := cap.Sub(usage).Div(cap)
	if headroom.Sign() <= 0 {
		return decimal.Zero
	}
	return headroom.Mul(headroom)
}

// projectedMarginFraction is the equity share the position margin would
// occupy after adding addQty contracts at lastPrice.
func projectedMarginFraction(pos *exchange.Position, addQty, lastPrice, leverage, equity decimal.Decimal) decimal.Decimal {
	addMargin := addQty.Mul(lastPrice).Div(leverage)
	return pos.PositionMarginUsd.Add(addMargin).Div(equity)
}

// entryDrop is the fractional adverse move from the entry price: positive
// when price has gone against the position's side.
func entryDrop(side config.Side, entry, last decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	move := entry.Sub(last).Div(entry)
	if side == config.SideShort {
		move = move.Neg()
	}
	return move
}
