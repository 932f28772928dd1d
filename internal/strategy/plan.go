// Package strategy is the decision core: a pure function from one
// instrument's tick state to an action plan. It never talks to the
// exchange, never logs, and never signals through errors: a NoOp with a
// reason is a first-class verdict.
package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/tradewell-labs/margingale/internal/exchange"
)

// Action names the verdict variant.
type Action string

const (
	ActionNone   Action = "none"
	ActionOpen   Action = "open"
	ActionAdd    Action = "add"
	ActionReduce Action = "reduce"
	ActionClose  Action = "close"
)

// ActionPlan is the engine's verdict for one instrument on one tick.
// Action selects the variant; only that variant's fields are meaningful.
// Reason carries the NoOp cause or the order rationale, and flows into
// alerts and the outcome record verbatim.
type ActionPlan struct {
	Action     Action
	Reason     string
	Side       exchange.OrderSide // open, add
	Quantity   decimal.Decimal    // open, add
	LimitPrice decimal.Decimal    // open, add
	Fraction   decimal.Decimal    // reduce, in (0,1)
}

// IsOrder reports whether executing the plan touches the exchange.
func (p ActionPlan) IsOrder() bool {
	return p.Action != ActionNone
}

// NoOp is the explicit non-action.
func NoOp(reason string) ActionPlan {
	return ActionPlan{Action: ActionNone, Reason: reason}
}

// OpenPosition starts a fresh position from flat.
func OpenPosition(side exchange.OrderSide, quantity, limitPrice decimal.Decimal) ActionPlan {
	return ActionPlan{
		Action:     ActionOpen,
		Side:       side,
		Quantity:   quantity,
		LimitPrice: limitPrice,
	}
}

// AddToPosition averages into an existing position.
func AddToPosition(side exchange.OrderSide, quantity, limitPrice decimal.Decimal, rationale string) ActionPlan {
	return ActionPlan{
		Action:     ActionAdd,
		Reason:     rationale,
		Side:       side,
		Quantity:   quantity,
		LimitPrice: limitPrice,
	}
}

// ReducePosition trims fraction of the current size.
func ReducePosition(fraction decimal.Decimal, rationale string) ActionPlan {
	return ActionPlan{
		Action:   ActionReduce,
		Reason:   rationale,
		Fraction: fraction,
	}
}

// ClosePosition flattens the position entirely.
func ClosePosition(rationale string) ActionPlan {
	return ActionPlan{Action: ActionClose, Reason: rationale}
}
