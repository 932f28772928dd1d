package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewell-labs/margingale/internal/config"
	"github.com/tradewell-labs/margingale/internal/exchange"
	"github.com/tradewell-labs/margingale/internal/indicators"
	"github.com/tradewell-labs/margingale/internal/market"
)

func testParams() config.StrategyParams {
	return config.StrategyParams{
		Leverage:               10,
		ProfitPnlTarget:        0.10,
		ProfitBalanceThreshold: 0.003,
		InitialEntryPct:        0.006,
		AddTriggerDropPct:      0.02,
		PositionCeilingPct:     0.10,
	}
}

func longInstrument() config.Instrument {
	return config.Instrument{
		Symbol:        "BTCUSDT",
		Side:          config.SideLong,
		AutomaticMode: true,
		Params:        testParams(),
	}
}

func shortInstrument() config.Instrument {
	inst := longInstrument()
	inst.Side = config.SideShort
	return inst
}

// calmSnapshot pins the order book half a tick around last, with quiet
// volatility and a Slow decline reading.
func calmSnapshot(last, emaFast, emaSlow float64) *market.Snapshot {
	return &market.Snapshot{
		Symbol:    "BTCUSDT",
		BestBid:   decimal.NewFromFloat(last - 0.5),
		BestAsk:   decimal.NewFromFloat(last + 0.5),
		LastPrice: decimal.NewFromFloat(last),
		EmaFast:   decimal.NewFromFloat(emaFast),
		EmaSlow:   decimal.NewFromFloat(emaSlow),
		Decline:   indicators.DeclineReport{Kind: indicators.DeclineSlow},
		Bars:      market.CandleLimit,
	}
}

func accountWithEquity(equity float64) *exchange.Account {
	eq := decimal.NewFromFloat(equity)
	return &exchange.Account{TotalEquityUsd: eq, AvailableEquityUsd: eq}
}

// healthyLong builds a long position with value/leverage margin and a
// margin level comfortably above the critical floor.
func healthyLong(entry, valueUsd, upnl float64) *exchange.Position {
	value := decimal.NewFromFloat(valueUsd)
	return &exchange.Position{
		Symbol:            "BTCUSDT",
		Side:              config.SideLong,
		SizeContracts:     value.Div(decimal.NewFromFloat(entry)),
		EntryPrice:        decimal.NewFromFloat(entry),
		Leverage:          decimal.NewFromInt(10),
		UnrealizedPnl:     decimal.NewFromFloat(upnl),
		PositionValueUsd:  value,
		PositionMarginUsd: value.Div(decimal.NewFromInt(10)),
		MarginLevel:       decimal.NewFromInt(8),
	}
}

// TestDecideOpensFromFlat tests the initial entry: 0.6% of equity at 10x
// leverage, priced at the bid for a long.
func TestDecideOpensFromFlat(t *testing.T) {
	snap := calmSnapshot(50000, 49500, 49900)
	plan := Decide(longInstrument(), nil, snap, accountWithEquity(1000))

	require.Equal(t, ActionOpen, plan.Action)
	assert.Equal(t, exchange.OrderSideBuy, plan.Side)
	assert.True(t, plan.Quantity.Equal(decimal.RequireFromString("0.0012")),
		"qty %s", plan.Quantity)
	assert.True(t, plan.LimitPrice.Equal(decimal.RequireFromString("49999.5")),
		"limit %s", plan.LimitPrice)
}

// TestDecideWaitsForTrend tests that price on the wrong side of the slow
// EMA parks a flat instrument.
func TestDecideWaitsForTrend(t *testing.T) {
	snap := calmSnapshot(50000, 49500, 50100)
	plan := Decide(longInstrument(), nil, snap, accountWithEquity(1000))

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "price below slow EMA; waiting for long trend", plan.Reason)

	snap = calmSnapshot(50000, 49500, 49900)
	plan = Decide(shortInstrument(), nil, snap, accountWithEquity(1000))

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "price above slow EMA; waiting for short trend", plan.Reason)
}

func TestDecideManualMode(t *testing.T) {
	inst := longInstrument()
	inst.AutomaticMode = false

	snap := calmSnapshot(50000, 49500, 49000)
	plan := Decide(inst, nil, snap, accountWithEquity(1000))

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "manual mode; waiting for operator", plan.Reason)
}

func TestDecideOpenBlockedByVolatility(t *testing.T) {
	snap := calmSnapshot(50000, 49500, 49000)
	snap.Volatility.IsHigh = true

	plan := Decide(longInstrument(), nil, snap, accountWithEquity(1000))

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "volatility high; open blocked", plan.Reason)
}

func TestDecideOpenBlockedByDecline(t *testing.T) {
	snap := calmSnapshot(50000, 49500, 49000)
	snap.Decline.Kind = indicators.DeclineFast

	plan := Decide(longInstrument(), nil, snap, accountWithEquity(1000))

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "decline velocity Fast; open blocked", plan.Reason)
}

// TestDecideAddsToLosingPosition tests the martingale add: a 10% loss at
// 10x leverage doubles the position's margin footprint.
func TestDecideAddsToLosingPosition(t *testing.T) {
	pos := healthyLong(50000, 200, -20)
	snap := calmSnapshot(47500, 48000, 49000)
	plan := Decide(longInstrument(), pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionAdd, plan.Action)
	assert.Equal(t, exchange.OrderSideBuy, plan.Side)
	assert.Equal(t, "averaging into drawdown", plan.Reason)
	// 200 * 10 * 0.10 / 47500
	assert.InDelta(t, 0.0042105, plan.Quantity.InexactFloat64(), 1e-6)
	assert.True(t, plan.LimitPrice.Equal(decimal.RequireFromString("47499.5")),
		"limit %s", plan.LimitPrice)
}

// TestDecideAddRequiresPullback tests that a losing position with price
// still above the fast EMA falls through to the safety net.
func TestDecideAddRequiresPullback(t *testing.T) {
	pos := healthyLong(50000, 200, -20)
	snap := calmSnapshot(47500, 47000, 49000) // last above fast EMA

	plan := Decide(longInstrument(), pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "no applicable rule", plan.Reason)
}

// TestDecideAddRequiresDrop tests the entry-drop trigger: a loss smaller
// than add_trigger_drop_pct is left alone.
func TestDecideAddRequiresDrop(t *testing.T) {
	pos := healthyLong(50000, 200, -2)
	snap := calmSnapshot(49500, 49800, 49000) // 1% below entry

	plan := Decide(longInstrument(), pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "no applicable rule", plan.Reason)
}

func TestDecideAddBlockedByVolatility(t *testing.T) {
	pos := healthyLong(50000, 200, -20)
	snap := calmSnapshot(47500, 48000, 49000)
	snap.Volatility.IsHigh = true

	plan := Decide(longInstrument(), pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "volatility high; add blocked", plan.Reason)
}

func TestDecideAddBlockedByDecline(t *testing.T) {
	pos := healthyLong(50000, 200, -20)
	snap := calmSnapshot(47500, 48000, 49000)
	snap.Decline.Kind = indicators.DeclineCrash

	plan := Decide(longInstrument(), pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "decline velocity Crash; add blocked", plan.Reason)
}

// TestDecideAddCeiling tests the position ceiling without a margin cap:
// the add is refused outright.
func TestDecideAddCeiling(t *testing.T) {
	pos := healthyLong(50000, 200, -20)
	snap := calmSnapshot(47500, 48000, 49000)
	snap.Decline.Kind = indicators.DeclineModerate // no safe-decline relief

	// Projected margin (20 + 20) / 300 = 0.133 > 0.10.
	plan := Decide(longInstrument(), pos, snap, accountWithEquity(300))

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "add would exceed position ceiling", plan.Reason)
}

// TestDecideAddSafeDeclineRelief tests that a Slow decline raises the
// ceiling by half, letting the same add through.
func TestDecideAddSafeDeclineRelief(t *testing.T) {
	pos := healthyLong(50000, 200, -20)
	snap := calmSnapshot(47500, 48000, 49000) // Slow decline

	// Projected margin fraction 0.133 clears 0.10 * 1.5.
	plan := Decide(longInstrument(), pos, snap, accountWithEquity(300))

	require.Equal(t, ActionAdd, plan.Action)
	assert.Equal(t, "averaging into drawdown", plan.Reason)
}

// TestDecideAddTapered tests the quadratic taper above the ceiling when a
// margin cap is set.
func TestDecideAddTapered(t *testing.T) {
	inst := longInstrument()
	inst.Params.MaxMarginPct = 0.5

	pos := healthyLong(51100, 1250, -125)
	snap := calmSnapshot(50000, 50500, 52000)
	snap.Decline.Kind = indicators.DeclineModerate

	// Untapered qty 1250*10*0.1/50000 = 0.025 projects margin fraction
	// (125 + 125) / 500 = 0.5 over the 0.10 ceiling. Usage 125/500 = 0.25
	// against cap 0.5 tapers by ((0.5-0.25)/0.5)^2 = 0.25.
	plan := Decide(inst, pos, snap, accountWithEquity(500))

	require.Equal(t, ActionAdd, plan.Action)
	assert.True(t, plan.Quantity.Equal(decimal.RequireFromString("0.00625")),
		"qty %s", plan.Quantity)
}

// TestDecideAddCapSpent tests that margin usage at the cap turns the add
// into an explicit refusal.
func TestDecideAddCapSpent(t *testing.T) {
	inst := longInstrument()
	inst.Params.MaxMarginPct = 0.5

	pos := healthyLong(51100, 2500, -250)
	snap := calmSnapshot(50000, 50500, 52000)
	snap.Decline.Kind = indicators.DeclineModerate

	// Usage 250/500 = 0.5 exactly at the cap.
	plan := Decide(inst, pos, snap, accountWithEquity(500))

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "margin cap reached", plan.Reason)
}

// TestDecideMarginCritical tests that a margin level under 2 forces an
// add even through high volatility and a crash reading.
func TestDecideMarginCritical(t *testing.T) {
	pos := healthyLong(50000, 500, -100)
	pos.MarginLevel = decimal.RequireFromString("1.8")

	snap := calmSnapshot(45000, 46000, 49000)
	snap.Volatility.IsHigh = true
	snap.Decline.Kind = indicators.DeclineCrash

	plan := Decide(longInstrument(), pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionAdd, plan.Action)
	assert.Equal(t, "liquidation protection", plan.Reason)
	assert.Equal(t, exchange.OrderSideBuy, plan.Side)
	// 500 * 10 * 0.2 / 45000
	assert.InDelta(t, 0.0222222, plan.Quantity.InexactFloat64(), 1e-6)
	assert.True(t, plan.LimitPrice.Equal(decimal.RequireFromString("44999.5")))
}

// TestDecideMarginCriticalTapered tests that the margin cap still binds
// under liquidation protection.
func TestDecideMarginCriticalTapered(t *testing.T) {
	inst := longInstrument()
	inst.Params.MaxMarginPct = 0.5

	pos := healthyLong(50000, 2500, -250)
	pos.MarginLevel = decimal.RequireFromString("1.5")
	snap := calmSnapshot(45000, 46000, 49000)

	// Usage 250/1000 = 0.25 tapers by 0.25; qty 2500*10*0.1/45000 * 0.25.
	plan := Decide(inst, pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionAdd, plan.Action)
	assert.Equal(t, "liquidation protection", plan.Reason)
	assert.InDelta(t, 0.0138888, plan.Quantity.InexactFloat64(), 1e-6)

	// At the cap, even liquidation protection stands down.
	pos.PositionMarginUsd = decimal.NewFromInt(500)
	plan = Decide(inst, pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "margin cap reached", plan.Reason)
}

// TestDecideProfitClose tests the full exit once unrealized pnl clears
// both the margin-relative target and the equity floor.
func TestDecideProfitClose(t *testing.T) {
	pos := healthyLong(50000, 500, 6) // pnl/margin = 6/50 = 0.12
	snap := calmSnapshot(50700, 50500, 49000)

	plan := Decide(longInstrument(), pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionClose, plan.Action)
	assert.Equal(t, "profit target reached", plan.Reason)
}

// TestDecideProfitBelowBalanceFloor tests a pnl target met in relative
// terms but too small against equity to be worth the round trip:
// pnl/margin = 2/15 clears 0.10, yet 2 is under the 0.003 * 1000 floor.
func TestDecideProfitBelowBalanceFloor(t *testing.T) {
	pos := healthyLong(50000, 150, 2)
	snap := calmSnapshot(50100, 50000, 49000)

	plan := Decide(longInstrument(), pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "profit below balance threshold", plan.Reason)
}

// TestDecideProfitReduceHalf tests the first reduction rung: margin over
// 10% of equity with pnl above the floor sheds half the position.
func TestDecideProfitReduceHalf(t *testing.T) {
	pos := healthyLong(50000, 1200, 5) // margin 120 on 1000 equity
	snap := calmSnapshot(50100, 50000, 49000)

	plan := Decide(longInstrument(), pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionReduce, plan.Action)
	assert.Equal(t, "halving oversized position", plan.Reason)
	assert.True(t, plan.Fraction.Equal(decimal.RequireFromString("0.5")))
}

// TestDecideProfitReduceThird tests the second rung at an 8% margin
// share of equity.
func TestDecideProfitReduceThird(t *testing.T) {
	pos := healthyLong(50000, 800, 2) // margin 80 on 1000 equity
	snap := calmSnapshot(50100, 50000, 49000)

	plan := Decide(longInstrument(), pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionReduce, plan.Action)
	assert.Equal(t, "trimming oversized position", plan.Reason)
	assert.True(t, plan.Fraction.Equal(decimal.RequireFromString("0.33")))
}

// TestDecideProfitReduceFallsToThird tests that an oversized winner whose
// pnl misses the equity floor still trims a third.
func TestDecideProfitReduceFallsToThird(t *testing.T) {
	pos := healthyLong(50000, 1200, 1) // pnl 1 under floor 3
	snap := calmSnapshot(50010, 50000, 49000)

	plan := Decide(longInstrument(), pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionReduce, plan.Action)
	assert.True(t, plan.Fraction.Equal(decimal.RequireFromString("0.33")))
}

func TestDecideProfitHolds(t *testing.T) {
	pos := healthyLong(50000, 500, 2) // pnl/margin = 0.04, fraction 0.05
	snap := calmSnapshot(50200, 50000, 49000)

	plan := Decide(longInstrument(), pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "profitable, below reduce/close thresholds", plan.Reason)
}

func TestDecideShortSide(t *testing.T) {
	// Open: price under the slow EMA, sell at the ask.
	snap := calmSnapshot(48000, 48500, 49000)
	plan := Decide(shortInstrument(), nil, snap, accountWithEquity(1000))

	require.Equal(t, ActionOpen, plan.Action)
	assert.Equal(t, exchange.OrderSideSell, plan.Side)
	assert.True(t, plan.LimitPrice.Equal(decimal.RequireFromString("48000.5")),
		"limit %s", plan.LimitPrice)

	// Add: price rallied 5% against the short, above the fast EMA.
	pos := healthyLong(50000, 200, -20)
	pos.Side = config.SideShort
	snap = calmSnapshot(52500, 52000, 53000)
	plan = Decide(shortInstrument(), pos, snap, accountWithEquity(1000))

	require.Equal(t, ActionAdd, plan.Action)
	assert.Equal(t, exchange.OrderSideSell, plan.Side)
	assert.True(t, plan.LimitPrice.Equal(decimal.RequireFromString("52500.5")),
		"limit %s", plan.LimitPrice)
}

// TestDecideStalePosition tests that a zero-value snapshot row counts as
// flat and re-enters the open path.
func TestDecideStalePosition(t *testing.T) {
	pos := &exchange.Position{
		Symbol:        "BTCUSDT",
		Side:          config.SideLong,
		SizeContracts: decimal.RequireFromString("0.01"),
	}
	snap := calmSnapshot(50000, 49500, 49000)

	plan := Decide(longInstrument(), pos, snap, accountWithEquity(1000))

	assert.Equal(t, ActionOpen, plan.Action)
}

func TestDecideNoEquity(t *testing.T) {
	pos := healthyLong(50000, 200, -20)
	snap := calmSnapshot(47500, 48000, 49000)

	plan := Decide(longInstrument(), pos, snap, &exchange.Account{})

	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "account has no equity", plan.Reason)
}

func TestDecideNoMarketData(t *testing.T) {
	plan := Decide(longInstrument(), nil, nil, accountWithEquity(1000))
	require.Equal(t, ActionNone, plan.Action)
	assert.Equal(t, "no market data", plan.Reason)

	snap := calmSnapshot(50000, 49500, 49000)
	snap.LastPrice = decimal.Zero
	plan = Decide(longInstrument(), nil, snap, accountWithEquity(1000))
	assert.Equal(t, "no market data", plan.Reason)
}

// TestDecideDeterministic tests that identical inputs produce identical
// plans.
func TestDecideDeterministic(t *testing.T) {
	pos := healthyLong(50000, 200, -20)
	snap := calmSnapshot(47500, 48000, 49000)
	acc := accountWithEquity(1000)

	first := Decide(longInstrument(), pos, snap, acc)
	second := Decide(longInstrument(), pos, snap, acc)

	assert.Equal(t, first.Action, second.Action)
	assert.Equal(t, first.Reason, second.Reason)
	assert.True(t, first.Quantity.Equal(second.Quantity))
	assert.True(t, first.LimitPrice.Equal(second.LimitPrice))
}

// TestDecideOrderInvariants sweeps the order-emitting scenarios and
// checks the structural invariants every plan must satisfy.
func TestDecideOrderInvariants(t *testing.T) {
	critical := healthyLong(50000, 500, -100)
	critical.MarginLevel = decimal.RequireFromString("1.8")

	cases := []struct {
		name string
		inst config.Instrument
		pos  *exchange.Position
		snap *market.Snapshot
	}{
		{"open", longInstrument(), nil, calmSnapshot(50000, 49500, 49000)},
		{"add", longInstrument(), healthyLong(50000, 200, -20), calmSnapshot(47500, 48000, 49000)},
		{"critical", longInstrument(), critical, calmSnapshot(45000, 46000, 49000)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := Decide(tc.inst, tc.pos, tc.snap, accountWithEquity(1000))

			require.True(t, plan.IsOrder())
			assert.True(t, plan.Quantity.IsPositive(), "qty %s", plan.Quantity)
			assert.True(t, plan.LimitPrice.IsPositive(), "limit %s", plan.LimitPrice)
			assert.Equal(t, exchange.SideToOrder(tc.inst.Side), plan.Side)
		})
	}
}

func TestReduceFractionBounds(t *testing.T) {
	for _, equity := range []float64{1000, 1500, 2000} {
		pos := healthyLong(50000, 1200, 50)
		snap := calmSnapshot(50500, 50000, 49000)
		plan := Decide(longInstrument(), pos, snap, accountWithEquity(equity))
		if plan.Action != ActionReduce {
			continue
		}
		assert.True(t, plan.Fraction.IsPositive())
		assert.True(t, plan.Fraction.LessThan(decimal.NewFromInt(1)))
	}
}

// TestRelevant tests the cheap pre-filter the workflow runs before the
// full cascade.
func TestRelevant(t *testing.T) {
	manual := longInstrument()
	manual.AutomaticMode = false

	noTrend := calmSnapshot(48000, 48500, 49000)  // below slow EMA
	trending := calmSnapshot(50000, 49500, 49000) // above slow EMA
	losingNoPullback := calmSnapshot(49600, 49500, 49000)
	losingPullback := calmSnapshot(49000, 49500, 48000)

	losing := healthyLong(50000, 200, -20)
	critical := healthyLong(50000, 200, -20)
	critical.MarginLevel = decimal.RequireFromString("1.5")
	winning := healthyLong(50000, 200, 20)

	tests := []struct {
		name       string
		inst       config.Instrument
		pos        *exchange.Position
		snap       *market.Snapshot
		relevant   bool
		wantReason string
	}{
		{"manual flat no trend", manual, nil, noTrend, false, "waiting for trend"},
		{"manual flat trending", manual, nil, trending, true, ""},
		{"auto flat no trend", longInstrument(), nil, noTrend, true, ""},
		{"healthy losing no pullback", longInstrument(), losing, losingNoPullback, false, "holding; nothing to do"},
		{"healthy losing pullback", longInstrument(), losing, losingPullback, true, ""},
		{"critical losing no pullback", longInstrument(), critical, losingNoPullback, true, ""},
		{"winning no pullback", longInstrument(), winning, losingNoPullback, true, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := Relevant(tc.inst, tc.pos, tc.snap)
			assert.Equal(t, tc.relevant, ok)
			assert.Equal(t, tc.wantReason, reason)
		})
	}
}
