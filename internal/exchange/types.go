package exchange

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewell-labs/margingale/internal/config"
)

// OrderSide is the exchange-facing order direction. Values match the wire
// protocol exactly.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// SideToOrder maps a position side to the order side that grows it.
func SideToOrder(side config.Side) OrderSide {
	if side == config.SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Opposite returns the closing direction.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Ticker is the current top of book for one symbol.
type Ticker struct {
	Symbol    string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	LastPrice decimal.Decimal
	MarkPrice decimal.Decimal
	Timestamp time.Time
}

// Position is a point-in-time snapshot of one open position. All monetary
// fields are USD. MarginLevel is the liquidation headroom
// (positionMargin + unrealizedPnl) / maintenanceMargin, computed here so
// the strategy never touches exchange scaling.
type Position struct {
	Symbol               string
	Side                 config.Side
	SizeContracts        decimal.Decimal
	EntryPrice           decimal.Decimal
	MarkPrice            decimal.Decimal
	Leverage             decimal.Decimal
	UnrealizedPnl        decimal.Decimal
	PositionValueUsd     decimal.Decimal
	PositionMarginUsd    decimal.Decimal
	MaintenanceMarginUsd decimal.Decimal
	MarginLevel          decimal.Decimal
	LiquidationPrice     decimal.Decimal
}

// IsAbsent reports whether the snapshot describes no effective position.
// A zero value with non-zero contracts is stale exchange data and counts
// as absent too.
func (p *Position) IsAbsent() bool {
	if p == nil {
		return true
	}
	return p.SizeContracts.IsZero() || p.PositionValueUsd.IsZero()
}

// Account is the USDT account snapshot.
type Account struct {
	TotalEquityUsd     decimal.Decimal
	AvailableEquityUsd decimal.Decimal
	PositionMarginUsd  decimal.Decimal
}

// MarginUsage is the fraction of equity locked as position margin across
// all positions. Zero when the account has no equity.
func (a Account) MarginUsage() decimal.Decimal {
	if a.TotalEquityUsd.IsPositive() {
		return a.PositionMarginUsd.Div(a.TotalEquityUsd)
	}
	return decimal.Zero
}

// Product is the static contract metadata used to normalize orders.
type Product struct {
	Symbol   string
	TickSize decimal.Decimal
	LotSize  decimal.Decimal
}

// LimitOrderRequest places a marketable or passive limit order.
type LimitOrderRequest struct {
	Symbol     string
	Side       OrderSide
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal
	ReduceOnly bool
}

// Scaled-integer exponents used on the wire: prices travel as Ep
// (value x 10^4), USD values as Ev (x 10^4), and rates as Er (x 10^8).
const (
	priceExp = -4
	valueExp = -4
	ratioExp = -8
)

func priceFromEp(ep int64) decimal.Decimal   { return decimal.New(ep, priceExp) }
func valueFromEv(ev int64) decimal.Decimal   { return decimal.New(ev, valueExp) }
func ratioFromEr(er int64) decimal.Decimal   { return decimal.New(er, ratioExp) }
func epFromPrice(p decimal.Decimal) int64    { return p.Shift(-priceExp).Round(0).IntPart() }
func floatFromEp(ep int64) float64           { return float64(ep) / 1e4 }

// Wire envelopes. Trading endpoints answer {code,msg,data}; market-data
// endpoints answer {error,id,result}.

type tradingEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type marketEnvelope struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
}

// accountPositionsPayload is the signed account snapshot: one USDT
// account plus every position, open or flat.
type accountPositionsPayload struct {
	Account struct {
		AccountBalanceEv   int64 `json:"accountBalanceEv"`
		TotalUsedBalanceEv int64 `json:"totalUsedBalanceEv"`
	} `json:"account"`
	Positions []positionPayload `json:"positions"`
}

type positionPayload struct {
	Symbol             string      `json:"symbol"`
	Side               string      `json:"side"` // Buy, Sell, or None when flat
	Size               json.Number `json:"size"`
	ValueEv            int64       `json:"valueEv"`
	AvgEntryPriceEp    int64       `json:"avgEntryPriceEp"`
	MarkPriceEp        int64       `json:"markPriceEp"`
	LeverageEr         int64       `json:"leverageEr"`
	UnrealisedPnlEv    int64       `json:"unrealisedPnlEv"`
	PositionMarginEv   int64       `json:"positionMarginEv"`
	MaintMarginReqEr   int64       `json:"maintMarginReqEr"`
	LiquidationPriceEp int64       `json:"liquidationPriceEp"`
}

type tickerPayload struct {
	Symbol      string `json:"symbol"`
	BidEp       int64  `json:"bidEp"`
	AskEp       int64  `json:"askEp"`
	LastEp      int64  `json:"lastEp"`
	MarkEp      int64  `json:"markEp"`
	TimestampNs int64  `json:"timestamp"`
}

// klinePayload rows are fixed-position arrays:
// [timestamp, interval, lastCloseEp, openEp, highEp, lowEp, closeEp, volume, turnoverEv]
type klinePayload struct {
	Total int       `json:"total"`
	Rows  [][]int64 `json:"rows"`
}

type productsPayload struct {
	Products []productPayload `json:"products"`
}

type productPayload struct {
	Symbol   string          `json:"symbol"`
	Type     string          `json:"type"`
	TickSize decimal.Decimal `json:"tickSize"`
	LotSize  decimal.Decimal `json:"lotSize"`
	Status   string          `json:"status"`
}

type orderRequestPayload struct {
	ClOrdID        string `json:"clOrdID"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	OrderQty       string `json:"orderQty"`
	PriceEp        int64  `json:"priceEp,omitempty"`
	OrdType        string `json:"ordType"`
	TimeInForce    string `json:"timeInForce,omitempty"`
	ReduceOnly     bool   `json:"reduceOnly,omitempty"`
	CloseOnTrigger bool   `json:"closeOnTrigger,omitempty"`
}

type orderResponsePayload struct {
	OrderID string `json:"orderID"`
	ClOrdID string `json:"clOrdID"`
}
