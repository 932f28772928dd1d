// Package market assembles the per-tick market view for one instrument:
// top of book, the fast and slow EMAs, and the volatility and
// decline-velocity classifications the strategy consults.
package market

import (
	"github.com/shopspring/decimal"

	"github.com/tradewell-labs/margingale/internal/config"
	"github.com/tradewell-labs/margingale/internal/exchange"
	"github.com/tradewell-labs/margingale/internal/indicators"
)

// EMA periods on the configured candle interval.
const (
	EmaFastPeriod = 50
	EmaSlowPeriod = 200
)

// CandleLimit is how many bars a snapshot fetch requests: three slow-EMA
// windows, the same sizing the adapter's EMA convenience uses.
const CandleLimit = EmaSlowPeriod * 3

// Snapshot is the assembled market state. Everything here is derived
// from one ticker read and one candle fetch; nothing refreshes behind
// the engine's back during a tick.
type Snapshot struct {
	Symbol     string
	BestBid    decimal.Decimal
	BestAsk    decimal.Decimal
	LastPrice  decimal.Decimal
	EmaFast    decimal.Decimal
	EmaSlow    decimal.Decimal
	Volatility indicators.VolatilityReport
	Decline    indicators.DeclineReport
	Bars       int
}

// BuildSnapshot computes the derived view from one ticker and one candle
// series. Short history surfaces as indicators.ErrInsufficientData, which
// the workflow treats as a skip rather than a fault.
func BuildSnapshot(ticker *exchange.Ticker, candles []indicators.Candle, intervalMinutes int, th indicators.Thresholds) (*Snapshot, error) {
	closes := indicators.Closes(candles)

	emaFast, err := indicators.EMA(closes, EmaFastPeriod)
	if err != nil {
		return nil, err
	}
	emaSlow, err := indicators.EMA(closes, EmaSlowPeriod)
	if err != nil {
		return nil, err
	}

	vol, err := indicators.Volatility(candles, intervalMinutes, th)
	if err != nil {
		return nil, err
	}
	decline, err := indicators.DeclineVelocity(candles)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Symbol:     ticker.Symbol,
		BestBid:    ticker.BestBid,
		BestAsk:    ticker.BestAsk,
		LastPrice:  ticker.LastPrice,
		EmaFast:    decimal.NewFromFloat(emaFast),
		EmaSlow:    decimal.NewFromFloat(emaSlow),
		Volatility: vol,
		Decline:    decline,
		Bars:       len(candles),
	}, nil
}

// OpenTrend reports whether price sits on the right side of the slow EMA
// to open a fresh position: above it for longs, below it for shorts.
func (s *Snapshot) OpenTrend(side config.Side) bool {
	if side == config.SideShort {
		return s.LastPrice.LessThan(s.EmaSlow)
	}
	return s.LastPrice.GreaterThan(s.EmaSlow)
}

// AddTrend reports whether price has pulled back through the fast EMA
// against the position, the precondition for averaging in.
func (s *Snapshot) AddTrend(side config.Side) bool {
	if side == config.SideShort {
		return s.LastPrice.GreaterThan(s.EmaFast)
	}
	return s.LastPrice.LessThan(s.EmaFast)
}

// LimitFor returns the passive limit price for an order direction: buys
// rest at the bid, sells at the ask.
func (s *Snapshot) LimitFor(side exchange.OrderSide) decimal.Decimal {
	if side == exchange.OrderSideSell {
		return s.BestAsk
	}
	return s.BestBid
}
