package exchange

import (
	"context"

	"github.com/tradewell-labs/margingale/internal/config"
	"github.com/tradewell-labs/margingale/internal/indicators"
)

// Exchange is the adapter surface the workflow drives. Client implements
// it against the live API; MockExchange implements it in memory for
// tests.
type Exchange interface {
	// GetPosition returns the position for symbol, or nil when flat.
	GetPosition(ctx context.Context, symbol string) (*Position, error)

	// GetTicker returns the current top of book.
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// GetCandles returns up to limit bars, oldest first.
	GetCandles(ctx context.Context, symbol string, intervalMinutes, limit int) ([]indicators.Candle, error)

	// GetEquity returns the account snapshot.
	GetEquity(ctx context.Context) (*Account, error)

	// GetEMA computes an EMA over freshly fetched candles.
	GetEMA(ctx context.Context, symbol string, period, intervalMinutes int) (float64, error)

	// SetLeverage applies leverage before any order placement.
	SetLeverage(ctx context.Context, symbol string, side config.Side, leverage int) error

	// CancelAllOpen cancels all open orders on symbol, returning the count.
	CancelAllOpen(ctx context.Context, symbol string) (int, error)

	// PlaceLimit places a limit order and returns the exchange order id.
	PlaceLimit(ctx context.Context, req LimitOrderRequest) (string, error)

	// ClosePosition flattens symbol; closing nothing is a success.
	ClosePosition(ctx context.Context, symbol string) error
}

var _ Exchange = (*Client)(nil)
var _ Exchange = (*MockExchange)(nil)
