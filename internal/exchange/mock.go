package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tradewell-labs/margingale/internal/config"
	"github.com/tradewell-labs/margingale/internal/indicators"
)

// MockExchange is the in-memory adapter used by workflow and entrypoint
// tests. State is installed directly; every call is counted and every
// order recorded. Safe for concurrent use like the live client.
type MockExchange struct {
	mu sync.RWMutex

	positions map[string]*Position
	tickers   map[string]*Ticker
	candles   map[string][]indicators.Candle
	account   *Account

	failures  map[string]error
	cancelled map[string]int
	leverage  map[string]int

	orders  []LimitOrderRequest
	closed  []string
	calls   map[string]int
	orderID int
}

// NewMockExchange creates an empty mock with no positions and no equity.
func NewMockExchange() *MockExchange {
	return &MockExchange{
		positions: make(map[string]*Position),
		tickers:   make(map[string]*Ticker),
		candles:   make(map[string][]indicators.Candle),
		failures:  make(map[string]error),
		cancelled: make(map[string]int),
		leverage:  make(map[string]int),
		calls:     make(map[string]int),
	}
}

// SetPosition installs (or clears, with nil) the position for symbol.
func (m *MockExchange) SetPosition(symbol string, pos *Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos == nil {
		delete(m.positions, symbol)
		return
	}
	m.positions[symbol] = pos
}

// SetTicker installs the top of book for symbol.
func (m *MockExchange) SetTicker(symbol string, t *Ticker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[symbol] = t
}

// SetCandles installs the candle history for symbol.
func (m *MockExchange) SetCandles(symbol string, candles []indicators.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[symbol] = candles
}

// SetAccount installs the account snapshot.
func (m *MockExchange) SetAccount(acc *Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = acc
}

// SetCancelCount sets the count CancelAllOpen reports for symbol.
func (m *MockExchange) SetCancelCount(symbol string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[symbol] = n
}

// FailWith makes the named operation return err until cleared.
func (m *MockExchange) FailWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// ClearFailure removes an injected failure.
func (m *MockExchange) ClearFailure(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, op)
}

// Orders returns every order placed, in order.
func (m *MockExchange) Orders() []LimitOrderRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LimitOrderRequest, len(m.orders))
	copy(out, m.orders)
	return out
}

// ClosedSymbols returns every symbol flattened via ClosePosition.
func (m *MockExchange) ClosedSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.closed))
	copy(out, m.closed)
	return out
}

// Calls returns how many times the named operation ran.
func (m *MockExchange) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// LeverageFor returns the last leverage applied to symbol.
func (m *MockExchange) LeverageFor(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leverage[symbol]
}

func (m *MockExchange) begin(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if err := m.failures[op]; err != nil {
		return err
	}
	return nil
}

// GetPosition returns the installed position, or nil.
func (m *MockExchange) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	if err := m.begin("getPosition"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[symbol], nil
}

// GetTicker returns the installed ticker.
func (m *MockExchange) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	if err := m.begin("getTicker"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickers[symbol]
	if !ok {
		return nil, &Error{Kind: KindInvalidSymbol, Op: "getTicker", Symbol: symbol, Msg: "no ticker installed"}
	}
	return t, nil
}

// GetCandles returns the tail of the installed history.
func (m *MockExchange) GetCandles(ctx context.Context, symbol string, intervalMinutes, limit int) ([]indicators.Candle, error) {
	if err := m.begin("getCandles"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	candles := m.candles[symbol]
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]indicators.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// GetEquity returns the installed account, or a zero account.
func (m *MockExchange) GetEquity(ctx context.Context) (*Account, error) {
	if err := m.begin("getEquity"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.account == nil {
		return &Account{}, nil
	}
	acc := *m.account
	return &acc, nil
}

// GetEMA computes the EMA from the installed candles, like the live
// adapter does from fetched ones.
func (m *MockExchange) GetEMA(ctx context.Context, symbol string, period, intervalMinutes int) (float64, error) {
	candles, err := m.GetCandles(ctx, symbol, intervalMinutes, period*3)
	if err != nil {
		return 0, err
	}
	return indicators.EMA(indicators.Closes(candles), period)
}

// SetLeverage records the applied leverage.
func (m *MockExchange) SetLeverage(ctx context.Context, symbol string, side config.Side, leverage int) error {
	if err := m.begin("setLeverage"); err != nil {
		return err
	}
	if leverage <= 0 {
		return &Error{Kind: KindInvalidLeverage, Op: "setLeverage", Symbol: symbol, Msg: "leverage must be positive"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leverage[symbol] = leverage
	return nil
}

// CancelAllOpen reports the installed cancel count.
func (m *MockExchange) CancelAllOpen(ctx context.Context, symbol string) (int, error) {
	if err := m.begin("cancelAllOpen"); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancelled[symbol], nil
}

// PlaceLimit validates and records the order.
func (m *MockExchange) PlaceLimit(ctx context.Context, req LimitOrderRequest) (string, error) {
	if err := m.begin("placeLimit"); err != nil {
		return "", err
	}
	if err := validateLimitOrder(req); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, req)
	m.orderID++
	id := fmt.Sprintf("mock-order-%d", m.orderID)

	log.Debug().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("qty", req.Quantity.String()).
		Str("price", req.LimitPrice.String()).
		Str("order_id", id).
		Msg("Mock order placed")
	return id, nil
}

// ClosePosition records the close and drops the position, mimicking an
// immediately filled market order.
func (m *MockExchange) ClosePosition(ctx context.Context, symbol string) error {
	if err := m.begin("closePosition"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, symbol)
	delete(m.positions, symbol)

	log.Debug().Str("symbol", symbol).Msg("Mock position closed")
	return nil
}
