// Package exchange is the signed HTTP adapter for the Phemex perpetual
// futures API. It owns request signing, rate limiting, retries, and the
// scaled-integer wire encoding; everything above it works in plain
// decimal USD.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/tradewell-labs/margingale/internal/config"
	"github.com/tradewell-labs/margingale/internal/indicators"
	"github.com/tradewell-labs/margingale/internal/metrics"
)

// API routes. Trading routes are signed; market-data and product routes
// are public.
const (
	pathAccountPositions = "/accounts/accountPositions"
	pathTicker           = "/md/ticker/24hr"
	pathKline            = "/exchange/public/md/kline"
	pathProducts         = "/public/products"
	pathLeverage         = "/positions/leverage"
	pathOrdersAll        = "/orders/all"
	pathOrders           = "/orders"
)

// settleCurrency is the margin currency of every instrument this engine
// trades.
const settleCurrency = "USDT"

const maxResponseBytes = 4 << 20

// ClientConfig configures the live adapter.
type ClientConfig struct {
	APIKey            string
	APISecret         string
	BaseURL           string
	HTTPTimeout       time.Duration
	RequestsPerSecond int
	Retry             RetryConfig
}

// Client is the live Phemex adapter. One instance serves all instruments;
// the rate limiter and product cache are shared and concurrency-safe.
type Client struct {
	baseURL    string
	signer     signer
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryConfig
	logger     zerolog.Logger

	mu       sync.RWMutex
	products map[string]Product

	now func() time.Time
}

// NewClient builds a live adapter from configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("exchange client requires api key and secret")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("exchange client requires a base url")
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialBackoff == 0 {
		retry = DefaultRetryConfig()
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		signer:     newSigner(cfg.APIKey, cfg.APISecret),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    newLimiter(cfg.RequestsPerSecond),
		retry:      retry,
		logger:     config.NewLogger("exchange"),
		products:   make(map[string]Product),
		now:        time.Now,
	}, nil
}

// apiRequest is one adapter request before signing.
type apiRequest struct {
	op     string
	symbol string
	method string
	path   string
	query  url.Values
	body   []byte
	signed bool
	market bool // market-data envelope instead of trading envelope
}

// call runs one request through the retry loop. The limiter sits inside
// the retried operation, so every attempt re-acquires a token.
func (c *Client) call(ctx context.Context, r apiRequest) (json.RawMessage, error) {
	start := time.Now()
	var raw json.RawMessage
	err := WithRetry(ctx, c.retry, func() error {
		var opErr error
		raw, opErr = c.do(ctx, r)
		return opErr
	})
	metrics.RecordExchangeRequest(r.op, requestResult(err), float64(time.Since(start).Milliseconds()))
	return raw, err
}

// requestResult is the bounded result label for the request counter.
func requestResult(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "unknown"
}

// do performs a single attempt: admission, signing, round-trip, envelope
// decoding.
func (c *Client) do(ctx context.Context, r apiRequest) (json.RawMessage, error) {
	if err := waitForSlot(ctx, c.limiter, r.op, r.symbol); err != nil {
		return nil, err
	}

	qs := canonicalQuery(r.query)
	u := c.baseURL + r.path
	if qs != "" {
		u += "?" + qs
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, bytes.NewReader(r.body))
	if err != nil {
		return nil, &Error{Kind: KindValidation, Op: r.op, Symbol: r.symbol, Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	if r.signed {
		expiry := c.signer.expiry(c.now())
		req.Header.Set(headerAccessToken, c.signer.apiKey)
		req.Header.Set(headerExpiry, strconv.FormatInt(expiry, 10))
		req.Header.Set(headerSignature, c.signer.sign(expiry, qs, string(r.body)))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: KindCancelled, Op: r.op, Symbol: r.symbol, Msg: "request cancelled", Err: err}
		}
		return nil, &Error{Kind: KindTransient, Op: r.op, Symbol: r.symbol, Msg: "http round-trip", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: KindTransient, Op: r.op, Symbol: r.symbol, Msg: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:   classifyStatus(resp.StatusCode),
			Op:     r.op,
			Symbol: r.symbol,
			Code:   resp.StatusCode,
			Msg:    snippet(payload),
		}
	}

	if r.market {
		var env marketEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, &Error{Kind: KindTransient, Op: r.op, Symbol: r.symbol, Msg: "decode envelope", Err: err}
		}
		if env.Error != nil {
			return nil, classifyBusiness(r.op, r.symbol, env.Error.Code, env.Error.Message)
		}
		return env.Result, nil
	}

	var env tradingEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &Error{Kind: KindTransient, Op: r.op, Symbol: r.symbol, Msg: "decode envelope", Err: err}
	}
	if env.Code != 0 {
		return nil, classifyBusiness(r.op, r.symbol, env.Code, env.Msg)
	}
	return env.Data, nil
}

// GetPosition returns the current position for symbol, or nil when flat.
// A snapshot with zero value but non-zero contracts is returned as-is;
// Position.IsAbsent covers that stale shape.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	payload, err := c.fetchAccountPositions(ctx, "getPosition", symbol)
	if err != nil {
		return nil, err
	}

	for _, p := range payload.Positions {
		if p.Symbol != symbol {
			continue
		}
		return buildPosition(p)
	}
	return nil, nil
}

// GetEquity returns the USDT account snapshot. Equity counts unrealized
// PnL; available equity subtracts balance already committed as margin.
func (c *Client) GetEquity(ctx context.Context) (*Account, error) {
	payload, err := c.fetchAccountPositions(ctx, "getEquity", "")
	if err != nil {
		return nil, err
	}

	balance := valueFromEv(payload.Account.AccountBalanceEv)
	used := valueFromEv(payload.Account.TotalUsedBalanceEv)

	totalUpnl := decimal.Zero
	totalMargin := decimal.Zero
	for _, p := range payload.Positions {
		if p.Side != "Buy" && p.Side != "Sell" {
			continue
		}
		totalUpnl = totalUpnl.Add(valueFromEv(p.UnrealisedPnlEv))
		totalMargin = totalMargin.Add(valueFromEv(p.PositionMarginEv))
	}

	return &Account{
		TotalEquityUsd:     balance.Add(totalUpnl),
		AvailableEquityUsd: balance.Sub(used),
		PositionMarginUsd:  totalMargin,
	}, nil
}

func (c *Client) fetchAccountPositions(ctx context.Context, op, symbol string) (*accountPositionsPayload, error) {
	q := url.Values{}
	q.Set("currency", settleCurrency)

	raw, err := c.call(ctx, apiRequest{
		op:     op,
		symbol: symbol,
		method: http.MethodGet,
		path:   pathAccountPositions,
		query:  q,
		signed: true,
	})
	if err != nil {
		return nil, err
	}

	var payload accountPositionsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &Error{Kind: KindTransient, Op: op, Symbol: symbol, Msg: "decode account positions", Err: err}
	}
	return &payload, nil
}

func buildPosition(p positionPayload) (*Position, error) {
	var side config.Side
	switch p.Side {
	case "Buy":
		side = config.SideLong
	case "Sell":
		side = config.SideShort
	default:
		return nil, nil // side "None" is a flat placeholder row
	}

	sizeStr := p.Size.String()
	if sizeStr == "" {
		sizeStr = "0"
	}
	size, err := decimal.NewFromString(sizeStr)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Op: "getPosition", Symbol: p.Symbol, Msg: "malformed position size", Err: err}
	}

	value := valueFromEv(p.ValueEv)
	margin := valueFromEv(p.PositionMarginEv)
	upnl := valueFromEv(p.UnrealisedPnlEv)
	maintenance := value.Mul(ratioFromEr(p.MaintMarginReqEr))

	// No reported maintenance requirement means no liquidation pressure;
	// a very high level keeps the margin-critical branch quiet.
	marginLevel := decimal.NewFromInt(999)
	if maintenance.IsPositive() {
		marginLevel = margin.Add(upnl).Div(maintenance)
	}

	return &Position{
		Symbol:               p.Symbol,
		Side:                 side,
		SizeContracts:        size.Abs(),
		EntryPrice:           priceFromEp(p.AvgEntryPriceEp),
		MarkPrice:            priceFromEp(p.MarkPriceEp),
		Leverage:             ratioFromEr(p.LeverageEr).Abs(), // negative leverage means cross margin
		UnrealizedPnl:        upnl,
		PositionValueUsd:     value,
		PositionMarginUsd:    margin,
		MaintenanceMarginUsd: maintenance,
		MarginLevel:          marginLevel,
		LiquidationPrice:     priceFromEp(p.LiquidationPriceEp),
	}, nil
}

// GetTicker returns the top of book for symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	raw, err := c.call(ctx, apiRequest{
		op:     "getTicker",
		symbol: symbol,
		method: http.MethodGet,
		path:   pathTicker,
		query:  q,
		market: true,
	})
	if err != nil {
		return nil, err
	}

	var p tickerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &Error{Kind: KindTransient, Op: "getTicker", Symbol: symbol, Msg: "decode ticker", Err: err}
	}
	if p.LastEp == 0 {
		return nil, &Error{Kind: KindTransient, Op: "getTicker", Symbol: symbol, Msg: "empty ticker"}
	}

	return &Ticker{
		Symbol:    symbol,
		BestBid:   priceFromEp(p.BidEp),
		BestAsk:   priceFromEp(p.AskEp),
		LastPrice: priceFromEp(p.LastEp),
		MarkPrice: priceFromEp(p.MarkEp),
		Timestamp: time.Unix(0, p.TimestampNs).UTC(),
	}, nil
}

// GetCandles returns up to limit bars at the given interval, oldest
// first.
func (c *Client) GetCandles(ctx context.Context, symbol string, intervalMinutes, limit int) ([]indicators.Candle, error) {
	if intervalMinutes <= 0 {
		return nil, &Error{Kind: KindValidation, Op: "getCandles", Symbol: symbol, Msg: "interval must be positive"}
	}
	if limit <= 0 {
		return nil, &Error{Kind: KindValidation, Op: "getCandles", Symbol: symbol, Msg: "limit must be positive"}
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", strconv.Itoa(intervalMinutes*60))
	q.Set("limit", strconv.Itoa(limit))

	raw, err := c.call(ctx, apiRequest{
		op:     "getCandles",
		symbol: symbol,
		method: http.MethodGet,
		path:   pathKline,
		query:  q,
	})
	if err != nil {
		return nil, err
	}

	var payload klinePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &Error{Kind: KindTransient, Op: "getCandles", Symbol: symbol, Msg: "decode kline", Err: err}
	}

	candles := make([]indicators.Candle, 0, len(payload.Rows))
	for _, row := range payload.Rows {
		if len(row) < 9 {
			return nil, &Error{Kind: KindTransient, Op: "getCandles", Symbol: symbol, Msg: "malformed kline row"}
		}
		candles = append(candles, indicators.Candle{
			Timestamp: time.Unix(row[0], 0).UTC(),
			Open:      floatFromEp(row[3]),
			High:      floatFromEp(row[4]),
			Low:       floatFromEp(row[5]),
			Close:     floatFromEp(row[6]),
			Volume:    float64(row[7]),
		})
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return candles, nil
}

// GetEMA fetches three windows of candles and computes the exponential
// moving average at the configured interval. Insufficient history
// propagates as indicators.ErrInsufficientData.
func (c *Client) GetEMA(ctx context.Context, symbol string, period, intervalMinutes int) (float64, error) {
	candles, err := c.GetCandles(ctx, symbol, intervalMinutes, period*3)
	if err != nil {
		return 0, err
	}
	return indicators.EMA(indicators.Closes(candles), period)
}

// SetLeverage applies the configured leverage to symbol. The account
// trades in one-way mode, so the leverage covers both directions; side
// is recorded for the audit trail only.
func (c *Client) SetLeverage(ctx context.Context, symbol string, side config.Side, leverage int) error {
	if leverage <= 0 {
		return &Error{Kind: KindInvalidLeverage, Op: "setLeverage", Symbol: symbol, Msg: "leverage must be positive"}
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("leverage", strconv.Itoa(leverage))

	_, err := c.call(ctx, apiRequest{
		op:     "setLeverage",
		symbol: symbol,
		method: http.MethodPut,
		path:   pathLeverage,
		query:  q,
		signed: true,
	})
	if err != nil {
		return err
	}

	c.logger.Debug().
		Str("symbol", symbol).
		Str("side", string(side)).
		Int("leverage", leverage).
		Msg("Leverage set")
	return nil
}

// CancelAllOpen cancels every open order on symbol and returns the count
// the exchange reports.
func (c *Client) CancelAllOpen(ctx context.Context, symbol string) (int, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	raw, err := c.call(ctx, apiRequest{
		op:     "cancelAllOpen",
		symbol: symbol,
		method: http.MethodDelete,
		path:   pathOrdersAll,
		query:  q,
		signed: true,
	})
	if err != nil {
		return 0, err
	}

	count := 0
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &count); err != nil {
			c.logger.Debug().Str("symbol", symbol).Msg("Cancel-all response carried no count")
		}
	}
	return count, nil
}

// PlaceLimit places a limit order, normalizing quantity to the lot grid
// and price to the tick grid first. Returns the exchange order id.
func (c *Client) PlaceLimit(ctx context.Context, req LimitOrderRequest) (string, error) {
	if err := validateLimitOrder(req); err != nil {
		return "", err
	}

	product, err := c.product(ctx, req.Symbol)
	if err != nil {
		return "", err
	}

	qty := normalizeQty(req.Quantity, product.LotSize)
	if qty.IsZero() {
		return "", &Error{Kind: KindInvalidQty, Op: "placeLimit", Symbol: req.Symbol, Msg: "quantity below lot size"}
	}
	price := normalizePrice(req.LimitPrice, product.TickSize, req.Side)

	body, err := json.Marshal(orderRequestPayload{
		ClOrdID:     uuid.New().String(),
		Symbol:      req.Symbol,
		Side:        string(req.Side),
		OrderQty:    qty.String(),
		PriceEp:     epFromPrice(price),
		OrdType:     "Limit",
		TimeInForce: "GoodTillCancel",
		ReduceOnly:  req.ReduceOnly,
	})
	if err != nil {
		return "", &Error{Kind: KindValidation, Op: "placeLimit", Symbol: req.Symbol, Msg: "encode order", Err: err}
	}

	raw, err := c.call(ctx, apiRequest{
		op:     "placeLimit",
		symbol: req.Symbol,
		method: http.MethodPost,
		path:   pathOrders,
		body:   body,
		signed: true,
	})
	if err != nil {
		return "", err
	}

	var resp orderResponsePayload
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &Error{Kind: KindTransient, Op: "placeLimit", Symbol: req.Symbol, Msg: "decode order response", Err: err}
	}

	c.logger.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("qty", qty.String()).
		Str("price", price.String()).
		Bool("reduce_only", req.ReduceOnly).
		Str("order_id", resp.OrderID).
		Msg("Order placed")
	return resp.OrderID, nil
}

// ClosePosition flattens symbol with a reduce-only market order. Closing
// an absent position is an idempotent success.
func (c *Client) ClosePosition(ctx context.Context, symbol string) error {
	pos, err := c.GetPosition(ctx, symbol)
	if err != nil {
		return err
	}
	if pos.IsAbsent() {
		c.logger.Info().Str("symbol", symbol).Msg("No position to close")
		return nil
	}

	body, err := json.Marshal(orderRequestPayload{
		ClOrdID:    uuid.New().String(),
		Symbol:     symbol,
		Side:       string(SideToOrder(pos.Side).Opposite()),
		OrderQty:   pos.SizeContracts.String(),
		OrdType:    "Market",
		ReduceOnly: true,
	})
	if err != nil {
		return &Error{Kind: KindValidation, Op: "closePosition", Symbol: symbol, Msg: "encode order", Err: err}
	}

	_, err = c.call(ctx, apiRequest{
		op:     "closePosition",
		symbol: symbol,
		method: http.MethodPost,
		path:   pathOrders,
		body:   body,
		signed: true,
	})
	if err != nil {
		return err
	}

	c.logger.Info().
		Str("symbol", symbol).
		Str("size", pos.SizeContracts.String()).
		Msg("Position closed at market")
	return nil
}

// product returns contract metadata for symbol, loading the product
// table on first use. The table is static exchange metadata, the only
// thing the adapter caches.
func (c *Client) product(ctx context.Context, symbol string) (Product, error) {
	c.mu.RLock()
	p, ok := c.products[symbol]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	if err := c.loadProducts(ctx); err != nil {
		return Product{}, err
	}

	c.mu.RLock()
	p, ok = c.products[symbol]
	c.mu.RUnlock()
	if !ok {
		return Product{}, &Error{Kind: KindInvalidSymbol, Op: "getProduct", Symbol: symbol, Msg: "unknown product"}
	}
	return p, nil
}

func (c *Client) loadProducts(ctx context.Context) error {
	raw, err := c.call(ctx, apiRequest{
		op:     "getProducts",
		method: http.MethodGet,
		path:   pathProducts,
	})
	if err != nil {
		return err
	}

	var payload productsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return &Error{Kind: KindTransient, Op: "getProducts", Msg: "decode products", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range payload.Products {
		if p.Type != "Perpetual" || p.Status != "Listed" {
			continue
		}
		c.products[p.Symbol] = Product{
			Symbol:   p.Symbol,
			TickSize: p.TickSize,
			LotSize:  p.LotSize,
		}
	}

	c.logger.Debug().Int("count", len(c.products)).Msg("Product table loaded")
	return nil
}

func validateLimitOrder(req LimitOrderRequest) error {
	if req.Symbol == "" {
		return &Error{Kind: KindInvalidSymbol, Op: "placeLimit", Msg: "symbol is required"}
	}
	if req.Side != OrderSideBuy && req.Side != OrderSideSell {
		return &Error{Kind: KindValidation, Op: "placeLimit", Symbol: req.Symbol, Msg: fmt.Sprintf("invalid order side: %s", req.Side)}
	}
	if !req.Quantity.IsPositive() {
		return &Error{Kind: KindInvalidQty, Op: "placeLimit", Symbol: req.Symbol, Msg: "quantity must be positive"}
	}
	if !req.LimitPrice.IsPositive() {
		return &Error{Kind: KindInvalidPrice, Op: "placeLimit", Symbol: req.Symbol, Msg: "limit price must be positive"}
	}
	return nil
}

// normalizeQty floors qty to a whole number of lots. Rounding down never
// exceeds the intended exposure.
func normalizeQty(qty, lot decimal.Decimal) decimal.Decimal {
	if !lot.IsPositive() {
		return qty
	}
	return qty.Div(lot).Floor().Mul(lot)
}

// normalizePrice snaps price onto the tick grid, rounding toward the
// passive side: buys round down, sells round up.
func normalizePrice(price, tick decimal.Decimal, side OrderSide) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	steps := price.Div(tick)
	if side == OrderSideBuy {
		steps = steps.Floor()
	} else {
		steps = steps.Ceil()
	}
	return steps.Mul(tick)
}

func snippet(payload []byte) string {
	const max = 200
	if len(payload) > max {
		payload = payload[:max]
	}
	return string(payload)
}
