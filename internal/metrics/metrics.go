// Package metrics exposes the bot's Prometheus instrumentation.
//
// Every label value is drawn from a bounded set: tick outcomes and plan
// actions are fixed vocabularies, request results are the adapter's
// error kinds plus "ok", and symbols are capped by the configured
// instrument list.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tick metrics
var (
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margingale_ticks_total",
		Help: "Instrument ticks by outcome (managed, skipped, error)",
	}, []string{"symbol", "outcome"})

	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margingale_actions_total",
		Help: "Plan actions by type (none, open, add, reduce, close)",
	}, []string{"symbol", "action"})

	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "margingale_tick_duration_ms",
		Help:    "Per-instrument tick duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"symbol"})
)

// Account and position metrics
var (
	EquityUsd = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "margingale_equity_usd",
		Help: "Total account equity in USD",
	})

	PositionValueUsd = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "margingale_position_value_usd",
		Help: "Open position notional value in USD by symbol",
	}, []string{"symbol"})

	UnrealizedPnlUsd = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "margingale_unrealized_pnl_usd",
		Help: "Unrealized profit and loss in USD by symbol",
	}, []string{"symbol"})

	MarginLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "margingale_margin_level",
		Help: "Margin headroom by symbol; liquidation approaches at 1.0",
	}, []string{"symbol"})
)

// Market gate metrics
var (
	VolatilityGate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "margingale_volatility_high",
		Help: "Whether the volatility gate is blocking entries (1 or 0)",
	}, []string{"symbol"})

	DeclineScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "margingale_decline_score",
		Help: "Decline velocity score (0-100) by symbol",
	}, []string{"symbol"})
)

// Exchange adapter metrics
var (
	ExchangeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margingale_exchange_requests_total",
		Help: "Exchange API calls by operation and result",
	}, []string{"op", "result"})

	ExchangeRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "margingale_exchange_request_duration_ms",
		Help:    "Exchange API call duration in milliseconds, retries included",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"op"})

	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margingale_retry_attempts_total",
		Help: "Retried exchange calls by operation",
	}, []string{"op"})

	AlertFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "margingale_alert_failures_total",
		Help: "Alerts that failed to deliver to any sink",
	})
)

// RecordTick records one instrument tick with its outcome and duration.
func RecordTick(symbol, outcome string, durationMs float64) {
	TicksTotal.WithLabelValues(symbol, outcome).Inc()
	TickDuration.WithLabelValues(symbol).Observe(durationMs)
}

// RecordAction counts an emitted plan action.
func RecordAction(symbol, action string) {
	ActionsTotal.WithLabelValues(symbol, action).Inc()
}

// RecordExchangeRequest records one adapter call, retries folded in.
func RecordExchangeRequest(op, result string, durationMs float64) {
	ExchangeRequests.WithLabelValues(op, result).Inc()
	ExchangeRequestDuration.WithLabelValues(op).Observe(durationMs)
}

// RecordRetry counts a retried adapter call.
func RecordRetry(op string) {
	RetryAttempts.WithLabelValues(op).Inc()
}

// RecordAlertFailure counts an alert that no sink accepted.
func RecordAlertFailure() {
	AlertFailures.Inc()
}

// UpdateEquity publishes the account equity gauge.
func UpdateEquity(equityUsd float64) {
	EquityUsd.Set(equityUsd)
}

// UpdatePosition publishes the per-symbol position gauges.
func UpdatePosition(symbol string, valueUsd, unrealizedPnl, marginLevel float64) {
	PositionValueUsd.WithLabelValues(symbol).Set(valueUsd)
	UnrealizedPnlUsd.WithLabelValues(symbol).Set(unrealizedPnl)
	MarginLevel.WithLabelValues(symbol).Set(marginLevel)
}

// ClearPosition zeroes the per-symbol position gauges after a flat tick.
func ClearPosition(symbol string) {
	PositionValueUsd.WithLabelValues(symbol).Set(0)
	UnrealizedPnlUsd.WithLabelValues(symbol).Set(0)
	MarginLevel.WithLabelValues(symbol).Set(0)
}

// UpdateMarketGates publishes the volatility and decline readings.
func UpdateMarketGates(symbol string, volatilityHigh bool, declineScore float64) {
	v := 0.0
	if volatilityHigh {
		v = 1.0
	}
	VolatilityGate.WithLabelValues(symbol).Set(v)
	DeclineScore.WithLabelValues(symbol).Set(declineScore)
}
