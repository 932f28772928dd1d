package exchange

import (
	"context"

	"golang.org/x/time/rate"
)

// defaultRequestsPerSecond matches the exchange's advertised per-account
// REST cap.
const defaultRequestsPerSecond = 10

// newLimiter builds the shared token bucket. Burst equals the rate so a
// fresh adapter can issue one second's worth of requests immediately,
// then settles to the steady rate.
func newLimiter(requestsPerSecond int) *rate.Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = defaultRequestsPerSecond
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
}

// waitForSlot blocks until the limiter grants a token or ctx is done.
// A cancelled wait surfaces as a Cancelled adapter error so callers can
// tell deadline pressure from exchange faults.
func waitForSlot(ctx context.Context, limiter *rate.Limiter, op, symbol string) error {
	if err := limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindCancelled, Op: op, Symbol: symbol, Msg: "rate limit wait", Err: err}
	}
	return nil
}
