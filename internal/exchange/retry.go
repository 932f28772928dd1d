package exchange

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradewell-labs/margingale/internal/metrics"
)

// RetryConfig configures the retry loop wrapped around every adapter
// request.
type RetryConfig struct {
	MaxRetries     int           // attempts beyond the first
	InitialBackoff time.Duration // backoff before the first retry
	MaxBackoff     time.Duration // backoff growth cap
	BackoffFactor  float64       // exponential multiplier
	JitterFraction float64       // +/- fraction applied to each sleep
}

// DefaultRetryConfig returns the contractual retry policy: three retries
// with 500ms initial backoff, doubling, jittered by 25%.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		BackoffFactor:  2.0,
		JitterFraction: 0.25,
	}
}

// RetryableOperation is one attempt at an adapter request.
type RetryableOperation func() error

// WithRetry executes an operation with exponential backoff. Only
// transient errors are retried; auth errors, validation errors, and
// cancellation are terminal. The last error is returned as-is so callers
// can classify it.
func WithRetry(ctx context.Context, config RetryConfig, operation RetryableOperation) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return &Error{Kind: KindCancelled, Op: "retry", Msg: "cancelled before attempt", Err: ctx.Err()}
		default:
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				log.Info().
					Int("attempt", attempt+1).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			log.Debug().
				Err(err).
				Msg("Error is not retryable, aborting")
			return err
		}

		if attempt == config.MaxRetries {
			break
		}

		var ee *Error
		if errors.As(err, &ee) && ee.Op != "" {
			metrics.RecordRetry(ee.Op)
		}

		sleep := jitter(backoff, config.JitterFraction)
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxRetries+1).
			Dur("backoff", sleep).
			Msg("Operation failed, retrying with backoff")

		select {
		case <-ctx.Done():
			return &Error{Kind: KindCancelled, Op: "retry", Msg: "cancelled during backoff", Err: ctx.Err()}
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffFactor)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	log.Warn().
		Err(lastErr).
		Int("attempts", config.MaxRetries+1).
		Msg("Retries exhausted")

	return lastErr
}

// jitter spreads a backoff by +/- fraction to keep concurrent instruments
// from hammering the exchange in lockstep.
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * fraction
	return time.Duration(float64(d) * (1 + spread))
}
