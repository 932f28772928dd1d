// Package indicators provides pure numeric functions over candle series:
// moving averages, volatility measures, and the decline-velocity score.
// Nothing here blocks, logs, or touches the network.
package indicators

import (
	"errors"
	"math"
	"time"
)

// ErrInsufficientData is returned when a series is shorter than an
// indicator's required window. Callers treat it as a skip, not a fault.
var ErrInsufficientData = errors.New("insufficient data")

// Candle is one OHLCV bar. Bars are ordered oldest to newest everywhere.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Closes extracts the close series from candles.
func Closes(candles []Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdDev is the n-1 standard deviation, matching the rolling std of
// the data frames this engine was calibrated against.
func sampleStdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}
