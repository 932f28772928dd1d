package indicators

import (
	"fmt"
	"math"
)

// DefaultATRPeriod is the standard true-range window.
const DefaultATRPeriod = 14

// atrLookback bounds how many rolling ATR values feed the baseline mean.
const atrLookback = 50

// ATR returns the average true range over the last period bars: the mean
// of the true range, where the true range at bar t is
// max(high-low, |high-prevClose|, |low-prevClose|).
func ATR(candles []Candle, period int) (float64, error) {
	trs, err := trueRanges(candles)
	if err != nil {
		return 0, err
	}
	if len(trs) < period {
		return 0, fmt.Errorf("atr(%d) needs %d bars, got %d: %w",
			period, period+1, len(candles), ErrInsufficientData)
	}
	return mean(trs[len(trs)-period:]), nil
}

// ATRRatio compares the latest ATR against the mean of its own recent
// rolling values. A ratio well above 1 marks a volatility expansion; a
// zero baseline (flat series) reads as neutral 1.
func ATRRatio(candles []Candle, period int) (atr, ratio float64, err error) {
	trs, err := trueRanges(candles)
	if err != nil {
		return 0, 0, err
	}
	if len(trs) < period {
		return 0, 0, fmt.Errorf("atr ratio(%d) needs %d bars, got %d: %w",
			period, period+1, len(candles), ErrInsufficientData)
	}

	// Rolling ATR at index t covers trs[t-period+1 .. t].
	var rolling []float64
	for t := period - 1; t < len(trs); t++ {
		rolling = append(rolling, mean(trs[t-period+1:t+1]))
	}
	if len(rolling) > atrLookback {
		rolling = rolling[len(rolling)-atrLookback:]
	}

	atr = rolling[len(rolling)-1]
	baseline := mean(rolling)
	if baseline == 0 {
		return atr, 1, nil
	}
	return atr, atr / baseline, nil
}

// trueRanges returns the TR series, one value per bar from the second on.
func trueRanges(candles []Candle) ([]float64, error) {
	if len(candles) < 2 {
		return nil, fmt.Errorf("true range needs at least 2 bars, got %d: %w",
			len(candles), ErrInsufficientData)
	}

	trs := make([]float64, 0, len(candles)-1)
	for t := 1; t < len(candles); t++ {
		prevClose := candles[t-1].Close
		hl := candles[t].High - candles[t].Low
		hc := math.Abs(candles[t].High - prevClose)
		lc := math.Abs(candles[t].Low - prevClose)
		trs = append(trs, math.Max(hl, math.Max(hc, lc)))
	}
	return trs, nil
}
