package indicators

import (
	"fmt"
	"math"
)

// DefaultHistVolPeriod is the log-return window for historical volatility.
const DefaultHistVolPeriod = 20

// Thresholds decide when a market counts as high-volatility. Any single
// breach flips the flag.
type Thresholds struct {
	ATRRatio   float64
	BBWidthPct float64
	HistVolPct float64
}

// DefaultThresholds returns the contractual gate levels.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ATRRatio:   1.5,
		BBWidthPct: 8.0,
		HistVolPct: 5.0,
	}
}

// VolatilityReport is the combined volatility view the engine consults
// before averaging into or opening a position.
type VolatilityReport struct {
	ATR        float64
	ATRRatio   float64
	BBWidthPct float64
	HistVolPct float64
	IsHigh     bool
}

// HistoricalVolatility returns the standard deviation of log returns over
// the last period returns, scaled by sqrt(barsPerDay) and expressed as a
// daily-equivalent percentage.
func HistoricalVolatility(closes []float64, period int, barsPerDay float64) (float64, error) {
	if len(closes) < period+1 {
		return 0, fmt.Errorf("historical volatility(%d) needs %d values, got %d: %w",
			period, period+1, len(closes), ErrInsufficientData)
	}

	window := closes[len(closes)-period-1:]
	returns := make([]float64, 0, period)
	for t := 1; t < len(window); t++ {
		if window[t-1] <= 0 || window[t] <= 0 {
			return 0, fmt.Errorf("historical volatility requires positive closes")
		}
		returns = append(returns, math.Log(window[t]/window[t-1]))
	}

	return sampleStdDev(returns) * math.Sqrt(barsPerDay) * 100, nil
}

// Volatility builds the full report for one candle series.
// intervalMinutes scales historical volatility to a daily figure.
func Volatility(candles []Candle, intervalMinutes int, th Thresholds) (VolatilityReport, error) {
	if intervalMinutes <= 0 {
		return VolatilityReport{}, fmt.Errorf("interval must be positive, got %d", intervalMinutes)
	}

	atr, atrRatio, err := ATRRatio(candles, DefaultATRPeriod)
	if err != nil {
		return VolatilityReport{}, err
	}

	closes := Closes(candles)
	bbWidth, err := BollingerWidth(closes, DefaultBBPeriod, DefaultBBStdDev)
	if err != nil {
		return VolatilityReport{}, err
	}

	barsPerDay := 1440.0 / float64(intervalMinutes)
	histVol, err := HistoricalVolatility(closes, DefaultHistVolPeriod, barsPerDay)
	if err != nil {
		return VolatilityReport{}, err
	}

	return VolatilityReport{
		ATR:        atr,
		ATRRatio:   atrRatio,
		BBWidthPct: bbWidth,
		HistVolPct: histVol,
		IsHigh:     atrRatio > th.ATRRatio || bbWidth > th.BBWidthPct || histVol > th.HistVolPct,
	}, nil
}
