package indicators

import "fmt"

// Bollinger defaults per the classic definition.
const (
	DefaultBBPeriod = 20
	DefaultBBStdDev = 2.0
)

// BollingerWidth returns the band width as a percentage of the middle
// band: (upper-lower)/middle*100 with middle = SMA(close, period) and
// upper/lower = middle +/- k*stddev(close, period).
func BollingerWidth(closes []float64, period int, k float64) (float64, error) {
	if len(closes) < period {
		return 0, fmt.Errorf("bollinger(%d) needs %d values, got %d: %w",
			period, period, len(closes), ErrInsufficientData)
	}

	window := closes[len(closes)-period:]
	middle := mean(window)
	if middle == 0 {
		return 0, nil
	}
	sigma := sampleStdDev(window)

	upper := middle + k*sigma
	lower := middle - k*sigma
	return (upper - lower) / middle * 100, nil
}
