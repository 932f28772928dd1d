package indicators

import "fmt"

// EMA returns the latest exponential moving average of values.
//
// The recurrence is seeded at the first value: ema[0] = values[0], then
// ema[t] = alpha*values[t] + (1-alpha)*ema[t-1] with alpha = 2/(period+1).
// At least period values are required for the average to be meaningful.
func EMA(values []float64, period int) (float64, error) {
	series, err := EMASeries(values, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// EMASeries returns the full EMA series, one value per input value.
func EMASeries(values []float64, period int) ([]float64, error) {
	if period < 1 {
		return nil, fmt.Errorf("ema period must be positive, got %d", period)
	}
	if len(values) < period {
		return nil, fmt.Errorf("ema(%d) needs %d values, got %d: %w",
			period, period, len(values), ErrInsufficientData)
	}

	alpha := 2.0 / float64(period+1)
	series := make([]float64, len(values))
	series[0] = values[0]
	for t := 1; t < len(values); t++ {
		series[t] = alpha*values[t] + (1-alpha)*series[t-1]
	}
	return series, nil
}

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if period < 1 {
		return 0, fmt.Errorf("sma period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("sma(%d) needs %d values, got %d: %w",
			period, period, len(values), ErrInsufficientData)
	}
	return mean(values[len(values)-period:]), nil
}
