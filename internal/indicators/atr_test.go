package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(high, low, close float64) Candle {
	return Candle{
		Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Open:      close,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    1,
	}
}

// TestATR tests the average true range over a hand-computed series
func TestATR(t *testing.T) {
	candles := []Candle{
		bar(10, 8, 9),
		bar(11, 9, 10),  // TR 2
		bar(12, 10, 11), // TR 2
		bar(15, 11, 12), // TR 4
	}

	got, err := ATR(candles, 2)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, got, 1e-12)
}

// TestATRGap tests that a gap beyond the bar's own range widens the true range
func TestATRGap(t *testing.T) {
	candles := []Candle{
		bar(10, 8, 9),
		bar(20, 19, 19.5), // TR = |20 - 9| = 11, not the 1.0 high-low span
	}

	got, err := ATR(candles, 1)
	require.NoError(t, err)
	assert.InDelta(t, 11.0, got, 1e-12)
}

// TestATRFlat tests that a flat series has zero range
func TestATRFlat(t *testing.T) {
	got, err := ATR(flatCandles(30, 50000, 10), DefaultATRPeriod)
	require.NoError(t, err)
	assert.Zero(t, got)
}

// TestATRInsufficientData tests the bar-count requirement
func TestATRInsufficientData(t *testing.T) {
	_, err := ATR(flatCandles(14, 100, 1), 14)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)

	// period+1 bars is exactly enough
	_, err = ATR(flatCandles(15, 100, 1), 14)
	assert.NoError(t, err)
}

// TestATRRatio tests the ratio of current ATR to its rolling baseline
func TestATRRatio(t *testing.T) {
	// True ranges 1,1,1,1,9. With period 2 the rolling ATR series is
	// 1,1,1,5 so the baseline is 2 and the last reading is 5.
	candles := []Candle{
		bar(100, 100, 100),
		bar(100.5, 99.5, 100),
		bar(100.5, 99.5, 100),
		bar(100.5, 99.5, 100),
		bar(100.5, 99.5, 100),
		bar(104.5, 95.5, 100),
	}

	atr, ratio, err := ATRRatio(candles, 2)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, atr, 1e-12)
	assert.InDelta(t, 2.5, ratio, 1e-12)
}

// TestATRRatioFlat tests that a zero baseline reads as neutral
func TestATRRatioFlat(t *testing.T) {
	atr, ratio, err := ATRRatio(flatCandles(60, 50000, 10), DefaultATRPeriod)
	require.NoError(t, err)
	assert.Zero(t, atr)
	assert.InDelta(t, 1.0, ratio, 1e-12)
}

// TestATRRatioSteady tests that unchanging volatility reads as 1.0
func TestATRRatioSteady(t *testing.T) {
	candles := make([]Candle, 0, 60)
	for i := 0; i < 60; i++ {
		candles = append(candles, bar(101, 99, 100))
	}

	_, ratio, err := ATRRatio(candles, DefaultATRPeriod)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ratio, 1e-12)
}
