package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// declineSeries builds 36 bars: 31 flat at 100, then the given last five closes.
func declineSeries(lastFive ...float64) []Candle {
	closes := make([]float64, 0, 36)
	for i := 0; i < 31; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, lastFive...)
	return candlesFromCloses(closes, 10)
}

// TestDeclineVelocityFlat tests that a flat market scores zero
func TestDeclineVelocityFlat(t *testing.T) {
	report, err := DeclineVelocity(flatCandles(40, 50000, 10))
	require.NoError(t, err)

	assert.Zero(t, report.ROCShort)
	assert.Zero(t, report.ROCMedium)
	assert.Zero(t, report.ROCLong)
	assert.InDelta(t, 1.0, report.Smoothness, 1e-12)
	assert.InDelta(t, 1.0, report.VolumeRatio, 1e-12)
	assert.Zero(t, report.Score)
	assert.Equal(t, DeclineSlow, report.Kind)
	assert.True(t, report.IsSafe())
	assert.False(t, report.IsDangerous())
}

// TestDeclineVelocityRally tests that rising prices never score
func TestDeclineVelocityRally(t *testing.T) {
	report, err := DeclineVelocity(declineSeries(101, 102, 103, 104, 105))
	require.NoError(t, err)

	assert.Positive(t, report.ROCShort)
	assert.Zero(t, report.Score)
	assert.Equal(t, DeclineSlow, report.Kind)
}

// TestDeclineVelocityModerate tests the pure-severity band
func TestDeclineVelocityModerate(t *testing.T) {
	// 1.25% down over five bars: severity 25, no acceleration, no volume.
	report, err := DeclineVelocity(declineSeries(99.75, 99.5, 99.25, 99.0, 98.75))
	require.NoError(t, err)

	assert.InDelta(t, -0.0125, report.ROCShort, 1e-12)
	assert.InDelta(t, 25.0, report.Score, 1e-9)
	assert.Equal(t, DeclineModerate, report.Kind)
	assert.False(t, report.IsDangerous())
	assert.False(t, report.IsSafe())
}

// TestDeclineVelocityFast tests the averaging-in blocker band
func TestDeclineVelocityFast(t *testing.T) {
	// 2.5% down over five bars: severity 50.
	report, err := DeclineVelocity(declineSeries(99.5, 99.0, 98.5, 98.0, 97.5))
	require.NoError(t, err)

	assert.InDelta(t, 50.0, report.Score, 1e-9)
	assert.Equal(t, DeclineFast, report.Kind)
	assert.True(t, report.IsDangerous())
}

// TestDeclineVelocityCrash tests severity saturation
func TestDeclineVelocityCrash(t *testing.T) {
	// 6% down over five bars saturates severity at 100.
	report, err := DeclineVelocity(declineSeries(98.8, 97.6, 96.4, 95.2, 94.0))
	require.NoError(t, err)

	assert.InDelta(t, -0.06, report.ROCShort, 1e-12)
	assert.InDelta(t, 100.0, report.Score, 1e-9)
	assert.Equal(t, DeclineCrash, report.Kind)
	assert.True(t, report.IsDangerous())
}

// TestDeclineVelocityAcceleration tests the smoothness component
func TestDeclineVelocityAcceleration(t *testing.T) {
	// Medium-window drop of 0.8% but short-window drop of 1.0%: the recent
	// leg is steeper, smoothness 1.25, acceleration 62.5 on top of severity 20.
	ref := 99.2 / 0.99
	closes := make([]float64, 0, 36)
	for i := 0; i < 21; i++ {
		closes = append(closes, 100)
	}
	for i := 0; i < 10; i++ {
		closes = append(closes, ref)
	}
	closes = append(closes, 99.6, 99.6, 99.6, 99.6, 99.2)

	report, err := DeclineVelocity(candlesFromCloses(closes, 10))
	require.NoError(t, err)

	assert.InDelta(t, -0.01, report.ROCShort, 1e-9)
	assert.InDelta(t, -0.008, report.ROCMedium, 1e-9)
	assert.InDelta(t, 1.25, report.Smoothness, 1e-9)
	assert.InDelta(t, 82.5, report.Score, 1e-6)
	assert.Equal(t, DeclineCrash, report.Kind)
}

// TestDeclineVelocityVolume tests the volume-expansion component
func TestDeclineVelocityVolume(t *testing.T) {
	candles := flatCandles(36, 100, 100)
	for i := 31; i < 36; i++ {
		candles[i].Volume = 200
	}

	report, err := DeclineVelocity(candles)
	require.NoError(t, err)

	// recent 200 vs 30-bar baseline 116.67
	assert.InDelta(t, 1.714286, report.VolumeRatio, 1e-6)
	assert.InDelta(t, 21.428571, report.Score, 1e-6)
	assert.Equal(t, DeclineModerate, report.Kind)
}

// TestDeclineVelocityInsufficientData tests the minimum series length
func TestDeclineVelocityInsufficientData(t *testing.T) {
	_, err := DeclineVelocity(flatCandles(30, 100, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = DeclineVelocity(flatCandles(31, 100, 10))
	assert.NoError(t, err)
}

// TestDeclineKindBuckets tests the score bucket edges
func TestDeclineKindBuckets(t *testing.T) {
	tests := []struct {
		score float64
		want  DeclineKind
	}{
		{0, DeclineSlow},
		{19.99, DeclineSlow},
		{20, DeclineModerate},
		{39.99, DeclineModerate},
		{40, DeclineFast},
		{69.99, DeclineFast},
		{70, DeclineCrash},
		{100, DeclineCrash},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, declineKind(tt.score), "score %.2f", tt.score)
	}
}

func BenchmarkDeclineVelocity(b *testing.B) {
	closes := make([]float64, 600)
	for i := range closes {
		closes[i] = 50000 - float64(i)*3.5
	}
	candles := candlesFromCloses(closes, 10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DeclineVelocity(candles)
	}
}
