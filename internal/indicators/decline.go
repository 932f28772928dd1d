package indicators

import (
	"fmt"
	"math"
)

// Rate-of-change windows for the decline score, in bars.
const (
	declineShortWindow  = 5
	declineMediumWindow = 15
	declineLongWindow   = 30
)

// Volume baseline windows for the decline score, in bars.
const (
	volumeRecentWindow   = 5
	volumeBaselineWindow = 30
)

// DeclineKind buckets the velocity score.
type DeclineKind string

const (
	DeclineSlow     DeclineKind = "Slow"
	DeclineModerate DeclineKind = "Moderate"
	DeclineFast     DeclineKind = "Fast"
	DeclineCrash    DeclineKind = "Crash"
)

// DeclineReport classifies how fast price is falling. The score combines
// short-window severity, acceleration relative to the medium window, and
// volume expansion, each saturated, then capped at 100.
type DeclineReport struct {
	ROCShort    float64
	ROCMedium   float64
	ROCLong     float64
	Smoothness  float64
	VolumeRatio float64
	Score       float64
	Kind        DeclineKind
}

// IsDangerous reports whether the decline should block averaging in.
func (r DeclineReport) IsDangerous() bool {
	return r.Kind == DeclineFast || r.Kind == DeclineCrash
}

// IsSafe reports whether the decline is gentle enough to relax the
// position size ceiling.
func (r DeclineReport) IsSafe() bool {
	return r.Kind == DeclineSlow
}

// DeclineVelocity computes the decline report over the candle series.
// The long rate-of-change window plus its reference bar set the minimum
// series length.
func DeclineVelocity(candles []Candle) (DeclineReport, error) {
	minBars := declineLongWindow + 1
	if len(candles) < minBars {
		return DeclineReport{}, fmt.Errorf("decline velocity needs %d bars, got %d: %w",
			minBars, len(candles), ErrInsufficientData)
	}

	closes := Closes(candles)

	rocShort, err := rateOfChange(closes, declineShortWindow)
	if err != nil {
		return DeclineReport{}, err
	}
	rocMedium, err := rateOfChange(closes, declineMediumWindow)
	if err != nil {
		return DeclineReport{}, err
	}
	rocLong, err := rateOfChange(closes, declineLongWindow)
	if err != nil {
		return DeclineReport{}, err
	}

	smoothness := 1.0
	if rocShort < 0 && rocMedium < 0 {
		smoothness = rocShort / rocMedium
	}

	volumes := make([]float64, len(candles))
	for i, c := range candles {
		volumes[i] = c.Volume
	}
	recent := mean(volumes[len(volumes)-volumeRecentWindow:])
	baseline := mean(volumes[len(volumes)-volumeBaselineWindow:])
	volumeRatio := 1.0
	if baseline > 0 {
		volumeRatio = recent / baseline
	}

	severity := 0.0
	if rocShort < 0 {
		severity = math.Min(100, math.Abs(rocShort)*2000)
	}

	acceleration := 0.0
	if smoothness > 1 {
		acceleration = math.Min(100, 50*math.Min(smoothness, 4))
	}

	volume := 0.0
	if volumeRatio > 1 {
		volume = math.Min(30, (volumeRatio-1)*30)
	}

	score := math.Min(100, severity+acceleration+volume)

	return DeclineReport{
		ROCShort:    rocShort,
		ROCMedium:   rocMedium,
		ROCLong:     rocLong,
		Smoothness:  smoothness,
		VolumeRatio: volumeRatio,
		Score:       score,
		Kind:        declineKind(score),
	}, nil
}

func declineKind(score float64) DeclineKind {
	switch {
	case score < 20:
		return DeclineSlow
	case score < 40:
		return DeclineModerate
	case score < 70:
		return DeclineFast
	default:
		return DeclineCrash
	}
}

// rateOfChange is the fractional move over the last n bars:
// (close[t] - close[t-n]) / close[t-n].
func rateOfChange(closes []float64, n int) (float64, error) {
	if len(closes) < n+1 {
		return 0, fmt.Errorf("roc(%d) needs %d values, got %d: %w",
			n, n+1, len(closes), ErrInsufficientData)
	}
	ref := closes[len(closes)-1-n]
	if ref == 0 {
		return 0, fmt.Errorf("roc reference close is zero")
	}
	return (closes[len(closes)-1] - ref) / ref, nil
}
