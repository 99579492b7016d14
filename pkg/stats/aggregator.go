// Package stats computes outlier-resistant summary statistics for service
// run durations.
//
// The aggregator is the estimation fallback when no regression model exists
// for a service: it produces a time-decay weighted average over a Tukey-fence
// filtered sample set, plus descriptive statistics over the unfiltered set.
package stats

import (
	"math"
	"sort"
	"time"
)

// DefaultHalfLife is the decay half-life for recency weighting: a sample's
// weight halves every 30 days, so recent runs dominate the average without
// history being discarded outright.
const DefaultHalfLife = 30 * 24 * time.Hour

// minSamplesForFence is the sample count below which outlier rejection is
// skipped; a Tukey fence over fewer points is not statistically meaningful.
const minSamplesForFence = 5

// Confidence labels how trustworthy an aggregate estimate is, driven purely
// by sample count.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ConfidenceFor maps a sample count to its confidence tier.
func ConfidenceFor(n int) Confidence {
	switch {
	case n >= 5:
		return ConfidenceHigh
	case n >= 3:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Observation is a single recorded run duration.
type Observation struct {
	DurationMs float64
	Timestamp  time.Time
}

// ServiceStats summarizes the recorded durations for one service.
// AverageMs is outlier-filtered and recency-weighted; MinMs, MaxMs, MedianMs,
// and StdDevMs are descriptive and computed over the unfiltered set.
type ServiceStats struct {
	ServiceID   string     `json:"serviceId"`
	AverageMs   float64    `json:"averageMs"`
	MinMs       float64    `json:"minMs"`
	MaxMs       float64    `json:"maxMs"`
	MedianMs    float64    `json:"medianMs"`
	StdDevMs    float64    `json:"stdDevMs"`
	SampleCount int        `json:"sampleCount"`
	Confidence  Confidence `json:"confidence"`
}

// Compute derives ServiceStats from a service's observations.
//
// Returns ok=false when there are no observations; callers should treat that
// as "unestimated" rather than an error.
//
// Algorithm:
//  1. With at least 5 observations, durations beyond the 1.5x IQR Tukey
//     fence are discarded before averaging. Below that, all observations
//     are used unfiltered.
//  2. The average is a decay-weighted mean of the filtered durations, with
//     weight 0.5^(age/halfLife) relative to now.
//  3. Min, max, median, and standard deviation are computed over the
//     unfiltered set.
//
// The weighted mean is a convex combination of observed durations, so
// MinMs <= AverageMs <= MaxMs holds for any non-empty input.
func Compute(serviceID string, obs []Observation, now time.Time, halfLife time.Duration) (ServiceStats, bool) {
	if len(obs) == 0 {
		return ServiceStats{}, false
	}
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}

	durations := make([]float64, len(obs))
	for i, o := range obs {
		durations[i] = o.DurationMs
	}
	sorted := append([]float64(nil), durations...)
	sort.Float64s(sorted)

	filtered := obs
	if len(obs) >= minSamplesForFence {
		lo, hi := tukeyFence(sorted)
		kept := make([]Observation, 0, len(obs))
		for _, o := range obs {
			if o.DurationMs >= lo && o.DurationMs <= hi {
				kept = append(kept, o)
			}
		}
		// The fence always spans the interquartile range, so at least half
		// the observations survive.
		if len(kept) > 0 {
			filtered = kept
		}
	}

	return ServiceStats{
		ServiceID:   serviceID,
		AverageMs:   weightedMean(filtered, now, halfLife),
		MinMs:       sorted[0],
		MaxMs:       sorted[len(sorted)-1],
		MedianMs:    median(sorted),
		StdDevMs:    stdDev(durations),
		SampleCount: len(obs),
		Confidence:  ConfidenceFor(len(obs)),
	}, true
}

// DecayWeight returns the recency weight 0.5^(age/halfLife) for a sample of
// the given age. Future-dated samples get weight 1.
func DecayWeight(age, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	return math.Pow(0.5, age.Hours()/halfLife.Hours())
}

// DecayWeights computes the recency weight for each observation relative to now.
func DecayWeights(obs []Observation, now time.Time, halfLife time.Duration) []float64 {
	weights := make([]float64, len(obs))
	for i, o := range obs {
		weights[i] = DecayWeight(now.Sub(o.Timestamp), halfLife)
	}
	return weights
}

func weightedMean(obs []Observation, now time.Time, halfLife time.Duration) float64 {
	var sum, weightSum float64
	for _, o := range obs {
		w := DecayWeight(now.Sub(o.Timestamp), halfLife)
		sum += w * o.DurationMs
		weightSum += w
	}
	if weightSum == 0 {
		// All weights underflowed to zero (extremely old samples); fall back
		// to the unweighted mean so the result stays within observed range.
		for _, o := range obs {
			sum += o.DurationMs
		}
		return sum / float64(len(obs))
	}
	return sum / weightSum
}

// tukeyFence returns the [lo, hi] acceptance interval Q1-1.5*IQR, Q3+1.5*IQR
// over an ascending-sorted slice.
func tukeyFence(sorted []float64) (float64, float64) {
	q1 := percentile(sorted, 0.25)
	q3 := percentile(sorted, 0.75)
	iqr := q3 - q1
	return q1 - 1.5*iqr, q3 + 1.5*iqr
}

// percentile computes the p-th percentile of an ascending-sorted slice using
// linear interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

func median(sorted []float64) float64 {
	return percentile(sorted, 0.5)
}

// stdDev computes the population standard deviation.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sumSq float64
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
