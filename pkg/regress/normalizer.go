// Package regress fits regularized linear models for duration prediction.
//
// It provides Z-score feature normalization and a weighted ridge regression
// trainer. Training sets here are small (5-50 rows) with roughly as many
// features as the smallest sets, so the L2 penalty is what keeps the solve
// well conditioned; ordinary least squares would fail outright on the
// rank-deficient matrices produced by identical hardware.
package regress

import (
	"fmt"
	"math"
)

// normEpsilon is the standard deviation below which a feature is treated as
// constant and left unscaled.
const normEpsilon = 1e-9

// NormStats holds per-feature Z-score parameters, aligned to the feature
// vector order. The same instance must be applied at training and at
// inference time; it is stored inside the trained model for that reason.
type NormStats struct {
	Means   []float64 `json:"means"`
	StdDevs []float64 `json:"stdDevs"`
}

// FitNorm computes per-feature mean and population standard deviation over
// the given feature matrix. Features with standard deviation below epsilon
// are recorded with stddev 1, disabling scaling for constant features
// instead of dividing by zero later.
func FitNorm(features [][]float64) (NormStats, error) {
	if len(features) == 0 {
		return NormStats{}, fmt.Errorf("cannot fit normalizer on empty feature matrix")
	}
	dim := len(features[0])
	for i, row := range features {
		if len(row) != dim {
			return NormStats{}, fmt.Errorf("feature row %d has length %d, want %d", i, len(row), dim)
		}
	}

	n := float64(len(features))
	means := make([]float64, dim)
	for _, row := range features {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= n
	}

	stdDevs := make([]float64, dim)
	for _, row := range features {
		for j, v := range row {
			diff := v - means[j]
			stdDevs[j] += diff * diff
		}
	}
	for j := range stdDevs {
		sd := math.Sqrt(stdDevs[j] / n)
		if sd < normEpsilon {
			sd = 1
		}
		stdDevs[j] = sd
	}

	return NormStats{Means: means, StdDevs: stdDevs}, nil
}

// Dim returns the feature dimension these stats were fit on.
func (s NormStats) Dim() int {
	return len(s.Means)
}

// Apply Z-scores a feature vector element-wise. The input is not modified.
func (s NormStats) Apply(v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		if i < len(s.Means) {
			out[i] = (v[i] - s.Means[i]) / s.StdDevs[i]
		} else {
			out[i] = v[i]
		}
	}
	return out
}

// ApplyAll normalizes every row of a feature matrix.
func (s NormStats) ApplyAll(features [][]float64) [][]float64 {
	out := make([][]float64, len(features))
	for i, row := range features {
		out[i] = s.Apply(row)
	}
	return out
}
