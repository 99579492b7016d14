package regress

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DefaultLambda is the L2 regularization strength. With ~10 features and
// training sets as small as 5 rows the normal equations are frequently
// ill-conditioned; lambda 1.0 on Z-scored features keeps coefficients
// stable without visibly biasing predictions.
const DefaultLambda = 1.0

// MinTrainSamples is the smallest training set a model may be fit on. It
// matches the aggregator's high-confidence floor: a regression on fewer
// points is not trustworthy.
const MinTrainSamples = 5

// ErrNotEnoughData is returned by Train when the training set is below
// MinTrainSamples. Callers fall back to the aggregator average.
var ErrNotEnoughData = errors.New("not enough samples to train")

// Model is a trained ridge regression over normalized features.
type Model struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
	Norm         NormStats `json:"norm"`
	Lambda       float64   `json:"lambda"`
	RSquared     float64   `json:"rSquared"`
	SampleCount  int       `json:"sampleCount"`
}

// Train fits a weighted ridge regression of targets on features.
//
// Rows are weighted by the supplied recency weights, a fresh normalizer is
// fit on the raw features (stale stats are never reused), and the penalized
// normal equations
//
//	(Xc' W Xc + lambda*I) beta = Xc' W yc
//
// are solved by Cholesky factorization, where Xc and yc are centered at
// their weighted means so the intercept stays unpenalized. With lambda > 0
// the system is symmetric positive definite even when the feature matrix is
// rank deficient, which is expected when every sample comes from identical
// hardware.
//
// RSquared is the weighted coefficient of determination on the training
// set, clamped to [0, 1]; values near 0 signal that the features do not
// explain duration for this service.
func Train(features [][]float64, targets, weights []float64, lambda float64) (Model, error) {
	n := len(features)
	if n < MinTrainSamples {
		return Model{}, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughData, n, MinTrainSamples)
	}
	if len(targets) != n || len(weights) != n {
		return Model{}, fmt.Errorf("features/targets/weights length mismatch: %d/%d/%d", n, len(targets), len(weights))
	}
	if lambda <= 0 {
		lambda = DefaultLambda
	}

	norm, err := FitNorm(features)
	if err != nil {
		return Model{}, err
	}
	x := norm.ApplyAll(features)
	dim := norm.Dim()

	var weightSum float64
	for _, w := range weights {
		weightSum += w
	}
	if weightSum <= 0 {
		return Model{}, errors.New("sample weights sum to zero")
	}

	// Weighted means for centering; centering makes the intercept exact
	// without including it in the penalty.
	xMean := make([]float64, dim)
	var yMean float64
	for i := range x {
		for j, v := range x[i] {
			xMean[j] += weights[i] * v
		}
		yMean += weights[i] * targets[i]
	}
	for j := range xMean {
		xMean[j] /= weightSum
	}
	yMean /= weightSum

	// Normal equations on centered data.
	a := mat.NewSymDense(dim, nil)
	b := make([]float64, dim)
	for i := range x {
		w := weights[i]
		yc := targets[i] - yMean
		for j := 0; j < dim; j++ {
			xj := x[i][j] - xMean[j]
			b[j] += w * xj * yc
			for k := j; k < dim; k++ {
				a.SetSym(j, k, a.At(j, k)+w*xj*(x[i][k]-xMean[k]))
			}
		}
	}
	for j := 0; j < dim; j++ {
		a.SetSym(j, j, a.At(j, j)+lambda)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return Model{}, errors.New("ridge system is not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, mat.NewVecDense(dim, b)); err != nil {
		return Model{}, fmt.Errorf("solve ridge system: %w", err)
	}

	coeffs := make([]float64, dim)
	intercept := yMean
	for j := 0; j < dim; j++ {
		coeffs[j] = beta.AtVec(j)
		intercept -= coeffs[j] * xMean[j]
	}

	m := Model{
		Intercept:    intercept,
		Coefficients: coeffs,
		Norm:         norm,
		Lambda:       lambda,
		SampleCount:  n,
	}
	m.RSquared = weightedRSquared(m, x, targets, weights, yMean)
	return m, nil
}

// PredictNormalized evaluates the model on an already-normalized vector.
func (m Model) PredictNormalized(normalized []float64) float64 {
	pred := m.Intercept
	for j, c := range m.Coefficients {
		if j < len(normalized) {
			pred += c * normalized[j]
		}
	}
	return pred
}

// Predict normalizes a raw feature vector with the model's stored stats and
// evaluates the regression.
func (m Model) Predict(features []float64) float64 {
	return m.PredictNormalized(m.Norm.Apply(features))
}

// weightedRSquared computes 1 - SSres/SStot on the weighted training set.
// x is already normalized. The result is clamped to [0, 1]: a model worse
// than the mean is reported as quality zero rather than a negative number.
func weightedRSquared(m Model, x [][]float64, targets, weights []float64, yMean float64) float64 {
	var ssRes, ssTot float64
	for i := range x {
		pred := m.PredictNormalized(x[i])
		res := targets[i] - pred
		tot := targets[i] - yMean
		ssRes += weights[i] * res * res
		ssTot += weights[i] * tot * tot
	}
	if ssTot <= 0 {
		// Constant target: the model cannot explain variance that is not there.
		return 0
	}
	r2 := 1 - ssRes/ssTot
	if r2 < 0 {
		return 0
	}
	if r2 > 1 {
		return 1
	}
	return r2
}
