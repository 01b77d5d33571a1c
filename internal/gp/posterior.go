package gp

import (
	"math"

	"gpvae-ball/internal/autodiff"
)

const log2Pi = 1.8378770664093453

// minVariance floors posterior marginals before square roots and logs.
const minVariance = 1e-8

// Posterior is the exact GP posterior given Gaussian pseudo-observations.
type Posterior struct {
	Mean *autodiff.Node // nx1
	Var  *autodiff.Node // nx1 marginal variances
	// LogZ is log N(y | 0, K + diag v), the normaliser of prior × factors.
	LogZ *autodiff.Node
}

// Exact conditions a zero-mean GP with covariance k (nxn) on observations y
// with per-point noise variances v (both nx1).
func Exact(tp *autodiff.Tape, k, y, v *autodiff.Node) (*Posterior, error) {
	n, _ := y.Dims()
	l, err := tp.Cholesky(tp.AddDiag(k, v))
	if err != nil {
		return nil, err
	}
	alpha := tp.CholSolve(l, y)
	mean := tp.MatMul(k, alpha)

	w := tp.TriSolve(l, k, false)
	variance := tp.Sub(tp.Diag(k), tp.T(tp.ColSum(tp.Square(w))))

	quad := tp.Sum(tp.Mul(y, alpha))
	logZ := tp.AddScalar(tp.Scale(tp.Add(quad, tp.LogDet(l)), -0.5), -0.5*float64(n)*log2Pi)

	return &Posterior{
		Mean: mean,
		Var:  tp.Clip(variance, minVariance, math.Inf(1)),
		LogZ: logZ,
	}, nil
}

// Predict conditions on a context set and returns marginals at the targets.
// kss is the sx1 prior variance at the targets, ksc the sxc cross-covariance
// and kcc the cxc context covariance.
func Predict(tp *autodiff.Tape, kss, ksc, kcc, yc, vc *autodiff.Node) (mean, variance *autodiff.Node, err error) {
	l, err := tp.Cholesky(tp.AddDiag(kcc, vc))
	if err != nil {
		return nil, nil, err
	}
	alpha := tp.CholSolve(l, yc)
	mean = tp.MatMul(ksc, alpha)
	w := tp.TriSolve(l, tp.T(ksc), false)
	variance = tp.Sub(kss, tp.T(tp.ColSum(tp.Square(w))))
	return mean, tp.Clip(variance, minVariance, math.Inf(1)), nil
}

// GaussCrossEntropy returns E_{N(z|mu1,var1)}[log N(z | mu2, var2)]
// elementwise.
func GaussCrossEntropy(tp *autodiff.Tape, mu1, var1, mu2, var2 *autodiff.Node) *autodiff.Node {
	diff := tp.Square(tp.Sub(mu1, mu2))
	ratio := tp.Div(tp.Add(var1, diff), var2)
	inner := tp.AddScalar(tp.Add(tp.Log(var2), ratio), log2Pi)
	return tp.Scale(inner, -0.5)
}

// GaussKL returns KL(N(mu1, var1) || N(mu2, var2)) elementwise.
func GaussKL(tp *autodiff.Tape, mu1, var1, mu2, var2 *autodiff.Node) *autodiff.Node {
	diff := tp.Square(tp.Sub(mu1, mu2))
	ratio := tp.Div(tp.Add(var1, diff), var2)
	logs := tp.Sub(tp.Log(var2), tp.Log(var1))
	return tp.Scale(tp.AddScalar(tp.Add(logs, ratio), -1), 0.5)
}
