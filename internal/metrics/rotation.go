package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrShape reports inputs of mismatched shape.
var ErrShape = errors.New("metrics: shape mismatch")

// Rotation is an affine fit of predicted paths onto true paths.
type Rotation struct {
	// Paths are the fitted predictions, one (x, y) row per frame.
	Paths *mat.Dense
	// W maps [x y 1] rows onto the truth.
	W *mat.Dense
	// SSE is the summed squared error of the fit.
	SSE float64
	// Cov holds the 2x2 covariance of each fitted point, nil without
	// variances.
	Cov []*mat.SymDense
}

// RotationMSE finds the least-squares affine map from pred onto truth (both
// n x 2) and applies it. variance, when not nil, holds the n x 2 marginal
// variances of pred and is mapped to W₂ᵀ diag(v) W₂ with W₂ the linear part.
func RotationMSE(pred, truth, variance mat.Matrix) (*Rotation, error) {
	n, c := pred.Dims()
	if tr, tc := truth.Dims(); c != 2 || tr != n || tc != 2 {
		return nil, fmt.Errorf("%w: pred %dx%d, truth %dx%d", ErrShape, n, c, tr, tc)
	}
	if variance != nil {
		if vr, vc := variance.Dims(); vr != n || vc != 2 {
			return nil, fmt.Errorf("%w: variance %dx%d, want %dx2", ErrShape, vr, vc, n)
		}
	}

	x := mat.NewDense(n, 3, nil)
	x.Slice(0, n, 0, 2).(*mat.Dense).Copy(pred)
	for i := 0; i < n; i++ {
		x.Set(i, 2, 1)
	}

	var w mat.Dense
	if err := w.Solve(x, truth); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("least squares: %w", err)
		}
	}

	rotated := &mat.Dense{}
	rotated.Mul(x, &w)
	var resid mat.Dense
	resid.Sub(rotated, truth)
	raw := resid.RawMatrix().Data
	out := &Rotation{Paths: rotated, W: &w, SSE: floats.Dot(raw, raw)}

	if variance != nil {
		w2 := w.Slice(0, 2, 0, 2)
		out.Cov = make([]*mat.SymDense, n)
		for i := 0; i < n; i++ {
			d := mat.NewDiagDense(2, []float64{variance.At(i, 0), variance.At(i, 1)})
			cov := mat.NewSymDense(2, nil)
			var tmp mat.Dense
			tmp.Mul(w2.T(), d)
			var full mat.Dense
			full.Mul(&tmp, w2)
			cov.SetSym(0, 0, full.At(0, 0))
			cov.SetSym(0, 1, 0.5*(full.At(0, 1)+full.At(1, 0)))
			cov.SetSym(1, 1, full.At(1, 1))
			out.Cov[i] = cov
		}
	}
	return out, nil
}

// CovRows flattens Cov into an n x 3 matrix of (xx, xy, yy) entries, or nil
// when no variance was given.
func (r *Rotation) CovRows() *mat.Dense {
	if r.Cov == nil {
		return nil
	}
	out := mat.NewDense(len(r.Cov), 3, nil)
	for i, c := range r.Cov {
		out.SetRow(i, []float64{c.At(0, 0), c.At(0, 1), c.At(1, 1)})
	}
	return out
}

// Range returns the smallest and largest entry of m.
func Range(m mat.Matrix) (lo, hi float64) {
	return mat.Min(m), mat.Max(m)
}

// MeanStd returns the mean and population standard deviation of xs.
func MeanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return math.NaN(), math.NaN()
	}
	if len(xs) == 1 {
		return xs[0], 0
	}
	mean, variance := stat.MeanVariance(xs, nil)
	n := float64(len(xs))
	return mean, math.Sqrt(variance * (n - 1) / n)
}
