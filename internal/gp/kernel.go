// Package gp holds the Gaussian-process pieces of the structured priors:
// stationary kernels over frame times, exact posteriors for the full GP and
// the sparse variational approximations of Titsias and Hensman.
package gp

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"gpvae-ball/internal/autodiff"
)

// ErrUnknownKernel is returned by NewKernel for unsupported names.
var ErrUnknownKernel = errors.New("gp: unknown kernel")

// Kernel builds covariance matrices between two sets of 1-D inputs.
type Kernel interface {
	Name() string
	// Matrix returns K(x, z) for an nx1 x, an mx1 z and a 1x1 length-scale.
	// Gradients flow to all three.
	Matrix(tp *autodiff.Tape, x, z, lengthScale *autodiff.Node) *autodiff.Node
}

// NewKernel returns the kernel named "rbf" or "cauchy" with unit amplitude.
func NewKernel(name string) (Kernel, error) {
	switch strings.ToLower(name) {
	case "", "rbf":
		return RBF{Amplitude: 1}, nil
	case "cauchy":
		return Cauchy{Amplitude: 1}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKernel, name)
	}
}

// RBF is the exponentiated quadratic kernel a² exp(-d²/2l²).
type RBF struct {
	Amplitude float64
}

func (RBF) Name() string { return "rbf" }

func (k RBF) Matrix(tp *autodiff.Tape, x, z, lengthScale *autodiff.Node) *autodiff.Node {
	a2 := k.Amplitude * k.Amplitude
	return pairwise(tp, x, z, lengthScale, func(d2, l float64) (float64, float64, float64) {
		v := a2 * math.Exp(-0.5*d2/(l*l))
		return v, -v / (2 * l * l), v * d2 / (l * l * l)
	})
}

// Cauchy is the kernel a² / (1 + d²/l²).
type Cauchy struct {
	Amplitude float64
}

func (Cauchy) Name() string { return "cauchy" }

func (k Cauchy) Matrix(tp *autodiff.Tape, x, z, lengthScale *autodiff.Node) *autodiff.Node {
	a2 := k.Amplitude * k.Amplitude
	return pairwise(tp, x, z, lengthScale, func(d2, l float64) (float64, float64, float64) {
		den := 1 + d2/(l*l)
		v := a2 / den
		dd2 := -a2 / (den * den * l * l)
		dl := a2 / (den * den) * 2 * d2 / (l * l * l)
		return v, dd2, dl
	})
}

// pairwise evaluates a stationary kernel given as f(d², l) returning the
// value and its partials with respect to d² and l.
func pairwise(tp *autodiff.Tape, x, z, lengthScale *autodiff.Node, f func(d2, l float64) (float64, float64, float64)) *autodiff.Node {
	n, _ := x.Dims()
	m, _ := z.Dims()
	l := lengthScale.Scalar()
	out := mat.NewDense(n, m, nil)
	dd2 := mat.NewDense(n, m, nil)
	dl := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		xi := x.Value.At(i, 0)
		for j := 0; j < m; j++ {
			d := xi - z.Value.At(j, 0)
			v, g2, gl := f(d*d, l)
			out.Set(i, j, v)
			dd2.Set(i, j, g2)
			dl.Set(i, j, gl)
		}
	}
	return tp.Custom(out, func(g *mat.Dense) {
		gx := mat.NewDense(n, 1, nil)
		gz := mat.NewDense(m, 1, nil)
		gl := 0.0
		for i := 0; i < n; i++ {
			xi := x.Value.At(i, 0)
			for j := 0; j < m; j++ {
				d := xi - z.Value.At(j, 0)
				w := g.At(i, j) * dd2.At(i, j) * 2 * d
				gx.Set(i, 0, gx.At(i, 0)+w)
				gz.Set(j, 0, gz.At(j, 0)-w)
				gl += g.At(i, j) * dl.At(i, j)
			}
		}
		autodiff.Accumulate(x, gx)
		autodiff.Accumulate(z, gz)
		autodiff.Accumulate(lengthScale, mat.NewDense(1, 1, []float64{gl}))
	}, x, z, lengthScale)
}

// Times returns the column [lo, lo+1, ..., lo+n-1].
func Times(lo float64, n int) *mat.Dense {
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, lo+float64(i))
	}
	return out
}
