package gp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"gpvae-ball/internal/autodiff"
)

// ErrBadInducing reports an unusable inducing-point configuration.
var ErrBadInducing = errors.New("gp: invalid inducing points")

// LengthScale is a positive kernel length-scale stored as its log.
type LengthScale struct {
	Param *autodiff.Param
}

// NewLengthScale returns a length-scale starting at init.
func NewLengthScale(name string, init float64, trainable bool) (*LengthScale, error) {
	if init <= 0 || math.IsNaN(init) || math.IsInf(init, 0) {
		return nil, fmt.Errorf("gp: length-scale %s must be positive, got %g", name, init)
	}
	p := autodiff.NewParam("l_GP_"+name, mat.NewDense(1, 1, []float64{math.Log(init)}), trainable)
	return &LengthScale{Param: p}, nil
}

// Node records exp(log l) on tp.
func (l *LengthScale) Node(tp *autodiff.Tape) *autodiff.Node {
	return tp.Exp(tp.Var(l.Param))
}

// Value returns the current length-scale.
func (l *LengthScale) Value() float64 {
	return math.Exp(l.Param.Value.At(0, 0))
}

// InducingPoints are pseudo-inputs on the time axis.
type InducingPoints struct {
	Param *autodiff.Param
}

// NewInducingPoints places m points evenly on [lo, hi], endpoints included.
func NewInducingPoints(name string, m int, lo, hi float64, trainable bool) (*InducingPoints, error) {
	if m <= 0 {
		return nil, fmt.Errorf("%w: need at least one point, got %d", ErrBadInducing, m)
	}
	if hi < lo {
		return nil, fmt.Errorf("%w: range [%g, %g] is empty", ErrBadInducing, lo, hi)
	}
	v := mat.NewDense(m, 1, linspace(lo, hi, m))
	return &InducingPoints{Param: autodiff.NewParam("inducing_points_"+name, v, trainable)}, nil
}

// Node records the points on tp.
func (ip *InducingPoints) Node(tp *autodiff.Tape) *autodiff.Node {
	return tp.Var(ip.Param)
}

// Values returns a copy of the current locations.
func (ip *InducingPoints) Values() []float64 {
	m, _ := ip.Param.Value.Dims()
	out := make([]float64, m)
	for i := range out {
		out[i] = ip.Param.Value.At(i, 0)
	}
	return out
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}
