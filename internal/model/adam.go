package model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"gpvae-ball/internal/autodiff"
)

// DefaultGradClip bounds every gradient entry when clipping is enabled.
const DefaultGradClip = 1e5

// Adam is the bias-corrected Adam optimiser.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
	// Clip bounds gradient entries to [-Clip, Clip] when positive.
	Clip float64

	step int
	m    map[*autodiff.Param]*mat.Dense
	v    map[*autodiff.Param]*mat.Dense
}

// NewAdam returns an optimiser with the usual moment decay rates.
func NewAdam(lr, clip float64) *Adam {
	if lr <= 0 {
		lr = 1e-3
	}
	return &Adam{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
		Clip:  clip,
		m:     make(map[*autodiff.Param]*mat.Dense),
		v:     make(map[*autodiff.Param]*mat.Dense),
	}
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int { return a.step }

// Step updates every trainable parameter from its accumulated gradient and
// clears the gradients afterwards.
func (a *Adam) Step(params []*autodiff.Param) {
	a.step++
	c1 := 1 - math.Pow(a.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.Beta2, float64(a.step))
	for _, p := range params {
		if !p.Trainable {
			continue
		}
		r, c := p.Value.Dims()
		m, ok := a.m[p]
		if !ok {
			m = mat.NewDense(r, c, nil)
			a.m[p] = m
			a.v[p] = mat.NewDense(r, c, nil)
		}
		v := a.v[p]
		g, md, vd, w := p.Grad.RawMatrix(), m.RawMatrix(), v.RawMatrix(), p.Value.RawMatrix()
		for i := 0; i < r; i++ {
			gr := g.Data[i*g.Stride : i*g.Stride+c]
			mr := md.Data[i*md.Stride : i*md.Stride+c]
			vr := vd.Data[i*vd.Stride : i*vd.Stride+c]
			wr := w.Data[i*w.Stride : i*w.Stride+c]
			for j, gj := range gr {
				if a.Clip > 0 {
					gj = math.Max(-a.Clip, math.Min(a.Clip, gj))
				}
				mr[j] = a.Beta1*mr[j] + (1-a.Beta1)*gj
				vr[j] = a.Beta2*vr[j] + (1-a.Beta2)*gj*gj
				wr[j] -= a.LR * (mr[j] / c1) / (math.Sqrt(vr[j]/c2) + a.Eps)
			}
		}
		p.ZeroGrad()
	}
}
