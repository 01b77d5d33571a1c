package gp

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"gpvae-ball/internal/autodiff"
)

// SVGP is a sparse variational GP over the time axis with its own kernel
// hyper-parameters and inducing points.
type SVGP struct {
	Name        string
	Titsias     bool
	Kernel      Kernel
	LengthScale *LengthScale
	Inducing    *InducingPoints
	Jitter      float64
}

// SVGPOptions configures NewSVGP.
type SVGPOptions struct {
	Name                string
	Titsias             bool
	Kernel              Kernel
	NumInducing         int
	InducingMin         float64
	InducingMax         float64
	FixedInducingPoints bool
	LengthScale         float64
	FixedGPParams       bool
	Jitter              float64
}

// NewSVGP builds an SVGP from opts.
func NewSVGP(opts SVGPOptions) (*SVGP, error) {
	if opts.Kernel == nil {
		opts.Kernel = RBF{Amplitude: 1}
	}
	ls, err := NewLengthScale(opts.Name, opts.LengthScale, !opts.FixedGPParams)
	if err != nil {
		return nil, err
	}
	ip, err := NewInducingPoints(opts.Name, opts.NumInducing, opts.InducingMin, opts.InducingMax, !opts.FixedInducingPoints)
	if err != nil {
		return nil, err
	}
	return &SVGP{
		Name:        opts.Name,
		Titsias:     opts.Titsias,
		Kernel:      opts.Kernel,
		LengthScale: ls,
		Inducing:    ip,
		Jitter:      opts.Jitter,
	}, nil
}

// Params returns the hyper-parameters and inducing points.
func (s *SVGP) Params() []*autodiff.Param {
	return []*autodiff.Param{s.LengthScale.Param, s.Inducing.Param}
}

// SVGPResult collects the approximate posterior and the auxiliary bounds for
// one sequence.
type SVGPResult struct {
	Mean *autodiff.Node // nx1 approximate posterior mean at the data
	Var  *autodiff.Node // nx1 approximate posterior variance at the data

	MuU *autodiff.Node // mx1 mean of the optimal q(u)
	AU  *autodiff.Node // mxm covariance of the optimal q(u)

	// Titsias is the collapsed bound L2 on log N(y | 0, K + diag v).
	Titsias *autodiff.Node
	// HensmanRecon and HensmanKL are the two parts of the uncollapsed
	// bound L3 = HensmanRecon - HensmanKL evaluated at q(u).
	HensmanRecon *autodiff.Node
	HensmanKL    *autodiff.Node
}

// Bound returns L2 for a Titsias SVGP and L3 otherwise.
func (s *SVGP) Bound(tp *autodiff.Tape, r *SVGPResult) *autodiff.Node {
	if s.Titsias {
		return r.Titsias
	}
	return tp.Sub(r.HensmanRecon, r.HensmanKL)
}

// Approximate fits the SVGP to observations y with noise variances v at the
// given nx1 times.
func (s *SVGP) Approximate(tp *autodiff.Tape, times, y, v *autodiff.Node) (*SVGPResult, error) {
	n, _ := y.Dims()
	m, _ := s.Inducing.Param.Value.Dims()

	ls := s.LengthScale.Node(tp)
	u := s.Inducing.Node(tp)

	kmm := tp.AddJitter(s.Kernel.Matrix(tp, u, u, ls), s.Jitter)
	knm := s.Kernel.Matrix(tp, times, u, ls)
	knnDiag := tp.Diag(s.Kernel.Matrix(tp, times, times, ls))

	lm, err := tp.Cholesky(kmm)
	if err != nil {
		return nil, err
	}

	ones := tp.Const(filled(n, 1, 1))
	vinv := tp.Div(ones, v)

	// Σ = K_mm + K_mn V⁻¹ K_nm
	sigma := tp.Add(kmm, tp.MatMul(tp.T(knm), tp.ScaleRows(knm, vinv)))
	ls2, err := tp.Cholesky(sigma)
	if err != nil {
		return nil, err
	}

	// c = Σ⁻¹ K_mn V⁻¹ y, so μ = K_mm c and K_mm⁻¹ μ = c.
	c := tp.CholSolve(ls2, tp.MatMul(tp.T(knm), tp.Mul(vinv, y)))
	mean := tp.MatMul(knm, c)
	muU := tp.MatMul(kmm, c)
	sigmaInvKmm := tp.CholSolve(ls2, kmm)
	aU := tp.MatMul(kmm, sigmaInvKmm)

	wm := tp.TriSolve(lm, tp.T(knm), false)
	ws := tp.TriSolve(ls2, tp.T(knm), false)
	qDiag := tp.T(tp.ColSum(tp.Square(wm))) // diag K_nm K_mm⁻¹ K_mn
	sDiag := tp.T(tp.ColSum(tp.Square(ws))) // diag K_nm Σ⁻¹ K_mn
	kTilde := tp.Sub(knnDiag, qDiag)
	variance := tp.Clip(tp.Add(kTilde, sDiag), minVariance, math.Inf(1))

	// L2 = log N(y | 0, Q_nn + V) - ½ Σ k̃_ii / v_i
	qnn := tp.MatMul(tp.T(wm), wm)
	lc, err := tp.Cholesky(tp.AddDiag(qnn, v))
	if err != nil {
		return nil, err
	}
	alpha := tp.TriSolve(lc, y, false)
	logN := tp.AddScalar(
		tp.Scale(tp.Add(tp.Sum(tp.Square(alpha)), tp.LogDet(lc)), -0.5),
		-0.5*float64(n)*log2Pi)
	titsias := tp.Sub(logN, tp.Scale(tp.Sum(tp.Mul(kTilde, vinv)), 0.5))

	// L3 reconstruction: Σ log N(y_i | mean_i, v_i) - (k̃_ii + tr(A Λ_i)) / 2v_i,
	// where tr(A Λ_i) = k_iᵀ Σ⁻¹ k_i for the optimal q(u).
	resid := tp.Square(tp.Sub(y, mean))
	perPoint := tp.Add(tp.Log(v), tp.Mul(tp.Add(tp.Add(resid, kTilde), sDiag), vinv))
	recon := tp.AddScalar(tp.Scale(tp.Sum(perPoint), -0.5), -0.5*float64(n)*log2Pi)

	// KL(N(μ, A) || N(0, K_mm)) with log|A| = 2 log|K_mm| - log|Σ|.
	trace := tp.Sum(tp.Diag(sigmaInvKmm))
	quad := tp.Sum(tp.Mul(c, muU))
	kl := tp.Scale(
		tp.AddScalar(tp.Add(tp.Sub(tp.Add(trace, quad), tp.LogDet(lm)), tp.LogDet(ls2)), -float64(m)),
		0.5)

	return &SVGPResult{
		Mean:         mean,
		Var:          variance,
		MuU:          muU,
		AU:           aU,
		Titsias:      titsias,
		HensmanRecon: recon,
		HensmanKL:    kl,
	}, nil
}

func filled(r, c int, v float64) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = v
	}
	return mat.NewDense(r, c, data)
}
