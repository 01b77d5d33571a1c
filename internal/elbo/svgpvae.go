package elbo

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"gpvae-ball/internal/autodiff"
	"gpvae-ball/internal/dataset"
	"gpvae-ball/internal/gp"
)

// svgpvae builds SVGPVAE_Titsias and SVGPVAE_Hensman: one sparse GP per
// latent dimension, shared by all videos of a batch.
type svgpvae struct {
	base
	gps []*gp.SVGP
}

func newSVGPVAE(b base, opts Options) (*svgpvae, error) {
	s := &svgpvae{base: b}
	for d := 0; d < b.vae.Latent(); d++ {
		g, err := gp.NewSVGP(gp.SVGPOptions{
			Name:                fmt.Sprintf("dim%d", d),
			Titsias:             opts.Variant == SVGPVAETitsias,
			Kernel:              opts.Kernel,
			NumInducing:         opts.NumInducing,
			InducingMin:         opts.InducingMin,
			InducingMax:         opts.InducingMax,
			FixedInducingPoints: !opts.IPJoint,
			LengthScale:         opts.LengthScale,
			FixedGPParams:       !opts.GPJoint,
			Jitter:              opts.Jitter,
		})
		if err != nil {
			return nil, err
		}
		s.gps = append(s.gps, g)
	}
	return s, nil
}

func (s *svgpvae) Params() []*autodiff.Param {
	ps := s.vae.Params()
	for _, g := range s.gps {
		ps = append(ps, g.Params()...)
	}
	return ps
}

// Build records KL = Σ CE(p̃; q) - L_aux per video and dimension, where p̃ is
// the SVGP posterior at the frames and L_aux its Titsias or Hensman bound.
// Frames are placed at times 1..TMax.
func (s *svgpvae) Build(tp *autodiff.Tape, batch *dataset.VideoBatch, beta float64) (*Bundle, error) {
	params := batch.Params()
	videos, t, latent := params.Batch, params.TMax, s.vae.Latent()

	frames := tp.Const(batch.Frames())
	qm, qv := s.vae.Encoder.Encode(tp, frames)
	times := tp.Const(gp.Times(1, t))

	m, _ := s.gps[0].Inducing.Param.Value.Dims()
	inducingMean := mat.NewDense(videos*m, latent, nil)
	pm, pv := newPerFrame(videos, latent), newPerFrame(videos, latent)
	kls := make([]*autodiff.Node, 0, videos*latent)
	var terms SparseTerms
	for b := 0; b < videos; b++ {
		for d, g := range s.gps {
			y, v := column(tp, qm, b, t, d), column(tp, qv, b, t, d)
			res, err := g.Approximate(tp, times, y, v)
			if err != nil {
				return nil, fmt.Errorf("svgp video %d dim %d: %w", b, d, err)
			}
			pm[b][d], pv[b][d] = res.Mean, res.Var

			ce := tp.Sum(gp.GaussCrossEntropy(tp, res.Mean, res.Var, y, v))
			bound := g.Bound(tp, res)
			kls = append(kls, tp.Sub(ce, bound))

			terms.CE += ce.Scalar()
			terms.Bound += bound.Scalar()
			terms.Titsias += res.Titsias.Scalar()
			terms.L3Recon += res.HensmanRecon.Scalar()
			terms.L3KL += res.HensmanKL.Scalar()
			for i := 0; i < m; i++ {
				inducingMean.Set(b*m+i, d, res.MuU.Value.At(i, 0))
			}
		}
	}

	rec, pred := s.reconstruct(tp, frames, s.sampleAll(tp, pm, pv))
	out := assemble(tp, rec, sumAll(tp, kls), beta, videos)
	out.QMean, out.QVar = qm.Value, qv.Value
	out.PMean, out.PVar = pm.values(), pv.values()
	out.Pred = pred

	inv := 1 / float64(videos)
	terms.CE *= inv
	terms.Bound *= inv
	terms.Titsias *= inv
	terms.L3Recon *= inv
	terms.L3KL *= inv
	terms.L3 = terms.L3Recon - terms.L3KL
	for _, g := range s.gps {
		terms.Inducing = append(terms.Inducing, g.Inducing.Values())
	}
	terms.InducingMean = inducingMean
	out.Sparse = &terms
	return out, nil
}
