package elbo

import (
	"fmt"
	"math"
	"sort"

	"gpvae-ball/internal/autodiff"
	"gpvae-ball/internal/dataset"
	"gpvae-ball/internal/gp"
)

// pearce builds the full-GP objectives: GPVAE_Pearce, VAE and NP.
type pearce struct {
	base
	kernel       gp.Kernel
	lengthScales []*gp.LengthScale
	contextRatio float64
}

func newPearce(b base, opts Options) (*pearce, error) {
	p := &pearce{base: b, kernel: opts.Kernel, contextRatio: opts.ContextRatio}
	if p.contextRatio <= 0 || p.contextRatio > 1 {
		p.contextRatio = 0.5
	}
	for d := 0; d < b.vae.Latent(); d++ {
		ls, err := gp.NewLengthScale(fmt.Sprintf("dim%d", d), opts.LengthScale, opts.GPJoint)
		if err != nil {
			return nil, err
		}
		p.lengthScales = append(p.lengthScales, ls)
	}
	return p, nil
}

func (p *pearce) Params() []*autodiff.Param {
	ps := p.vae.Params()
	for _, ls := range p.lengthScales {
		ps = append(ps, ls.Param)
	}
	return ps
}

// Build records, per video and latent dimension, the exact GP posterior
// given the encoder factors. The KL-like term is Σ CE(p; q) - log Z for
// GPVAE_Pearce and VAE, and KL(p || p_context) for NP.
func (p *pearce) Build(tp *autodiff.Tape, batch *dataset.VideoBatch, beta float64) (*Bundle, error) {
	params := batch.Params()
	videos, t, latent := params.Batch, params.TMax, p.vae.Latent()

	frames := tp.Const(batch.Frames())
	qm, qv := p.vae.Encoder.Encode(tp, frames)
	times := tp.Const(gp.Times(0, t))

	kernels := make([]*autodiff.Node, latent)
	for d := range kernels {
		kernels[d] = p.kernel.Matrix(tp, times, times, p.lengthScales[d].Node(tp))
	}

	pm, pv := newPerFrame(videos, latent), newPerFrame(videos, latent)
	kls := make([]*autodiff.Node, 0, videos*latent)
	for b := 0; b < videos; b++ {
		var context []int
		if p.variant == NP {
			context = p.sampleContext(t)
		}
		for d := 0; d < latent; d++ {
			y, v := column(tp, qm, b, t, d), column(tp, qv, b, t, d)
			post, err := gp.Exact(tp, kernels[d], y, v)
			if err != nil {
				return nil, fmt.Errorf("posterior video %d dim %d: %w", b, d, err)
			}
			pm[b][d], pv[b][d] = post.Mean, post.Var

			if p.variant == NP {
				cm, cv, err := contextPosterior(tp, kernels[d], y, v, context)
				if err != nil {
					return nil, fmt.Errorf("context posterior video %d dim %d: %w", b, d, err)
				}
				kls = append(kls, tp.Sum(gp.GaussKL(tp, post.Mean, post.Var, cm, cv)))
				continue
			}
			ce := tp.Sum(gp.GaussCrossEntropy(tp, post.Mean, post.Var, y, v))
			kls = append(kls, tp.Sub(ce, post.LogZ))
		}
	}

	rec, pred := p.reconstruct(tp, frames, p.sampleAll(tp, pm, pv))
	out := assemble(tp, rec, sumAll(tp, kls), beta, videos)
	out.QMean, out.QVar = qm.Value, qv.Value
	out.PMean, out.PVar = pm.values(), pv.values()
	out.Pred = pred
	return out, nil
}

// sampleContext picks a sorted random subset of the t frames holding
// contextRatio of them, never empty.
func (p *pearce) sampleContext(t int) []int {
	c := int(math.Round(p.contextRatio * float64(t)))
	if c < 1 {
		c = 1
	}
	if c > t {
		c = t
	}
	idx := p.rng.Perm(t)[:c]
	sort.Ints(idx)
	return idx
}

// contextPosterior returns the marginals at every frame of the GP posterior
// that only sees the context frames.
func contextPosterior(tp *autodiff.Tape, k, y, v *autodiff.Node, context []int) (mean, variance *autodiff.Node, err error) {
	ksc := tp.T(tp.Rows(k, context))
	kcc := tp.Rows(ksc, context)
	return gp.Predict(tp, tp.Diag(k), ksc, kcc, tp.Rows(y, context), tp.Rows(v, context))
}
