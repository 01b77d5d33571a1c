// Package elbo builds the training objectives of the moving-ball models.
//
// Every builder encodes a batch of videos into per-frame Gaussian factors,
// combines them with a GP prior over time into an approximate posterior,
// samples latent paths from it and scores the decoded frames under a
// Bernoulli likelihood. The variants differ only in how the posterior and the
// KL-like term are formed.
package elbo

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"

	"gpvae-ball/internal/autodiff"
	"gpvae-ball/internal/dataset"
	"gpvae-ball/internal/gp"
	"gpvae-ball/internal/model"
)

// ErrUnknownVariant is returned by ParseVariant for unsupported names.
var ErrUnknownVariant = errors.New("elbo: unknown variant")

// Variant names an objective.
type Variant string

const (
	GPVAEPearce    Variant = "GPVAE_Pearce"
	VAE            Variant = "VAE"
	NP             Variant = "NP"
	SVGPVAEHensman Variant = "SVGPVAE_Hensman"
	SVGPVAETitsias Variant = "SVGPVAE_Titsias"
)

// VAELengthScale turns the GP prior into independent standard normals.
const VAELengthScale = 0.001

// Variants lists every supported objective.
func Variants() []Variant {
	return []Variant{GPVAEPearce, VAE, NP, SVGPVAEHensman, SVGPVAETitsias}
}

// ParseVariant accepts the variant names case-insensitively.
func ParseVariant(s string) (Variant, error) {
	for _, v := range Variants() {
		if strings.EqualFold(s, string(v)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownVariant, s)
}

// Sparse reports whether v uses an SVGP prior.
func (v Variant) Sparse() bool {
	return v == SVGPVAEHensman || v == SVGPVAETitsias
}

// Bundle is the result of one forward pass. Scalars are averages over the
// videos of the batch; matrices have one row per frame and one column per
// latent dimension.
type Bundle struct {
	// Loss is -ELBO, the node to differentiate.
	Loss *autodiff.Node

	ELBO  float64
	Recon float64
	KL    float64

	QMean *mat.Dense
	QVar  *mat.Dense
	PMean *mat.Dense
	PVar  *mat.Dense
	// Pred holds the Bernoulli means of the decoded frames.
	Pred *mat.Dense

	// Sparse is set by the SVGP builders.
	Sparse *SparseTerms
}

// SparseTerms are the auxiliary quantities of an SVGP prior, averaged over
// videos and summed over latent dimensions.
type SparseTerms struct {
	// Bound is the auxiliary bound the objective uses: L2 or L3.
	Bound   float64
	Titsias float64
	L3      float64
	L3Recon float64
	L3KL    float64
	CE      float64
	// Inducing holds the inducing points per latent dimension.
	Inducing [][]float64
	// InducingMean stacks the q(u) means, Batch*m rows by latent columns.
	InducingMean *mat.Dense
}

// Builder records an objective for a batch on a tape.
type Builder interface {
	Variant() Variant
	Build(tp *autodiff.Tape, batch *dataset.VideoBatch, beta float64) (*Bundle, error)
	Params() []*autodiff.Param
}

// Options configures New.
type Options struct {
	Variant     Variant
	VAE         *model.VAE
	Kernel      gp.Kernel
	LengthScale float64
	GPJoint     bool

	NumInducing int
	InducingMin float64
	InducingMax float64
	IPJoint     bool
	Jitter      float64

	// ContextRatio is the share of frames the NP context posterior sees.
	ContextRatio float64
	Seed         int64
}

// New returns the builder for opts.Variant. The VAE variant always uses a
// fixed length-scale of VAELengthScale.
func New(opts Options) (Builder, error) {
	if opts.VAE == nil {
		return nil, errors.New("elbo: no networks given")
	}
	if opts.Kernel == nil {
		opts.Kernel = gp.RBF{Amplitude: 1}
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	b := base{
		variant: opts.Variant,
		vae:     opts.VAE,
		rng:     rand.New(rand.NewSource(opts.Seed)),
	}
	switch opts.Variant {
	case GPVAEPearce, NP:
		return newPearce(b, opts)
	case VAE:
		opts.LengthScale = VAELengthScale
		opts.GPJoint = false
		return newPearce(b, opts)
	case SVGPVAEHensman, SVGPVAETitsias:
		return newSVGPVAE(b, opts)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownVariant, opts.Variant)
	}
}

// base carries what every builder shares: the networks and the sampling rng.
type base struct {
	variant Variant
	vae     *model.VAE
	rng     *rand.Rand
}

func (b *base) Variant() Variant { return b.variant }

// sample draws z = mean + eps * sqrt(variance).
func (b *base) sample(tp *autodiff.Tape, mean, variance *autodiff.Node) *autodiff.Node {
	r, c := mean.Dims()
	eps := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			eps.Set(i, j, b.rng.NormFloat64())
		}
	}
	return tp.Add(mean, tp.Mul(tp.Const(eps), tp.Sqrt(variance)))
}

// reconstruct decodes z and returns the summed Bernoulli log-likelihood of
// frames together with the predicted pixel probabilities.
func (b *base) reconstruct(tp *autodiff.Tape, frames, z *autodiff.Node) (*autodiff.Node, *mat.Dense) {
	logits := b.vae.Decoder.Decode(tp, z)
	ll := tp.Sub(tp.Mul(frames, logits), tp.Softplus(logits))
	pred := &mat.Dense{}
	pred.Apply(func(_, _ int, v float64) float64 { return 1 / (1 + math.Exp(-v)) }, logits.Value)
	return tp.Sum(ll), pred
}

// perFrame holds one column node per (video, latent dimension).
type perFrame [][]*autodiff.Node

func newPerFrame(videos, latent int) perFrame {
	out := make(perFrame, videos)
	for i := range out {
		out[i] = make([]*autodiff.Node, latent)
	}
	return out
}

// values copies the nodes into a Batch*TMax x latent matrix.
func (p perFrame) values() *mat.Dense {
	videos, latent := len(p), len(p[0])
	t, _ := p[0][0].Dims()
	out := mat.NewDense(videos*t, latent, nil)
	for b, row := range p {
		for d, n := range row {
			for i := 0; i < t; i++ {
				out.Set(b*t+i, d, n.Value.At(i, 0))
			}
		}
	}
	return out
}

// column returns rows [b*t, (b+1)*t) of column d.
func column(tp *autodiff.Tape, m *autodiff.Node, b, t, d int) *autodiff.Node {
	return tp.Block(m, b*t, (b+1)*t, d, d+1)
}

// sampleAll draws z for every (video, dimension) and stacks them as
// Batch*TMax x latent.
func (b *base) sampleAll(tp *autodiff.Tape, mean, variance perFrame) *autodiff.Node {
	rows := make([]*autodiff.Node, len(mean))
	for v := range mean {
		cols := make([]*autodiff.Node, len(mean[v]))
		for d := range mean[v] {
			cols[d] = b.sample(tp, mean[v][d], variance[v][d])
		}
		rows[v] = tp.ConcatCols(cols...)
	}
	return tp.ConcatRows(rows...)
}

// assemble records elbo = (rec - beta*kl) / videos and fills the common part
// of the bundle.
func assemble(tp *autodiff.Tape, rec, kl *autodiff.Node, beta float64, videos int) *Bundle {
	inv := 1 / float64(videos)
	elbo := tp.Scale(tp.Sub(rec, tp.Scale(kl, beta)), inv)
	return &Bundle{
		Loss:  tp.Scale(elbo, -1),
		ELBO:  elbo.Scalar(),
		Recon: rec.Scalar() * inv,
		KL:    kl.Scalar() * inv,
	}
}

func sumAll(tp *autodiff.Tape, nodes []*autodiff.Node) *autodiff.Node {
	return tp.Sum(tp.ConcatRows(nodes...))
}
