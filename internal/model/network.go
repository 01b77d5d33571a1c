package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"gpvae-ball/internal/autodiff"
)

// ErrBadShape reports network sizes that cannot be built.
var ErrBadShape = errors.New("model: invalid network shape")

// Inference variances are clipped to this range when ClipVariance is set.
const (
	MinVariance = 1e-3
	MaxVariance = 10.0
)

// Dense is a fully connected layer computing x W + b.
type Dense struct {
	W *autodiff.Param
	B *autodiff.Param
}

// NewDense creates an in x out layer with Glorot-uniform weights and zero bias.
func NewDense(name string, in, out int, rng *rand.Rand) *Dense {
	limit := math.Sqrt(6 / float64(in+out))
	w := make([]float64, in*out)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
	return &Dense{
		W: autodiff.NewParam(name+"/kernel", mat.NewDense(in, out, w), true),
		B: autodiff.NewParam(name+"/bias", mat.NewDense(1, out, nil), true),
	}
}

// Forward maps the rows of x through the layer.
func (d *Dense) Forward(tp *autodiff.Tape, x *autodiff.Node) *autodiff.Node {
	return tp.AddRow(tp.MatMul(x, tp.Var(d.W)), tp.Var(d.B))
}

// Params returns the weight and bias.
func (d *Dense) Params() []*autodiff.Param {
	return []*autodiff.Param{d.W, d.B}
}

// Encoder maps frames to the mean and variance of a Gaussian over the latent
// position.
type Encoder struct {
	Hidden       *Dense
	Mean         *Dense
	LogVar       *Dense
	ClipVariance bool
}

// Encode returns per-frame mean and variance, each rows x latent.
func (e *Encoder) Encode(tp *autodiff.Tape, frames *autodiff.Node) (mean, variance *autodiff.Node) {
	h := tp.Tanh(e.Hidden.Forward(tp, frames))
	mean = e.Mean.Forward(tp, h)
	variance = tp.Exp(e.LogVar.Forward(tp, h))
	if e.ClipVariance {
		variance = tp.Clip(variance, MinVariance, MaxVariance)
	}
	return mean, variance
}

// Params returns all encoder parameters.
func (e *Encoder) Params() []*autodiff.Param {
	ps := e.Hidden.Params()
	ps = append(ps, e.Mean.Params()...)
	return append(ps, e.LogVar.Params()...)
}

// Decoder maps latent positions to Bernoulli logits over pixels.
type Decoder struct {
	Hidden *Dense
	Out    *Dense
}

// Decode returns logits, rows x pixels.
func (d *Decoder) Decode(tp *autodiff.Tape, z *autodiff.Node) *autodiff.Node {
	return d.Out.Forward(tp, tp.Tanh(d.Hidden.Forward(tp, z)))
}

// Params returns all decoder parameters.
func (d *Decoder) Params() []*autodiff.Param {
	return append(d.Hidden.Params(), d.Out.Params()...)
}

// VAEOptions sizes the networks.
type VAEOptions struct {
	FrameSize    int
	Latent       int
	Hidden       int
	Seed         int64
	ClipVariance bool
}

// VAE bundles the inference network and the decoder.
type VAE struct {
	Encoder *Encoder
	Decoder *Decoder
	latent  int
}

// NewVAE builds both networks from opts.
func NewVAE(opts VAEOptions) (*VAE, error) {
	if opts.FrameSize <= 0 || opts.Latent <= 0 || opts.Hidden <= 0 {
		return nil, fmt.Errorf("%w: frame=%d latent=%d hidden=%d", ErrBadShape, opts.FrameSize, opts.Latent, opts.Hidden)
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	enc := &Encoder{
		Hidden:       NewDense("encoder/hidden", opts.FrameSize, opts.Hidden, rng),
		Mean:         NewDense("encoder/mean", opts.Hidden, opts.Latent, rng),
		LogVar:       NewDense("encoder/log_var", opts.Hidden, opts.Latent, rng),
		ClipVariance: opts.ClipVariance,
	}
	dec := &Decoder{
		Hidden: NewDense("decoder/hidden", opts.Latent, opts.Hidden, rng),
		Out:    NewDense("decoder/logits", opts.Hidden, opts.FrameSize, rng),
	}
	return &VAE{Encoder: enc, Decoder: dec, latent: opts.Latent}, nil
}

// Latent returns the latent dimension.
func (v *VAE) Latent() int { return v.latent }

// Params returns encoder then decoder parameters.
func (v *VAE) Params() []*autodiff.Param {
	return append(v.Encoder.Params(), v.Decoder.Params()...)
}
