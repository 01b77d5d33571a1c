package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ErrBadParams reports generation parameters that cannot produce a batch.
var ErrBadParams = errors.New("dataset: invalid video parameters")

// pathJitter keeps the path covariance positive definite.
const pathJitter = 1e-5

// pixelScale maps GP units to pixels: a path value of ±3.25 spans the frame.
const pixelScale = 6.5

// Params are the generation parameters of a video batch.
type Params struct {
	Batch       int
	TMax        int
	Px          int
	Py          int
	Radius      float64
	LengthScale float64
}

// DefaultParams returns the moving-ball settings: 35 clips of 32x32 frames
// with a ball of radius 3.
func DefaultParams(tmax int, lengthScale float64) Params {
	return Params{Batch: 35, TMax: tmax, Px: 32, Py: 32, Radius: 3, LengthScale: lengthScale}
}

// Validate checks that p describes a non-empty batch.
func (p Params) Validate() error {
	switch {
	case p.Batch <= 0:
		return fmt.Errorf("%w: batch must be > 0 (got %d)", ErrBadParams, p.Batch)
	case p.TMax <= 0:
		return fmt.Errorf("%w: tmax must be > 0 (got %d)", ErrBadParams, p.TMax)
	case p.Px <= 0 || p.Py <= 0:
		return fmt.Errorf("%w: frame must be non-empty (got %dx%d)", ErrBadParams, p.Px, p.Py)
	case p.Radius <= 0:
		return fmt.Errorf("%w: radius must be > 0 (got %g)", ErrBadParams, p.Radius)
	case p.LengthScale <= 0:
		return fmt.Errorf("%w: length-scale must be > 0 (got %g)", ErrBadParams, p.LengthScale)
	}
	return nil
}

// FrameSize is the number of pixels per frame.
func (p Params) FrameSize() int { return p.Px * p.Py }

// VideoBatch is an immutable batch of ball videos and their trajectories.
// Row b*TMax+t of Frames is frame t of clip b, flattened row-major with the
// row index following y. Paths holds the matching (x, y) in GP units.
type VideoBatch struct {
	params Params
	frames *mat.Dense
	paths  *mat.Dense
}

// NewVideoBatch wraps already generated matrices, checking their shapes.
func NewVideoBatch(p Params, frames, paths *mat.Dense) (*VideoBatch, error) {
	rows := p.Batch * p.TMax
	if r, c := frames.Dims(); r != rows || c != p.FrameSize() {
		return nil, fmt.Errorf("%w: frames are %dx%d, want %dx%d", ErrBadParams, r, c, rows, p.FrameSize())
	}
	if r, c := paths.Dims(); r != rows || c != 2 {
		return nil, fmt.Errorf("%w: paths are %dx%d, want %dx2", ErrBadParams, r, c, rows)
	}
	return &VideoBatch{params: p, frames: frames, paths: paths}, nil
}

// Params returns the generation parameters.
func (v *VideoBatch) Params() Params { return v.params }

// Frames returns all frames as a (Batch*TMax) x (Px*Py) matrix.
func (v *VideoBatch) Frames() mat.Matrix { return v.frames }

// Paths returns all trajectories as a (Batch*TMax) x 2 matrix.
func (v *VideoBatch) Paths() mat.Matrix { return v.paths }

// Video returns the TMax frames of clip b.
func (v *VideoBatch) Video(b int) mat.Matrix {
	t := v.params.TMax
	return v.frames.Slice(b*t, (b+1)*t, 0, v.params.FrameSize())
}

// Path returns the TMax x 2 trajectory of clip b.
func (v *VideoBatch) Path(b int) mat.Matrix {
	t := v.params.TMax
	return v.paths.Slice(b*t, (b+1)*t, 0, 2)
}

// SamplePaths draws batch independent 2-D trajectories of length tmax from a
// zero-mean GP with an RBF kernel of the given length-scale. Row b*tmax+t
// holds (x, y) at frame t of clip b.
func SamplePaths(rng *rand.Rand, batch, tmax int, lengthScale float64) (*mat.Dense, error) {
	k := mat.NewSymDense(tmax, nil)
	ilt := -0.5 / (lengthScale * lengthScale)
	for i := 0; i < tmax; i++ {
		for j := i; j < tmax; j++ {
			d := float64(i - j)
			v := math.Exp(ilt * d * d)
			if i == j {
				v += pathJitter
			}
			k.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(k); !ok {
		return nil, fmt.Errorf("%w: path covariance for length-scale %g is not positive definite", ErrBadParams, lengthScale)
	}
	var l mat.TriDense
	chol.LTo(&l)

	paths := mat.NewDense(batch*tmax, 2, nil)
	z := mat.NewVecDense(tmax, nil)
	var x mat.VecDense
	for b := 0; b < batch; b++ {
		for c := 0; c < 2; c++ {
			for i := 0; i < tmax; i++ {
				z.SetVec(i, rng.NormFloat64())
			}
			x.MulVec(&l, z)
			for t := 0; t < tmax; t++ {
				paths.Set(b*tmax+t, c, x.AtVec(t))
			}
		}
	}
	return paths, nil
}

// MakeVideoBatch renders a batch of ball videos from seed.
func MakeVideoBatch(p Params, seed int64) (*VideoBatch, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	paths, err := SamplePaths(rng, p.Batch, p.TMax, p.LengthScale)
	if err != nil {
		return nil, err
	}
	rows := p.Batch * p.TMax
	frames := mat.NewDense(rows, p.FrameSize(), nil)
	for r := 0; r < rows; r++ {
		cx := paths.At(r, 0)*(float64(p.Px)/pixelScale) + 0.5*float64(p.Px)
		cy := paths.At(r, 1)*(float64(p.Py)/pixelScale) + 0.5*float64(p.Py)
		pixelate(frames.RawRowView(r), p, cx, cy)
	}
	return NewVideoBatch(p, frames, paths)
}

// pixelate sets every pixel strictly inside the disc centred at (cx, cy).
func pixelate(dst []float64, p Params, cx, cy float64) {
	rr := p.Radius * p.Radius
	for row := 0; row < p.Py; row++ {
		dy := float64(row) - cy
		for col := 0; col < p.Px; col++ {
			dx := float64(col) - cx
			if dx*dx+dy*dy < rr {
				dst[row*p.Px+col] = 1
			}
		}
	}
}
