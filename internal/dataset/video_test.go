package dataset

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func smallParams() Params {
	p := DefaultParams(6, 2)
	p.Batch = 3
	return p
}

func TestMakeVideoBatchDeterministic(t *testing.T) {
	p := smallParams()
	a, err := MakeVideoBatch(p, 7)
	if err != nil {
		t.Fatalf("MakeVideoBatch error: %v", err)
	}
	b, err := MakeVideoBatch(p, 7)
	if err != nil {
		t.Fatalf("MakeVideoBatch error: %v", err)
	}
	if !mat.Equal(a.Frames(), b.Frames()) || !mat.Equal(a.Paths(), b.Paths()) {
		t.Fatal("same seed produced different batches")
	}
	c, err := MakeVideoBatch(p, 8)
	if err != nil {
		t.Fatalf("MakeVideoBatch error: %v", err)
	}
	if mat.Equal(a.Paths(), c.Paths()) {
		t.Fatal("different seeds produced identical paths")
	}
}

func TestMakeVideoBatchShapesAndPixels(t *testing.T) {
	p := smallParams()
	vb, err := MakeVideoBatch(p, 1)
	if err != nil {
		t.Fatalf("MakeVideoBatch error: %v", err)
	}
	r, c := vb.Frames().Dims()
	if r != p.Batch*p.TMax || c != 32*32 {
		t.Fatalf("frames are %dx%d", r, c)
	}
	if r, c := vb.Video(1).Dims(); r != p.TMax || c != 1024 {
		t.Fatalf("video is %dx%d", r, c)
	}
	if r, c := vb.Path(2).Dims(); r != p.TMax || c != 2 {
		t.Fatalf("path is %dx%d", r, c)
	}
	for i := 0; i < r; i++ {
		lit := 0
		for j := 0; j < c; j++ {
			v := vb.Frames().At(i, j)
			if v != 0 && v != 1 {
				t.Fatalf("pixel (%d,%d) = %v, want binary", i, j, v)
			}
			if v == 1 {
				lit++
			}
		}
		// an open disc of radius 3 spans at most 6 columns and 6 rows
		if lit > 36 {
			t.Fatalf("frame %d lights %d pixels", i, lit)
		}
		cx := vb.Paths().At(i, 0)*32/pixelScale + 16
		cy := vb.Paths().At(i, 1)*32/pixelScale + 16
		col, row := int(math.Round(cx)), int(math.Round(cy))
		if col >= 0 && col < 32 && row >= 0 && row < 32 {
			if vb.Frames().At(i, row*32+col) != 1 {
				t.Fatalf("frame %d: centre pixel (%d,%d) not lit", i, row, col)
			}
		}
	}
}

func TestSamplePathsSmoothness(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	paths, err := SamplePaths(rng, 50, 20, 5)
	if err != nil {
		t.Fatalf("SamplePaths error: %v", err)
	}
	// neighbouring frames have correlation exp(-1/50), so steps stay small
	var step, level float64
	for b := 0; b < 50; b++ {
		for tt := 1; tt < 20; tt++ {
			d := paths.At(b*20+tt, 0) - paths.At(b*20+tt-1, 0)
			step += d * d
			level += paths.At(b*20+tt, 0) * paths.At(b*20+tt, 0)
		}
	}
	if step > 0.2*level {
		t.Fatalf("paths too rough: step energy %.3f vs level %.3f", step, level)
	}
}

func TestParamsValidate(t *testing.T) {
	p := smallParams()
	p.Radius = 0
	if err := p.Validate(); !errors.Is(err, ErrBadParams) {
		t.Fatalf("expected ErrBadParams, got %v", err)
	}
	if _, err := MakeVideoBatch(p, 1); !errors.Is(err, ErrBadParams) {
		t.Fatalf("expected ErrBadParams from MakeVideoBatch, got %v", err)
	}
}

func TestNewVideoBatchRejectsShapes(t *testing.T) {
	p := smallParams()
	frames := mat.NewDense(p.Batch*p.TMax, p.FrameSize(), nil)
	paths := mat.NewDense(p.Batch*p.TMax, 3, nil)
	if _, err := NewVideoBatch(p, frames, paths); !errors.Is(err, ErrBadParams) {
		t.Fatalf("expected ErrBadParams, got %v", err)
	}
}
