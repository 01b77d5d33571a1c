package plot

import (
	"bytes"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func movingDot(tmax, px, py int) *mat.Dense {
	v := mat.NewDense(tmax, px*py, nil)
	for t := 0; t < tmax; t++ {
		v.Set(t, t%py*px+t%px, 1)
	}
	return v
}

func TestHeatmapWeightsLaterFrames(t *testing.T) {
	v := movingDot(4, 4, 4)
	hm := Heatmap(v, 4, 4)
	assert.InDelta(t, 4.0/8, hm.At(0, 0), 1e-12)
	assert.InDelta(t, 7.0/8, hm.At(3, 3), 1e-12)
	assert.Equal(t, 0.0, hm.At(0, 3))
}

func TestHeatGridDrawsBackgroundBlack(t *testing.T) {
	hm := Heatmap(movingDot(4, 4, 4), 4, 4)
	g := imageGrid{hm}
	c, r := g.Dims()
	assert.Equal(t, [2]int{4, 4}, [2]int{c, r})
	assert.Equal(t, 1.0, g.Z(3, 0))
	assert.InDelta(t, 1-7.0/8, g.Z(3, 3), 1e-12)
	assert.Less(t, g.Z(3, 3), g.Z(0, 0))

	colors := heatPalette.Colors()
	assert.Equal(t, color.Gray{Y: 0}, colors[len(colors)-1])
	assert.Equal(t, color.Gray{Y: 255}, colors[0])
}

func TestLatentsWritesPDF(t *testing.T) {
	path := mat.NewDense(5, 2, []float64{0, 0, 0.5, 0.2, 1, 0.4, 1.5, 0.3, 3, 0.1})
	clips := []Clip{
		{Truth: movingDot(5, 8, 8), Recon: movingDot(5, 8, 8), TruePath: path, ReconPath: path},
		{Truth: movingDot(5, 8, 8), TruePath: path},
	}
	var buf bytes.Buffer
	require.NoError(t, Latents(&buf, clips, LatentsOptions{Px: 8, Py: 8, SquaresCircles: true}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))

	file := filepath.Join(t.TempDir(), "000010.pdf")
	require.NoError(t, SaveLatents(file, clips, LatentsOptions{Px: 8, Py: 8}))
	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestLatentsNoClips(t *testing.T) {
	err := Latents(&bytes.Buffer{}, nil, LatentsOptions{Px: 8, Py: 8})
	assert.True(t, errors.Is(err, ErrNoClips))
}

func TestPathLimits(t *testing.T) {
	lim := pathLimits([]Clip{{TruePath: mat.NewDense(1, 2, []float64{3, -4})}})
	assert.InDelta(t, 3.1, lim.xmax, 1e-12)
	assert.InDelta(t, -4.1, lim.ymin, 1e-12)
	assert.Equal(t, -2.5, lim.xmin)
	assert.Equal(t, 2.5, lim.ymax)
}
