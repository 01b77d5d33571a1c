// Package plot renders moving-ball videos and latent trajectories to PDF.
package plot

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgpdf"
)

// ErrNoClips is returned when there is nothing to draw.
var ErrNoClips = errors.New("plot: no clips")

var (
	trueColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	reconColor = color.RGBA{R: 255, G: 127, B: 14, A: 255}

	heatPalette palette.Palette = greys{}
)

// Clip is one row of the figure. Recon and ReconPath may be nil.
type Clip struct {
	Truth     mat.Matrix // TMax x Px*Py frames
	Recon     mat.Matrix // TMax x Px*Py predicted pixel probabilities
	TruePath  mat.Matrix // TMax x 2
	ReconPath mat.Matrix // TMax x 2
}

// LatentsOptions sizes the frames and picks the end markers.
type LatentsOptions struct {
	Px, Py int
	// SquaresCircles marks path starts with squares and ends with circles;
	// otherwise only the ends are marked with dots.
	SquaresCircles bool
}

// Heatmap collapses a TMax x Px*Py video into one Py x Px image where frame t
// is weighted by (t+4)/(TMax+4) and the maximum over time is kept, so later
// positions are darker.
func Heatmap(video mat.Matrix, px, py int) *mat.Dense {
	tmax, _ := video.Dims()
	out := mat.NewDense(py, px, nil)
	for t := 0; t < tmax; t++ {
		w := float64(t+4) / float64(tmax+4)
		for row := 0; row < py; row++ {
			for col := 0; col < px; col++ {
				if v := w * video.At(t, row*px+col); v > out.At(row, col) {
					out.Set(row, col, v)
				}
			}
		}
	}
	return out
}

// SaveLatents writes the figure to path.
func SaveLatents(path string, clips []Clip, opts LatentsOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Latents(f, clips, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Latents draws one row per clip: the true video heat-map, the true and
// reconstructed trajectories and the reconstructed video heat-map.
func Latents(w io.Writer, clips []Clip, opts LatentsOptions) error {
	if len(clips) == 0 {
		return ErrNoClips
	}
	lim := pathLimits(clips)
	rows := make([][]*plot.Plot, len(clips))
	for i, c := range clips {
		truth := heatPlot(Heatmap(c.Truth, opts.Px, opts.Py))
		truth.Title.Text = fmt.Sprintf("video %d", i)
		traj, err := trajectoryPlot(c, lim, opts.SquaresCircles)
		if err != nil {
			return fmt.Errorf("clip %d: %w", i, err)
		}
		recon := plot.New()
		recon.HideAxes()
		if c.Recon != nil {
			recon = heatPlot(Heatmap(c.Recon, opts.Px, opts.Py))
			recon.Title.Text = "reconstruction"
		}
		rows[i] = []*plot.Plot{truth, traj, recon}
	}

	canvas := vgpdf.New(8*vg.Inch, vg.Length(len(clips))*3*vg.Inch)
	tiles := draw.Tiles{
		Rows: len(clips),
		Cols: 3,
		PadX: vg.Millimeter,
		PadY: vg.Millimeter,
	}
	canvases := plot.Align(rows, tiles, draw.New(canvas))
	for i := range rows {
		for j := range rows[i] {
			rows[i][j].Draw(canvases[i][j])
		}
	}
	if _, err := canvas.WriteTo(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

type limits struct {
	xmin, xmax, ymin, ymax float64
}

// pathLimits spans every path with a 0.1 margin and at least [-2.5, 2.5].
func pathLimits(clips []Clip) limits {
	lim := limits{xmin: -2.5, xmax: 2.5, ymin: -2.5, ymax: 2.5}
	grow := func(m mat.Matrix) {
		if m == nil {
			return
		}
		r, _ := m.Dims()
		for i := 0; i < r; i++ {
			lim.xmin = math.Min(lim.xmin, m.At(i, 0)-0.1)
			lim.xmax = math.Max(lim.xmax, m.At(i, 0)+0.1)
			lim.ymin = math.Min(lim.ymin, m.At(i, 1)-0.1)
			lim.ymax = math.Max(lim.ymax, m.At(i, 1)+0.1)
		}
	}
	for _, c := range clips {
		grow(c.TruePath)
		grow(c.ReconPath)
	}
	return lim
}

func heatPlot(img *mat.Dense) *plot.Plot {
	p := plot.New()
	p.HideAxes()
	hm := plotter.NewHeatMap(imageGrid{img}, heatPalette)
	hm.Min, hm.Max = 0, 1
	p.Add(hm)
	return p
}

func trajectoryPlot(c Clip, lim limits, squaresCircles bool) (*plot.Plot, error) {
	p := plot.New()
	p.X.Min, p.X.Max = lim.xmin, lim.xmax
	p.Y.Min, p.Y.Max = lim.ymin, lim.ymax
	if err := addPath(p, c.TruePath, trueColor, squaresCircles); err != nil {
		return nil, err
	}
	if c.ReconPath != nil {
		if err := addPath(p, c.ReconPath, reconColor, squaresCircles); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func addPath(p *plot.Plot, path mat.Matrix, col color.Color, squaresCircles bool) error {
	n, _ := path.Dims()
	if n == 0 {
		return nil
	}
	xys := make(plotter.XYs, n)
	for i := range xys {
		xys[i].X, xys[i].Y = path.At(i, 0), path.At(i, 1)
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = col
	p.Add(line)

	end, err := plotter.NewScatter(xys[n-1:])
	if err != nil {
		return err
	}
	end.GlyphStyle.Color = col
	end.GlyphStyle.Radius = vg.Points(3)
	end.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(end)

	if squaresCircles {
		start, err := plotter.NewScatter(xys[:1])
		if err != nil {
			return err
		}
		start.GlyphStyle.Color = col
		start.GlyphStyle.Radius = vg.Points(3)
		start.GlyphStyle.Shape = draw.SquareGlyph{}
		p.Add(start)
	}
	return nil
}

// imageGrid exposes a Py x Px image as a plotter.GridXYZ with row 0 at the
// bottom. Values are inverted, so empty pixels are drawn black and the trail
// lightens towards the last frame.
type imageGrid struct {
	m *mat.Dense
}

func (g imageGrid) Dims() (c, r int) {
	r, c = g.m.Dims()
	return c, r
}

func (g imageGrid) Z(c, r int) float64 { return 1 - g.m.At(r, c) }
func (g imageGrid) X(c int) float64    { return float64(c) }
func (g imageGrid) Y(r int) float64    { return float64(r) }

// greys maps 0 to white and 1 to black.
type greys struct{}

func (greys) Colors() []color.Color {
	out := make([]color.Color, 256)
	for i := range out {
		v := uint8(255 - i)
		out[i] = color.Gray{Y: v}
	}
	return out
}
