package autodiff

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

func mustSameDims(op string, a, b *Node) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		panic(fmt.Sprintf("autodiff: %s dims mismatch %dx%d vs %dx%d", op, ar, ac, br, bc))
	}
}

// Add returns a + b.
func (t *Tape) Add(a, b *Node) *Node {
	mustSameDims("Add", a, b)
	out := &mat.Dense{}
	out.Add(a.Value, b.Value)
	return t.push(out, []*Node{a, b}, func(g *mat.Dense) {
		a.accumulate(g)
		b.accumulate(g)
	})
}

// Sub returns a - b.
func (t *Tape) Sub(a, b *Node) *Node {
	mustSameDims("Sub", a, b)
	out := &mat.Dense{}
	out.Sub(a.Value, b.Value)
	return t.push(out, []*Node{a, b}, func(g *mat.Dense) {
		a.accumulate(g)
		if b.needsGrad {
			neg := &mat.Dense{}
			neg.Scale(-1, g)
			b.accumulate(neg)
		}
	})
}

// Mul returns the elementwise product a ⊙ b.
func (t *Tape) Mul(a, b *Node) *Node {
	mustSameDims("Mul", a, b)
	out := &mat.Dense{}
	out.MulElem(a.Value, b.Value)
	return t.push(out, []*Node{a, b}, func(g *mat.Dense) {
		if a.needsGrad {
			ga := &mat.Dense{}
			ga.MulElem(g, b.Value)
			a.accumulate(ga)
		}
		if b.needsGrad {
			gb := &mat.Dense{}
			gb.MulElem(g, a.Value)
			b.accumulate(gb)
		}
	})
}

// Div returns the elementwise quotient a / b.
func (t *Tape) Div(a, b *Node) *Node {
	mustSameDims("Div", a, b)
	out := &mat.Dense{}
	out.DivElem(a.Value, b.Value)
	return t.push(out, []*Node{a, b}, func(g *mat.Dense) {
		if a.needsGrad {
			ga := &mat.Dense{}
			ga.DivElem(g, b.Value)
			a.accumulate(ga)
		}
		if b.needsGrad {
			gb := &mat.Dense{}
			gb.Apply(func(i, j int, v float64) float64 {
				bv := b.Value.At(i, j)
				return -v * out.At(i, j) / bv
			}, g)
			b.accumulate(gb)
		}
	})
}

// Scale returns s * a.
func (t *Tape) Scale(a *Node, s float64) *Node {
	out := &mat.Dense{}
	out.Scale(s, a.Value)
	return t.push(out, []*Node{a}, func(g *mat.Dense) {
		ga := &mat.Dense{}
		ga.Scale(s, g)
		a.accumulate(ga)
	})
}

// AddScalar returns a + s elementwise.
func (t *Tape) AddScalar(a *Node, s float64) *Node {
	out := &mat.Dense{}
	out.Apply(func(_, _ int, v float64) float64 { return v + s }, a.Value)
	return t.push(out, []*Node{a}, func(g *mat.Dense) {
		a.accumulate(g)
	})
}

// AddRow adds the 1xc row to every row of a.
func (t *Tape) AddRow(a, row *Node) *Node {
	r, c := a.Dims()
	rr, rc := row.Dims()
	if rr != 1 || rc != c {
		panic(fmt.Sprintf("autodiff: AddRow wants 1x%d row, got %dx%d", c, rr, rc))
	}
	out := mat.NewDense(r, c, nil)
	rowData := row.Value.RawRowView(0)
	for i := 0; i < r; i++ {
		dst := out.RawRowView(i)
		src := a.Value.RawRowView(i)
		for j := range dst {
			dst[j] = src[j] + rowData[j]
		}
	}
	return t.push(out, []*Node{a, row}, func(g *mat.Dense) {
		a.accumulate(g)
		if row.needsGrad {
			row.accumulate(colSums(g))
		}
	})
}

// ScaleRows multiplies row i of a by v[i] for an rx1 column v.
func (t *Tape) ScaleRows(a, v *Node) *Node {
	r, c := a.Dims()
	vr, vc := v.Dims()
	if vr != r || vc != 1 {
		panic(fmt.Sprintf("autodiff: ScaleRows wants %dx1 column, got %dx%d", r, vr, vc))
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		s := v.Value.At(i, 0)
		dst := out.RawRowView(i)
		for j, x := range a.Value.RawRowView(i) {
			dst[j] = x * s
		}
	}
	return t.push(out, []*Node{a, v}, func(g *mat.Dense) {
		if a.needsGrad {
			ga := mat.NewDense(r, c, nil)
			for i := 0; i < r; i++ {
				s := v.Value.At(i, 0)
				dst := ga.RawRowView(i)
				for j, x := range g.RawRowView(i) {
					dst[j] = x * s
				}
			}
			a.accumulate(ga)
		}
		if v.needsGrad {
			gv := mat.NewDense(r, 1, nil)
			for i := 0; i < r; i++ {
				s := 0.0
				gi := g.RawRowView(i)
				for j, x := range a.Value.RawRowView(i) {
					s += gi[j] * x
				}
				gv.Set(i, 0, s)
			}
			v.accumulate(gv)
		}
	})
}

// unary records y = f(x) elementwise with dy/dx = df(x, y).
func (t *Tape) unary(a *Node, f func(x float64) float64, df func(x, y float64) float64) *Node {
	out := &mat.Dense{}
	out.Apply(func(_, _ int, v float64) float64 { return f(v) }, a.Value)
	return t.push(out, []*Node{a}, func(g *mat.Dense) {
		ga := &mat.Dense{}
		ga.Apply(func(i, j int, v float64) float64 {
			return v * df(a.Value.At(i, j), out.At(i, j))
		}, g)
		a.accumulate(ga)
	})
}

// Tanh applies tanh elementwise.
func (t *Tape) Tanh(a *Node) *Node {
	return t.unary(a, math.Tanh, func(_, y float64) float64 { return 1 - y*y })
}

// Exp applies exp elementwise.
func (t *Tape) Exp(a *Node) *Node {
	return t.unary(a, math.Exp, func(_, y float64) float64 { return y })
}

// Log applies the natural log elementwise.
func (t *Tape) Log(a *Node) *Node {
	return t.unary(a, math.Log, func(x, _ float64) float64 { return 1 / x })
}

// Square applies x² elementwise.
func (t *Tape) Square(a *Node) *Node {
	return t.unary(a, func(x float64) float64 { return x * x }, func(x, _ float64) float64 { return 2 * x })
}

// Sqrt applies the square root elementwise.
func (t *Tape) Sqrt(a *Node) *Node {
	return t.unary(a, math.Sqrt, func(_, y float64) float64 { return 0.5 / y })
}

// Sigmoid applies the logistic function elementwise.
func (t *Tape) Sigmoid(a *Node) *Node {
	return t.unary(a, sigmoid, func(_, y float64) float64 { return y * (1 - y) })
}

// Softplus applies log(1 + exp(x)) elementwise.
func (t *Tape) Softplus(a *Node) *Node {
	return t.unary(a, softplus, func(x, _ float64) float64 { return sigmoid(x) })
}

// Clip bounds values to [lo, hi]. Clipped entries receive no gradient.
func (t *Tape) Clip(a *Node, lo, hi float64) *Node {
	return t.unary(a,
		func(x float64) float64 { return math.Min(hi, math.Max(lo, x)) },
		func(x, _ float64) float64 {
			if x < lo || x > hi {
				return 0
			}
			return 1
		})
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

// Sum reduces a to a 1x1 node.
func (t *Tape) Sum(a *Node) *Node {
	out := mat.NewDense(1, 1, []float64{mat.Sum(a.Value)})
	return t.push(out, []*Node{a}, func(g *mat.Dense) {
		r, c := a.Dims()
		gv := g.At(0, 0)
		ga := mat.NewDense(r, c, nil)
		ga.Apply(func(_, _ int, _ float64) float64 { return gv }, ga)
		a.accumulate(ga)
	})
}

// ColSum returns the 1xc row of column sums.
func (t *Tape) ColSum(a *Node) *Node {
	return t.push(colSums(a.Value), []*Node{a}, func(g *mat.Dense) {
		r, c := a.Dims()
		ga := mat.NewDense(r, c, nil)
		row := g.RawRowView(0)
		for i := 0; i < r; i++ {
			copy(ga.RawRowView(i), row)
		}
		a.accumulate(ga)
	})
}

func colSums(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(1, c, nil)
	sums := out.RawRowView(0)
	for i := 0; i < r; i++ {
		for j, v := range m.RawRowView(i) {
			sums[j] += v
		}
	}
	return out
}

// T returns the transpose of a.
func (t *Tape) T(a *Node) *Node {
	out := mat.DenseCopyOf(a.Value.T())
	return t.push(out, []*Node{a}, func(g *mat.Dense) {
		a.accumulate(g.T())
	})
}

// Block returns rows [r0, r1) and columns [c0, c1) of a.
func (t *Tape) Block(a *Node, r0, r1, c0, c1 int) *Node {
	out := mat.DenseCopyOf(a.Value.Slice(r0, r1, c0, c1))
	return t.push(out, []*Node{a}, func(g *mat.Dense) {
		r, c := a.Dims()
		ga := mat.NewDense(r, c, nil)
		view := ga.Slice(r0, r1, c0, c1).(*mat.Dense)
		view.Copy(g)
		a.accumulate(ga)
	})
}

// Rows gathers the listed rows of a, in order.
func (t *Tape) Rows(a *Node, idx []int) *Node {
	_, c := a.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for k, i := range idx {
		copy(out.RawRowView(k), a.Value.RawRowView(i))
	}
	return t.push(out, []*Node{a}, func(g *mat.Dense) {
		r, _ := a.Dims()
		ga := mat.NewDense(r, c, nil)
		for k, i := range idx {
			dst := ga.RawRowView(i)
			for j, v := range g.RawRowView(k) {
				dst[j] += v
			}
		}
		a.accumulate(ga)
	})
}

// ConcatRows stacks nodes with equal column counts vertically.
func (t *Tape) ConcatRows(parts ...*Node) *Node {
	_, c := parts[0].Dims()
	total := 0
	for _, p := range parts {
		r, pc := p.Dims()
		if pc != c {
			panic(fmt.Sprintf("autodiff: ConcatRows column mismatch %d vs %d", pc, c))
		}
		total += r
	}
	out := mat.NewDense(total, c, nil)
	offset := 0
	for _, p := range parts {
		r, _ := p.Dims()
		out.Slice(offset, offset+r, 0, c).(*mat.Dense).Copy(p.Value)
		offset += r
	}
	return t.push(out, parts, func(g *mat.Dense) {
		offset := 0
		for _, p := range parts {
			r, _ := p.Dims()
			if p.needsGrad {
				p.accumulate(g.Slice(offset, offset+r, 0, c))
			}
			offset += r
		}
	})
}

// ConcatCols stacks nodes with equal row counts horizontally.
func (t *Tape) ConcatCols(parts ...*Node) *Node {
	r, _ := parts[0].Dims()
	total := 0
	for _, p := range parts {
		pr, c := p.Dims()
		if pr != r {
			panic(fmt.Sprintf("autodiff: ConcatCols row mismatch %d vs %d", pr, r))
		}
		total += c
	}
	out := mat.NewDense(r, total, nil)
	offset := 0
	for _, p := range parts {
		_, c := p.Dims()
		out.Slice(0, r, offset, offset+c).(*mat.Dense).Copy(p.Value)
		offset += c
	}
	return t.push(out, parts, func(g *mat.Dense) {
		offset := 0
		for _, p := range parts {
			_, c := p.Dims()
			if p.needsGrad {
				p.accumulate(g.Slice(0, r, offset, offset+c))
			}
			offset += c
		}
	})
}

// Diag returns the diagonal of the square matrix a as an nx1 column.
func (t *Tape) Diag(a *Node) *Node {
	n, c := a.Dims()
	if n != c {
		panic(fmt.Sprintf("autodiff: Diag wants square matrix, got %dx%d", n, c))
	}
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, a.Value.At(i, i))
	}
	return t.push(out, []*Node{a}, func(g *mat.Dense) {
		ga := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			ga.Set(i, i, g.At(i, 0))
		}
		a.accumulate(ga)
	})
}

// AddDiag returns a + diag(v) for a square a and an nx1 column v.
func (t *Tape) AddDiag(a, v *Node) *Node {
	n, c := a.Dims()
	vr, vc := v.Dims()
	if n != c || vr != n || vc != 1 {
		panic(fmt.Sprintf("autodiff: AddDiag dims %dx%d and %dx%d", n, c, vr, vc))
	}
	out := mat.DenseCopyOf(a.Value)
	for i := 0; i < n; i++ {
		out.Set(i, i, out.At(i, i)+v.Value.At(i, 0))
	}
	return t.push(out, []*Node{a, v}, func(g *mat.Dense) {
		a.accumulate(g)
		if v.needsGrad {
			gv := mat.NewDense(n, 1, nil)
			for i := 0; i < n; i++ {
				gv.Set(i, 0, g.At(i, i))
			}
			v.accumulate(gv)
		}
	})
}

// AddJitter returns a + eps*I.
func (t *Tape) AddJitter(a *Node, eps float64) *Node {
	n, _ := a.Dims()
	out := mat.DenseCopyOf(a.Value)
	for i := 0; i < n; i++ {
		out.Set(i, i, out.At(i, i)+eps)
	}
	return t.push(out, []*Node{a}, func(g *mat.Dense) {
		a.accumulate(g)
	})
}
