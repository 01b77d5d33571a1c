package autodiff

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrNotPositiveDefinite is returned when a Cholesky factorisation fails.
var ErrNotPositiveDefinite = errors.New("autodiff: matrix is not positive definite")

// MatMul returns a · b.
func (t *Tape) MatMul(a, b *Node) *Node {
	out := &mat.Dense{}
	out.Mul(a.Value, b.Value)
	return t.push(out, []*Node{a, b}, func(g *mat.Dense) {
		if a.needsGrad {
			ga := &mat.Dense{}
			ga.Mul(g, b.Value.T())
			a.accumulate(ga)
		}
		if b.needsGrad {
			gb := &mat.Dense{}
			gb.Mul(a.Value.T(), g)
			b.accumulate(gb)
		}
	})
}

// Cholesky returns the lower factor L of a = L Lᵀ. Only the symmetric part
// of a is used, and the gradient returned to a is symmetric.
func (t *Tape) Cholesky(a *Node) (*Node, error) {
	l, err := cholesky(a.Value)
	if err != nil {
		return nil, err
	}
	return t.push(l, []*Node{a}, func(g *mat.Dense) {
		n, _ := l.Dims()
		// P = Φ(Lᵀ Ḡ), Φ keeps the lower triangle and halves the diagonal.
		p := &mat.Dense{}
		p.Mul(l.T(), g)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				p.Set(i, j, 0)
			}
			p.Set(i, i, 0.5*p.At(i, i))
		}
		// Ā = L⁻ᵀ P L⁻¹ = L⁻ᵀ (L⁻ᵀ Pᵀ)ᵀ
		x := triSolve(l, p.T(), true)
		abar := triSolve(l, x.T(), true)
		sym := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				sym.Set(i, j, 0.5*(abar.At(i, j)+abar.At(j, i)))
			}
		}
		a.accumulate(sym)
	}), nil
}

// TriSolve returns L⁻¹ b, or L⁻ᵀ b when trans is set, for a lower
// triangular l.
func (t *Tape) TriSolve(l, b *Node, trans bool) *Node {
	x := triSolve(l.Value, b.Value, trans)
	return t.push(x, []*Node{l, b}, func(g *mat.Dense) {
		gb := triSolve(l.Value, g, !trans)
		if b.needsGrad {
			b.accumulate(gb)
		}
		if l.needsGrad {
			gl := &mat.Dense{}
			if trans {
				gl.Mul(x, gb.T())
			} else {
				gl.Mul(gb, x.T())
			}
			n, _ := gl.Dims()
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					if j > i {
						gl.Set(i, j, 0)
					} else {
						gl.Set(i, j, -gl.At(i, j))
					}
				}
			}
			l.accumulate(gl)
		}
	})
}

// CholSolve returns (L Lᵀ)⁻¹ b.
func (t *Tape) CholSolve(l, b *Node) *Node {
	return t.TriSolve(l, t.TriSolve(l, b, false), true)
}

// LogDet returns log|L Lᵀ| for a Cholesky factor l.
func (t *Tape) LogDet(l *Node) *Node {
	return t.Scale(t.Sum(t.Log(t.Diag(l))), 2)
}

func cholesky(a *mat.Dense) (*mat.Dense, error) {
	n, c := a.Dims()
	if n != c {
		return nil, fmt.Errorf("autodiff: cholesky of %dx%d matrix", n, c)
	}
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.5 * (a.At(i, j) + a.At(j, i))
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite entry at (%d, %d)", ErrNotPositiveDefinite, i, j)
			}
			sym.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, fmt.Errorf("%w (%dx%d)", ErrNotPositiveDefinite, n, n)
	}
	var lower mat.TriDense
	chol.LTo(&lower)
	return mat.DenseCopyOf(&lower), nil
}

// triSolve solves with the lower triangle of l. Ill-conditioning is not an
// error here; the jitter on the kernel matrices is what keeps it in check.
func triSolve(l *mat.Dense, b mat.Matrix, trans bool) *mat.Dense {
	n, _ := l.Dims()
	tri := mat.NewTriDense(n, mat.Lower, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			tri.SetTri(i, j, l.At(i, j))
		}
	}
	var a mat.Matrix = tri
	if trans {
		a = tri.T()
	}
	x := &mat.Dense{}
	if err := x.Solve(a, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			panic(fmt.Sprintf("autodiff: triangular solve: %v", err))
		}
	}
	return x
}
