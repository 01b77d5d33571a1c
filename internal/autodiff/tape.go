package autodiff

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrNotScalar is returned when Backward is called on a non 1x1 node.
var ErrNotScalar = errors.New("autodiff: backward root must be 1x1")

// Node is a value recorded on a Tape.
type Node struct {
	Value *mat.Dense

	grad      *mat.Dense
	needsGrad bool
	backward  func(g *mat.Dense)
}

// Grad returns the accumulated gradient, or nil if none reached this node.
func (n *Node) Grad() *mat.Dense { return n.grad }

// Scalar returns the top-left element of the value.
func (n *Node) Scalar() float64 { return n.Value.At(0, 0) }

// Dims returns the value dimensions.
func (n *Node) Dims() (int, int) { return n.Value.Dims() }

// RequiresGrad reports whether gradients flow into this node.
func (n *Node) RequiresGrad() bool { return n.needsGrad }

func (n *Node) accumulate(g mat.Matrix) {
	if !n.needsGrad {
		return
	}
	if n.grad == nil {
		n.grad = mat.DenseCopyOf(g)
		return
	}
	n.grad.Add(n.grad, g)
}

// Param is a named leaf that persists across tapes and accumulates gradients.
type Param struct {
	Name      string
	Value     *mat.Dense
	Grad      *mat.Dense
	Trainable bool
}

// NewParam wraps value. Frozen params behave like constants on a tape.
func NewParam(name string, value *mat.Dense, trainable bool) *Param {
	r, c := value.Dims()
	return &Param{
		Name:      name,
		Value:     value,
		Grad:      mat.NewDense(r, c, nil),
		Trainable: trainable,
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	p.Grad.Apply(func(_, _ int, _ float64) float64 { return 0 }, p.Grad)
}

// Size returns the number of scalar entries.
func (p *Param) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

func (p *Param) String() string {
	r, c := p.Value.Dims()
	return fmt.Sprintf("%s shape=(%d, %d) trainable=%t", p.Name, r, c, p.Trainable)
}

// Tape records nodes in creation order.
type Tape struct {
	nodes []*Node
}

// NewTape returns an empty tape.
func NewTape() *Tape {
	return &Tape{}
}

// Const records a value that never receives a gradient.
func (t *Tape) Const(m mat.Matrix) *Node {
	return t.push(mat.DenseCopyOf(m), nil, nil)
}

// Scalar records a 1x1 constant.
func (t *Tape) Scalar(v float64) *Node {
	return t.push(mat.NewDense(1, 1, []float64{v}), nil, nil)
}

// Leaf records a value that collects its gradient on the node itself.
func (t *Tape) Leaf(m mat.Matrix) *Node {
	n := &Node{Value: mat.DenseCopyOf(m), needsGrad: true}
	t.nodes = append(t.nodes, n)
	return n
}

// Var records a parameter. Gradients are added to p.Grad when p is trainable.
func (t *Tape) Var(p *Param) *Node {
	n := &Node{Value: p.Value, needsGrad: p.Trainable}
	if p.Trainable {
		n.backward = func(g *mat.Dense) {
			p.Grad.Add(p.Grad, g)
		}
	}
	t.nodes = append(t.nodes, n)
	return n
}

// Custom records an op computed outside this package. backward receives the
// output gradient and must push gradients to inputs through Accumulate.
func (t *Tape) Custom(value *mat.Dense, backward func(g *mat.Dense), inputs ...*Node) *Node {
	return t.push(value, inputs, backward)
}

// Accumulate adds g to the gradient of n. It is meant for Custom backward
// closures; it is a no-op for nodes that do not require a gradient.
func Accumulate(n *Node, g mat.Matrix) {
	n.accumulate(g)
}

func (t *Tape) push(value *mat.Dense, inputs []*Node, backward func(g *mat.Dense)) *Node {
	n := &Node{Value: value}
	for _, in := range inputs {
		if in.needsGrad {
			n.needsGrad = true
			break
		}
	}
	if n.needsGrad {
		n.backward = backward
	}
	t.nodes = append(t.nodes, n)
	return n
}

// Backward propagates d(root)/d(node) to every node on the tape.
func (t *Tape) Backward(root *Node) error {
	r, c := root.Dims()
	if r != 1 || c != 1 {
		return fmt.Errorf("%w (got %dx%d)", ErrNotScalar, r, c)
	}
	if !root.needsGrad {
		return nil
	}
	root.grad = mat.NewDense(1, 1, []float64{1})
	for i := len(t.nodes) - 1; i >= 0; i-- {
		n := t.nodes[i]
		if n.grad == nil || n.backward == nil {
			continue
		}
		n.backward(n.grad)
	}
	return nil
}
