// Package autodiff is a small reverse-mode differentiation tape over
// gonum dense matrices.
//
// Every op appends a Node holding its forward value and a closure that pushes
// the incoming gradient to its inputs. Backward walks the tape in reverse
// order, so nodes must be created through the same Tape they depend on.
// Nodes whose inputs carry no gradient (constants, frozen parameters) skip
// their backward closure entirely.
//
// Besides the usual elementwise and matrix ops the tape provides Cholesky and
// triangular solves, which is what Gaussian-process posteriors need.
package autodiff
