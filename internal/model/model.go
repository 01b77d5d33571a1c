// Package model holds the inference and generative networks of the
// variational models together with their optimiser.
package model

import "gpvae-ball/internal/autodiff"

// Model is anything that owns parameters the optimiser updates.
type Model interface {
	Params() []*autodiff.Param
}

// Trainable returns the parameters of m that receive gradients.
func Trainable(m Model) []*autodiff.Param {
	ps := m.Params()
	out := make([]*autodiff.Param, 0, len(ps))
	for _, p := range ps {
		if p.Trainable {
			out = append(out, p)
		}
	}
	return out
}

// CountParams returns the number of scalar entries across ps.
func CountParams(ps []*autodiff.Param) int {
	n := 0
	for _, p := range ps {
		n += p.Size()
	}
	return n
}
