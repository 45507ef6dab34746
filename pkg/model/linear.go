package model

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/stefanvulpe-dev/ML/pkg/tensor"
)

// Linear is an affine projection y = x @ Weight + Bias applied to the last axis.
type Linear struct {
	Weight *tensor.Tensor // (in, out)
	Bias   *tensor.Tensor // (out), nil when the layer has no bias
}

// NewLinear creates a projection from in to out features with Xavier-uniform
// weights drawn from rng and a zero bias.
func NewLinear(in, out int, bias bool, rng *rand.Rand) *Linear {
	l := &Linear{Weight: tensor.NewTensor([]int{in, out})}
	XavierUniform(l.Weight, rng)
	if bias {
		l.Bias = tensor.NewTensor([]int{out})
	}
	return l
}

// InFeatures returns the size of the input axis.
func (l *Linear) InFeatures() int { return l.Weight.Shape[0] }

// OutFeatures returns the size of the output axis.
func (l *Linear) OutFeatures() int { return l.Weight.Shape[1] }

// Forward projects x.
//
// Input shape: (..., in)
// Output shape: (..., out)
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, errors.Wrapf(tensor.ErrShape, "expected at least 2D input, got %dD", len(x.Shape))
	}
	if lastDim := x.Dim(-1); lastDim != l.InFeatures() {
		return nil, errors.Wrapf(tensor.ErrShape, "input dimension %d doesn't match projection input dimension %d",
			lastDim, l.InFeatures())
	}

	y, err := tensor.Matmul(x, l.Weight)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to compute projection")
	}
	if l.Bias == nil {
		return y, nil
	}
	y, err = tensor.Add(y, l.Bias)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to add projection bias")
	}
	return y, nil
}
