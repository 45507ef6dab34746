package attention

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/stefanvulpe-dev/ML/pkg/model"
	"github.com/stefanvulpe-dev/ML/pkg/tensor"
)

// CausalSelfAttentionConfig holds configuration for CausalSelfAttention.
type CausalSelfAttentionConfig struct {
	DIn  int
	DOut int
}

// CausalSelfAttention implements single-head causal self-attention with separate
// query, key and value projections. Each position attends to itself and all
// previous positions.
type CausalSelfAttention struct {
	WQuery *model.Linear // (d_in, d_out)
	WKey   *model.Linear // (d_in, d_out)
	WValue *model.Linear // (d_in, d_out)
	DOut   int
}

// NewCausalSelfAttention creates a causal self-attention layer with weights drawn from rng.
func NewCausalSelfAttention(config CausalSelfAttentionConfig, rng *rand.Rand) (*CausalSelfAttention, error) {
	if config.DIn <= 0 || config.DOut <= 0 {
		return nil, errors.Wrapf(model.ErrInvalidConfig, "d_in (%d) and d_out (%d) must be positive", config.DIn, config.DOut)
	}
	return &CausalSelfAttention{
		WQuery: model.NewLinear(config.DIn, config.DOut, false, rng),
		WKey:   model.NewLinear(config.DIn, config.DOut, false, rng),
		WValue: model.NewLinear(config.DIn, config.DOut, false, rng),
		DOut:   config.DOut,
	}, nil
}

// Forward computes causal self-attention.
//
// Input shape: (batch, seq, d_in)
// Output shapes: Output (batch, seq, d_out), Weights (batch, seq, seq)
func (c *CausalSelfAttention) Forward(x *tensor.Tensor) (*Result, error) {
	if x == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil input")
	}
	if x.NumDims() != 3 {
		return nil, errors.Wrapf(ErrShapeMismatch, "expected 3D input (batch, seq, d_in), got %dD with shape %v",
			x.NumDims(), x.Shape)
	}
	if dIn := x.Dim(-1); dIn != c.WQuery.InFeatures() {
		return nil, errors.Wrapf(ErrShapeMismatch, "input dimension %d doesn't match WQuery shape %v",
			dIn, c.WQuery.Weight.Shape)
	}
	if x.Dim(0) == 0 || x.Dim(1) == 0 {
		return nil, errors.Wrapf(ErrEmptySequence, "input shape %v", x.Shape)
	}

	q, err := c.WQuery.Forward(x)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to compute Q")
	}
	k, err := c.WKey.Forward(x)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to compute K")
	}
	v, err := c.WValue.Forward(x)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to compute V")
	}

	return ScaledDotProductAttention(q, k, v).WithCausalMask().Done()
}
