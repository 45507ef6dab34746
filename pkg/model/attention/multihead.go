package attention

import (
	"math/rand"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/stefanvulpe-dev/ML/pkg/model"
	"github.com/stefanvulpe-dev/ML/pkg/tensor"
)

// MultiHeadAttention implements multi-head self-attention.
//
// Architecture:
//   - one fused projection produces Q, K and V for every head
//   - each head attends over its own head_dim slice of the embedding
//   - the per-head outputs are concatenated and projected back to d_model
type MultiHeadAttention struct {
	NumHeads    int
	HeadDim     int
	DModel      int
	Causal      bool
	Parallelism int

	QKV     *model.Linear // (d_model, 3*d_model)
	OutProj *model.Linear // (d_model, d_model)
}

// MultiHeadResult holds the outputs of a multi-head forward pass.
type MultiHeadResult struct {
	Output  *tensor.Tensor // (batch, seq, d_model), after the output projection
	Weights *tensor.Tensor // (batch, heads, seq, seq)
	Values  *tensor.Tensor // (batch, heads, seq, head_dim), per-head kernel outputs
}

// NewMultiHeadAttention creates a multi-head attention layer with weights drawn from rng.
func NewMultiHeadAttention(config model.Config, rng *rand.Rand) (*MultiHeadAttention, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	d := config.EmbeddingDim
	return &MultiHeadAttention{
		NumHeads:    config.NumHeads,
		HeadDim:     config.HeadDimension(),
		DModel:      d,
		Causal:      config.Causal,
		Parallelism: config.Parallelism,
		QKV:         model.NewLinear(d, 3*d, config.QKVBias, rng),
		OutProj:     model.NewLinear(d, d, true, rng),
	}, nil
}

// Forward computes multi-head attention.
//
// Input shapes:
//   - x: (batch, seq, d_model)
//   - mask: optional additive mask broadcastable to (batch, heads, seq, seq), or nil.
//     When nil and the layer is causal, the causal mask is applied.
//
// Output shape: (batch, seq, d_model)
func (m *MultiHeadAttention) Forward(x, mask *tensor.Tensor) (*MultiHeadResult, error) {
	if x == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil input")
	}
	if x.NumDims() != 3 {
		return nil, errors.Wrapf(ErrShapeMismatch, "expected 3D input (batch, seq, d_model), got %dD with shape %v",
			x.NumDims(), x.Shape)
	}
	if dIn := x.Dim(-1); dIn != m.DModel {
		return nil, errors.Wrapf(ErrShapeMismatch, "input dimension %d doesn't match expected %d", dIn, m.DModel)
	}
	if x.Dim(0) == 0 || x.Dim(1) == 0 {
		return nil, errors.Wrapf(ErrEmptySequence, "input shape %v", x.Shape)
	}

	// Step 1: fused projection, (batch, seq, d_model) -> (batch, seq, 3*d_model)
	qkv, err := m.QKV.Forward(x)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to compute qkv projection")
	}

	// Step 2: per-head q, k, v, each (batch, heads, seq, head_dim)
	q, k, v, err := SplitFusedQKV(qkv, m.NumHeads)
	if err != nil {
		return nil, err
	}

	// Step 3: kernel, with the heads as a batch axis
	sdpa := ScaledDotProductAttention(q, k, v).WithParallelism(m.Parallelism)
	switch {
	case mask != nil:
		sdpa.WithAdditiveMask(mask)
	case m.Causal:
		sdpa.WithCausalMask()
	}
	res, err := sdpa.Done()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to compute attention")
	}

	// Step 4: concatenate heads, (batch, seq, d_model)
	merged, err := MergeHeads(res.Output)
	if err != nil {
		return nil, err
	}

	// Step 5: output projection
	out, err := m.OutProj.Forward(merged)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to apply output projection")
	}

	klog.V(3).InfoS("multi-head attention",
		"input", x.Shape, "qkv", qkv.Shape, "values", res.Output.Shape, "output", out.Shape)
	return &MultiHeadResult{Output: out, Weights: res.Weights, Values: res.Output}, nil
}
