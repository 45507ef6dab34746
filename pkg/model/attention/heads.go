package attention

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/stefanvulpe-dev/ML/pkg/tensor"
)

// SplitHeads partitions the embedding axis into numHeads contiguous slices and
// moves the head axis in front of the sequence axis.
//
// Input shape: (batch, seq, d_model) or (seq, d_model)
// Output shape: (batch, heads, seq, d_model/heads) or (heads, seq, d_model/heads)
func SplitHeads(x *tensor.Tensor, numHeads int) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil input")
	}
	if x.NumDims() != 2 && x.NumDims() != 3 {
		return nil, errors.Wrapf(ErrShapeMismatch, "expected (seq, d_model) or (batch, seq, d_model), got shape %v", x.Shape)
	}
	dModel := x.Dim(-1)
	if numHeads <= 0 || dModel%numHeads != 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "d_model (%d) must be divisible by num_heads (%d)", dModel, numHeads)
	}
	headDim := dModel / numHeads

	// (..., seq, d_model) -> (..., seq, heads, head_dim) -> (..., heads, seq, head_dim)
	split := append(append([]int{}, x.Shape[:x.NumDims()-1]...), numHeads, headDim)
	seqAxis := x.NumDims() - 2
	heads, err := x.Reshape(split).Transpose(seqAxis, seqAxis+1)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to move head axis")
	}
	klog.V(3).InfoS("split heads", "from", x.Shape, "to", heads.Shape)
	return heads, nil
}

// MergeHeads is the inverse of SplitHeads: it concatenates the per-head slices
// back along the embedding axis.
//
// Input shape: (batch, heads, seq, head_dim) or (heads, seq, head_dim)
// Output shape: (batch, seq, heads*head_dim) or (seq, heads*head_dim)
func MergeHeads(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil input")
	}
	if x.NumDims() != 3 && x.NumDims() != 4 {
		return nil, errors.Wrapf(ErrShapeMismatch, "expected (heads, seq, head_dim) or (batch, heads, seq, head_dim), got shape %v", x.Shape)
	}

	headAxis := x.NumDims() - 3
	numHeads, seqLen, headDim := x.Dim(-3), x.Dim(-2), x.Dim(-1)
	perSeq, err := x.Transpose(headAxis, headAxis+1)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to move head axis")
	}
	merged := append(append([]int{}, x.Shape[:headAxis]...), seqLen, numHeads*headDim)
	out := perSeq.Reshape(merged)
	klog.V(3).InfoS("merge heads", "from", x.Shape, "to", out.Shape)
	return out, nil
}

// SplitFusedQKV splits the output of a fused QKV projection into per-head query,
// key and value tensors.
//
// The projection's last axis is laid out per head as [q | k | v] chunks of
// head_dim each, i.e. it is reshaped to (batch, seq, heads, 3*head_dim), the head
// axis is moved before the sequence axis, and the last axis is cut in three.
//
// Input shape: (batch, seq, 3*d_model)
// Output shapes: 3 x (batch, heads, seq, d_model/heads)
func SplitFusedQKV(qkv *tensor.Tensor, numHeads int) (q, k, v *tensor.Tensor, err error) {
	if qkv == nil {
		return nil, nil, nil, errors.Wrap(ErrInvalidArgument, "nil input")
	}
	if qkv.NumDims() != 3 {
		return nil, nil, nil, errors.Wrapf(ErrShapeMismatch, "expected (batch, seq, 3*d_model), got shape %v", qkv.Shape)
	}
	fused := qkv.Dim(-1)
	if numHeads <= 0 || fused%(3*numHeads) != 0 {
		return nil, nil, nil, errors.Wrapf(ErrShapeMismatch, "fused dimension %d must be divisible by 3*num_heads (%d)",
			fused, 3*numHeads)
	}

	heads, err := SplitHeads(qkv, numHeads) // (batch, heads, seq, 3*head_dim)
	if err != nil {
		return nil, nil, nil, err
	}
	parts, err := tensor.Split(heads, -1, 3)
	if err != nil {
		return nil, nil, nil, errors.WithMessage(err, "failed to split q, k, v")
	}
	klog.V(3).InfoS("split fused qkv", "qkv", qkv.Shape, "q", parts[0].Shape, "k", parts[1].Shape, "v", parts[2].Shape)
	return parts[0], parts[1], parts[2], nil
}
