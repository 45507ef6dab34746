// Package attention implements scaled dot-product attention and the layers
// built on it.
//
// This package provides:
//   - ScaledDotProductAttention: the kernel, softmax(Q·Kᵀ/sqrt(d_k) + mask)·V
//   - SplitHeads / MergeHeads: partitioning of the embedding axis across heads
//   - CausalSelfAttention: single-head causal attention with its own projections
//   - MultiHeadAttention: fused QKV projection, per-head kernel, output projection
package attention

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/stefanvulpe-dev/ML/pkg/tensor"
)

// Result holds the outputs of the kernel.
type Result struct {
	// Weights has shape [..., n, n]; each row is a probability distribution.
	Weights *tensor.Tensor

	// Output has shape [..., n, d_v].
	Output *tensor.Tensor

	// Scores has shape [..., n, n] and holds the scaled, masked scores fed to
	// the softmax. Only set when the builder was configured WithScores.
	Scores *tensor.Tensor
}

// ScaleFor returns the factor applied to Q·Kᵀ: 1/sqrt(dk), dk being the key dimension.
func ScaleFor(dk int) float64 {
	return 1.0 / math.Sqrt(float64(dk))
}

// SDPABuilder configures and executes scaled dot-product attention.
// Create it with ScaledDotProductAttention, configure it and call Done.
type SDPABuilder struct {
	query, key, value *tensor.Tensor
	additiveMask      *tensor.Tensor
	booleanMask       *tensor.Tensor
	causal            bool
	keepScores        bool
	parallelism       int
}

// ScaledDotProductAttention creates a builder computing
//
//	weights = softmax(Q·Kᵀ / sqrt(d_k) + mask)
//	output  = weights·V
//
// Parameters:
//   - query: [..., n, d_k]
//   - key: [..., n, d_k]
//   - value: [..., n, d_v]
//
// Leading axes (batch, heads) must be identical across the three tensors and
// are treated as independent problems. None of the inputs is modified.
func ScaledDotProductAttention(query, key, value *tensor.Tensor) *SDPABuilder {
	return &SDPABuilder{query: query, key: key, value: value}
}

// WithAdditiveMask sets a mask added to the scaled scores before softmax. It must
// broadcast to [..., n, n]: 0 for positions to attend, -Inf (or a large negative
// finite value) for masked ones.
func (b *SDPABuilder) WithAdditiveMask(mask *tensor.Tensor) *SDPABuilder {
	b.additiveMask = mask
	return b
}

// WithBooleanMask sets a 0/1 mask broadcastable to [..., n, n]: non-zero means
// attend, zero means masked.
func (b *SDPABuilder) WithBooleanMask(mask *tensor.Tensor) *SDPABuilder {
	b.booleanMask = mask
	return b
}

// WithCausalMask restricts position i to keys at positions <= i.
// It combines with any other mask set.
func (b *SDPABuilder) WithCausalMask() *SDPABuilder {
	b.causal = true
	return b
}

// WithScores keeps the scaled, masked pre-softmax scores in Result.Scores.
func (b *SDPABuilder) WithScores() *SDPABuilder {
	b.keepScores = true
	return b
}

// WithParallelism computes up to p independent [n, n] problems concurrently.
// Results are identical to the sequential computation.
func (b *SDPABuilder) WithParallelism(p int) *SDPABuilder {
	b.parallelism = p
	return b
}

// Attend runs the kernel with an optional additive mask (nil for full attention).
func Attend(query, key, value, mask *tensor.Tensor) (*Result, error) {
	return ScaledDotProductAttention(query, key, value).WithAdditiveMask(mask).Done()
}

// problem describes the validated shapes of one kernel call.
type problem struct {
	lead      []int // leading (batch, heads) axes
	batch     int   // product of lead
	n, dk, dv int

	mask        *tensor.Tensor
	maskStrides []int // mask strides laid out over the score shape
}

// Done validates the inputs and computes the attention weights and output.
func (b *SDPABuilder) Done() (*Result, error) {
	p, err := b.validate()
	if err != nil {
		return nil, err
	}

	scoreShape := append(append([]int{}, p.lead...), p.n, p.n)
	result := &Result{
		Weights: tensor.NewTensor(scoreShape),
		Output:  tensor.NewTensor(append(append([]int{}, p.lead...), p.n, p.dv)),
	}
	if b.keepScores {
		result.Scores = tensor.NewTensor(scoreShape)
	}

	klog.V(2).InfoS("scaled dot-product attention",
		"lead", p.lead, "seqLen", p.n, "dk", p.dk, "dv", p.dv,
		"masked", p.mask != nil, "parallelism", b.parallelism)

	scale := float32(ScaleFor(p.dk))
	if b.parallelism <= 1 || p.batch == 1 {
		for s := 0; s < p.batch; s++ {
			if err := b.attendSlice(p, s, scale, result); err != nil {
				return nil, err
			}
		}
		return result, nil
	}

	var g errgroup.Group
	g.SetLimit(b.parallelism)
	for s := 0; s < p.batch; s++ {
		g.Go(func() error {
			return b.attendSlice(p, s, scale, result)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// attendSlice runs steps 1-5 for the s-th [n, n] problem. It only writes the
// s-th slices of result.
func (b *SDPABuilder) attendSlice(p *problem, s int, scale float32, result *Result) error {
	n, dk, dv := p.n, p.dk, p.dv
	q := b.query.Data[s*n*dk : (s+1)*n*dk]
	k := b.key.Data[s*n*dk : (s+1)*n*dk]
	v := b.value.Data[s*n*dv : (s+1)*n*dv]
	weights := result.Weights.Data[s*n*n : (s+1)*n*n]

	// Q·Kᵀ, scaled.
	tensor.MatmulInto(weights, q, k, n, dk, n, true)
	for i := range weights {
		weights[i] *= scale
	}

	if p.mask != nil {
		base := p.maskOffset(s)
		rowStride, colStride := p.maskStrides[len(p.maskStrides)-2], p.maskStrides[len(p.maskStrides)-1]
		for i := 0; i < n; i++ {
			row := weights[i*n : (i+1)*n]
			for j := range row {
				row[j] += p.mask.Data[base+i*rowStride+j*colStride]
			}
		}
	}

	if result.Scores != nil {
		copy(result.Scores.Data[s*n*n:(s+1)*n*n], weights)
	}

	for i := 0; i < n; i++ {
		row := weights[i*n : (i+1)*n]
		if slices.ContainsFunc(row, isNaNOrPosInf) {
			return errors.Wrapf(ErrNonFiniteScores, "slice %d row %d holds NaN or +Inf scores", s, i)
		}
		if !tensor.SoftmaxRow(row, row) {
			return errors.Wrapf(ErrFullyMaskedRow, "slice %d row %d has no attendable position", s, i)
		}
	}

	tensor.MatmulInto(result.Output.Data[s*n*dv:(s+1)*n*dv], weights, v, n, n, dv, false)
	return nil
}

// maskOffset returns the mask offset of the s-th problem's [0, 0] score.
func (p *problem) maskOffset(s int) int {
	offset := 0
	for axis := len(p.lead) - 1; axis >= 0; axis-- {
		offset += (s % p.lead[axis]) * p.maskStrides[axis]
		s /= p.lead[axis]
	}
	return offset
}

func (b *SDPABuilder) validate() (*problem, error) {
	q, k, v := b.query, b.key, b.value
	if q == nil || k == nil || v == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "query, key and value must all be set")
	}
	inputs := []struct {
		name string
		x    *tensor.Tensor
	}{{"query", q}, {"key", k}, {"value", v}, {"additive mask", b.additiveMask}, {"boolean mask", b.booleanMask}}
	for _, in := range inputs {
		if in.x != nil && len(in.x.Data) != in.x.Size() {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s holds %d values for shape %v", in.name, len(in.x.Data), in.x.Shape)
		}
	}
	if q.NumDims() < 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "query must be at least 2D [..., n, d_k], got shape %v", q.Shape)
	}
	if k.NumDims() != q.NumDims() || v.NumDims() != q.NumDims() {
		return nil, errors.Wrapf(ErrShapeMismatch, "query %v, key %v and value %v must have the same rank",
			q.Shape, k.Shape, v.Shape)
	}

	rank := q.NumDims()
	lead := q.Shape[:rank-2]
	if !tensor.SameShape(lead, k.Shape[:rank-2]) || !tensor.SameShape(lead, v.Shape[:rank-2]) {
		return nil, errors.Wrapf(ErrShapeMismatch, "leading axes differ: query %v, key %v, value %v",
			q.Shape, k.Shape, v.Shape)
	}
	if q.Dim(-1) != k.Dim(-1) {
		return nil, errors.Wrapf(ErrShapeMismatch, "query d_k %d and key d_k %d differ (query %v, key %v)",
			q.Dim(-1), k.Dim(-1), q.Shape, k.Shape)
	}
	if q.Dim(-2) != k.Dim(-2) || q.Dim(-2) != v.Dim(-2) {
		return nil, errors.Wrapf(ErrShapeMismatch, "sequence lengths differ: query %d, key %d, value %d",
			q.Dim(-2), k.Dim(-2), v.Dim(-2))
	}

	p := &problem{
		lead:  append([]int{}, lead...),
		batch: 1,
		n:     q.Dim(-2),
		dk:    q.Dim(-1),
		dv:    v.Dim(-1),
	}
	for _, d := range lead {
		p.batch *= d
	}
	if p.n == 0 || p.dk == 0 || p.dv == 0 || p.batch == 0 {
		return nil, errors.Wrapf(ErrEmptySequence, "query %v, key %v, value %v: sequence length and feature sizes must be >= 1",
			q.Shape, k.Shape, v.Shape)
	}

	mask, err := b.combinedMask(p.n)
	if err != nil {
		return nil, err
	}
	if mask != nil {
		scoreShape := append(append([]int{}, p.lead...), p.n, p.n)
		if err := checkMaskShape(mask.Shape, scoreShape); err != nil {
			return nil, err
		}
		p.mask = mask
		p.maskStrides = tensor.BroadcastStrides(mask.Shape, scoreShape)
	}
	return p, nil
}

func isNaNOrPosInf(v float32) bool {
	return math.IsNaN(float64(v)) || math.IsInf(float64(v), 1)
}

// combinedMask merges the configured masks into one additive mask, or nil.
func (b *SDPABuilder) combinedMask(n int) (*tensor.Tensor, error) {
	var masks []*tensor.Tensor
	if b.additiveMask != nil {
		for i, v := range b.additiveMask.Data {
			if isNaNOrPosInf(v) {
				return nil, errors.Wrapf(ErrInvalidMask, "additive mask holds %v at flat index %d", v, i)
			}
		}
		masks = append(masks, b.additiveMask)
	}
	if b.booleanMask != nil {
		masks = append(masks, tensor.AdditiveFromBoolean(b.booleanMask))
	}
	if b.causal {
		masks = append(masks, tensor.CausalMask(n))
	}
	if len(masks) == 0 {
		return nil, nil
	}

	mask := masks[0]
	for _, other := range masks[1:] {
		combined, err := tensor.CombineMasks(mask, other)
		if err != nil {
			return nil, errors.Wrapf(ErrMaskShape, "masks %v and %v do not combine: %v", mask.Shape, other.Shape, err)
		}
		mask = combined
	}
	return mask, nil
}

// checkMaskShape accepts mask shapes that broadcast to scoreShape without
// growing it: rank at most that of the scores and, right-aligned, every axis
// equal to the score axis or 1.
func checkMaskShape(maskShape, scoreShape []int) error {
	if len(maskShape) == 0 || len(maskShape) > len(scoreShape) {
		return errors.Wrapf(ErrMaskShape, "mask %v, scores %v", maskShape, scoreShape)
	}
	diff := len(scoreShape) - len(maskShape)
	for i, d := range maskShape {
		if d != 1 && d != scoreShape[i+diff] {
			return errors.Wrapf(ErrMaskShape, "mask %v, scores %v (axis %d)", maskShape, scoreShape, i)
		}
	}
	return nil
}
