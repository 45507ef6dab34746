package attention

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanvulpe-dev/ML/pkg/model"
	"github.com/stefanvulpe-dev/ML/pkg/tensor"
)

func smallConfig() model.Config {
	return model.Config{EmbeddingDim: 8, NumHeads: 2, Causal: true, QKVBias: true}
}

func TestNewMultiHeadAttention(t *testing.T) {
	mha, err := NewMultiHeadAttention(model.DefaultConfig(), model.NewRand(0))
	require.NoError(t, err)
	assert.Equal(t, 8, mha.NumHeads)
	assert.Equal(t, 64, mha.HeadDim)
	assert.Equal(t, []int{512, 1536}, mha.QKV.Weight.Shape)
	assert.Equal(t, []int{512, 512}, mha.OutProj.Weight.Shape)

	_, err = NewMultiHeadAttention(model.Config{EmbeddingDim: 10, NumHeads: 3}, model.NewRand(0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))
}

func TestMultiHeadForward(t *testing.T) {
	rng := model.NewRand(21)
	mha, err := NewMultiHeadAttention(smallConfig(), rng)
	require.NoError(t, err)

	batch, seq := 2, 5
	x := model.RandomNormal([]int{batch, seq, 8}, rng)
	xc := x.Clone()
	res, err := mha.Forward(x, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{batch, seq, 8}, res.Output.Shape)
	assert.Equal(t, []int{batch, 2, seq, seq}, res.Weights.Shape)
	assert.Equal(t, []int{batch, 2, seq, 4}, res.Values.Shape)
	assert.False(t, res.Output.HasNaN())
	assert.Equal(t, xc.Data, x.Data)
	requireRowsSumToOne(t, res.Weights)
	requireCausal(t, res.Weights)
}

// Each head must match the kernel run on that head's slice of the fused projection.
func TestMultiHeadMatchesPerHeadKernel(t *testing.T) {
	rng := model.NewRand(4)
	cfg := smallConfig()
	mha, err := NewMultiHeadAttention(cfg, rng)
	require.NoError(t, err)

	seq, headDim := 3, cfg.HeadDimension()
	x := model.RandomNormal([]int{1, seq, cfg.EmbeddingDim}, rng)
	res, err := mha.Forward(x, nil)
	require.NoError(t, err)

	qkv, err := mha.QKV.Forward(x)
	require.NoError(t, err)
	for h := 0; h < cfg.NumHeads; h++ {
		q := tensor.NewTensor([]int{seq, headDim})
		k := tensor.NewTensor([]int{seq, headDim})
		v := tensor.NewTensor([]int{seq, headDim})
		for s := 0; s < seq; s++ {
			for j := 0; j < headDim; j++ {
				base := h * 3 * headDim
				q.Set(qkv.Get(0, s, base+j), s, j)
				k.Set(qkv.Get(0, s, base+headDim+j), s, j)
				v.Set(qkv.Get(0, s, base+2*headDim+j), s, j)
			}
		}
		head, err := Attend(q, k, v, tensor.CausalMask(seq))
		require.NoError(t, err)
		for s := 0; s < seq; s++ {
			for j := 0; j < headDim; j++ {
				assert.InDelta(t, head.Output.Get(s, j), res.Values.Get(0, h, s, j), 1e-5)
			}
		}
	}
}

func TestMultiHeadMask(t *testing.T) {
	rng := model.NewRand(8)
	cfg := smallConfig()
	cfg.Causal = false
	mha, err := NewMultiHeadAttention(cfg, rng)
	require.NoError(t, err)

	x := model.RandomNormal([]int{2, 4, 8}, rng)
	full, err := mha.Forward(x, nil)
	require.NoError(t, err)
	// Without a mask and without causality, position 0 sees the future.
	assert.NotZero(t, full.Weights.Get(0, 0, 0, 3))

	padding, err := tensor.PaddingMask(4, []int{4, 1})
	require.NoError(t, err)
	masked, err := mha.Forward(x, padding)
	require.NoError(t, err)
	for h := 0; h < cfg.NumHeads; h++ {
		for i := 0; i < 4; i++ {
			assert.InDelta(t, 1, masked.Weights.Get(1, h, i, 0), 1e-6)
		}
	}

	_, err = mha.Forward(x, tensor.CausalMask(3))
	assert.True(t, errors.Is(err, ErrMaskShape))
}

func TestMultiHeadParallelism(t *testing.T) {
	cfg := smallConfig()
	x := model.RandomNormal([]int{3, 6, 8}, model.NewRand(99))

	sequential, err := NewMultiHeadAttention(cfg, model.NewRand(1))
	require.NoError(t, err)
	cfg.Parallelism = 4
	parallel, err := NewMultiHeadAttention(cfg, model.NewRand(1))
	require.NoError(t, err)

	want, err := sequential.Forward(x, nil)
	require.NoError(t, err)
	got, err := parallel.Forward(x, nil)
	require.NoError(t, err)
	assert.Equal(t, want.Output.Data, got.Output.Data)
	assert.Equal(t, want.Weights.Data, got.Weights.Data)
}

func TestMultiHeadForwardErrors(t *testing.T) {
	mha, err := NewMultiHeadAttention(smallConfig(), model.NewRand(0))
	require.NoError(t, err)

	_, err = mha.Forward(nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = mha.Forward(tensor.NewTensor([]int{4, 8}), nil)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	_, err = mha.Forward(tensor.NewTensor([]int{1, 4, 6}), nil)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	_, err = mha.Forward(tensor.NewTensor([]int{1, 0, 8}), nil)
	assert.True(t, errors.Is(err, ErrEmptySequence))
}

func BenchmarkMultiHeadForward(b *testing.B) {
	rng := model.NewRand(0)
	cfg := model.DefaultConfig()
	cfg.Parallelism = 8
	mha, err := NewMultiHeadAttention(cfg, rng)
	if err != nil {
		b.Fatal(err)
	}
	x := model.RandomNormal([]int{2, 64, cfg.EmbeddingDim}, rng)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := mha.Forward(x, nil); err != nil {
			b.Fatal(err)
		}
	}
}
