package attention

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanvulpe-dev/ML/pkg/tensor"
)

func arange(shape ...int) *tensor.Tensor {
	t := tensor.NewTensor(shape)
	for i := range t.Data {
		t.Data[i] = float32(i)
	}
	return t
}

func TestSplitMergeHeads(t *testing.T) {
	batch, seq, dModel, numHeads := 2, 3, 8, 2
	headDim := dModel / numHeads
	x := arange(batch, seq, dModel)

	heads, err := SplitHeads(x, numHeads)
	require.NoError(t, err)
	require.Equal(t, []int{batch, numHeads, seq, headDim}, heads.Shape)
	for b := 0; b < batch; b++ {
		for h := 0; h < numHeads; h++ {
			for s := 0; s < seq; s++ {
				for j := 0; j < headDim; j++ {
					require.Equal(t, x.Get(b, s, h*headDim+j), heads.Get(b, h, s, j))
				}
			}
		}
	}

	merged, err := MergeHeads(heads)
	require.NoError(t, err)
	assert.Equal(t, x.Shape, merged.Shape)
	assert.Equal(t, x.Data, merged.Data)
}

func TestSplitHeadsUnbatched(t *testing.T) {
	x := arange(3, 8)
	heads, err := SplitHeads(x, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3, 2}, heads.Shape)
	assert.Equal(t, []float32{2, 3}, heads.Row(1, 0))

	merged, err := MergeHeads(heads)
	require.NoError(t, err)
	assert.Equal(t, x.Data, merged.Data)
}

func TestSplitHeadsErrors(t *testing.T) {
	_, err := SplitHeads(nil, 2)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = SplitHeads(tensor.NewTensor([]int{2, 3, 7}), 2)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	_, err = SplitHeads(tensor.NewTensor([]int{8}), 2)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	_, err = MergeHeads(tensor.NewTensor([]int{2, 3}))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestSplitFusedQKV(t *testing.T) {
	seq, dModel, numHeads := 2, 8, 2
	headDim := dModel / numHeads
	qkv := arange(1, seq, 3*dModel)

	q, k, v, err := SplitFusedQKV(qkv, numHeads)
	require.NoError(t, err)
	for _, part := range []*tensor.Tensor{q, k, v} {
		require.Equal(t, []int{1, numHeads, seq, headDim}, part.Shape)
	}

	// Each head owns a contiguous [q | k | v] chunk of 3*head_dim.
	for h := 0; h < numHeads; h++ {
		for s := 0; s < seq; s++ {
			for j := 0; j < headDim; j++ {
				base := h * 3 * headDim
				require.Equal(t, qkv.Get(0, s, base+j), q.Get(0, h, s, j))
				require.Equal(t, qkv.Get(0, s, base+headDim+j), k.Get(0, h, s, j))
				require.Equal(t, qkv.Get(0, s, base+2*headDim+j), v.Get(0, h, s, j))
			}
		}
	}

	_, _, _, err = SplitFusedQKV(tensor.NewTensor([]int{1, 2, 16}), 2)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	_, _, _, err = SplitFusedQKV(tensor.NewTensor([]int{2, 24}), 2)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}
