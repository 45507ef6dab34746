package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCausalMask(t *testing.T) {
	seqLen := 4
	mask := CausalMask(seqLen)
	require.Equal(t, []int{seqLen, seqLen}, mask.Shape)

	for i := 0; i < seqLen; i++ {
		for j := 0; j < seqLen; j++ {
			v := float64(mask.Get(i, j))
			if j <= i {
				assert.Zero(t, v, "mask[%d,%d]", i, j)
			} else {
				assert.True(t, math.IsInf(v, -1), "mask[%d,%d] = %v", i, j, v)
			}
		}
	}
}

func TestPaddingMask(t *testing.T) {
	mask, err := PaddingMask(3, []int{3, 1})
	require.NoError(t, err)
	require.Equal(t, []int{2, 1, 1, 3}, mask.Shape)
	assert.Equal(t, []float32{0, 0, 0}, mask.Data[:3])
	assert.Equal(t, []float32{0, MaskedValue, MaskedValue}, mask.Data[3:])

	_, err = PaddingMask(3, []int{4})
	require.Error(t, err)
	_, err = PaddingMask(3, []int{0})
	require.Error(t, err)
}

func TestAdditiveFromBoolean(t *testing.T) {
	boolean := MustFromSlice([]float32{1, 0, 1, 1}, []int{2, 2})
	additive := AdditiveFromBoolean(boolean)
	assert.Equal(t, []float32{0, MaskedValue, 0, 0}, additive.Data)
	assert.Equal(t, []float32{1, 0, 1, 1}, boolean.Data)
}

func TestCombineMasks(t *testing.T) {
	padding, err := PaddingMask(3, []int{2})
	require.NoError(t, err)
	combined, err := CombineMasks(padding, CausalMask(3))
	require.NoError(t, err)
	require.Equal(t, []int{1, 1, 3, 3}, combined.Shape)

	// Row 2 keeps positions 0 and 1: causal allows all three, padding drops 2.
	assert.Equal(t, []float32{0, 0, MaskedValue}, combined.Row(0, 0, 2))
	// Row 0 only keeps position 0.
	assert.Equal(t, []float32{0, MaskedValue, MaskedValue}, combined.Row(0, 0, 0))

	_, err = CombineMasks(CausalMask(3), CausalMask(2))
	require.Error(t, err)
}
