package tensor

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatmul(t *testing.T) {
	tests := []struct {
		name     string
		a, b     *Tensor
		expected *Tensor
	}{
		{
			name:     "2D",
			a:        MustFromSlice([]float32{1, 2, 3, 4}, []int{2, 2}),
			b:        MustFromSlice([]float32{5, 6, 7, 8}, []int{2, 2}),
			expected: MustFromSlice([]float32{19, 22, 43, 50}, []int{2, 2}),
		},
		{
			name:     "rectangular",
			a:        MustFromSlice([]float32{1, 2, 3, 4, 5, 6}, []int{2, 3}),
			b:        MustFromSlice([]float32{1, 0, 0, 1, 1, 1}, []int{3, 2}),
			expected: MustFromSlice([]float32{4, 5, 10, 11}, []int{2, 2}),
		},
		{
			name:     "3D @ 2D broadcast",
			a:        MustFromSlice([]float32{1, 2, 3, 4, 5, 6, 7, 8}, []int{2, 2, 2}),
			b:        MustFromSlice([]float32{1, 0, 0, 2}, []int{2, 2}),
			expected: MustFromSlice([]float32{1, 4, 3, 8, 5, 12, 7, 16}, []int{2, 2, 2}),
		},
		{
			name:     "batched",
			a:        MustFromSlice([]float32{1, 2, 3, 4}, []int{2, 1, 2}),
			b:        MustFromSlice([]float32{1, 1, 2, 2}, []int{2, 2, 1}),
			expected: MustFromSlice([]float32{3, 14}, []int{2, 1, 1}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Matmul(tt.a, tt.b)
			require.NoError(t, err)
			assert.True(t, got.Equals(tt.expected, 1e-6), "got %s, want %s", got, tt.expected)
		})
	}
}

func TestMatmulTransposed(t *testing.T) {
	a := MustFromSlice([]float32{1, 2, 3, 4, 5, 6}, []int{2, 3})
	b := MustFromSlice([]float32{1, 0, 1, 0, 1, 0, 2, 2, 2}, []int{3, 3})

	bt, err := b.Transpose(0, 1)
	require.NoError(t, err)
	want, err := Matmul(a, bt)
	require.NoError(t, err)

	got, err := MatmulTransposed(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, got.Shape)
	assert.True(t, got.Equals(want, 1e-6))
	assert.Equal(t, []float32{4, 2, 12, 10, 5, 30}, got.Data)
}

func TestMatmulErrors(t *testing.T) {
	_, err := Matmul(NewTensor([]int{3}), NewTensor([]int{3, 3}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShape))

	_, err = Matmul(NewTensor([]int{2, 3}), NewTensor([]int{2, 3}))
	require.Error(t, err)

	_, err = Matmul(NewTensor([]int{2, 2, 3}), NewTensor([]int{3, 3, 1}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch dimensions")
}

func TestMatmulDoesNotMutateInputs(t *testing.T) {
	a := MustFromSlice([]float32{1, 2, 3, 4}, []int{2, 2})
	b := MustFromSlice([]float32{5, 6, 7, 8}, []int{2, 2})
	aCopy, bCopy := a.Clone(), b.Clone()
	_, err := Matmul(a, b)
	require.NoError(t, err)
	assert.Equal(t, aCopy.Data, a.Data)
	assert.Equal(t, bCopy.Data, b.Data)
}

func TestScale(t *testing.T) {
	x := MustFromSlice([]float32{1, -2, 4}, []int{3})
	y := x.Scale(0.5)
	assert.Equal(t, []float32{0.5, -1, 2}, y.Data)
	assert.Equal(t, []float32{1, -2, 4}, x.Data)
}

func BenchmarkMatmul(b *testing.B) {
	x := NewTensor([]int{8, 128, 64})
	w := NewTensor([]int{64, 64})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Matmul(x, w); err != nil {
			b.Fatal(err)
		}
	}
}
