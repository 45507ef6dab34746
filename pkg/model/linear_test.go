package model

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanvulpe-dev/ML/pkg/tensor"
)

func TestNewLinear(t *testing.T) {
	l := NewLinear(6, 4, true, NewRand(0))
	assert.Equal(t, 6, l.InFeatures())
	assert.Equal(t, 4, l.OutFeatures())
	require.NotNil(t, l.Bias)
	assert.Equal(t, []int{4}, l.Bias.Shape)

	limit := float32(math.Sqrt(6.0 / 10))
	for _, w := range l.Weight.Data {
		assert.LessOrEqual(t, w, limit)
		assert.GreaterOrEqual(t, w, -limit)
	}

	assert.Nil(t, NewLinear(6, 4, false, NewRand(0)).Bias)
}

func TestLinearForward(t *testing.T) {
	l := &Linear{
		Weight: tensor.MustFromSlice([]float32{1, 0, 0, 1, 1, 1}, []int{3, 2}),
		Bias:   tensor.MustFromSlice([]float32{0.5, -0.5}, []int{2}),
	}
	x := tensor.MustFromSlice([]float32{1, 2, 3, 4, 5, 6}, []int{1, 2, 3})

	y, err := l.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2}, y.Shape)
	assert.Equal(t, []float32{4.5, 4.5, 10.5, 10.5}, y.Data)

	l.Bias = nil
	y, err = l.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 5, 10, 11}, y.Data)
}

func TestLinearForwardInvalidInput(t *testing.T) {
	l := NewLinear(3, 2, false, NewRand(0))

	_, err := l.Forward(tensor.NewTensor([]int{3}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, tensor.ErrShape))

	_, err = l.Forward(tensor.NewTensor([]int{2, 4}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, tensor.ErrShape))
}

func TestRandomNormalIsSeeded(t *testing.T) {
	a := RandomNormal([]int{4, 8}, NewRand(42))
	b := RandomNormal([]int{4, 8}, NewRand(42))
	c := RandomNormal([]int{4, 8}, NewRand(43))
	assert.Equal(t, a.Data, b.Data)
	assert.NotEqual(t, a.Data, c.Data)
}
