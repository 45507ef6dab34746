package model

import (
	"math"
	"math/rand"

	"github.com/stefanvulpe-dev/ML/pkg/tensor"
)

// NewRand returns a deterministic generator for weight and input initialisation.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// NormalInit fills t with values drawn from N(0, std^2).
func NormalInit(t *tensor.Tensor, std float32, rng *rand.Rand) {
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64()) * std
	}
}

// RandomNormal returns a new tensor of the given shape filled from N(0, 1),
// the equivalent of the walkthrough's randn inputs.
func RandomNormal(shape []int, rng *rand.Rand) *tensor.Tensor {
	t := tensor.NewTensor(shape)
	NormalInit(t, 1, rng)
	return t
}

// XavierUniform fills t with Xavier/Glorot uniform values,
// U[-limit, limit] with limit = sqrt(6 / (fan_in + fan_out)) over the last two axes.
func XavierUniform(t *tensor.Tensor, rng *rand.Rand) {
	if len(t.Shape) < 2 {
		for i := range t.Data {
			t.Data[i] = float32(rng.Float64()*2 - 1)
		}
		return
	}

	fanIn := t.Dim(-2)
	fanOut := t.Dim(-1)
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range t.Data {
		t.Data[i] = float32(rng.Float64()*2*limit - limit)
	}
}
