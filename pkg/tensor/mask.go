package tensor

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// MaskedValue is the additive mask value for a disallowed position.
	MaskedValue = float32(math.Inf(-1))

	// FiniteMaskedValue is a finite stand-in for MaskedValue. After softmax it
	// leaves a weight of at most exp(-1e9) on masked positions, which underflows
	// to 0 in float32 whenever an unmasked score exists in the same row.
	FiniteMaskedValue = float32(-1e9)
)

// CausalMask creates the additive causal mask of shape (seqLen, seqLen):
// 0 where j <= i and MaskedValue above the diagonal, so position i only
// attends to positions <= i.
func CausalMask(seqLen int) *Tensor {
	mask := NewTensor([]int{seqLen, seqLen})
	for i := 0; i < seqLen; i++ {
		for j := i + 1; j < seqLen; j++ {
			mask.Data[i*seqLen+j] = MaskedValue
		}
	}
	return mask
}

// PaddingMask creates an additive key-padding mask of shape (batch, 1, 1, seqLen)
// for validLengths[b] real tokens per batch entry. It broadcasts over heads and
// query positions of (batch, heads, seq, seq) scores.
func PaddingMask(seqLen int, validLengths []int) (*Tensor, error) {
	mask := NewTensor([]int{len(validLengths), 1, 1, seqLen})
	for b, valid := range validLengths {
		if valid < 1 || valid > seqLen {
			return nil, errors.Wrapf(ErrShape, "valid length %d for batch entry %d outside [1, %d]",
				valid, b, seqLen)
		}
		for j := valid; j < seqLen; j++ {
			mask.Data[b*seqLen+j] = MaskedValue
		}
	}
	return mask, nil
}

// AdditiveFromBoolean converts a 0/1 mask (non-zero = attend) into an additive
// mask of the same shape.
func AdditiveFromBoolean(mask *Tensor) *Tensor {
	result := NewTensor(mask.Shape)
	for i, v := range mask.Data {
		if v == 0 {
			result.Data[i] = MaskedValue
		}
	}
	return result
}

// CombineMasks adds two additive masks with broadcasting. A position masked in
// either input is masked in the result.
func CombineMasks(a, b *Tensor) (*Tensor, error) {
	combined, err := Add(a, b)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to combine masks")
	}
	return combined, nil
}
