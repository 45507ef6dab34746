package tensor

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Matmul performs matrix multiplication on the last two dimensions.
// For tensors of shape (..., m, n) and (..., n, p), returns (..., m, p).
// A 2D operand is broadcast against the leading dimensions of the other one.
func Matmul(a, b *Tensor) (*Tensor, error) {
	return matmul(a, b, false)
}

// MatmulTransposed computes a @ bᵀ on the last two dimensions without
// materialising the transpose: (..., m, n) and (..., p, n) give (..., m, p).
func MatmulTransposed(a, b *Tensor) (*Tensor, error) {
	return matmul(a, b, true)
}

func matmul(a, b *Tensor, transB bool) (*Tensor, error) {
	if len(a.Shape) < 2 || len(b.Shape) < 2 {
		return nil, errors.Wrapf(ErrShape, "matmul requires at least 2D tensors, got %dD and %dD",
			len(a.Shape), len(b.Shape))
	}

	m, n := a.Dim(-2), a.Dim(-1)
	kB, p := b.Dim(-2), b.Dim(-1)
	if transB {
		kB, p = p, kB
	}
	if n != kB {
		return nil, errors.Wrapf(ErrShape, "incompatible shapes for matmul: %v and %v (inner dimensions %d and %d don't match)",
			a.Shape, b.Shape, n, kB)
	}

	aBatch, bBatch := a.Shape[:len(a.Shape)-2], b.Shape[:len(b.Shape)-2]
	var batchDims []int
	switch {
	case len(bBatch) == 0:
		batchDims = aBatch
	case len(aBatch) == 0:
		batchDims = bBatch
	case SameShape(aBatch, bBatch):
		batchDims = aBatch
	default:
		return nil, errors.Wrapf(ErrShape, "incompatible batch dimensions for matmul: %v and %v", a.Shape, b.Shape)
	}

	resultShape := append(copyShape(batchDims), m, p)
	result := NewTensor(resultShape)
	batchSize := numElements(batchDims)
	aStep, bStep := m*n, n*p
	if len(aBatch) == 0 {
		aStep = 0
	}
	if len(bBatch) == 0 {
		bStep = 0
	}

	for batch := 0; batch < batchSize; batch++ {
		MatmulInto(result.Data[batch*m*p:(batch+1)*m*p],
			a.Data[batch*aStep:batch*aStep+m*n],
			b.Data[batch*bStep:batch*bStep+n*p],
			m, n, p, transB)
	}
	return result, nil
}

// MatmulInto writes the (m, p) product of the row-major (m, n) matrix a and the
// row-major (n, p) matrix b into dst. With transB, b is read as a row-major
// (p, n) matrix and used transposed.
func MatmulInto(dst, a, b []float32, m, n, p int, transB bool) {
	if m == 0 || p == 0 {
		return
	}
	if n == 0 {
		clear(dst[:m*p])
		return
	}

	bGeneral := blas32.General{Rows: n, Cols: p, Stride: p, Data: b}
	tB := blas.NoTrans
	if transB {
		bGeneral = blas32.General{Rows: p, Cols: n, Stride: n, Data: b}
		tB = blas.Trans
	}
	blas32.Gemm(blas.NoTrans, tB, 1,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: a},
		bGeneral,
		0,
		blas32.General{Rows: m, Cols: p, Stride: p, Data: dst})
}

func scaleInPlace(data []float32, scalar float32) {
	if len(data) == 0 {
		return
	}
	blas32.Scal(scalar, blas32.Vector{N: len(data), Inc: 1, Data: data})
}
