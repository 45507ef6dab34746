// Package tensor provides the dense float32 tensor used by the attention kernel,
// the mask utilities and the multi-head layer.
//
// Data is stored row-major in a flat slice. Shapes are validated at every public
// entry point; shape problems are returned as errors rather than panics, except
// for the Must* and Reshape helpers meant for literals and tests.
package tensor

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// ErrShape is wrapped by every shape-related error returned by this package.
var ErrShape = errors.New("tensor shape error")

// Tensor represents a multi-dimensional array of float32 values.
type Tensor struct {
	Data    []float32 // Flattened data storage
	Shape   []int     // Dimensions (e.g., [batch, heads, seq, dim])
	Strides []int     // Precomputed row-major strides
}

// NewTensor creates a new tensor with the given shape, initialized to zeros.
func NewTensor(shape []int) *Tensor {
	return &Tensor{
		Data:    make([]float32, numElements(shape)),
		Shape:   copyShape(shape),
		Strides: stridesFor(shape),
	}
}

// FromSlice creates a tensor from a copy of data with the given shape.
func FromSlice(data []float32, shape []int) (*Tensor, error) {
	if err := checkDims(shape); err != nil {
		return nil, err
	}
	if expected := numElements(shape); len(data) != expected {
		return nil, errors.Wrapf(ErrShape, "data size %d does not match shape %v (expected %d elements)",
			len(data), shape, expected)
	}

	dataCopy := make([]float32, len(data))
	copy(dataCopy, data)
	return &Tensor{
		Data:    dataCopy,
		Shape:   copyShape(shape),
		Strides: stridesFor(shape),
	}, nil
}

// MustFromSlice is FromSlice for literals: it panics on a size mismatch.
func MustFromSlice(data []float32, shape []int) *Tensor {
	t, err := FromSlice(data, shape)
	if err != nil {
		panic(err)
	}
	return t
}

// FromRows builds a 2D tensor from equally sized rows.
func FromRows(rows [][]float32) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, errors.Wrap(ErrShape, "no rows given")
	}
	cols := len(rows[0])
	t := NewTensor([]int{len(rows), cols})
	for i, row := range rows {
		if len(row) != cols {
			return nil, errors.Wrapf(ErrShape, "row %d has %d columns, expected %d", i, len(row), cols)
		}
		copy(t.Data[i*cols:(i+1)*cols], row)
	}
	return t, nil
}

// View returns a tensor with a different shape sharing the same underlying data.
func (t *Tensor) View(newShape []int) (*Tensor, error) {
	if err := checkDims(newShape); err != nil {
		return nil, err
	}
	if newSize := numElements(newShape); newSize != len(t.Data) {
		return nil, errors.Wrapf(ErrShape, "cannot view tensor of size %d as shape %v (total size %d)",
			len(t.Data), newShape, newSize)
	}

	return &Tensor{
		Data:    t.Data,
		Shape:   copyShape(newShape),
		Strides: stridesFor(newShape),
	}, nil
}

// Reshape returns a view with a different shape (same underlying data).
// It panics if the sizes differ.
func (t *Tensor) Reshape(newShape []int) *Tensor {
	result, err := t.View(newShape)
	if err != nil {
		panic(err)
	}
	return result
}

// Transpose exchanges two dimensions of the tensor, returning a new contiguous tensor.
func (t *Tensor) Transpose(dim1, dim2 int) (*Tensor, error) {
	rank := len(t.Shape)
	if dim1 < 0 || dim1 >= rank || dim2 < 0 || dim2 >= rank {
		return nil, errors.Wrapf(ErrShape, "invalid transpose dimensions %d and %d for tensor with %d dimensions",
			dim1, dim2, rank)
	}
	if dim1 == dim2 {
		return t.Clone(), nil
	}

	newShape := copyShape(t.Shape)
	newShape[dim1], newShape[dim2] = newShape[dim2], newShape[dim1]
	result := NewTensor(newShape)

	// Destination strides permuted back to source axis order: walking the
	// source in row-major order, each source axis advances the destination by
	// the stride of the axis it was swapped into.
	dstStrides := copyShape(result.Strides)
	dstStrides[dim1], dstStrides[dim2] = dstStrides[dim2], dstStrides[dim1]

	indices := make([]int, rank)
	dstIdx := 0
	for srcIdx := range t.Data {
		result.Data[dstIdx] = t.Data[srcIdx]
		for axis := rank - 1; axis >= 0; axis-- {
			indices[axis]++
			dstIdx += dstStrides[axis]
			if indices[axis] < t.Shape[axis] {
				break
			}
			dstIdx -= indices[axis] * dstStrides[axis]
			indices[axis] = 0
		}
	}
	return result, nil
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	return numElements(t.Shape)
}

// NumDims returns the number of dimensions (rank) of the tensor.
func (t *Tensor) NumDims() int {
	return len(t.Shape)
}

// Dim returns the size of axis. Negative axes count from the end.
func (t *Tensor) Dim(axis int) int {
	if axis < 0 {
		axis += len(t.Shape)
	}
	return t.Shape[axis]
}

// FlatIndex converts multi-dimensional indices to a flat index.
func (t *Tensor) FlatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("indices length %d does not match shape dimensions %d",
			len(indices), len(t.Shape)))
	}

	idx := 0
	for i := range t.Shape {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d with size %d",
				indices[i], i, t.Shape[i]))
		}
		idx += indices[i] * t.Strides[i]
	}
	return idx
}

// Get retrieves a value at the specified indices.
func (t *Tensor) Get(indices ...int) float32 {
	return t.Data[t.FlatIndex(indices)]
}

// Set sets a value at the specified indices.
func (t *Tensor) Set(value float32, indices ...int) {
	t.Data[t.FlatIndex(indices)] = value
}

// Row returns the last-axis vector at the given leading indices, sharing storage.
func (t *Tensor) Row(indices ...int) []float32 {
	if len(indices) != len(t.Shape)-1 {
		panic(fmt.Sprintf("row needs %d indices, got %d", len(t.Shape)-1, len(indices)))
	}
	start := t.FlatIndex(append(append([]int{}, indices...), 0))
	return t.Data[start : start+t.Shape[len(t.Shape)-1]]
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return MustFromSlice(t.Data, t.Shape)
}

// ShapeString returns a string representation of the shape.
func (t *Tensor) ShapeString() string {
	return fmt.Sprintf("%v", t.Shape)
}

// Equals checks if two tensors have the same shape and approximately equal values.
// NaNs never compare equal.
func (t *Tensor) Equals(other *Tensor, tolerance float32) bool {
	if !t.ShapeEquals(other) {
		return false
	}
	for i := range t.Data {
		a, b := t.Data[i], other.Data[i]
		if a == b {
			continue // covers matching infinities
		}
		if math.Abs(float64(a-b)) > float64(tolerance) || a != a || b != b {
			return false
		}
	}
	return true
}

// ShapeEquals checks if two tensors have the same shape.
func (t *Tensor) ShapeEquals(other *Tensor) bool {
	return SameShape(t.Shape, other.Shape)
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HasNaN reports whether any element is NaN.
func (t *Tensor) HasNaN() bool {
	for _, v := range t.Data {
		if v != v {
			return true
		}
	}
	return false
}

// Bytes returns the storage size of the tensor data.
func (t *Tensor) Bytes() int {
	return 4 * len(t.Data)
}

// Scale returns a new tensor with every element multiplied by scalar.
func Scale(t *Tensor, scalar float32) *Tensor {
	result := t.Clone()
	scaleInPlace(result.Data, scalar)
	return result
}

// Scale multiplies all elements by a scalar (method form of Scale).
func (t *Tensor) Scale(s float32) *Tensor {
	return Scale(t, s)
}

// Softmax applies softmax along the specified dimension.
//
// The row maximum is subtracted before exponentiating. Exponentials are summed in
// float64. A slice whose values are all -Inf has no defined distribution and is
// filled with NaN; callers that must reject such rows check beforehand.
func Softmax(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 {
		dim += len(t.Shape)
	}
	if dim < 0 || dim >= len(t.Shape) {
		return nil, errors.Wrapf(ErrShape, "invalid dimension %d for tensor with %d dimensions", dim, len(t.Shape))
	}

	result := NewTensor(t.Shape)
	size := t.Shape[dim]
	if size == 0 {
		return result, nil
	}
	stride := t.Strides[dim]
	outer := len(t.Data) / (size * stride)
	scratch := make([]float64, size)

	for o := 0; o < outer; o++ {
		for inner := 0; inner < stride; inner++ {
			base := o*size*stride + inner
			softmaxStrided(result.Data[base:], t.Data[base:], size, stride, scratch)
		}
	}
	return result, nil
}

// SoftmaxRow writes softmax(src) into dst. Both slices have the same length.
// It returns false, filling dst with NaN, when src has no finite maximum:
// every value is -Inf, or some value is NaN or +Inf.
func SoftmaxRow(dst, src []float32) bool {
	return softmaxStrided(dst, src, len(src), 1, make([]float64, len(src)))
}

func softmaxStrided(dst, src []float32, size, stride int, scratch []float64) bool {
	maxVal := math.Inf(-1)
	finite := true
	for i := 0; i < size; i++ {
		v := float64(src[i*stride])
		if math.IsNaN(v) || math.IsInf(v, 1) {
			finite = false
			break
		}
		if v > maxVal {
			maxVal = v
		}
	}
	if !finite || math.IsInf(maxVal, -1) {
		nan := float32(math.NaN())
		for i := 0; i < size; i++ {
			dst[i*stride] = nan
		}
		return false
	}

	var sum float64
	for i := 0; i < size; i++ {
		e := math.Exp(float64(src[i*stride]) - maxVal)
		scratch[i] = e
		sum += e
	}
	for i := 0; i < size; i++ {
		dst[i*stride] = float32(scratch[i] / sum)
	}
	return true
}

// Add performs element-wise addition with broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	return elementWiseOp(a, b, func(x, y float32) float32 { return x + y })
}

// Mul performs element-wise multiplication with broadcasting.
func Mul(a, b *Tensor) (*Tensor, error) {
	return elementWiseOp(a, b, func(x, y float32) float32 { return x * y })
}

func elementWiseOp(a, b *Tensor, op func(float32, float32) float32) (*Tensor, error) {
	outShape, err := BroadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, err
	}

	result := NewTensor(outShape)
	if SameShape(a.Shape, b.Shape) {
		for i := range result.Data {
			result.Data[i] = op(a.Data[i], b.Data[i])
		}
		return result, nil
	}

	aStrides := BroadcastStrides(a.Shape, outShape)
	bStrides := BroadcastStrides(b.Shape, outShape)
	indices := make([]int, len(outShape))
	aIdx, bIdx := 0, 0
	for i := range result.Data {
		result.Data[i] = op(a.Data[aIdx], b.Data[bIdx])
		for axis := len(outShape) - 1; axis >= 0; axis-- {
			indices[axis]++
			aIdx += aStrides[axis]
			bIdx += bStrides[axis]
			if indices[axis] < outShape[axis] {
				break
			}
			aIdx -= indices[axis] * aStrides[axis]
			bIdx -= indices[axis] * bStrides[axis]
			indices[axis] = 0
		}
	}
	return result, nil
}

// BroadcastShapes computes the broadcasted shape of two shapes, aligning them on
// the right. Axes must be equal or one of them must be 1.
func BroadcastShapes(a, b []int) ([]int, error) {
	maxLen := max(len(a), len(b))
	result := make([]int, maxLen)

	for i := 0; i < maxLen; i++ {
		dimA, dimB := 1, 1
		if i < len(a) {
			dimA = a[len(a)-1-i]
		}
		if i < len(b) {
			dimB = b[len(b)-1-i]
		}
		if dimA != dimB && dimA != 1 && dimB != 1 {
			return nil, errors.Wrapf(ErrShape, "cannot broadcast shapes %v and %v: incompatible dimensions %d and %d",
				a, b, dimA, dimB)
		}
		result[maxLen-1-i] = max(dimA, dimB)
	}
	return result, nil
}

// BroadcastStrides returns the strides of a row-major inShape laid out over
// outShape (right-aligned), with 0 on broadcast axes.
func BroadcastStrides(inShape, outShape []int) []int {
	inStrides := stridesFor(inShape)
	strides := make([]int, len(outShape))
	diff := len(outShape) - len(inShape)
	for i := range inShape {
		if inShape[i] != 1 {
			strides[i+diff] = inStrides[i]
		}
	}
	return strides
}

// Split cuts the tensor into parts equal chunks along dim.
func Split(t *Tensor, dim, parts int) ([]*Tensor, error) {
	if dim < 0 {
		dim += len(t.Shape)
	}
	if dim < 0 || dim >= len(t.Shape) {
		return nil, errors.Wrapf(ErrShape, "invalid dimension %d for tensor with %d dimensions", dim, len(t.Shape))
	}
	if parts <= 0 || t.Shape[dim]%parts != 0 {
		return nil, errors.Wrapf(ErrShape, "dimension %d of size %d cannot be split into %d equal parts",
			dim, t.Shape[dim], parts)
	}

	chunk := t.Shape[dim] / parts
	chunkShape := copyShape(t.Shape)
	chunkShape[dim] = chunk
	outer := numElements(t.Shape[:dim])
	block := chunk * t.Strides[dim] // contiguous run per outer index and part
	span := t.Shape[dim] * t.Strides[dim]

	results := make([]*Tensor, parts)
	for p := range results {
		results[p] = NewTensor(chunkShape)
		for o := 0; o < outer; o++ {
			src := t.Data[o*span+p*block : o*span+(p+1)*block]
			copy(results[p].Data[o*block:(o+1)*block], src)
		}
	}
	return results, nil
}

// Concatenate concatenates tensors along a dimension.
func Concatenate(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.Wrap(ErrShape, "cannot concatenate empty list of tensors")
	}
	rank := len(tensors[0].Shape)
	if dim < 0 {
		dim += rank
	}
	if dim < 0 || dim >= rank {
		return nil, errors.Wrapf(ErrShape, "invalid dimension %d for tensor with %d dimensions", dim, rank)
	}

	outShape := copyShape(tensors[0].Shape)
	outShape[dim] = 0
	for i, t := range tensors {
		if len(t.Shape) != rank {
			return nil, errors.Wrapf(ErrShape, "tensor %d has %d dimensions, expected %d", i, len(t.Shape), rank)
		}
		for j := range outShape {
			if j != dim && t.Shape[j] != outShape[j] {
				return nil, errors.Wrapf(ErrShape, "tensor %d has shape %v, incompatible with %v at dimension %d",
					i, t.Shape, tensors[0].Shape, j)
			}
		}
		outShape[dim] += t.Shape[dim]
	}

	result := NewTensor(outShape)
	outer := numElements(outShape[:dim])
	inner := numElements(outShape[dim+1:])
	dstSpan := outShape[dim] * inner

	offset := 0
	for _, t := range tensors {
		block := t.Shape[dim] * inner
		for o := 0; o < outer; o++ {
			copy(result.Data[o*dstSpan+offset:o*dstSpan+offset+block], t.Data[o*block:(o+1)*block])
		}
		offset += block
	}
	return result, nil
}

// String returns a string representation of the tensor.
func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString("Tensor[")
	for i, dim := range t.Shape {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", dim)
	}
	sb.WriteString("]: ")
	if len(t.Data) == 0 {
		sb.WriteString("[]")
		return sb.String()
	}
	sb.WriteString(formatData(t.Shape, t.Data, 0))
	return sb.String()
}

// formatData recursively formats tensor data, eliding long axes.
func formatData(shape []int, data []float32, offset int) string {
	if len(shape) == 0 {
		return fmt.Sprintf("%g", data[offset])
	}

	var sb strings.Builder
	sb.WriteString("[")
	if len(shape) == 1 {
		for i := 0; i < shape[0] && i < 6; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%g", data[offset+i])
		}
		if shape[0] > 6 {
			sb.WriteString(", ...")
		}
		sb.WriteString("]")
		return sb.String()
	}

	subSize := numElements(shape[1:])
	for i := 0; i < shape[0] && i < 3; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(formatData(shape[1:], data, offset+i*subSize))
	}
	if shape[0] > 3 {
		sb.WriteString(", ...")
	}
	sb.WriteString("]")
	return sb.String()
}

func checkDims(shape []int) error {
	for _, dim := range shape {
		if dim < 0 {
			return errors.Wrapf(ErrShape, "invalid dimension %d in shape %v", dim, shape)
		}
	}
	return nil
}

func numElements(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

func stridesFor(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func copyShape(shape []int) []int {
	result := make([]int, len(shape))
	copy(result, shape)
	return result
}
