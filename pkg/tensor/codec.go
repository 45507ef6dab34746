package tensor

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/mmap"
)

// DType selects the on-disk element encoding.
type DType uint8

const (
	// Float32 stores elements as IEEE-754 single precision.
	Float32 DType = iota
	// Float16 stores elements as IEEE-754 half precision. Values are rounded to
	// nearest-even; infinities (as used by masks) are preserved.
	Float16
)

// String returns the name of the dtype.
func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	default:
		return "unknown"
	}
}

func (d DType) size() int {
	if d == Float16 {
		return 2
	}
	return 4
}

const (
	codecMagic   = "TNSR"
	codecVersion = 1
	headerSize   = 10
	maxRank      = 16

	// maxElements bounds the element count a header may announce.
	maxElements = 1 << 32

	initialCapacity = 1 << 16
)

var (
	// ErrBadMagic reports input that does not start with the "TNSR" magic.
	ErrBadMagic = errors.New("not a tensor file")

	// ErrUnsupportedVersion reports a file written by an unknown format version.
	ErrUnsupportedVersion = errors.New("unsupported tensor file version")

	// ErrUnsupportedDType reports a dtype byte other than Float32 or Float16.
	ErrUnsupportedDType = errors.New("unsupported tensor dtype")

	// ErrTruncated reports input that ends before the header or payload it announces.
	ErrTruncated = errors.New("tensor data truncated")
)

// Encode writes t to w.
//
// Layout (little-endian): magic "TNSR", version byte, dtype byte, uint32 rank,
// rank x uint32 dims, then the elements in row-major order.
func Encode(w io.Writer, t *Tensor, dtype DType) error {
	if dtype != Float32 && dtype != Float16 {
		return errors.Wrapf(ErrUnsupportedDType, "dtype %d", dtype)
	}
	if len(t.Shape) > maxRank {
		return errors.Wrapf(ErrShape, "rank %d exceeds %d", len(t.Shape), maxRank)
	}

	bw := bufio.NewWriter(w)
	header := make([]byte, 0, headerSize+4*len(t.Shape))
	header = append(header, codecMagic...)
	header = append(header, codecVersion, byte(dtype))
	header = binary.LittleEndian.AppendUint32(header, uint32(len(t.Shape)))
	for _, dim := range t.Shape {
		if uint64(dim) > math.MaxUint32 {
			return errors.Wrapf(ErrShape, "dimension %d too large to encode", dim)
		}
		header = binary.LittleEndian.AppendUint32(header, uint32(dim))
	}
	if _, err := bw.Write(header); err != nil {
		return errors.Wrap(err, "failed to write tensor header")
	}

	buf := make([]byte, dtype.size())
	for _, v := range t.Data {
		if dtype == Float16 {
			binary.LittleEndian.PutUint16(buf, float16.Fromfloat32(v).Bits())
		} else {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		}
		if _, err := bw.Write(buf); err != nil {
			return errors.Wrap(err, "failed to write tensor data")
		}
	}
	return errors.Wrap(bw.Flush(), "failed to flush tensor data")
}

// Decode reads a tensor written by Encode. Float16 payloads are widened to float32.
func Decode(r io.Reader) (*Tensor, DType, error) {
	return decode(r, -1)
}

// decode reads a tensor from r. When size is non-negative it is the total
// number of bytes available, and a header announcing more is rejected before
// any payload is allocated.
func decode(r io.Reader, size int64) (*Tensor, DType, error) {
	br := bufio.NewReader(r)
	fixed := make([]byte, headerSize)
	if _, err := io.ReadFull(br, fixed); err != nil {
		return nil, 0, errors.Wrapf(ErrTruncated, "header: %v", err)
	}
	if string(fixed[:4]) != codecMagic {
		return nil, 0, errors.Wrapf(ErrBadMagic, "magic %q", fixed[:4])
	}
	if fixed[4] != codecVersion {
		return nil, 0, errors.Wrapf(ErrUnsupportedVersion, "version %d", fixed[4])
	}
	dtype := DType(fixed[5])
	if dtype != Float32 && dtype != Float16 {
		return nil, 0, errors.Wrapf(ErrUnsupportedDType, "dtype %d", dtype)
	}
	rank := binary.LittleEndian.Uint32(fixed[6:])
	if rank > maxRank {
		return nil, 0, errors.Wrapf(ErrShape, "rank %d exceeds %d", rank, maxRank)
	}

	dims := make([]byte, 4*rank)
	if _, err := io.ReadFull(br, dims); err != nil {
		return nil, 0, errors.Wrapf(ErrTruncated, "dimensions: %v", err)
	}
	shape := make([]int, rank)
	count := int64(1)
	for i := range shape {
		dim := int64(binary.LittleEndian.Uint32(dims[4*i:]))
		if dim != 0 && count > maxElements/dim {
			return nil, 0, errors.Wrapf(ErrShape, "dimension %d at axis %d takes the tensor past %d elements", dim, i, int64(maxElements))
		}
		count *= dim
		shape[i] = int(dim)
	}
	if size >= 0 {
		if want := int64(headerSize) + 4*int64(rank) + count*int64(dtype.size()); want > size {
			return nil, 0, errors.Wrapf(ErrTruncated, "shape %v needs %d bytes, only %d available", shape, want, size)
		}
	}

	// Grow the payload as it is read, so a lying header cannot force a large
	// allocation up front.
	data := make([]float32, 0, min(count, initialCapacity))
	buf := make([]byte, dtype.size())
	for i := int64(0); i < count; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, 0, errors.Wrapf(ErrTruncated, "data at element %d of %d: %v", i, count, err)
		}
		if dtype == Float16 {
			data = append(data, float16.Frombits(binary.LittleEndian.Uint16(buf)).Float32())
		} else {
			data = append(data, math.Float32frombits(binary.LittleEndian.Uint32(buf)))
		}
	}
	return &Tensor{Data: data, Shape: shape, Strides: stridesFor(shape)}, dtype, nil
}

// Save writes t to path, replacing any existing file.
func Save(path string, t *Tensor, dtype DType) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	if err := Encode(f, t, dtype); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return errors.WithMessagef(err, "failed to save %q", path)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return errors.Wrapf(err, "failed to close %q", path)
	}
	return nil
}

// Load reads a tensor file written by Save. The file is memory-mapped for reading.
func Load(path string) (*Tensor, DType, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to map %q", path)
	}
	defer r.Close()

	t, dtype, err := decode(io.NewSectionReader(r, 0, int64(r.Len())), int64(r.Len()))
	if err != nil {
		return nil, 0, errors.WithMessagef(err, "failed to load %q", path)
	}
	return t, dtype, nil
}
