// Package tensor holds dense little-endian tensors exchanged with compiled models,
// and the .npy/.npz codecs used to hand them to the toolchain runtime.
package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

// Error definitions for the tensor package.
var (
	ErrUnsupportedDType = errors.New("unsupported dtype")
	ErrShapeMismatch    = errors.New("tensor shape mismatch")
)

// DType is a numeric element type.
type DType string

// Supported element types.
const (
	Float32 DType = "float32"
	Float64 DType = "float64"
	Int8    DType = "int8"
	Uint8   DType = "uint8"
	Int32   DType = "int32"
	Int64   DType = "int64"
)

var dtypeSizes = map[DType]int{
	Float32: 4,
	Float64: 8,
	Int8:    1,
	Uint8:   1,
	Int32:   4,
	Int64:   8,
}

// ParseDType validates s as a supported dtype. Matching is case-insensitive.
func ParseDType(s string) (DType, error) {
	d := DType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := dtypeSizes[d]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDType, s)
	}
	return d, nil
}

// Size returns the element width in bytes, or 0 for unsupported types.
func (d DType) Size() int {
	return dtypeSizes[d]
}

// Tensor is a dense, row-major tensor.
type Tensor struct {
	shape []int64
	dtype DType
	data  []byte
}

// NumElements returns the product of shape. An empty shape is a scalar.
func NumElements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// New wraps raw little-endian data. The length of data must match shape and dtype.
func New(shape []int64, dtype DType, data []byte) (*Tensor, error) {
	size := dtype.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDType, dtype)
	}
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, shape)
		}
	}
	if want := NumElements(shape) * int64(size); int64(len(data)) != want {
		return nil, fmt.Errorf("%w: %v %s needs %d bytes, got %d", ErrShapeMismatch, shape, dtype, want, len(data))
	}

	return &Tensor{shape: append([]int64(nil), shape...), dtype: dtype, data: data}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape []int64, dtype DType) (*Tensor, error) {
	return New(shape, dtype, make([]byte, NumElements(shape)*int64(dtype.Size())))
}

// FromFloat32 builds a float32 tensor.
func FromFloat32(shape []int64, values []float32) (*Tensor, error) {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return New(shape, Float32, data)
}

// FromFloat64 builds a float64 tensor.
func FromFloat64(shape []int64, values []float64) (*Tensor, error) {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return New(shape, Float64, data)
}

// FromInt64 builds an int64 tensor.
func FromInt64(shape []int64, values []int64) (*Tensor, error) {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[8*i:], uint64(v))
	}
	return New(shape, Int64, data)
}

// Random returns a float32 tensor with values uniformly drawn from [min, max).
func Random(shape []int64, minVal, maxVal float32, seed uint64) (*Tensor, error) {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	values := make([]float32, NumElements(shape))
	for i := range values {
		values[i] = r.Float32()*(maxVal-minVal) + minVal
	}
	return FromFloat32(shape, values)
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int64 {
	return append([]int64(nil), t.shape...)
}

// DType returns the element type.
func (t *Tensor) DType() DType {
	return t.dtype
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.data) / t.dtype.Size()
}

// Bytes returns the raw little-endian payload. Callers must not modify it.
func (t *Tensor) Bytes() []byte {
	return t.data
}

// String describes the tensor without its payload.
func (t *Tensor) String() string {
	return fmt.Sprintf("tensor(%s%v)", t.dtype, t.shape)
}

// At returns element i converted to float64.
func (t *Tensor) At(i int) float64 {
	switch t.dtype {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(t.data[4*i:])))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(t.data[8*i:]))
	case Int8:
		return float64(int8(t.data[i]))
	case Uint8:
		return float64(t.data[i])
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(t.data[4*i:])))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(t.data[8*i:])))
	}
	return 0
}

// Float32s returns the elements as float32 values, converting if needed.
func (t *Tensor) Float32s() []float32 {
	out := make([]float32, t.Len())
	for i := range out {
		out[i] = float32(t.At(i))
	}
	return out
}

// Float64s returns the elements as float64 values, converting if needed.
func (t *Tensor) Float64s() []float64 {
	out := make([]float64, t.Len())
	for i := range out {
		out[i] = t.At(i)
	}
	return out
}

// Cast converts the tensor to dtype. Casting to the same dtype returns t itself.
// Float to integer conversion truncates toward zero.
func (t *Tensor) Cast(dtype DType) (*Tensor, error) {
	if dtype == t.dtype {
		return t, nil
	}
	size := dtype.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDType, dtype)
	}

	n := t.Len()
	data := make([]byte, n*size)
	for i := range n {
		v := t.At(i)
		switch dtype {
		case Float32:
			binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(float32(v)))
		case Float64:
			binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
		case Int8:
			data[i] = byte(int8(v))
		case Uint8:
			data[i] = byte(v)
		case Int32:
			binary.LittleEndian.PutUint32(data[4*i:], uint32(int32(v)))
		case Int64:
			binary.LittleEndian.PutUint64(data[8*i:], uint64(int64(v)))
		}
	}

	return &Tensor{shape: t.Shape(), dtype: dtype, data: data}, nil
}

// Reshape returns a view of t with a new shape holding the same number of elements.
func (t *Tensor) Reshape(shape []int64) (*Tensor, error) {
	if NumElements(shape) != int64(t.Len()) {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShapeMismatch, t.shape, shape)
	}
	return &Tensor{shape: append([]int64(nil), shape...), dtype: t.dtype, data: t.data}, nil
}
