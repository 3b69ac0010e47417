// Package core provides the tensor primitive shared by every p9ml package.
//
// A Tensor is a named n-dimensional array descriptor: a numeric type tag,
// a shape of up to four dimensions, and a raw little-endian byte buffer.
// Tensors are owned by whoever allocated them (a runtime.Context arena or
// the heap); membranes only hold references.
//
// Key components:
//   - Tensor: type tag, shape and raw storage with typed element access
//   - DType: numeric type tags with ggml-style names and bit widths
//   - Alignment helpers so float views over storage are always aligned
//   - Binary serialization with checksums for snapshots
package core

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/x448/float16"

	"github.com/sbl8/p9ml/errors"
)

// MaxRank is the highest tensor rank supported.
const MaxRank = 4

// Tensor is an n-dimensional array. A nil Data means the tensor has no
// backing storage yet.
type Tensor struct {
	Name  string
	Type  DType
	Shape []int64
	Data  []byte
}

// NewTensor allocates a heap-backed, zero-filled tensor.
func NewTensor(name string, dtype DType, shape ...int64) (*Tensor, error) {
	if err := ValidateShape(shape); err != nil {
		return nil, err
	}
	t := &Tensor{Name: name, Type: dtype, Shape: append([]int64(nil), shape...)}
	t.Data = AlignedBytes(int(t.StorageSize()))
	return t, nil
}

// MaxElements bounds the element count of a tensor so that its storage
// size in bits fits in an int64 for every DType.
const MaxElements = (math.MaxInt64 - 7) / 32

// ValidateShape checks rank and dimension bounds, and that the element
// count does not exceed MaxElements.
func ValidateShape(shape []int64) error {
	if len(shape) < 1 || len(shape) > MaxRank {
		return errors.InvalidArgumentf("rank %d outside [1,%d]", len(shape), MaxRank)
	}
	n := int64(1)
	for i, d := range shape {
		if d <= 0 {
			return errors.InvalidArgumentf("dimension %d is %d", i, d)
		}
		if d > MaxElements/n {
			return errors.InvalidArgumentf("shape %v exceeds %d elements", shape, int64(MaxElements))
		}
		n *= d
	}
	return nil
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Elements returns the element count: the product of the shape.
func (t *Tensor) Elements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// StorageSize returns the bytes the tensor's elements occupy.
func (t *Tensor) StorageSize() int64 {
	return t.Type.StorageSize(t.Elements())
}

// HasData reports whether the tensor has backing storage.
func (t *Tensor) HasData() bool {
	return len(t.Data) > 0
}

// Float32s returns an aliasing float32 view of an F32 tensor's storage, or
// nil when the tensor is not F32 or has no storage.
func (t *Tensor) Float32s() []float32 {
	if t.Type != F32 || len(t.Data) < 4 {
		return nil
	}
	n := t.Elements()
	if int64(len(t.Data)) < n*4 {
		n = int64(len(t.Data) / 4)
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.Data[0])), n)
}

// At returns element i of an F32 or F16 tensor as float32.
func (t *Tensor) At(i int) float32 {
	switch t.Type {
	case F32:
		return math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
	case F16:
		return float16.Frombits(binary.LittleEndian.Uint16(t.Data[i*2:])).Float32()
	default:
		panic("core: At on non-float tensor " + t.Type.String())
	}
}

// Set stores v as element i of an F32 or F16 tensor. F16 stores round to
// the nearest representable half.
func (t *Tensor) Set(i int, v float32) {
	switch t.Type {
	case F32:
		binary.LittleEndian.PutUint32(t.Data[i*4:], math.Float32bits(v))
	case F16:
		binary.LittleEndian.PutUint16(t.Data[i*2:], float16.Fromfloat32(v).Bits())
	default:
		panic("core: Set on non-float tensor " + t.Type.String())
	}
}

// Validate checks the integrity of a tensor: shape bounds and, when storage
// is attached, that it is large enough for every element.
func (t *Tensor) Validate() error {
	if t == nil {
		return errors.InvalidArgumentf("tensor is nil")
	}
	if err := ValidateShape(t.Shape); err != nil {
		return errors.Wrapf(err, "tensor %q", t.Name)
	}
	if t.Data != nil && int64(len(t.Data)) < t.StorageSize() {
		return errors.InvalidArgumentf("tensor %q storage is %d bytes, need %d", t.Name, len(t.Data), t.StorageSize())
	}
	return nil
}

// Clone creates a deep, heap-backed copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := &Tensor{
		Name:  t.Name,
		Type:  t.Type,
		Shape: append([]int64(nil), t.Shape...),
	}
	if t.Data != nil {
		clone.Data = AlignedBytes(len(t.Data))
		copy(clone.Data, t.Data)
	}
	return clone
}

// Fill sets every element of an F32 or F16 tensor from fn. Tensors without
// storage are left untouched.
func (t *Tensor) Fill(fn func(i int) float32) {
	if !t.HasData() || !t.Type.IsFloat() {
		return
	}
	n := int(t.Elements())
	if f := t.Float32s(); f != nil {
		for i := range f {
			f[i] = fn(i)
		}
		return
	}
	for i := 0; i < n; i++ {
		t.Set(i, fn(i))
	}
}
