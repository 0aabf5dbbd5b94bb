package models

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ElementType names the numeric type of a tensor's elements, using numpy-style spellings.
type ElementType string

const (
	Float32 ElementType = "float32"
	Float64 ElementType = "float64"
	Int8    ElementType = "int8"
	Uint8   ElementType = "uint8"
	Int32   ElementType = "int32"
	Uint32  ElementType = "uint32"
	Int64   ElementType = "int64"
	Uint64  ElementType = "uint64"
)

// Size returns the element width in bytes, or 0 for types outside the supported set.
func (e ElementType) Size() int {
	switch e {
	case Int8, Uint8:
		return 1
	case Float32, Int32, Uint32:
		return 4
	case Float64, Int64, Uint64:
		return 8
	default:
		return 0
	}
}

// Tensor is a shaped, typed, flat little-endian element buffer.
type Tensor struct {
	ElementType ElementType
	Shape       []int64
	Data        []byte
}

// NumElements returns the product of the shape. A scalar (empty shape) holds one element.
// It returns -1 when a dimension is negative or the product overflows int64.
func (t Tensor) NumElements() int64 {
	n, ok := elementCount(t.Shape)
	if !ok {
		return -1
	}
	return n
}

func elementCount(shape []int64) (int64, bool) {
	for _, d := range shape {
		if d == 0 {
			return 0, true
		}
	}
	n := int64(1)
	for _, d := range shape {
		if d < 0 || n > math.MaxInt64/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

// Validate checks that dimensions are non-negative, that the element count fits in
// int64 and, for known element types, that the buffer holds exactly NumElements values.
func (t Tensor) Validate() error {
	for i, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("dimension %d is negative (%d)", i, d)
		}
	}
	n, ok := elementCount(t.Shape)
	if !ok {
		return fmt.Errorf("shape %v overflows the element count", t.Shape)
	}
	size := int64(t.ElementType.Size())
	if size == 0 {
		return nil
	}
	if n > math.MaxInt64/size {
		return fmt.Errorf("%s tensor with shape %v overflows the byte count", t.ElementType, t.Shape)
	}
	if want := n * size; int64(len(t.Data)) != want {
		return fmt.Errorf("%s tensor with shape %v needs %d bytes, has %d", t.ElementType, t.Shape, want, len(t.Data))
	}
	return nil
}

// NewFloat32Tensor packs values into a float32 tensor of the given shape.
func NewFloat32Tensor(shape []int64, values []float32) (Tensor, error) {
	t := Tensor{ElementType: Float32, Shape: append([]int64(nil), shape...)}
	t.Data = make([]byte, 0, len(values)*4)
	for _, v := range values {
		t.Data = binary.LittleEndian.AppendUint32(t.Data, math.Float32bits(v))
	}
	return t, t.Validate()
}

// NewInt64Tensor packs values into an int64 tensor of the given shape.
func NewInt64Tensor(shape []int64, values []int64) (Tensor, error) {
	t := Tensor{ElementType: Int64, Shape: append([]int64(nil), shape...)}
	t.Data = make([]byte, 0, len(values)*8)
	for _, v := range values {
		t.Data = binary.LittleEndian.AppendUint64(t.Data, uint64(v))
	}
	return t, t.Validate()
}

// Float32s decodes the buffer of a float32 tensor.
func (t Tensor) Float32s() ([]float32, error) {
	if t.ElementType != Float32 {
		return nil, fmt.Errorf("tensor holds %s, not float32", t.ElementType)
	}
	if len(t.Data)%4 != 0 {
		return nil, fmt.Errorf("float32 buffer length %d is not a multiple of 4", len(t.Data))
	}
	out := make([]float32, len(t.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
	}
	return out, nil
}
