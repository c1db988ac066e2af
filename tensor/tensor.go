// Package tensor provides the dense host tensors that ONNX models are executed on.
//
// A RawTensor is a shape, an element type and a row-major byte buffer:
//
//	x, err := tensor.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	y, err := model.Forward(x)
//	fmt.Println(y.Shape(), y.AsFloat32())
package tensor

import (
	"math/rand/v2"

	"github.com/timkpaine/qonnx/internal/tensor"
)

// RawTensor is a dense tensor with a row-major byte buffer.
type RawTensor = tensor.RawTensor

// Shape is a tensor shape, outermost dimension first.
type Shape = tensor.Shape

// DataType is a tensor element type.
type DataType = tensor.DataType

// Element types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
	Int32   = tensor.Int32
	Int64   = tensor.Int64
	Uint8   = tensor.Uint8
	Bool    = tensor.Bool
)

// NewRaw allocates a zero-filled tensor.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// FromFloat32 creates a Float32 tensor holding a copy of data.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	return tensor.FromFloat32(data, shape)
}

// FromInt64 creates an Int64 tensor holding a copy of data.
func FromInt64(data []int64, shape Shape) (*RawTensor, error) {
	return tensor.FromInt64(data, shape)
}

// Rand creates a Float32 tensor with values drawn uniformly from [0, 1).
func Rand(shape Shape, rng *rand.Rand) (*RawTensor, error) {
	return tensor.Rand(shape, rng)
}

// AllClose reports whether |a-b| <= atol + rtol·|b| holds element-wise.
func AllClose(a, b *RawTensor, atol, rtol float64) (bool, error) {
	return tensor.AllClose(a, b, atol, rtol)
}
