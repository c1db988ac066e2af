package tensor

import (
	"fmt"
	"math/rand/v2"
)

// FromFloat32 creates a Float32 tensor holding a copy of data.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %s", len(data), shape)
	}
	t, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	copy(t.AsFloat32(), data)
	return t, nil
}

// FromFloat64 creates a Float64 tensor holding a copy of data.
func FromFloat64(data []float64, shape Shape) (*RawTensor, error) {
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %s", len(data), shape)
	}
	t, err := NewRaw(shape, Float64)
	if err != nil {
		return nil, err
	}
	copy(t.AsFloat64(), data)
	return t, nil
}

// FromInt64 creates an Int64 tensor holding a copy of data.
func FromInt64(data []int64, shape Shape) (*RawTensor, error) {
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %s", len(data), shape)
	}
	t, err := NewRaw(shape, Int64)
	if err != nil {
		return nil, err
	}
	copy(t.AsInt64(), data)
	return t, nil
}

// Scalar creates a rank-0 Float32 tensor.
func Scalar(v float32) *RawTensor {
	t, _ := NewRaw(Shape{}, Float32) //nolint:errcheck // empty shape is always valid
	t.AsFloat32()[0] = v
	return t
}

// Full creates a Float32 tensor filled with value.
func Full(shape Shape, value float32) (*RawTensor, error) {
	t, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.AsFloat32()
	for i := range data {
		data[i] = value
	}
	return t, nil
}

// Rand creates a Float32 tensor with values drawn uniformly from [0, 1).
func Rand(shape Shape, rng *rand.Rand) (*RawTensor, error) {
	t, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.AsFloat32()
	for i := range data {
		data[i] = rng.Float32()
	}
	return t, nil
}

// Float64s returns the tensor values widened to float64, whatever the numeric dtype.
func (r *RawTensor) Float64s() ([]float64, error) {
	out := make([]float64, r.NumElements())
	switch r.dtype {
	case Float32:
		for i, v := range r.AsFloat32() {
			out[i] = float64(v)
		}
	case Float64:
		copy(out, r.AsFloat64())
	case Int32:
		for i, v := range r.AsInt32() {
			out[i] = float64(v)
		}
	case Int64:
		for i, v := range r.AsInt64() {
			out[i] = float64(v)
		}
	case Uint8:
		for i, v := range r.AsUint8() {
			out[i] = float64(v)
		}
	case Bool:
		for i, v := range r.AsBool() {
			if v {
				out[i] = 1
			}
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %s", r.dtype)
	}
	return out, nil
}

// ToFloat32 returns the tensor itself when it is already Float32, or a converted copy.
func (r *RawTensor) ToFloat32() (*RawTensor, error) {
	if r.dtype == Float32 {
		return r, nil
	}
	values, err := r.Float64s()
	if err != nil {
		return nil, err
	}
	t, err := NewRaw(r.shape, Float32)
	if err != nil {
		return nil, err
	}
	dst := t.AsFloat32()
	for i, v := range values {
		dst[i] = float32(v)
	}
	return t, nil
}

// Transpose permutes the axes of a tensor, returning a new contiguous tensor.
// An empty perm reverses the axes.
func (r *RawTensor) Transpose(perm ...int) (*RawTensor, error) {
	rank := len(r.shape)
	if len(perm) == 0 {
		perm = make([]int, rank)
		for i := range perm {
			perm[i] = rank - 1 - i
		}
	}
	if len(perm) != rank {
		return nil, fmt.Errorf("transpose: perm %v does not match rank %d", perm, rank)
	}
	seen := make([]bool, rank)
	outShape := make(Shape, rank)
	for i, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			return nil, fmt.Errorf("transpose: invalid perm %v", perm)
		}
		seen[p] = true
		outShape[i] = r.shape[p]
	}
	out, err := NewRaw(outShape, r.dtype)
	if err != nil {
		return nil, err
	}
	elem := r.dtype.Size()
	outStrides := outShape.ComputeStrides()
	idx := make([]int, rank)
	for dst := 0; dst < out.NumElements(); dst++ {
		rem := dst
		src := 0
		for i := 0; i < rank; i++ {
			idx[i] = rem / outStrides[i]
			rem %= outStrides[i]
			src += idx[i] * r.stride[perm[i]]
		}
		copy(out.data[dst*elem:(dst+1)*elem], r.data[src*elem:(src+1)*elem])
	}
	return out, nil
}
