package onnx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/timkpaine/qonnx/internal/tensor"
	"github.com/x448/float16"
)

// TensorToRaw decodes an initializer into a host tensor.
//
// FLOAT16 data is widened to Float32 and INT8 data to Int32, the executor has no
// narrower storage types.
func TensorToRaw(tp *TensorProto) (*tensor.RawTensor, error) {
	shape := make(tensor.Shape, len(tp.Dims))
	for i, dim := range tp.Dims {
		shape[i] = int(dim)
	}
	n := shape.NumElements()

	switch tp.DataType {
	case TensorProtoFloat16:
		return decodeFloat16(tp, shape, n)
	case TensorProtoInt8:
		return decodeInt8(tp, shape, n)
	}

	dtype, err := protoTypeToTensorType(tp.DataType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", tp.Name, err)
	}
	t, err := tensor.NewRaw(shape, dtype)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", tp.Name, err)
	}

	// Exactly one data field is populated.
	have := 0
	switch {
	case len(tp.RawData) > 0:
		have = len(tp.RawData) / dtype.Size()
		if len(tp.RawData) != t.ByteSize() {
			return nil, fmt.Errorf("tensor %s: raw_data has %d bytes, want %d", tp.Name, len(tp.RawData), t.ByteSize())
		}
		copy(t.Data(), tp.RawData)
	case len(tp.FloatData) > 0 && dtype == tensor.Float32:
		have = copy(t.AsFloat32(), tp.FloatData)
	case len(tp.DoubleData) > 0 && dtype == tensor.Float64:
		have = copy(t.AsFloat64(), tp.DoubleData)
	case len(tp.Int64Data) > 0 && dtype == tensor.Int64:
		have = copy(t.AsInt64(), tp.Int64Data)
	case len(tp.Int32Data) > 0:
		have = len(tp.Int32Data)
		switch dtype {
		case tensor.Int32:
			copy(t.AsInt32(), tp.Int32Data)
		case tensor.Uint8:
			dst := t.AsUint8()
			for i := range min(len(dst), have) {
				dst[i] = uint8(tp.Int32Data[i]) //nolint:gosec // G115: int32_data carries uint8 values.
			}
		case tensor.Bool:
			dst := t.AsBool()
			for i := range min(len(dst), have) {
				dst[i] = tp.Int32Data[i] != 0
			}
		default:
			return nil, fmt.Errorf("tensor %s: int32_data cannot carry %s", tp.Name, dtype)
		}
	}
	if have != n {
		return nil, fmt.Errorf("tensor %s: has %d values, shape %s needs %d", tp.Name, have, shape, n)
	}
	return t, nil
}

func decodeFloat16(tp *TensorProto, shape tensor.Shape, n int) (*tensor.RawTensor, error) {
	t, err := tensor.NewRaw(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	dst := t.AsFloat32()
	switch {
	case len(tp.RawData) == 2*n:
		for i := range dst {
			dst[i] = float16.Frombits(binary.LittleEndian.Uint16(tp.RawData[2*i:])).Float32()
		}
	case len(tp.Int32Data) == n:
		for i := range dst {
			dst[i] = float16.Frombits(uint16(tp.Int32Data[i])).Float32() //nolint:gosec // G115: int32_data carries float16 bits.
		}
	default:
		return nil, fmt.Errorf("tensor %s: float16 data does not match shape %s", tp.Name, shape)
	}
	return t, nil
}

func decodeInt8(tp *TensorProto, shape tensor.Shape, n int) (*tensor.RawTensor, error) {
	t, err := tensor.NewRaw(shape, tensor.Int32)
	if err != nil {
		return nil, err
	}
	dst := t.AsInt32()
	switch {
	case len(tp.RawData) == n:
		for i := range dst {
			dst[i] = int32(int8(tp.RawData[i])) //nolint:gosec // G115: reinterpret byte as int8.
		}
	case len(tp.Int32Data) == n:
		copy(dst, tp.Int32Data)
	default:
		return nil, fmt.Errorf("tensor %s: int8 data does not match shape %s", tp.Name, shape)
	}
	return t, nil
}

// TensorFromRaw encodes a host tensor as an initializer named name, using raw_data.
func TensorFromRaw(name string, t *tensor.RawTensor) (*TensorProto, error) {
	dataType, err := tensorTypeToProtoType(t.DType())
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	dims := make([]int64, len(t.Shape()))
	for i, d := range t.Shape() {
		dims[i] = int64(d)
	}
	raw := make([]byte, t.ByteSize())
	copy(raw, t.Data())
	return &TensorProto{
		Name:     name,
		DataType: dataType,
		Dims:     dims,
		RawData:  raw,
	}, nil
}

// TensorFromFloat16 encodes Float32 values as a FLOAT16 initializer.
func TensorFromFloat16(name string, t *tensor.RawTensor) (*TensorProto, error) {
	if t.DType() != tensor.Float32 {
		return nil, fmt.Errorf("tensor %s: float16 encoding needs float32 input, got %s", name, t.DType())
	}
	values := t.AsFloat32()
	raw := make([]byte, 0, 2*len(values))
	for _, v := range values {
		if math.Abs(float64(v)) > 65504 && !math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("tensor %s: value %g overflows float16", name, v)
		}
		raw = binary.LittleEndian.AppendUint16(raw, float16.Fromfloat32(v).Bits())
	}
	dims := make([]int64, len(t.Shape()))
	for i, d := range t.Shape() {
		dims[i] = int64(d)
	}
	return &TensorProto{Name: name, DataType: TensorProtoFloat16, Dims: dims, RawData: raw}, nil
}

// protoTypeToTensorType converts ONNX data type to tensor.DataType.
func protoTypeToTensorType(onnxType int32) (tensor.DataType, error) {
	switch onnxType {
	case TensorProtoFloat:
		return tensor.Float32, nil
	case TensorProtoDouble:
		return tensor.Float64, nil
	case TensorProtoInt32:
		return tensor.Int32, nil
	case TensorProtoInt64:
		return tensor.Int64, nil
	case TensorProtoUint8:
		return tensor.Uint8, nil
	case TensorProtoBool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unsupported ONNX data type %d", onnxType)
	}
}

func tensorTypeToProtoType(dtype tensor.DataType) (int32, error) {
	switch dtype {
	case tensor.Float32:
		return TensorProtoFloat, nil
	case tensor.Float64:
		return TensorProtoDouble, nil
	case tensor.Int32:
		return TensorProtoInt32, nil
	case tensor.Int64:
		return TensorProtoInt64, nil
	case tensor.Uint8:
		return TensorProtoUint8, nil
	case tensor.Bool:
		return TensorProtoBool, nil
	default:
		return 0, fmt.Errorf("unsupported tensor dtype %s", dtype)
	}
}
