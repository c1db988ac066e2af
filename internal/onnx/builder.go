package onnx

import (
	"encoding/binary"
	"math"
)

// Helpers for constructing graphs in code, in the spirit of onnx.helper.

// DefaultOpset is the ai.onnx opset version written by MakeModel.
const DefaultOpset = 13

// QONNXDomain is the operator domain of Quant and the other QONNX custom ops.
const QONNXDomain = "qonnx.custom_op.general"

// MakeNode builds a node in the default domain.
func MakeNode(opType string, inputs, outputs []string, name string, attrs ...AttributeProto) NodeProto {
	return NodeProto{
		Name:       name,
		OpType:     opType,
		Inputs:     inputs,
		Outputs:    outputs,
		Attributes: attrs,
	}
}

// MakeAttrInt builds an INT attribute.
func MakeAttrInt(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

// MakeAttrInts builds an INTS attribute.
func MakeAttrInts(name string, v ...int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInts, Ints: v}
}

// MakeAttrFloat builds a FLOAT attribute.
func MakeAttrFloat(name string, v float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloat, F: v}
}

// MakeAttrFloats builds a FLOATS attribute.
func MakeAttrFloats(name string, v ...float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloats, Floats: v}
}

// MakeAttrString builds a STRING attribute.
func MakeAttrString(name, v string) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoString, S: []byte(v)}
}

// MakeTensorFloat32 builds a FLOAT initializer stored in raw_data.
func MakeTensorFloat32(name string, dims []int64, values []float32) TensorProto {
	raw := make([]byte, 0, 4*len(values))
	for _, v := range values {
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
	}
	return TensorProto{Name: name, DataType: TensorProtoFloat, Dims: dims, RawData: raw}
}

// MakeTensorInt64 builds an INT64 initializer stored in int64_data.
func MakeTensorInt64(name string, dims []int64, values []int64) TensorProto {
	return TensorProto{Name: name, DataType: TensorProtoInt64, Dims: dims, Int64Data: values}
}

// MakeValueInfo builds a tensor value info with a static shape.
// A nil shape leaves the shape unset.
func MakeValueInfo(name string, elemType int32, shape []int64) ValueInfoProto {
	tt := &TensorTypeProto{ElemType: elemType}
	if shape != nil {
		tt.Shape = &TensorShapeProto{Dims: make([]DimensionProto, len(shape))}
		for i, d := range shape {
			tt.Shape.Dims[i] = DimensionProto{DimValue: d}
		}
	}
	return ValueInfoProto{Name: name, Type: &TypeProto{TensorType: tt}}
}

// MakeGraph assembles a graph from its parts.
func MakeGraph(name string, nodes []NodeProto, inputs, outputs []ValueInfoProto, initializers []TensorProto) *GraphProto {
	return &GraphProto{
		Name:         name,
		Nodes:        nodes,
		Inputs:       inputs,
		Outputs:      outputs,
		Initializers: initializers,
	}
}

// MakeModel wraps a graph into a model importing the default opset, plus the QONNX
// domain when any node uses it.
func MakeModel(graph *GraphProto, producer string) *ModelProto {
	m := &ModelProto{
		IRVersion:    8,
		ProducerName: producer,
		Graph:        graph,
		OpsetImport:  []OperatorSetID{{Version: DefaultOpset}},
	}
	for i := range graph.Nodes {
		if graph.Nodes[i].Domain == QONNXDomain {
			m.OpsetImport = append(m.OpsetImport, OperatorSetID{Domain: QONNXDomain, Version: 1})
			break
		}
	}
	return m
}

// SetAnnotation sets a key of the quantization annotation of tensorName,
// creating the annotation if needed.
func (g *GraphProto) SetAnnotation(tensorName, key, value string) {
	for i := range g.QuantizationAnnotation {
		qa := &g.QuantizationAnnotation[i]
		if qa.TensorName != tensorName {
			continue
		}
		for j := range qa.QuantParameterTensorNames {
			if qa.QuantParameterTensorNames[j].Key == key {
				qa.QuantParameterTensorNames[j].Value = value
				return
			}
		}
		qa.QuantParameterTensorNames = append(qa.QuantParameterTensorNames, StringStringEntry{Key: key, Value: value})
		return
	}
	g.QuantizationAnnotation = append(g.QuantizationAnnotation, TensorAnnotation{
		TensorName:                tensorName,
		QuantParameterTensorNames: []StringStringEntry{{Key: key, Value: value}},
	})
}

// Annotation returns the value stored under key for tensorName.
func (g *GraphProto) Annotation(tensorName, key string) (string, bool) {
	for i := range g.QuantizationAnnotation {
		qa := &g.QuantizationAnnotation[i]
		if qa.TensorName != tensorName {
			continue
		}
		for _, e := range qa.QuantParameterTensorNames {
			if e.Key == key {
				return e.Value, true
			}
		}
	}
	return "", false
}
