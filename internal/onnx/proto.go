package onnx

// The types below mirror the messages of onnx.proto that models and graph
// passes need. Field numbers on the wire are noted per field; parser.go and
// writer.go must agree with them.

// ModelProto is the top-level message of an .onnx file.
type ModelProto struct {
	IRVersion       int64               // 1
	ProducerName    string              // 2
	ProducerVersion string              // 3
	Domain          string              // 4
	ModelVersion    int64               // 5
	DocString       string              // 6
	Graph           *GraphProto         // 7
	OpsetImport     []OperatorSetID     // 8
	MetadataProps   []StringStringEntry // 14
}

// GraphProto holds the nodes and named tensors of a model.
type GraphProto struct {
	Nodes                  []NodeProto        // 1
	Name                   string             // 2
	Initializers           []TensorProto      // 5
	DocString              string             // 10
	Inputs                 []ValueInfoProto   // 11
	Outputs                []ValueInfoProto   // 12
	ValueInfo              []ValueInfoProto   // 13, shapes of intermediate tensors
	QuantizationAnnotation []TensorAnnotation // 14
}

// NodeProto is one operator application. Inputs and outputs are tensor names;
// an empty input name marks an omitted optional input.
type NodeProto struct {
	Inputs     []string         // 1
	Outputs    []string         // 2
	Name       string           // 3
	OpType     string           // 4
	Attributes []AttributeProto // 5
	DocString  string           // 6
	Domain     string           // 7, "" for ai.onnx
}

// TensorProto is a constant tensor. Values live either in RawData
// (little-endian) or in one of the typed repeated fields.
type TensorProto struct {
	Dims       []int64   // 1
	DataType   int32     // 2
	FloatData  []float32 // 4
	Int32Data  []int32   // 5, also FLOAT16 bits, INT8, UINT8 and BOOL
	Int64Data  []int64   // 7
	Name       string    // 8
	RawData    []byte    // 9
	DoubleData []float64 // 10
	DocString  string    // 12
}

// ValueInfoProto declares the type and shape of a named tensor.
type ValueInfoProto struct {
	Name      string     // 1
	Type      *TypeProto // 2
	DocString string     // 3
}

// TypeProto only carries the tensor_type case of the oneof.
type TypeProto struct {
	TensorType *TensorTypeProto // 1
}

type TensorTypeProto struct {
	ElemType int32             // 1
	Shape    *TensorShapeProto // 2
}

type TensorShapeProto struct {
	Dims []DimensionProto // 1
}

// DimensionProto is either a fixed size or a symbolic name such as "batch".
type DimensionProto struct {
	DimValue int64  // 1
	DimParam string // 2
}

// AttributeProto is a typed node attribute; Type selects the populated field.
type AttributeProto struct {
	Name      string        // 1
	F         float32       // 2
	I         int64         // 3
	S         []byte        // 4
	T         *TensorProto  // 5
	Floats    []float32     // 7
	Ints      []int64       // 8
	Strings   [][]byte      // 9
	Tensors   []TensorProto // 10
	DocString string        // 13
	Type      int32         // 20
}

// TensorAnnotation attaches key/value quantization metadata to a tensor name.
// QONNX stores the tensor datatype under the "finn_datatype" key.
type TensorAnnotation struct {
	TensorName                string              // 1
	QuantParameterTensorNames []StringStringEntry // 2
}

// OperatorSetID is one opset import of a model.
type OperatorSetID struct {
	Domain  string // 1
	Version int64  // 2
}

type StringStringEntry struct {
	Key   string // 1
	Value string // 2
}

// TensorProto.DataType values.
const (
	TensorProtoUndefined = iota
	TensorProtoFloat
	TensorProtoUint8
	TensorProtoInt8
	TensorProtoUint16
	TensorProtoInt16
	TensorProtoInt32
	TensorProtoInt64
	TensorProtoString
	TensorProtoBool
	TensorProtoFloat16
	TensorProtoDouble
	TensorProtoUint32
	TensorProtoUint64
	TensorProtoComplex64
	TensorProtoComplex128
	TensorProtoBfloat16
)

// AttributeProto.Type values.
const (
	AttributeProtoUndefined = iota
	AttributeProtoFloat
	AttributeProtoInt
	AttributeProtoString
	AttributeProtoTensor
	AttributeProtoGraph
	AttributeProtoFloats
	AttributeProtoInts
	AttributeProtoStrings
	AttributeProtoTensors
	AttributeProtoGraphs
)

// Attribute returns the named attribute of the node, or nil.
func (n *NodeProto) Attribute(name string) *AttributeProto {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i]
		}
	}
	return nil
}

// Input returns the i-th input name, or "" when the input is absent.
func (n *NodeProto) Input(i int) string {
	if i < len(n.Inputs) {
		return n.Inputs[i]
	}
	return ""
}

// Shape returns the static shape of the value, or nil if any dimension is unknown.
func (v *ValueInfoProto) Shape() []int64 {
	if v.Type == nil || v.Type.TensorType == nil || v.Type.TensorType.Shape == nil {
		return nil
	}
	dims := v.Type.TensorType.Shape.Dims
	shape := make([]int64, len(dims))
	for i, d := range dims {
		if d.DimParam != "" || d.DimValue <= 0 {
			return nil
		}
		shape[i] = d.DimValue
	}
	return shape
}

// ElemType returns the element type of the value, or TensorProtoUndefined.
func (v *ValueInfoProto) ElemType() int32 {
	if v.Type == nil || v.Type.TensorType == nil {
		return TensorProtoUndefined
	}
	return v.Type.TensorType.ElemType
}
