package onnx

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// Marshal encodes a model in the protobuf wire format.
//
// Fields are emitted in field-number order and repeated fields in slice order,
// so equal models always encode to equal bytes.
func Marshal(m *ModelProto) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("marshal: nil model")
	}
	w := &writer{}
	m.encode(w)
	return w.buf, nil
}

// WriteFile encodes a model and writes it to path.
func WriteFile(path string, m *ModelProto) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Clone returns a deep copy of the model by round-tripping it through the wire format.
func (m *ModelProto) Clone() (*ModelProto, error) {
	data, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// writer implements the encoding side of the minimal protobuf codec in parser.go.
type writer struct {
	buf []byte
}

func (w *writer) tag(fieldNum, wireType int) {
	w.varint(uint64(fieldNum<<3 | wireType)) //nolint:gosec // G115: field numbers are small positive constants.
}

func (w *writer) varint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

func (w *writer) int64Field(fieldNum int, v int64) {
	w.tag(fieldNum, wireVarint)
	w.varint(uint64(v)) //nolint:gosec // G115: negative values use the ten-byte two's complement encoding.
}

func (w *writer) int64IfSet(fieldNum int, v int64) {
	if v != 0 {
		w.int64Field(fieldNum, v)
	}
}

func (w *writer) bytesField(fieldNum int, data []byte) {
	w.tag(fieldNum, wireBytes)
	w.varint(uint64(len(data)))
	w.buf = append(w.buf, data...)
}

func (w *writer) stringIfSet(fieldNum int, s string) {
	if s != "" {
		w.bytesField(fieldNum, []byte(s))
	}
}

func (w *writer) float32Field(fieldNum int, v float32) {
	w.tag(fieldNum, wire32Bit)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

// sub encodes an embedded message produced by fn as a length-delimited field.
func (w *writer) sub(fieldNum int, fn func(*writer)) {
	inner := &writer{}
	fn(inner)
	w.bytesField(fieldNum, inner.buf)
}

func (w *writer) packedVarints(fieldNum int, n int, at func(i int) int64) {
	if n == 0 {
		return
	}
	inner := &writer{}
	for i := 0; i < n; i++ {
		inner.varint(uint64(at(i))) //nolint:gosec // G115: two's complement encoding.
	}
	w.bytesField(fieldNum, inner.buf)
}

func (m *ModelProto) encode(w *writer) {
	w.int64IfSet(1, m.IRVersion)
	w.stringIfSet(2, m.ProducerName)
	w.stringIfSet(3, m.ProducerVersion)
	w.stringIfSet(4, m.Domain)
	w.int64IfSet(5, m.ModelVersion)
	w.stringIfSet(6, m.DocString)
	if m.Graph != nil {
		w.sub(7, m.Graph.encode)
	}
	for i := range m.OpsetImport {
		w.sub(8, m.OpsetImport[i].encode)
	}
	for i := range m.MetadataProps {
		w.sub(14, m.MetadataProps[i].encode)
	}
}

func (m *GraphProto) encode(w *writer) {
	for i := range m.Nodes {
		w.sub(1, m.Nodes[i].encode)
	}
	w.stringIfSet(2, m.Name)
	for i := range m.Initializers {
		w.sub(5, m.Initializers[i].encode)
	}
	w.stringIfSet(10, m.DocString)
	for i := range m.Inputs {
		w.sub(11, m.Inputs[i].encode)
	}
	for i := range m.Outputs {
		w.sub(12, m.Outputs[i].encode)
	}
	for i := range m.ValueInfo {
		w.sub(13, m.ValueInfo[i].encode)
	}
	for i := range m.QuantizationAnnotation {
		w.sub(14, m.QuantizationAnnotation[i].encode)
	}
}

func (m *NodeProto) encode(w *writer) {
	// Empty names mark omitted optional inputs and must be kept positionally.
	for _, in := range m.Inputs {
		w.bytesField(1, []byte(in))
	}
	for _, out := range m.Outputs {
		w.bytesField(2, []byte(out))
	}
	w.stringIfSet(3, m.Name)
	w.stringIfSet(4, m.OpType)
	for i := range m.Attributes {
		w.sub(5, m.Attributes[i].encode)
	}
	w.stringIfSet(6, m.DocString)
	w.stringIfSet(7, m.Domain)
}

func (m *TensorProto) encode(w *writer) {
	for _, d := range m.Dims {
		w.int64Field(1, d)
	}
	w.int64IfSet(2, int64(m.DataType))
	if len(m.FloatData) > 0 {
		data := make([]byte, 0, 4*len(m.FloatData))
		for _, f := range m.FloatData {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(f))
		}
		w.bytesField(4, data)
	}
	w.packedVarints(5, len(m.Int32Data), func(i int) int64 { return int64(m.Int32Data[i]) })
	w.packedVarints(7, len(m.Int64Data), func(i int) int64 { return m.Int64Data[i] })
	w.stringIfSet(8, m.Name)
	if m.RawData != nil {
		w.bytesField(9, m.RawData)
	}
	if len(m.DoubleData) > 0 {
		data := make([]byte, 0, 8*len(m.DoubleData))
		for _, f := range m.DoubleData {
			data = binary.LittleEndian.AppendUint64(data, math.Float64bits(f))
		}
		w.bytesField(10, data)
	}
	w.stringIfSet(12, m.DocString)
}

func (m *ValueInfoProto) encode(w *writer) {
	w.stringIfSet(1, m.Name)
	if m.Type != nil {
		w.sub(2, m.Type.encode)
	}
	w.stringIfSet(3, m.DocString)
}

func (m *TypeProto) encode(w *writer) {
	if m.TensorType != nil {
		w.sub(1, m.TensorType.encode)
	}
}

func (m *TensorTypeProto) encode(w *writer) {
	w.int64IfSet(1, int64(m.ElemType))
	if m.Shape != nil {
		w.sub(2, m.Shape.encode)
	}
}

func (m *TensorShapeProto) encode(w *writer) {
	for i := range m.Dims {
		w.sub(1, m.Dims[i].encode)
	}
}

func (m *DimensionProto) encode(w *writer) {
	if m.DimParam != "" {
		w.stringIfSet(2, m.DimParam)
		return
	}
	w.int64Field(1, m.DimValue)
}

//nolint:gocyclo // One branch per attribute field.
func (m *AttributeProto) encode(w *writer) {
	w.stringIfSet(1, m.Name)
	typed := m.Type != AttributeProtoUndefined
	if m.F != 0 || m.Type == AttributeProtoFloat {
		w.float32Field(2, m.F)
	}
	if m.I != 0 || m.Type == AttributeProtoInt {
		w.int64Field(3, m.I)
	}
	if m.S != nil || m.Type == AttributeProtoString {
		w.bytesField(4, m.S)
	}
	if m.T != nil {
		w.sub(5, m.T.encode)
	}
	for _, f := range m.Floats {
		w.float32Field(7, f)
	}
	for _, v := range m.Ints {
		w.int64Field(8, v)
	}
	for _, s := range m.Strings {
		w.bytesField(9, s)
	}
	for i := range m.Tensors {
		w.sub(10, m.Tensors[i].encode)
	}
	w.stringIfSet(13, m.DocString)
	if typed {
		w.int64Field(20, int64(m.Type))
	}
}

func (m *TensorAnnotation) encode(w *writer) {
	w.stringIfSet(1, m.TensorName)
	for i := range m.QuantParameterTensorNames {
		w.sub(2, m.QuantParameterTensorNames[i].encode)
	}
}

func (m *OperatorSetID) encode(w *writer) {
	w.stringIfSet(1, m.Domain)
	w.int64Field(2, m.Version)
}

func (m *StringStringEntry) encode(w *writer) {
	w.stringIfSet(1, m.Key)
	w.stringIfSet(2, m.Value)
}
