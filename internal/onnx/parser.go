package onnx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: Path is provided by user, file inclusion is intentional for ONNX model loading
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes.
func Parse(data []byte) (*ModelProto, error) {
	p := &parser{data: data}
	model := &ModelProto{}
	if err := p.readModelProto(model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return model, nil
}

// parser implements a minimal protobuf wire format decoder.
type parser struct {
	data []byte
	pos  int
}

// Protobuf wire types.
const (
	wireVarint = 0 // int32, int64, uint32, uint64, sint32, sint64, bool, enum
	wire64Bit  = 1 // fixed64, sfixed64, double
	wireBytes  = 2 // string, bytes, embedded messages, packed repeated fields
	wire32Bit  = 5 // fixed32, sfixed32, float
)

// fieldFunc decodes one field of a message; it returns handled=false for unknown fields.
type fieldFunc func(p *parser, fieldNum, wireType int) (handled bool, err error)

// readFields loops over the tags of the current buffer, dispatching to fn and
// skipping fields fn does not handle.
func (p *parser) readFields(fn fieldFunc) error {
	for p.pos < len(p.data) {
		fieldNum, wireType, err := p.readTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		handled, err := fn(p, fieldNum, wireType)
		if err != nil {
			return fmt.Errorf("field %d: %w", fieldNum, err)
		}
		if !handled {
			if err := p.skipField(wireType); err != nil {
				return err
			}
		}
	}
	return nil
}

// readSub reads a length-delimited embedded message and decodes it with fn.
func (p *parser) readSub(fn fieldFunc) error {
	data, err := p.readBytes()
	if err != nil {
		return err
	}
	sub := &parser{data: data}
	return sub.readFields(fn)
}

func (p *parser) readString() (string, error) {
	data, err := p.readBytes()
	return string(data), err
}

//nolint:gocyclo // Protobuf parsing requires field-by-field switch logic
func (p *parser) readModelProto(m *ModelProto) error {
	return p.readFields(func(p *parser, fieldNum, wireType int) (bool, error) {
		var err error
		switch fieldNum {
		case 1: // ir_version
			m.IRVersion, err = p.readVarint()
		case 2: // producer_name
			m.ProducerName, err = p.readString()
		case 3: // producer_version
			m.ProducerVersion, err = p.readString()
		case 4: // domain
			m.Domain, err = p.readString()
		case 5: // model_version
			m.ModelVersion, err = p.readVarint()
		case 6: // doc_string
			m.DocString, err = p.readString()
		case 7: // graph
			m.Graph = &GraphProto{}
			err = p.readSub(m.Graph.fields)
		case 8: // opset_import
			var opset OperatorSetID
			err = p.readSub(opset.fields)
			m.OpsetImport = append(m.OpsetImport, opset)
		case 14: // metadata_props
			var entry StringStringEntry
			err = p.readSub(entry.fields)
			m.MetadataProps = append(m.MetadataProps, entry)
		default:
			return false, nil
		}
		return true, err
	})
}

//nolint:gocyclo // Protobuf parsing requires field-by-field switch logic
func (m *GraphProto) fields(p *parser, fieldNum, _ int) (bool, error) {
	var err error
	switch fieldNum {
	case 1: // node
		var node NodeProto
		err = p.readSub(node.fields)
		m.Nodes = append(m.Nodes, node)
	case 2: // name
		m.Name, err = p.readString()
	case 5: // initializer
		var t TensorProto
		err = p.readSub(t.fields)
		m.Initializers = append(m.Initializers, t)
	case 10: // doc_string
		m.DocString, err = p.readString()
	case 11: // input
		var vi ValueInfoProto
		err = p.readSub(vi.fields)
		m.Inputs = append(m.Inputs, vi)
	case 12: // output
		var vi ValueInfoProto
		err = p.readSub(vi.fields)
		m.Outputs = append(m.Outputs, vi)
	case 13: // value_info
		var vi ValueInfoProto
		err = p.readSub(vi.fields)
		m.ValueInfo = append(m.ValueInfo, vi)
	case 14: // quantization_annotation
		var qa TensorAnnotation
		err = p.readSub(qa.fields)
		m.QuantizationAnnotation = append(m.QuantizationAnnotation, qa)
	default:
		return false, nil
	}
	return true, err
}

func (m *NodeProto) fields(p *parser, fieldNum, _ int) (bool, error) {
	var err error
	var s string
	switch fieldNum {
	case 1: // input
		s, err = p.readString()
		m.Inputs = append(m.Inputs, s)
	case 2: // output
		s, err = p.readString()
		m.Outputs = append(m.Outputs, s)
	case 3: // name
		m.Name, err = p.readString()
	case 4: // op_type
		m.OpType, err = p.readString()
	case 5: // attribute
		var attr AttributeProto
		err = p.readSub(attr.fields)
		m.Attributes = append(m.Attributes, attr)
	case 6: // doc_string
		m.DocString, err = p.readString()
	case 7: // domain
		m.Domain, err = p.readString()
	default:
		return false, nil
	}
	return true, err
}

//nolint:gocyclo // Protobuf parsing requires field-by-field switch logic
func (m *TensorProto) fields(p *parser, fieldNum, wireType int) (bool, error) {
	var err error
	switch fieldNum {
	case 1: // dims
		err = p.appendVarints(wireType, func(v int64) { m.Dims = append(m.Dims, v) })
	case 2: // data_type
		m.DataType, err = p.readInt32()
	case 4: // float_data
		err = p.appendFixed32(wireType, func(bits uint32) {
			m.FloatData = append(m.FloatData, math.Float32frombits(bits))
		})
	case 5: // int32_data
		err = p.appendVarints(wireType, func(v int64) {
			m.Int32Data = append(m.Int32Data, int32(v)) //nolint:gosec // G115: ONNX protobuf varint fits in int32.
		})
	case 7: // int64_data
		err = p.appendVarints(wireType, func(v int64) { m.Int64Data = append(m.Int64Data, v) })
	case 8: // name
		m.Name, err = p.readString()
	case 9: // raw_data
		m.RawData, err = p.readBytes()
	case 10: // double_data
		err = p.appendFixed64(wireType, func(bits uint64) {
			m.DoubleData = append(m.DoubleData, math.Float64frombits(bits))
		})
	case 12: // doc_string
		m.DocString, err = p.readString()
	default:
		return false, nil
	}
	return true, err
}

func (m *ValueInfoProto) fields(p *parser, fieldNum, _ int) (bool, error) {
	var err error
	switch fieldNum {
	case 1: // name
		m.Name, err = p.readString()
	case 2: // type
		m.Type = &TypeProto{}
		err = p.readSub(m.Type.fields)
	case 3: // doc_string
		m.DocString, err = p.readString()
	default:
		return false, nil
	}
	return true, err
}

func (m *TypeProto) fields(p *parser, fieldNum, _ int) (bool, error) {
	if fieldNum != 1 { // tensor_type
		return false, nil
	}
	m.TensorType = &TensorTypeProto{}
	return true, p.readSub(m.TensorType.fields)
}

func (m *TensorTypeProto) fields(p *parser, fieldNum, _ int) (bool, error) {
	var err error
	switch fieldNum {
	case 1: // elem_type
		m.ElemType, err = p.readInt32()
	case 2: // shape
		m.Shape = &TensorShapeProto{}
		err = p.readSub(m.Shape.fields)
	default:
		return false, nil
	}
	return true, err
}

func (m *TensorShapeProto) fields(p *parser, fieldNum, _ int) (bool, error) {
	if fieldNum != 1 { // dim
		return false, nil
	}
	var dim DimensionProto
	err := p.readSub(dim.fields)
	m.Dims = append(m.Dims, dim)
	return true, err
}

func (m *DimensionProto) fields(p *parser, fieldNum, _ int) (bool, error) {
	var err error
	switch fieldNum {
	case 1: // dim_value
		m.DimValue, err = p.readVarint()
	case 2: // dim_param
		m.DimParam, err = p.readString()
	default:
		return false, nil
	}
	return true, err
}

//nolint:gocyclo // Protobuf parsing requires field-by-field switch logic
func (m *AttributeProto) fields(p *parser, fieldNum, wireType int) (bool, error) {
	var err error
	switch fieldNum {
	case 1: // name
		m.Name, err = p.readString()
	case 2: // f
		m.F, err = p.readFloat32()
	case 3: // i
		m.I, err = p.readVarint()
	case 4: // s
		m.S, err = p.readBytes()
	case 5: // t
		m.T = &TensorProto{}
		err = p.readSub(m.T.fields)
	case 7: // floats
		err = p.appendFixed32(wireType, func(bits uint32) {
			m.Floats = append(m.Floats, math.Float32frombits(bits))
		})
	case 8: // ints
		err = p.appendVarints(wireType, func(v int64) { m.Ints = append(m.Ints, v) })
	case 9: // strings
		var data []byte
		data, err = p.readBytes()
		m.Strings = append(m.Strings, data)
	case 10: // tensors
		var t TensorProto
		err = p.readSub(t.fields)
		m.Tensors = append(m.Tensors, t)
	case 13: // doc_string
		m.DocString, err = p.readString()
	case 20: // type
		m.Type, err = p.readInt32()
	default:
		return false, nil
	}
	return true, err
}

func (m *TensorAnnotation) fields(p *parser, fieldNum, _ int) (bool, error) {
	var err error
	switch fieldNum {
	case 1: // tensor_name
		m.TensorName, err = p.readString()
	case 2: // quant_parameter_tensor_names
		var entry StringStringEntry
		err = p.readSub(entry.fields)
		m.QuantParameterTensorNames = append(m.QuantParameterTensorNames, entry)
	default:
		return false, nil
	}
	return true, err
}

func (m *OperatorSetID) fields(p *parser, fieldNum, _ int) (bool, error) {
	var err error
	switch fieldNum {
	case 1: // domain
		m.Domain, err = p.readString()
	case 2: // version
		m.Version, err = p.readVarint()
	default:
		return false, nil
	}
	return true, err
}

func (m *StringStringEntry) fields(p *parser, fieldNum, _ int) (bool, error) {
	var err error
	switch fieldNum {
	case 1: // key
		m.Key, err = p.readString()
	case 2: // value
		m.Value, err = p.readString()
	default:
		return false, nil
	}
	return true, err
}

// appendVarints reads a repeated varint field in either packed or unpacked encoding.
func (p *parser) appendVarints(wireType int, add func(int64)) error {
	if wireType != wireBytes {
		v, err := p.readVarint()
		if err != nil {
			return err
		}
		add(v)
		return nil
	}
	data, err := p.readBytes()
	if err != nil {
		return err
	}
	sub := &parser{data: data}
	for sub.pos < len(sub.data) {
		v, err := sub.readVarint()
		if err != nil {
			return err
		}
		add(v)
	}
	return nil
}

// appendFixed32 reads a repeated 32-bit field in either packed or unpacked encoding.
func (p *parser) appendFixed32(wireType int, add func(uint32)) error {
	if wireType != wireBytes {
		if p.pos+4 > len(p.data) {
			return io.ErrUnexpectedEOF
		}
		add(binary.LittleEndian.Uint32(p.data[p.pos:]))
		p.pos += 4
		return nil
	}
	data, err := p.readBytes()
	if err != nil {
		return err
	}
	for i := 0; i+4 <= len(data); i += 4 {
		add(binary.LittleEndian.Uint32(data[i:]))
	}
	return nil
}

// appendFixed64 reads a repeated 64-bit field in either packed or unpacked encoding.
func (p *parser) appendFixed64(wireType int, add func(uint64)) error {
	if wireType != wireBytes {
		if p.pos+8 > len(p.data) {
			return io.ErrUnexpectedEOF
		}
		add(binary.LittleEndian.Uint64(p.data[p.pos:]))
		p.pos += 8
		return nil
	}
	data, err := p.readBytes()
	if err != nil {
		return err
	}
	for i := 0; i+8 <= len(data); i += 8 {
		add(binary.LittleEndian.Uint64(data[i:]))
	}
	return nil
}

// readTag reads a protobuf field tag.
func (p *parser) readTag() (fieldNum, wireType int, err error) {
	if p.pos >= len(p.data) {
		return 0, 0, io.EOF
	}
	tag, err := p.readVarint()
	if err != nil {
		return 0, 0, err
	}
	fieldNum = int(tag >> 3)
	wireType = int(tag & 0x7)
	return fieldNum, wireType, nil
}

// readVarint reads a varint-encoded int64.
func (p *parser) readVarint() (int64, error) {
	var result uint64
	var shift uint
	for {
		if p.pos >= len(p.data) {
			return 0, io.ErrUnexpectedEOF
		}
		b := p.data[p.pos]
		p.pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 64 {
			return 0, errors.New("varint overflow")
		}
	}
	return int64(result), nil //nolint:gosec // G115: Protobuf varint fits in int64.
}

// readInt32 reads a varint-encoded int32.
func (p *parser) readInt32() (int32, error) {
	v, err := p.readVarint()
	if err != nil {
		return 0, err
	}
	return int32(v), nil //nolint:gosec // G115: Protobuf varint fits in int32.
}

// readBytes reads a length-delimited byte slice.
func (p *parser) readBytes() ([]byte, error) {
	length, err := p.readVarint()
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, errors.New("negative length")
	}
	end := p.pos + int(length)
	if end > len(p.data) {
		return nil, io.ErrUnexpectedEOF
	}
	result := p.data[p.pos:end]
	p.pos = end
	return result, nil
}

// readFloat32 reads a 32-bit float.
func (p *parser) readFloat32() (float32, error) {
	if p.pos+4 > len(p.data) {
		return 0, io.ErrUnexpectedEOF
	}
	bits := binary.LittleEndian.Uint32(p.data[p.pos:])
	p.pos += 4
	return math.Float32frombits(bits), nil
}

// skipField skips a field based on wire type.
func (p *parser) skipField(wireType int) error {
	switch wireType {
	case wireVarint:
		_, err := p.readVarint()
		return err
	case wire64Bit:
		if p.pos+8 > len(p.data) {
			return io.ErrUnexpectedEOF
		}
		p.pos += 8
		return nil
	case wireBytes:
		_, err := p.readBytes()
		return err
	case wire32Bit:
		if p.pos+4 > len(p.data) {
			return io.ErrUnexpectedEOF
		}
		p.pos += 4
		return nil
	default:
		return fmt.Errorf("unknown wire type: %d", wireType)
	}
}
