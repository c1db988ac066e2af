// Package tensor provides the dense host tensors used by the ONNX executor and graph passes.
package tensor

// DataType is the element type of a RawTensor.
type DataType int

// Element types.
const (
	Float32 DataType = iota
	Float64
	Int32
	Int64
	Uint8
	Bool
)

var dtypeInfo = [...]struct {
	name  string
	size  int
	float bool
}{
	Float32: {"float32", 4, true},
	Float64: {"float64", 8, true},
	Int32:   {"int32", 4, false},
	Int64:   {"int64", 8, false},
	Uint8:   {"uint8", 1, false},
	Bool:    {"bool", 1, false},
}

func (dt DataType) valid() bool { return dt >= 0 && int(dt) < len(dtypeInfo) }

// Size returns the byte size of one element. It panics on an unknown type.
func (dt DataType) Size() int {
	if !dt.valid() {
		panic("unknown data type")
	}
	return dtypeInfo[dt].size
}

// IsFloat reports whether the data type holds floating point values.
func (dt DataType) IsFloat() bool {
	return dt.valid() && dtypeInfo[dt].float
}

func (dt DataType) String() string {
	if !dt.valid() {
		return "unknown"
	}
	return dtypeInfo[dt].name
}
