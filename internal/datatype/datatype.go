// Package datatype models the quantized tensor datatypes carried in QONNX
// quantization annotations ("FLOAT32", "BIPOLAR", "TERNARY", "INT4", "UINT8", ...).
package datatype

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// AnnotationKey is the quantization_annotation key under which QONNX stores a tensor's datatype.
const AnnotationKey = "finn_datatype"

// MaxBits is the widest integer datatype.
const MaxBits = 64

// Kind classifies a DataType.
type Kind int

// Datatype kinds.
const (
	KindFloat32 Kind = iota
	KindBipolar
	KindTernary
	KindInt
	KindUint
)

// DataType is a tensor datatype. The zero value is FLOAT32.
type DataType struct {
	kind Kind
	bits int
}

// Float32 is the unquantized datatype.
var Float32 = DataType{kind: KindFloat32, bits: 32}

// Bipolar holds values in {-1, +1}.
var Bipolar = DataType{kind: KindBipolar, bits: 1}

// Ternary holds values in {-1, 0, +1}.
var Ternary = DataType{kind: KindTernary, bits: 2}

// Int returns the signed (INTk) or unsigned (UINTk) integer datatype of the given width.
func Int(bits int, signed bool) (DataType, error) {
	if bits < 1 || bits > MaxBits {
		return DataType{}, errors.Errorf("integer datatype width %d outside [1, %d]", bits, MaxBits)
	}
	if signed {
		return DataType{kind: KindInt, bits: bits}, nil
	}
	return DataType{kind: KindUint, bits: bits}, nil
}

// Parse parses a datatype name such as "INT4" or "UINT8".
func Parse(name string) (DataType, error) {
	switch name {
	case "FLOAT32":
		return Float32, nil
	case "BIPOLAR":
		return Bipolar, nil
	case "TERNARY":
		return Ternary, nil
	case "BINARY":
		return Int(1, false)
	}
	var digits string
	var signed bool
	switch {
	case strings.HasPrefix(name, "UINT"):
		digits = strings.TrimPrefix(name, "UINT")
	case strings.HasPrefix(name, "INT"):
		digits, signed = strings.TrimPrefix(name, "INT"), true
	default:
		return DataType{}, errors.Errorf("unknown datatype %q", name)
	}
	bits, err := strconv.Atoi(digits)
	if err != nil {
		return DataType{}, errors.Wrapf(err, "datatype %q", name)
	}
	return Int(bits, signed)
}

// Kind returns the datatype kind.
func (d DataType) Kind() Kind { return d.kind }

// BitWidth returns the number of bits per element.
func (d DataType) BitWidth() int {
	if d.kind == KindFloat32 {
		return 32
	}
	return d.bits
}

// Signed reports whether the datatype can hold negative values.
func (d DataType) Signed() bool {
	return d.kind != KindUint
}

// IsInteger reports whether every allowed value is an integer.
func (d DataType) IsInteger() bool {
	return d.kind != KindFloat32
}

// Min returns the smallest allowed value.
func (d DataType) Min() float64 {
	switch d.kind {
	case KindFloat32:
		return -math.MaxFloat32
	case KindBipolar, KindTernary:
		return -1
	case KindUint:
		return 0
	default:
		return -math.Ldexp(1, d.bits-1)
	}
}

// Max returns the largest allowed value.
func (d DataType) Max() float64 {
	switch d.kind {
	case KindFloat32:
		return math.MaxFloat32
	case KindBipolar, KindTernary:
		return 1
	case KindUint:
		return math.Ldexp(1, d.bits) - 1
	default:
		return math.Ldexp(1, d.bits-1) - 1
	}
}

// Allowed reports whether v is representable in the datatype.
func (d DataType) Allowed(v float64) bool {
	switch d.kind {
	case KindFloat32:
		return !math.IsNaN(v)
	case KindBipolar:
		return v == -1 || v == 1
	}
	return v == math.Trunc(v) && v >= d.Min() && v <= d.Max()
}

// String returns the QONNX datatype name.
func (d DataType) String() string {
	switch d.kind {
	case KindFloat32:
		return "FLOAT32"
	case KindBipolar:
		return "BIPOLAR"
	case KindTernary:
		return "TERNARY"
	case KindUint:
		return "UINT" + strconv.Itoa(d.bits)
	default:
		return "INT" + strconv.Itoa(d.bits)
	}
}

// QuantBounds returns the integer range [lo, hi] of a Quant node with the given
// bit width, signedness and narrow-range flag.
func QuantBounds(bits float64, signed, narrow bool) (lo, hi float64) {
	switch {
	case signed && narrow:
		return -math.Exp2(bits-1) + 1, math.Exp2(bits-1) - 1
	case signed:
		return -math.Exp2(bits - 1), math.Exp2(bits-1) - 1
	case narrow:
		return 0, math.Exp2(bits) - 2
	default:
		return 0, math.Exp2(bits) - 1
	}
}
