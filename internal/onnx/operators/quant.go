package operators

import (
	"fmt"
	"math"

	"github.com/gomlx/exceptions"
	"github.com/timkpaine/qonnx/internal/datatype"
	"github.com/timkpaine/qonnx/internal/tensor"
)

// registerQuantOps adds the QONNX quantization operators.
func (r *Registry) registerQuantOps() {
	r.Register("Quant", handleQuant)
}

// QuantAttrs are the attributes of a QONNX Quant node.
type QuantAttrs struct {
	Signed       bool
	Narrow       bool
	RoundingMode string
}

// ReadQuantAttrs reads the attributes of a Quant node, applying QONNX defaults.
func ReadQuantAttrs(node *Node) QuantAttrs {
	return QuantAttrs{
		Signed:       GetAttrInt(node, "signed", 1) != 0,
		Narrow:       GetAttrInt(node, "narrow", 0) != 0,
		RoundingMode: GetAttrString(node, "rounding_mode", "ROUND"),
	}
}

// handleQuant implements QONNX Quant: inputs x, scale, zero point, bit width.
func handleQuant(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 4 {
		return nil, fmt.Errorf("quant requires 4 inputs (x, scale, zeropt, bitwidth), got %d", len(inputs))
	}
	bits, err := inputs[3].Float64s()
	if err != nil {
		return nil, fmt.Errorf("quant: bitwidth: %w", err)
	}
	if len(bits) != 1 {
		return nil, fmt.Errorf("quant: bitwidth must be a scalar, got shape %s", inputs[3].Shape())
	}
	y, err := Quantize(floatInput(node, inputs, 0), floatInput(node, inputs, 1), floatInput(node, inputs, 2),
		bits[0], ReadQuantAttrs(node))
	if err != nil {
		return nil, fmt.Errorf("quant: %w", err)
	}
	return single(y), nil
}

// Quantize applies QONNX fake quantization,
// y = (round(clip(x/scale + zp, lo, hi)) - zp) * scale, with numpy broadcasting.
func Quantize(x, scale, zeropt *tensor.RawTensor, bits float64, attrs QuantAttrs) (y *tensor.RawTensor, err error) {
	round, err := RoundingFunc(attrs.RoundingMode)
	if err != nil {
		return nil, err
	}
	lo, hi := datatype.QuantBounds(bits, attrs.Signed, attrs.Narrow)
	exception := exceptions.TryCatch[error](func() {
		x, scale, zeropt := mustRaw(x.ToFloat32()), mustRaw(scale.ToFloat32()), mustRaw(zeropt.ToFloat32())
		q := broadcastApply(x, scale, func(v, s float32) float32 { return v / s })
		q = broadcastApply(q, zeropt, func(v, z float32) float32 {
			return float32(round(min(max(float64(v)+float64(z), lo), hi)) - float64(z))
		})
		y = broadcastApply(q, scale, func(v, s float32) float32 { return v * s })
	})
	if exception != nil {
		return nil, exception
	}
	return y, nil
}

// RoundingFunc resolves a QONNX rounding_mode name.
func RoundingFunc(mode string) (func(float64) float64, error) {
	switch mode {
	case "ROUND", "HALF_EVEN":
		return math.RoundToEven, nil
	case "CEIL":
		return math.Ceil, nil
	case "FLOOR":
		return math.Floor, nil
	case "ROUND_TO_ZERO":
		return math.Trunc, nil
	case "HALF_UP":
		return func(v float64) float64 { return math.Floor(v + 0.5) }, nil
	case "HALF_DOWN":
		return func(v float64) float64 { return math.Ceil(v - 0.5) }, nil
	default:
		return nil, fmt.Errorf("unknown rounding_mode %q", mode)
	}
}
