package resizeconv

import (
	"math"
	"math/bits"

	"github.com/timkpaine/qonnx/internal/datatype"
	"github.com/timkpaine/qonnx/internal/onnx/operators"
	"github.com/timkpaine/qonnx/internal/tensor"
	"github.com/timkpaine/qonnx/internal/transform"
)

// BitWidthStrategy decides how a synthesized kernel, whose taps sum up to U²
// original weights, is represented.
type BitWidthStrategy int

const (
	// Widen grows the bit width by ceil(log2(U²)) so every sum stays exact.
	Widen BitWidthStrategy = iota
	// Clip keeps the original bit width and clamps the sums into its range.
	Clip
)

// StrategyFor selects Clip when the bit width must be maintained, Widen otherwise.
func StrategyFor(maintainBitWidth bool) BitWidthStrategy {
	if maintainBitWidth {
		return Clip
	}
	return Widen
}

func (s BitWidthStrategy) String() string {
	if s == Clip {
		return "clip"
	}
	return "widen"
}

// maxClipBits is the widest integer range float32 holds exactly.
const maxClipBits = 24

// GrowthBits is ceil(log2(u²)).
func GrowthBits(u int) int {
	return bits.Len(uint(u*u - 1))
}

// ApplyDatatype returns the datatype of a synthesized kernel w whose source
// kernel was annotated dt. Under Clip the values of w are clamped in place.
// FLOAT32 kernels are returned unchanged.
func (s BitWidthStrategy) ApplyDatatype(w *tensor.RawTensor, dt datatype.DataType, u int) (datatype.DataType, error) {
	switch dt.Kind() {
	case datatype.KindFloat32:
		return dt, nil
	case datatype.KindBipolar, datatype.KindTernary:
		return dt, unsupported("", "%s kernels have no integer bit width to adjust", dt)
	}

	if s == Widen {
		width := dt.BitWidth() + GrowthBits(u)
		if width > datatype.MaxBits {
			return dt, transform.Errorf(transform.KindInvalidBitWidth, "", "%s widened by %d bits exceeds %d bits",
				dt, GrowthBits(u), datatype.MaxBits)
		}
		widened, err := datatype.Int(width, dt.Signed())
		if err != nil {
			return dt, transform.Wrap(transform.KindInvalidBitWidth, "", err, "widening "+dt.String())
		}
		return widened, nil
	}

	if dt.BitWidth() > maxClipBits {
		return dt, transform.Errorf(transform.KindInvalidBitWidth, "", "cannot clip float32 weights to %s", dt)
	}
	lo, hi := float32(dt.Min()), float32(dt.Max())
	values := w.AsFloat32()
	for i, v := range values {
		values[i] = min(max(v, lo), hi)
	}
	return dt, nil
}

// CheckBitWidth rejects Quant bit widths that are not integers in [1, 64].
func CheckBitWidth(bitWidth float64) error {
	if math.IsNaN(bitWidth) || bitWidth < 1 || bitWidth > datatype.MaxBits || bitWidth != math.Trunc(bitWidth) {
		return transform.Errorf(transform.KindInvalidBitWidth, "", "bit width %g is not an integer in [1, %d]", bitWidth, datatype.MaxBits)
	}
	return nil
}

// ApplyQuant returns the bit width of the Quant node for a synthesized kernel w
// in Conv layout [M, C/g, k', k'], whose source kernel was quantized with the
// given scale (per tensor or [M, 1, 1, 1]), a zero point of 0 and bitWidth.
// Under Clip the values of w are clamped in place to scale·[lo, hi].
func (s BitWidthStrategy) ApplyQuant(w, scale *tensor.RawTensor, bitWidth float64, attrs operators.QuantAttrs, u int) (float64, error) {
	if err := CheckBitWidth(bitWidth); err != nil {
		return 0, err
	}

	if s == Widen {
		width := bitWidth + float64(GrowthBits(u))
		if width > datatype.MaxBits {
			return 0, transform.Errorf(transform.KindInvalidBitWidth, "", "bit width %g widened by %d bits exceeds %d bits",
				bitWidth, GrowthBits(u), datatype.MaxBits)
		}
		return width, nil
	}

	if bitWidth > maxClipBits {
		return 0, transform.Errorf(transform.KindInvalidBitWidth, "", "cannot clip float32 weights to %g bits", bitWidth)
	}
	scales, err := scale.Float64s()
	if err != nil {
		return 0, transform.Wrap(transform.KindInvalidBitWidth, "", err, "reading scale")
	}
	lo, hi := datatype.QuantBounds(bitWidth, attrs.Signed, attrs.Narrow)
	values := w.AsFloat32()
	perChannel := len(values) / w.Shape()[0]
	for i, v := range values {
		sc := scales[0]
		if len(scales) > 1 {
			sc = scales[i/perChannel]
		}
		a, b := float32(lo*sc), float32(hi*sc)
		if a > b {
			a, b = b, a
		}
		values[i] = min(max(v, a), b)
	}
	return bitWidth, nil
}
