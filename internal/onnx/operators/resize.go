package operators

import (
	"fmt"
	"math"

	"github.com/timkpaine/qonnx/internal/tensor"
)

// NearestParams selects how a nearest-neighbor resize maps output to input coordinates.
type NearestParams struct {
	CoordinateMode string // coordinate_transformation_mode
	NearestMode    string // nearest_mode
}

// handleResize implements Resize with mode "nearest". Inputs: X, roi, scales, sizes
// (opset 11+) or X, scales (opset 10).
func handleResize(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("resize requires at least 2 inputs, got %d", len(inputs))
	}
	if mode := GetAttrString(node, "mode", "nearest"); mode != "nearest" {
		return nil, fmt.Errorf("resize: mode %q is not supported", mode)
	}
	x := inputs[0]
	rank := len(x.Shape())

	scalesIn, sizesIn := optionalInput(inputs, 2), optionalInput(inputs, 3)
	if len(inputs) == 2 {
		scalesIn, sizesIn = inputs[1], nil
	}
	var scales []float64
	var sizes []int
	switch {
	case sizesIn != nil && sizesIn.NumElements() > 0:
		raw := sizesIn.AsInt64()
		if len(raw) != rank {
			return nil, fmt.Errorf("resize: sizes has %d entries for rank %d", len(raw), rank)
		}
		sizes = make([]int, rank)
		scales = make([]float64, rank)
		for i, v := range raw {
			sizes[i] = int(v)
			scales[i] = float64(v) / float64(x.Shape()[i])
		}
	case scalesIn != nil && scalesIn.NumElements() > 0:
		var err error
		if scales, err = scalesIn.Float64s(); err != nil {
			return nil, fmt.Errorf("resize: %w", err)
		}
		if len(scales) != rank {
			return nil, fmt.Errorf("resize: scales has %d entries for rank %d", len(scales), rank)
		}
	default:
		return nil, fmt.Errorf("resize: one of scales or sizes must be given")
	}

	params := NearestParams{
		CoordinateMode: GetAttrString(node, "coordinate_transformation_mode", "half_pixel"),
		NearestMode:    GetAttrString(node, "nearest_mode", "round_prefer_floor"),
	}
	out, err := ResizeNearest(x, scales, sizes, params)
	if err != nil {
		return nil, fmt.Errorf("resize: %w", err)
	}
	return single(out), nil
}

// handleUpsample implements the legacy Upsample operator in nearest mode,
// with scales given as input 1 (opset 9) or as an attribute (opset 7).
func handleUpsample(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("upsample requires at least 1 input, got %d", len(inputs))
	}
	if mode := GetAttrString(node, "mode", "nearest"); mode != "nearest" {
		return nil, fmt.Errorf("upsample: mode %q is not supported", mode)
	}
	var scales []float64
	if s := optionalInput(inputs, 1); s != nil {
		var err error
		if scales, err = s.Float64s(); err != nil {
			return nil, fmt.Errorf("upsample: %w", err)
		}
	} else {
		for _, f := range GetAttrFloats(node, "scales") {
			scales = append(scales, float64(f))
		}
	}
	if len(scales) != len(inputs[0].Shape()) {
		return nil, fmt.Errorf("upsample: scales %v do not match rank %d", scales, len(inputs[0].Shape()))
	}
	out, err := ResizeNearest(inputs[0], scales, nil, NearestParams{CoordinateMode: "asymmetric", NearestMode: "floor"})
	if err != nil {
		return nil, fmt.Errorf("upsample: %w", err)
	}
	return single(out), nil
}

// ResizeNearest resamples x by nearest neighbor. When sizes is nil the output
// size of each axis is floor(in * scale).
func ResizeNearest(x *tensor.RawTensor, scales []float64, sizes []int, params NearestParams) (*tensor.RawTensor, error) {
	in := x.Shape()
	outShape := make(tensor.Shape, len(in))
	maps := make([][]int, len(in))
	for d := range in {
		if scales[d] <= 0 {
			return nil, fmt.Errorf("scale %g on axis %d must be positive", scales[d], d)
		}
		if sizes != nil {
			outShape[d] = sizes[d]
		} else {
			outShape[d] = int(math.Floor(float64(in[d]) * scales[d]))
		}
		m := make([]int, outShape[d])
		for o := range m {
			src, err := nearestSource(o, in[d], outShape[d], scales[d], params)
			if err != nil {
				return nil, err
			}
			m[o] = src
		}
		maps[d] = m
	}

	out, err := tensor.NewRaw(outShape, x.DType())
	if err != nil {
		return nil, err
	}
	elem := x.DType().Size()
	src, dst := x.Data(), out.Data()
	inStrides, outStrides := in.ComputeStrides(), outShape.ComputeStrides()
	for i := 0; i < out.NumElements(); i++ {
		rem, s := i, 0
		for d, st := range outStrides {
			s += maps[d][rem/st] * inStrides[d]
			rem %= st
		}
		copy(dst[i*elem:(i+1)*elem], src[s*elem:(s+1)*elem])
	}
	return out, nil
}

// nearestSource maps output coordinate o of an axis to the input coordinate it copies.
func nearestSource(o, inLen, outLen int, scale float64, params NearestParams) (int, error) {
	var x float64
	switch params.CoordinateMode {
	case "half_pixel":
		x = (float64(o)+0.5)/scale - 0.5
	case "pytorch_half_pixel":
		if outLen > 1 {
			x = (float64(o)+0.5)/scale - 0.5
		}
	case "asymmetric":
		x = float64(o) / scale
	case "align_corners":
		if outLen > 1 {
			x = float64(o) * float64(inLen-1) / float64(outLen-1)
		}
	case "tf_half_pixel_for_nn":
		x = (float64(o) + 0.5) / scale
	default:
		return 0, fmt.Errorf("unsupported coordinate_transformation_mode %q", params.CoordinateMode)
	}

	var idx float64
	switch params.NearestMode {
	case "round_prefer_floor":
		if x-math.Floor(x) == 0.5 {
			idx = math.Floor(x)
		} else {
			idx = math.Round(x)
		}
	case "round_prefer_ceil":
		idx = math.Floor(x + 0.5)
	case "floor":
		idx = math.Floor(x)
	case "ceil":
		idx = math.Ceil(x)
	default:
		return 0, fmt.Errorf("unsupported nearest_mode %q", params.NearestMode)
	}
	return min(max(int(idx), 0), inLen-1), nil
}
