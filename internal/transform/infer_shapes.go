package transform

import (
	"math"
	"slices"

	"github.com/pkg/errors"

	"github.com/timkpaine/qonnx/internal/graph"
	"github.com/timkpaine/qonnx/internal/onnx"
	"github.com/timkpaine/qonnx/internal/onnx/operators"
	"github.com/timkpaine/qonnx/internal/tensor"
)

// InferShapes records static output shapes in value_info for the operators the
// reference executor supports. Nodes whose input shapes are unknown are skipped
// and picked up on a later round once their producers have been inferred.
type InferShapes struct{}

// Name implements Transformation.
func (InferShapes) Name() string { return "InferShapes" }

// Apply implements Transformation.
func (InferShapes) Apply(g *graph.Graph) (bool, error) {
	modified := false
	for i := range g.NumNodes() {
		proto := g.Node(i)
		out, err := inferNode(g, proto)
		if err != nil {
			return false, errors.Wrapf(err, "inferring shape of %s node %q", proto.OpType, proto.Name)
		}
		if out == nil || len(proto.Outputs) == 0 || proto.Outputs[0] == "" {
			continue
		}
		if !slices.Equal(g.TensorShape(proto.Outputs[0]), out) {
			g.SetTensorShape(proto.Outputs[0], out)
			modified = true
		}
	}
	return modified, nil
}

// inferNode returns the shape of the first output of proto, or nil when it
// cannot be determined yet.
func inferNode(g *graph.Graph, proto *onnx.NodeProto) ([]int64, error) {
	in := make([]tensor.Shape, len(proto.Inputs))
	for i, name := range proto.Inputs {
		if name == "" {
			continue
		}
		s := g.TensorShape(name)
		if s == nil {
			continue
		}
		in[i] = toShape(s)
	}
	known := func(i int) bool { return i < len(in) && in[i] != nil }
	if !known(0) {
		return nil, nil
	}

	node, err := onnx.OperatorNode(proto)
	if err != nil {
		return nil, err
	}

	switch proto.OpType {
	case "Relu", "Sigmoid", "Identity", "Dropout", "Quant":
		return fromShape(in[0]), nil

	case "Add", "Sub", "Mul", "Div":
		if !known(1) {
			return nil, nil
		}
		out, _, err := tensor.BroadcastShapes(in[0], in[1])
		if err != nil {
			return nil, err
		}
		return fromShape(out), nil

	case "Conv":
		if !known(1) || len(in[0]) != 4 || len(in[1]) != 4 {
			return nil, nil
		}
		x, w := in[0], in[1]
		p, err := operators.ReadConvParams(node, [2]int{w[2], w[3]})
		if err != nil {
			return nil, err
		}
		if err := p.ResolveAutoPad(operators.GetAttrString(node, "auto_pad", "NOTSET"), [2]int{x[2], x[3]}); err != nil {
			return nil, err
		}
		out := []int64{int64(x[0]), int64(w[0]), 0, 0}
		for a := range 2 {
			out[2+a] = int64(operators.ConvOutputSize(x[2+a], p.Kernel[a], p.Strides[a], p.Dilations[a], p.PadsBegin[a], p.PadsEnd[a]))
		}
		return out, nil

	case "ConvTranspose":
		if !known(1) || len(in[0]) != 4 || len(in[1]) != 4 {
			return nil, nil
		}
		x, w := in[0], in[1]
		p, err := operators.ReadConvParams(node, [2]int{w[2], w[3]})
		if err != nil {
			return nil, err
		}
		out := []int64{int64(x[0]), int64(w[1] * p.Group), 0, 0}
		if target := operators.GetAttrInts(node, "output_shape"); len(target) >= 2 {
			copy(out[2:], target[len(target)-2:])
			return out, nil
		}
		for a := range 2 {
			out[2+a] = int64(operators.ConvTransposeOutputSize(x[2+a], p.Kernel[a], p.Strides[a], p.Dilations[a],
				p.PadsBegin[a], p.PadsEnd[a], p.OutputPadding[a]))
		}
		return out, nil

	case "Resize":
		return inferResize(g, proto, in[0])

	case "Upsample":
		var scales []float64
		if len(proto.Inputs) > 1 && proto.Inputs[1] != "" {
			t, err := g.InitializerTensor(proto.Inputs[1])
			if err != nil {
				return nil, nil
			}
			if scales, err = t.Float64s(); err != nil {
				return nil, err
			}
		} else {
			for _, f := range operators.GetAttrFloats(node, "scales") {
				scales = append(scales, float64(f))
			}
		}
		return scaleShape(in[0], scales)

	case "DepthToSpace":
		b := int(operators.GetAttrInt(node, "blocksize", 0))
		x := in[0]
		if len(x) != 4 || b <= 0 || x[1]%(b*b) != 0 {
			return nil, errors.Errorf("invalid input %s for blocksize %d", x, b)
		}
		return []int64{int64(x[0]), int64(x[1] / (b * b)), int64(x[2] * b), int64(x[3] * b)}, nil

	case "Reshape":
		if len(proto.Inputs) < 2 {
			return nil, nil
		}
		t, err := g.InitializerTensor(proto.Inputs[1])
		if err != nil {
			return nil, nil
		}
		if t.DType() != tensor.Int64 {
			return nil, errors.Errorf("shape input has dtype %s, not int64", t.DType())
		}
		out, err := operators.ResolveReshape(in[0], t.AsInt64())
		if err != nil {
			return nil, err
		}
		return fromShape(out), nil

	case "Transpose":
		perm := operators.GetAttrInts(node, "perm")
		out := make([]int64, len(in[0]))
		for i := range out {
			src := len(in[0]) - 1 - i
			if perm != nil {
				if len(perm) != len(in[0]) {
					return nil, errors.Errorf("perm %v does not match rank %d", perm, len(in[0]))
				}
				src = int(perm[i])
			}
			out[i] = int64(in[0][src])
		}
		return out, nil
	}
	return nil, nil
}

// inferResize handles both the opset 10 (X, scales) and 11+ (X, roi, scales, sizes) forms.
// Scales and sizes must be initializers for the shape to be static.
func inferResize(g *graph.Graph, proto *onnx.NodeProto, x tensor.Shape) ([]int64, error) {
	scalesName, sizesName := proto.Input(2), proto.Input(3)
	if len(proto.Inputs) == 2 {
		scalesName, sizesName = proto.Inputs[1], ""
	}
	if sizesName != "" {
		if t, err := g.InitializerTensor(sizesName); err == nil && t.NumElements() > 0 {
			if t.DType() != tensor.Int64 {
				return nil, errors.Errorf("sizes input has dtype %s, not int64", t.DType())
			}
			sizes := t.AsInt64()
			if len(sizes) != len(x) {
				return nil, errors.Errorf("sizes %v do not match rank %d", sizes, len(x))
			}
			return slices.Clone(sizes), nil
		}
	}
	if scalesName == "" {
		return nil, nil
	}
	t, err := g.InitializerTensor(scalesName)
	if err != nil {
		return nil, nil
	}
	if t.NumElements() == 0 {
		return nil, nil
	}
	scales, err := t.Float64s()
	if err != nil {
		return nil, err
	}
	return scaleShape(x, scales)
}

func scaleShape(x tensor.Shape, scales []float64) ([]int64, error) {
	if len(scales) != len(x) {
		return nil, errors.Errorf("scales %v do not match rank %d", scales, len(x))
	}
	out := make([]int64, len(x))
	for i, s := range scales {
		out[i] = int64(math.Floor(float64(x[i]) * s))
	}
	return out, nil
}

func toShape(s []int64) tensor.Shape {
	out := make(tensor.Shape, len(s))
	for i, v := range s {
		out[i] = int(v)
	}
	return out
}

func fromShape(s tensor.Shape) []int64 {
	out := make([]int64, len(s))
	for i, v := range s {
		out[i] = int64(v)
	}
	return out
}
