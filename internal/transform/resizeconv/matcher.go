package resizeconv

import (
	"iter"
	"math"
	"slices"

	"github.com/timkpaine/qonnx/internal/graph"
	"github.com/timkpaine/qonnx/internal/onnx"
	"github.com/timkpaine/qonnx/internal/onnx/operators"
	"github.com/timkpaine/qonnx/internal/tensor"
	"github.com/timkpaine/qonnx/internal/transform"
)

// Match is a nearest Resize whose only consumer is a Conv that can absorb it.
type Match struct {
	Resize     int     // Node index of the Resize
	Conv       int     // Node index of the Conv
	Input      string  // Data input of the Resize, read directly by the replacement
	InputShape []int64 // Static shape of Input, nil when unknown
	Upscale    int
	Attrs      ConvAttrs
	Weight     Weight
	Bias       string // Bias input of the Conv, "" when absent
}

// Weight locates the float kernel of the matched Conv.
type Weight struct {
	Values string       // Initializer holding the float kernel
	Quant  *QuantParams // Set when the Conv reads the kernel through a Quant node
}

// QuantParams describes the Quant node quantizing a Conv kernel.
// All of its inputs are initializers.
type QuantParams struct {
	Node      int
	Output    string
	Scale     string
	ZeroPoint string
	BitWidth  string
	Attrs     operators.QuantAttrs
}

// Matches lazily yields one entry per Resize node of g: either a Match, or an
// UnsupportedPattern error explaining why that Resize cannot be rewritten.
// With an error only Match.Resize is set, Match.Conv is -1.
// idx must describe g as it currently is.
func Matches(g *graph.Graph, idx *graph.Index) iter.Seq2[Match, error] {
	return func(yield func(Match, error) bool) {
		for i := range g.NumNodes() {
			if g.Node(i).OpType != "Resize" {
				continue
			}
			m, err := matchAt(g, idx, i)
			if err != nil {
				m = Match{Resize: i, Conv: -1}
			}
			if !yield(m, err) {
				return
			}
		}
	}
}

func unsupported(node, format string, args ...any) error {
	return transform.Errorf(transform.KindUnsupportedPattern, node, format, args...)
}

func matchAt(g *graph.Graph, idx *graph.Index, i int) (Match, error) {
	resize := g.Node(i)
	rn, err := onnx.OperatorNode(resize)
	if err != nil {
		return Match{}, transform.Wrap(transform.KindUnsupportedPattern, resize.Name, err, "reading attributes")
	}
	if mode := operators.GetAttrString(rn, "mode", "nearest"); mode != "nearest" {
		return Match{}, unsupported(resize.Name, "mode %q is not nearest", mode)
	}
	if axes := operators.GetAttrInts(rn, "axes"); axes != nil && !slices.Equal(axes, []int64{0, 1, 2, 3}) {
		return Match{}, unsupported(resize.Name, "axes %v", axes)
	}
	if policy := operators.GetAttrString(rn, "keep_aspect_ratio_policy", "stretch"); policy != "stretch" {
		return Match{}, unsupported(resize.Name, "keep_aspect_ratio_policy %q", policy)
	}
	if len(resize.Outputs) != 1 || resize.Input(0) == "" {
		return Match{}, unsupported(resize.Name, "expected one data input and one output")
	}

	out := resize.Outputs[0]
	if g.IsGraphOutput(out) {
		return Match{}, unsupported(resize.Name, "output %q is a graph output", out)
	}
	consumers := idx.Consumers(out)
	if len(consumers) != 1 {
		return Match{}, unsupported(resize.Name, "output %q has %d consumers", out, len(consumers))
	}
	c := consumers[0]
	conv := g.Node(c)
	if conv.OpType != "Conv" || (conv.Domain != "" && conv.Domain != "ai.onnx") {
		return Match{}, unsupported(resize.Name, "consumer %q is a %s, not a Conv", conv.Name, conv.OpType)
	}
	if len(conv.Outputs) != 1 {
		return Match{}, unsupported(conv.Name, "Conv has %d outputs", len(conv.Outputs))
	}
	if conv.Input(0) != out || slices.Contains(conv.Inputs[1:], out) {
		return Match{}, unsupported(resize.Name, "Conv %q does not read the resized tensor as its data input", conv.Name)
	}

	m := Match{Resize: i, Conv: c, Input: resize.Inputs[0], InputShape: g.TensorShape(resize.Inputs[0]), Bias: conv.Input(2)}
	if m.InputShape != nil && len(m.InputShape) != 4 {
		return Match{}, unsupported(resize.Name, "input shape %v is not 4D", m.InputShape)
	}
	if m.Upscale, err = upscaleFactor(g, resize, m.InputShape); err != nil {
		return Match{}, err
	}
	if err := checkBlockDuplication(rn, m.Upscale); err != nil {
		return Match{}, err
	}

	var wshape []int64
	if m.Weight, wshape, err = weightSource(g, idx, conv); err != nil {
		return Match{}, err
	}
	if m.Attrs, err = readConvAttrs(g, conv, wshape); err != nil {
		return Match{}, err
	}
	return m, nil
}

// upscaleFactor reads U from a constant scales input [1, 1, U, U], or from a
// constant sizes input and the static input shape.
func upscaleFactor(g *graph.Graph, resize *onnx.NodeProto, inShape []int64) (int, error) {
	scalesName, sizesName := resize.Input(2), resize.Input(3)
	if len(resize.Inputs) == 2 {
		scalesName, sizesName = resize.Inputs[1], ""
	}
	if scales := constant(g, scalesName); scales != nil {
		s, err := scales.Float64s()
		if err != nil {
			return 0, transform.Wrap(transform.KindUnsupportedPattern, resize.Name, err, "reading scales")
		}
		if len(s) != 4 || s[0] != 1 || s[1] != 1 || s[2] != s[3] {
			return 0, unsupported(resize.Name, "scales %v are not of the form [1, 1, U, U]", s)
		}
		if s[2] < 1 || s[2] != math.Trunc(s[2]) {
			return 0, unsupported(resize.Name, "scale %g is not a positive integer", s[2])
		}
		return int(s[2]), nil
	}
	if sizes := constant(g, sizesName); sizes != nil {
		if inShape == nil {
			return 0, unsupported(resize.Name, "sizes need a static input shape")
		}
		if sizes.DType() != tensor.Int64 || sizes.NumElements() != 4 {
			return 0, unsupported(resize.Name, "sizes must be 4 int64 values")
		}
		s := sizes.AsInt64()
		if s[0] != inShape[0] || s[1] != inShape[1] || s[2]%inShape[2] != 0 || s[3]%inShape[3] != 0 ||
			s[2]/inShape[2] != s[3]/inShape[3] || s[2] < inShape[2] {
			return 0, unsupported(resize.Name, "sizes %v are not an integer upscale of %v", s, inShape)
		}
		return int(s[2] / inShape[2]), nil
	}
	return 0, unsupported(resize.Name, "scales and sizes are not constant")
}

// constant returns the initializer called name when it holds at least one value.
func constant(g *graph.Graph, name string) *tensor.RawTensor {
	if name == "" {
		return nil
	}
	t, err := g.InitializerTensor(name)
	if err != nil || t.NumElements() == 0 {
		return nil
	}
	return t
}

// checkBlockDuplication accepts the coordinate and rounding modes under which
// an integer upscale copies every input pixel into a U×U block. At U=1 that
// block is the pixel itself, so the Resize must be the identity.
func checkBlockDuplication(node *operators.Node, u int) error {
	coord := operators.GetAttrString(node, "coordinate_transformation_mode", "half_pixel")
	nearest := operators.GetAttrString(node, "nearest_mode", "round_prefer_floor")
	switch coord {
	case "half_pixel", "pytorch_half_pixel":
		if u == 1 || nearest == "round_prefer_floor" || nearest == "round_prefer_ceil" {
			return nil
		}
	case "asymmetric", "align_corners":
		if u == 1 || (coord == "asymmetric" && nearest == "floor") {
			return nil
		}
	case "tf_half_pixel_for_nn":
		// Source coordinates sit at o+0.5 for U=1.
		if nearest == "floor" || (u == 1 && nearest == "round_prefer_floor") {
			return nil
		}
	}
	return unsupported(node.Name, "coordinate_transformation_mode %q with nearest_mode %q does not duplicate pixels", coord, nearest)
}

// weightSource resolves the Conv kernel to an initializer, possibly behind a Quant node.
// It returns the kernel's shape.
func weightSource(g *graph.Graph, idx *graph.Index, conv *onnx.NodeProto) (Weight, []int64, error) {
	name := conv.Input(1)
	if name == "" {
		return Weight{}, nil, unsupported(conv.Name, "Conv has no weight input")
	}
	if _, ok := g.Initializer(name); ok {
		return Weight{Values: name}, g.TensorShape(name), nil
	}

	p, ok := idx.Producer(name)
	if !ok || g.Node(p).OpType != "Quant" {
		return Weight{}, nil, unsupported(conv.Name, "weight %q is neither an initializer nor a quantized initializer", name)
	}
	quant := g.Node(p)
	if len(quant.Inputs) != 4 {
		return Weight{}, nil, unsupported(quant.Name, "Quant has %d inputs", len(quant.Inputs))
	}
	for _, in := range quant.Inputs {
		if _, ok := g.Initializer(in); !ok {
			return Weight{}, nil, unsupported(quant.Name, "Quant input %q is not an initializer", in)
		}
	}
	if len(idx.Consumers(name)) != 1 || g.IsGraphOutput(name) {
		return Weight{}, nil, unsupported(quant.Name, "quantized weight %q is shared", name)
	}
	shape := g.TensorShape(quant.Inputs[0])
	if len(shape) != 4 {
		return Weight{}, nil, unsupported(conv.Name, "weight shape %v is not 4D", shape)
	}

	scale, err := g.InitializerTensor(quant.Inputs[1])
	if err != nil {
		return Weight{}, nil, transform.Wrap(transform.KindUnsupportedPattern, quant.Name, err, "reading scale")
	}
	zeropt, err := g.InitializerTensor(quant.Inputs[2])
	if err != nil {
		return Weight{}, nil, transform.Wrap(transform.KindUnsupportedPattern, quant.Name, err, "reading zero point")
	}
	if !perTensorOrChannel(scale, int(shape[0])) {
		return Weight{}, nil, unsupported(quant.Name, "scale shape %s is neither per-tensor nor per-output-channel", scale.Shape())
	}
	if !perTensorOrChannel(zeropt, int(shape[0])) {
		return Weight{}, nil, unsupported(quant.Name, "zero point shape %s is neither per-tensor nor per-output-channel", zeropt.Shape())
	}
	zeros, err := zeropt.Float64s()
	if err != nil {
		return Weight{}, nil, transform.Wrap(transform.KindUnsupportedPattern, quant.Name, err, "reading zero point")
	}
	if slices.ContainsFunc(zeros, func(v float64) bool { return v != 0 }) {
		return Weight{}, nil, unsupported(quant.Name, "zero point is not 0")
	}

	qn, err := onnx.OperatorNode(quant)
	if err != nil {
		return Weight{}, nil, transform.Wrap(transform.KindUnsupportedPattern, quant.Name, err, "reading attributes")
	}
	return Weight{
		Values: quant.Inputs[0],
		Quant: &QuantParams{
			Node:      p,
			Output:    name,
			Scale:     quant.Inputs[1],
			ZeroPoint: quant.Inputs[2],
			BitWidth:  quant.Inputs[3],
			Attrs:     operators.ReadQuantAttrs(qn),
		},
	}, shape, nil
}

// perTensorOrChannel reports whether t holds one value, or one value per output channel as [m, 1, 1, 1].
func perTensorOrChannel(t *tensor.RawTensor, m int) bool {
	return t.NumElements() == 1 || t.Shape().Equal(tensor.Shape{m, 1, 1, 1})
}

// readConvAttrs reads the geometry of a Conv with a 4D kernel of shape wshape.
func readConvAttrs(g *graph.Graph, conv *onnx.NodeProto, wshape []int64) (ConvAttrs, error) {
	if len(wshape) != 4 {
		return ConvAttrs{}, unsupported(conv.Name, "weight shape %v is not 4D", wshape)
	}
	cn, err := onnx.OperatorNode(conv)
	if err != nil {
		return ConvAttrs{}, transform.Wrap(transform.KindUnsupportedPattern, conv.Name, err, "reading attributes")
	}
	if autoPad := operators.GetAttrString(cn, "auto_pad", "NOTSET"); autoPad != "NOTSET" {
		return ConvAttrs{}, unsupported(conv.Name, "auto_pad %q", autoPad)
	}
	p, err := operators.ReadConvParams(cn, [2]int{int(wshape[2]), int(wshape[3])})
	if err != nil {
		return ConvAttrs{}, transform.Wrap(transform.KindUnsupportedPattern, conv.Name, err, "reading geometry")
	}
	if p.Strides != [2]int{1, 1} || p.Dilations != [2]int{1, 1} {
		return ConvAttrs{}, unsupported(conv.Name, "strides %v and dilations %v must be 1", p.Strides, p.Dilations)
	}
	if int(wshape[0])%p.Group != 0 {
		return ConvAttrs{}, unsupported(conv.Name, "%d output channels are not divisible into %d groups", wshape[0], p.Group)
	}
	return ConvAttrs{
		Kernel:      p.Kernel,
		Strides:     p.Strides,
		Dilations:   p.Dilations,
		Pads:        [4]int{p.PadsBegin[0], p.PadsBegin[1], p.PadsEnd[0], p.PadsEnd[1]},
		Group:       p.Group,
		OutChannels: int(wshape[0]),
		InChannels:  int(wshape[1]),
		OutShape:    g.TensorShape(conv.Outputs[0]),
	}, nil
}
