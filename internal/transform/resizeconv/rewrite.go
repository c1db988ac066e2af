package resizeconv

import (
	"github.com/pkg/errors"

	"github.com/timkpaine/qonnx/internal/datatype"
	"github.com/timkpaine/qonnx/internal/graph"
	"github.com/timkpaine/qonnx/internal/onnx"
	"github.com/timkpaine/qonnx/internal/onnx/operators"
	"github.com/timkpaine/qonnx/internal/tensor"
	"github.com/timkpaine/qonnx/internal/transform"
)

// Report describes one committed rewrite.
type Report struct {
	Resize      string // Removed Resize node
	Conv        string // Removed Conv node, also the name of the new ConvTranspose
	Upscale     int
	Kernel      int
	NewKernel   int
	Stride      int
	Pad         int
	Group       int
	WeightBytes int    // Size of the new float kernel
	Datatype    string // Kernel datatype after the rewrite, "FLOAT32" when unannotated
	Quantized   bool   // The kernel is fed through a Quant node
}

// rewrite replaces one match by a ConvTranspose in a single graph edit.
func rewrite(g *graph.Graph, m Match, strategy BitWidthStrategy) (Report, error) {
	resize, conv := g.Node(m.Resize), g.Node(m.Conv)
	geo, err := ResolveGeometry(m.Upscale, m.Attrs, m.InputShape)
	if err != nil {
		return Report{}, withNode(err, conv.Name)
	}
	report := Report{
		Resize:    resize.Name,
		Conv:      conv.Name,
		Upscale:   geo.Upscale,
		Kernel:    geo.Kernel,
		NewKernel: geo.NewKernel,
		Stride:    geo.Stride,
		Pad:       geo.Pad,
		Group:     geo.Group,
		Quantized: m.Weight.Quant != nil,
	}

	e := g.NewEdit()
	e.RemoveNode(m.Resize).RemoveNode(m.Conv)
	var weight string
	if m.Weight.Quant == nil {
		weight, err = rewriteWeight(g, e, m, geo, strategy, &report)
	} else {
		weight, err = rewriteQuantWeight(g, e, m, geo, strategy, &report)
	}
	if err != nil {
		return Report{}, withNode(err, conv.Name)
	}

	inputs := []string{m.Input, weight}
	if m.Bias != "" {
		inputs = append(inputs, m.Bias)
	}
	name := conv.Name
	if name == "" {
		name = e.UniqueName("ConvTranspose")
	}
	k, pad := int64(geo.NewKernel), int64(geo.Pad)
	deconv := onnx.MakeNode("ConvTranspose", inputs, []string{conv.Outputs[0]}, name,
		onnx.MakeAttrInts("kernel_shape", k, k),
		onnx.MakeAttrInts("strides", int64(geo.Stride), int64(geo.Stride)),
		onnx.MakeAttrInts("pads", pad, pad, pad, pad),
		onnx.MakeAttrInts("dilations", 1, 1),
		onnx.MakeAttrInt("group", int64(geo.Group)),
	)
	e.InsertNode(m.Conv, deconv)
	if geo.OutShape != nil {
		e.SetShape(conv.Outputs[0], geo.OutShape)
	}
	if err := e.Commit(); err != nil {
		return Report{}, errors.Wrapf(err, "replacing %q and %q", resize.Name, conv.Name)
	}
	return report, nil
}

// rewriteWeight stages the synthesized kernel of a plain initializer weight,
// adjusting its datatype annotation, and returns its name.
func rewriteWeight(g *graph.Graph, e *graph.Edit, m Match, geo Geometry, strategy BitWidthStrategy, report *Report) (string, error) {
	w, err := g.InitializerTensor(m.Weight.Values)
	if err != nil {
		return "", err
	}
	dt, err := g.TensorDatatype(m.Weight.Values)
	if err != nil {
		return "", transform.Wrap(transform.KindUnsupportedPattern, "", err, "reading weight datatype")
	}
	synth, err := SynthesizeKernel(w, geo.Upscale)
	if err != nil {
		return "", err
	}
	newDT, err := strategy.ApplyDatatype(synth, dt, geo.Upscale)
	if err != nil {
		return "", err
	}
	name, err := stageKernel(e, m.Weight.Values, synth, geo.Group, report)
	if err != nil {
		return "", err
	}
	if dt.Kind() != datatype.KindFloat32 {
		e.SetDatatype(name, newDT)
	}
	report.Datatype = newDT.String()
	return name, nil
}

// rewriteQuantWeight stages the synthesized kernel of a quantized weight behind
// a new Quant node, and returns the Quant output.
func rewriteQuantWeight(g *graph.Graph, e *graph.Edit, m Match, geo Geometry, strategy BitWidthStrategy, report *Report) (string, error) {
	q := m.Weight.Quant
	old := g.Node(q.Node)
	w, err := g.InitializerTensor(m.Weight.Values)
	if err != nil {
		return "", err
	}
	scale, err := g.InitializerTensor(q.Scale)
	if err != nil {
		return "", err
	}
	zeropt, err := g.InitializerTensor(q.ZeroPoint)
	if err != nil {
		return "", err
	}
	bitTensor, err := g.InitializerTensor(q.BitWidth)
	if err != nil {
		return "", err
	}
	bitValues, err := bitTensor.Float64s()
	if err != nil || len(bitValues) != 1 {
		return "", transform.Errorf(transform.KindInvalidBitWidth, old.Name, "bit width %q must be a numeric scalar", q.BitWidth)
	}
	bitWidth := bitValues[0]

	if err := CheckBitWidth(bitWidth); err != nil {
		return "", withNode(err, old.Name)
	}
	dequant, err := operators.Quantize(w, scale, zeropt, bitWidth, q.Attrs)
	if err != nil {
		return "", errors.Wrapf(err, "dequantizing %q", m.Weight.Values)
	}
	synth, err := SynthesizeKernel(dequant, geo.Upscale)
	if err != nil {
		return "", err
	}
	newWidth, err := strategy.ApplyQuant(synth, scale, bitWidth, q.Attrs, geo.Upscale)
	if err != nil {
		return "", withNode(err, old.Name)
	}
	values, err := stageKernel(e, m.Weight.Values, synth, geo.Group, report)
	if err != nil {
		return "", err
	}

	scaleName := q.Scale
	if scale.NumElements() != 1 {
		remapped, err := perChannelToConvTranspose(scale, m.Attrs.InChannels, geo.Group)
		if err != nil {
			return "", err
		}
		scaleName = e.UniqueName(q.Scale + "_deconv")
		tp, err := onnx.TensorFromRaw(scaleName, remapped)
		if err != nil {
			return "", err
		}
		e.SetInitializer(*tp)
	}
	zeroName := q.ZeroPoint
	if zeropt.NumElements() != 1 {
		zeroName = e.UniqueName(q.ZeroPoint + "_deconv")
		e.SetInitializer(onnx.MakeTensorFloat32(zeroName, nil, []float32{0}))
	}
	bitName := q.BitWidth
	if newWidth != bitWidth {
		bitName = e.UniqueName(q.BitWidth + "_deconv")
		e.SetInitializer(onnx.MakeTensorFloat32(bitName, nil, []float32{float32(newWidth)}))
	}

	out := e.UniqueName(q.Output + "_deconv")
	quant := onnx.MakeNode("Quant", []string{values, scaleName, zeroName, bitName}, []string{out}, old.Name, old.Attributes...)
	quant.Domain = old.Domain
	e.RemoveNode(q.Node)
	e.InsertNode(m.Conv, quant)

	dt, err := datatype.Int(int(newWidth), q.Attrs.Signed)
	if err != nil {
		return "", transform.Wrap(transform.KindInvalidBitWidth, old.Name, err, "quantized datatype")
	}
	if annotated, err := g.TensorDatatype(q.Output); err == nil && annotated.IsInteger() {
		e.SetDatatype(out, dt)
	}
	report.Datatype = dt.String()
	return out, nil
}

// stageKernel converts a synthesized kernel to ConvTranspose layout and stages
// it as a new initializer named after the original weight.
func stageKernel(e *graph.Edit, original string, synth *tensor.RawTensor, group int, report *Report) (string, error) {
	kernel, err := ToConvTransposeLayout(synth, group)
	if err != nil {
		return "", err
	}
	name := e.UniqueName(original + "_deconv")
	tp, err := onnx.TensorFromRaw(name, kernel)
	if err != nil {
		return "", err
	}
	e.SetInitializer(*tp)
	report.WeightBytes = kernel.ByteSize()
	return name, nil
}

// perChannelToConvTranspose moves a per-output-channel tensor [M, 1, 1, 1] to
// the channel layout of a ConvTranspose kernel, [C, M/g, 1, 1].
func perChannelToConvTranspose(t *tensor.RawTensor, inPerGroup, group int) (*tensor.RawTensor, error) {
	values, err := t.Float64s()
	if err != nil {
		return nil, err
	}
	m := len(values)
	expanded, err := tensor.NewRaw(tensor.Shape{m, inPerGroup, 1, 1}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	dst := expanded.AsFloat32()
	for o, v := range values {
		for i := range inPerGroup {
			dst[o*inPerGroup+i] = float32(v)
		}
	}
	return ToConvTransposeLayout(expanded, group)
}

// withNode attributes a transform error to node when it names none.
func withNode(err error, node string) error {
	var te *transform.Error
	if errors.As(err, &te) && te.Node == "" {
		te.Node = node
	}
	return err
}
