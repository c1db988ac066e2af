package resizeconv

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timkpaine/qonnx/internal/datatype"
	"github.com/timkpaine/qonnx/internal/graph"
	"github.com/timkpaine/qonnx/internal/onnx"
	"github.com/timkpaine/qonnx/internal/tensor"
	"github.com/timkpaine/qonnx/internal/transform"
)

const (
	inChannels  = 3
	outChannels = 10
	inSize      = 4
)

func randomValues(rng *rand.Rand, n int) []float32 {
	values := make([]float32, n)
	for i := range values {
		values[i] = rng.Float32()*2 - 1
	}
	return values
}

// resizeConvModel upsamples a [1, 3, 4, 4] input by u and convolves it with a
// random [10, 3, k, k] kernel padded to keep the upsampled size.
func resizeConvModel(k, u int, bias bool, seed uint64) *onnx.ModelProto {
	rng := rand.New(rand.NewPCG(seed, 0))
	p := int64((k - 1) / 2)
	convInputs := []string{"hid", "W"}
	initializers := []onnx.TensorProto{
		{Name: "roi", DataType: onnx.TensorProtoDouble, Dims: []int64{0}},
		onnx.MakeTensorFloat32("scales", []int64{4}, []float32{1, 1, float32(u), float32(u)}),
		onnx.MakeTensorFloat32("W", []int64{outChannels, inChannels, int64(k), int64(k)},
			randomValues(rng, outChannels*inChannels*k*k)),
	}
	if bias {
		convInputs = append(convInputs, "B")
		initializers = append(initializers, onnx.MakeTensorFloat32("B", []int64{outChannels}, randomValues(rng, outChannels)))
	}
	nodes := []onnx.NodeProto{
		onnx.MakeNode("Resize", []string{"inp", "roi", "scales"}, []string{"hid"}, "resize",
			onnx.MakeAttrString("mode", "nearest")),
		onnx.MakeNode("Conv", convInputs, []string{"out"}, "conv",
			onnx.MakeAttrInts("kernel_shape", int64(k), int64(k)),
			onnx.MakeAttrInts("pads", p, p, p, p)),
	}
	out := int64(inSize * u)
	return onnx.MakeModel(onnx.MakeGraph("resize_conv", nodes,
		[]onnx.ValueInfoProto{onnx.MakeValueInfo("inp", onnx.TensorProtoFloat, []int64{1, inChannels, inSize, inSize})},
		[]onnx.ValueInfoProto{onnx.MakeValueInfo("out", onnx.TensorProtoFloat, []int64{1, outChannels, out, out})},
		initializers), "test")
}

func randomInput(shape tensor.Shape, seed uint64) map[string]*tensor.RawTensor {
	x := must.M1(tensor.Rand(shape, rand.New(rand.NewPCG(seed, 1))))
	return map[string]*tensor.RawTensor{"inp": x}
}

func countOps(model *onnx.ModelProto) map[string]int {
	ops := make(map[string]int)
	for _, n := range model.Graph.Nodes {
		ops[n.OpType]++
	}
	return ops
}

func findNode(t *testing.T, model *onnx.ModelProto, opType string) *onnx.NodeProto {
	for i := range model.Graph.Nodes {
		if model.Graph.Nodes[i].OpType == opType {
			return &model.Graph.Nodes[i]
		}
	}
	require.Failf(t, "node not found", "no %s node", opType)
	return nil
}

func initializer(t *testing.T, model *onnx.ModelProto, name string) *tensor.RawTensor {
	for i := range model.Graph.Initializers {
		if model.Graph.Initializers[i].Name == name {
			return must.M1(onnx.TensorToRaw(&model.Graph.Initializers[i]))
		}
	}
	require.Failf(t, "initializer not found", "no initializer %q", name)
	return nil
}

func withResizeModes(model *onnx.ModelProto, coord, nearest string) *onnx.ModelProto {
	resize := &model.Graph.Nodes[0]
	resize.Attributes = append(resize.Attributes,
		onnx.MakeAttrString("coordinate_transformation_mode", coord),
		onnx.MakeAttrString("nearest_mode", nearest))
	return model
}

func runPass(t *testing.T, model *onnx.ModelProto, opts Options) (*onnx.ModelProto, []Report) {
	pass := New(opts)
	out, err := transform.Run(model, transform.InferShapes{}, pass)
	require.NoError(t, err)
	return out, pass.Reports()
}

func TestReplaceByDeconvolution(t *testing.T) {
	model := resizeConvModel(3, 2, true, 42)
	out, reports := runPass(t, model, Options{})

	assert.Equal(t, map[string]int{"ConvTranspose": 1}, countOps(out))
	deconv := findNode(t, out, "ConvTranspose")
	assert.Equal(t, "conv", deconv.Name)
	assert.Equal(t, []string{"out"}, deconv.Outputs)
	assert.Equal(t, "inp", deconv.Inputs[0])
	assert.Equal(t, "B", deconv.Inputs[2])
	assert.Equal(t, []int64{4, 4}, deconv.Attribute("kernel_shape").Ints)
	assert.Equal(t, []int64{2, 2}, deconv.Attribute("strides").Ints)
	assert.Equal(t, []int64{1, 1, 1, 1}, deconv.Attribute("pads").Ints)
	assert.Equal(t, int64(1), deconv.Attribute("group").I)

	w := initializer(t, out, deconv.Inputs[1])
	assert.Equal(t, tensor.Shape{inChannels, outChannels, 4, 4}, w.Shape())
	assert.Equal(t, initializer(t, model, "B").AsFloat32(), initializer(t, out, "B").AsFloat32())

	// The original kernel, scales and roi are gone.
	for _, tp := range out.Graph.Initializers {
		assert.NotContains(t, []string{"W", "scales", "roi"}, tp.Name)
	}

	g := must.M1(graph.New(out))
	assert.Equal(t, []int64{1, outChannels, 8, 8}, g.TensorShape("out"))

	diff := must.M1(onnx.CompareExecution(model, out, randomInput(tensor.Shape{1, inChannels, inSize, inSize}, 7), 1e-4, 1e-4))
	assert.True(t, diff.Close(), "max abs diff %g", diff.MaxAbsDiff())

	require.Len(t, reports, 1)
	assert.Equal(t, Report{
		Resize: "resize", Conv: "conv", Upscale: 2, Kernel: 3, NewKernel: 4, Stride: 2, Pad: 1, Group: 1,
		WeightBytes: inChannels * outChannels * 16 * 4, Datatype: "FLOAT32",
	}, reports[0])
}

func TestReplaceGrid(t *testing.T) {
	seed := uint64(0)
	for _, k := range []int{1, 3, 5, 7} {
		for _, u := range []int{1, 2, 3, 4} {
			for _, bias := range []bool{false, true} {
				seed++
				t.Run(fmt.Sprintf("k=%d/u=%d/bias=%v", k, u, bias), func(t *testing.T) {
					model := resizeConvModel(k, u, bias, seed)
					out, _ := runPass(t, model, Options{})
					assert.Equal(t, map[string]int{"ConvTranspose": 1}, countOps(out))

					inputs := randomInput(tensor.Shape{1, inChannels, inSize, inSize}, seed)
					diff := must.M1(onnx.CompareExecution(model, out, inputs, 1e-4, 1e-4))
					assert.True(t, diff.Close(), "max abs diff %g", diff.MaxAbsDiff())
				})
			}
		}
	}
}

func TestReplaceUnknownInputShape(t *testing.T) {
	model := resizeConvModel(3, 3, false, 5)
	model.Graph.Inputs[0] = onnx.MakeValueInfo("inp", onnx.TensorProtoFloat, nil)
	out, err := transform.Run(model, New(Options{}))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ConvTranspose": 1}, countOps(out))

	diff := must.M1(onnx.CompareExecution(model, out, randomInput(tensor.Shape{1, inChannels, inSize, inSize}, 5), 1e-4, 1e-4))
	assert.True(t, diff.Close(), "max abs diff %g", diff.MaxAbsDiff())
}

func TestReplaceGroupedConv(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 0))
	model := onnx.MakeModel(onnx.MakeGraph("grouped",
		[]onnx.NodeProto{
			onnx.MakeNode("Resize", []string{"inp", "", "scales"}, []string{"hid"}, "resize",
				onnx.MakeAttrString("coordinate_transformation_mode", "asymmetric"),
				onnx.MakeAttrString("nearest_mode", "floor")),
			onnx.MakeNode("Conv", []string{"hid", "W"}, []string{"out"}, "conv",
				onnx.MakeAttrInts("kernel_shape", 3, 3), onnx.MakeAttrInts("pads", 1, 1, 1, 1),
				onnx.MakeAttrInt("group", 2)),
		},
		[]onnx.ValueInfoProto{onnx.MakeValueInfo("inp", onnx.TensorProtoFloat, []int64{1, 4, 3, 3})},
		[]onnx.ValueInfoProto{onnx.MakeValueInfo("out", onnx.TensorProtoFloat, nil)},
		[]onnx.TensorProto{
			onnx.MakeTensorFloat32("scales", []int64{4}, []float32{1, 1, 2, 2}),
			onnx.MakeTensorFloat32("W", []int64{6, 2, 3, 3}, randomValues(rng, 6*2*9)),
		}), "test")

	out, _ := runPass(t, model, Options{})
	deconv := findNode(t, out, "ConvTranspose")
	assert.Equal(t, int64(2), deconv.Attribute("group").I)
	assert.Equal(t, tensor.Shape{4, 3, 4, 4}, initializer(t, out, deconv.Inputs[1]).Shape())

	diff := must.M1(onnx.CompareExecution(model, out, randomInput(tensor.Shape{1, 4, 3, 3}, 3), 1e-4, 1e-4))
	assert.True(t, diff.Close(), "max abs diff %g", diff.MaxAbsDiff())
}

func TestReplaceIdentityResize(t *testing.T) {
	// With U=1 these modes copy every pixel to itself.
	modes := [][2]string{
		{"half_pixel", "ceil"},
		{"pytorch_half_pixel", "floor"},
		{"asymmetric", "round_prefer_ceil"},
		{"align_corners", "ceil"},
		{"tf_half_pixel_for_nn", "floor"},
		{"tf_half_pixel_for_nn", "round_prefer_floor"},
	}
	for i, mode := range modes {
		t.Run(mode[0]+"/"+mode[1], func(t *testing.T) {
			model := withResizeModes(resizeConvModel(3, 1, true, uint64(i)), mode[0], mode[1])
			out, reports := runPass(t, model, Options{})
			assert.Equal(t, map[string]int{"ConvTranspose": 1}, countOps(out))
			require.Len(t, reports, 1)
			assert.Equal(t, 1, reports[0].Upscale)

			diff := must.M1(onnx.CompareExecution(model, out, randomInput(tensor.Shape{1, inChannels, inSize, inSize}, uint64(i)), 1e-4, 1e-4))
			assert.True(t, diff.Close(), "max abs diff %g", diff.MaxAbsDiff())
		})
	}
}

func TestReplaceSizesInput(t *testing.T) {
	model := resizeConvModel(3, 2, true, 9)
	resize := &model.Graph.Nodes[0]
	resize.Inputs = []string{"inp", "roi", "", "sizes"}
	model.Graph.Initializers = append(model.Graph.Initializers, onnx.MakeTensorInt64("sizes", []int64{4}, []int64{1, 3, 8, 8}))

	out, reports := runPass(t, model, Options{})
	assert.Equal(t, map[string]int{"ConvTranspose": 1}, countOps(out))
	require.Len(t, reports, 1)
	assert.Equal(t, 2, reports[0].Upscale)
}

func TestNoMatchLeavesModelUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		model func() *onnx.ModelProto
	}{
		{"no resize", func() *onnx.ModelProto {
			m := resizeConvModel(3, 2, false, 1)
			m.Graph.Nodes[1].Inputs[0] = "inp"
			m.Graph.Nodes = m.Graph.Nodes[1:]
			m.Graph.Outputs[0] = onnx.MakeValueInfo("out", onnx.TensorProtoFloat, nil)
			return m
		}},
		{"linear mode", func() *onnx.ModelProto {
			m := resizeConvModel(3, 2, false, 1)
			m.Graph.Nodes[0].Attributes = []onnx.AttributeProto{onnx.MakeAttrString("mode", "linear")}
			return m
		}},
		{"two consumers", func() *onnx.ModelProto {
			m := resizeConvModel(3, 2, false, 1)
			m.Graph.Nodes = append(m.Graph.Nodes, onnx.MakeNode("Relu", []string{"hid"}, []string{"side"}, "relu"))
			m.Graph.Outputs = append(m.Graph.Outputs, onnx.MakeValueInfo("side", onnx.TensorProtoFloat, nil))
			return m
		}},
		{"resize output is a graph output", func() *onnx.ModelProto {
			m := resizeConvModel(3, 2, false, 1)
			m.Graph.Outputs = append(m.Graph.Outputs, onnx.MakeValueInfo("hid", onnx.TensorProtoFloat, nil))
			return m
		}},
		{"non-integer scale", func() *onnx.ModelProto {
			m := resizeConvModel(3, 2, false, 1)
			m.Graph.Initializers[1] = onnx.MakeTensorFloat32("scales", []int64{4}, []float32{1, 1, 1.5, 1.5})
			return m
		}},
		{"anisotropic scale", func() *onnx.ModelProto {
			m := resizeConvModel(3, 2, false, 1)
			m.Graph.Initializers[1] = onnx.MakeTensorFloat32("scales", []int64{4}, []float32{1, 1, 2, 3})
			return m
		}},
		{"align corners", func() *onnx.ModelProto {
			m := resizeConvModel(3, 2, false, 1)
			m.Graph.Nodes[0].Attributes = append(m.Graph.Nodes[0].Attributes,
				onnx.MakeAttrString("coordinate_transformation_mode", "align_corners"))
			return m
		}},
		{"asymmetric with round", func() *onnx.ModelProto {
			m := resizeConvModel(3, 2, false, 1)
			m.Graph.Nodes[0].Attributes = append(m.Graph.Nodes[0].Attributes,
				onnx.MakeAttrString("coordinate_transformation_mode", "asymmetric"))
			return m
		}},
		{"wrong padding", func() *onnx.ModelProto {
			m := resizeConvModel(3, 2, false, 1)
			m.Graph.Nodes[1].Attributes[1] = onnx.MakeAttrInts("pads", 0, 0, 0, 0)
			m.Graph.Outputs[0] = onnx.MakeValueInfo("out", onnx.TensorProtoFloat, nil)
			return m
		}},
		{"strided conv", func() *onnx.ModelProto {
			m := resizeConvModel(3, 2, false, 1)
			m.Graph.Nodes[1].Attributes = append(m.Graph.Nodes[1].Attributes, onnx.MakeAttrInts("strides", 2, 2))
			m.Graph.Outputs[0] = onnx.MakeValueInfo("out", onnx.TensorProtoFloat, nil)
			return m
		}},
		{"even kernel", func() *onnx.ModelProto {
			m := resizeConvModel(2, 2, false, 1)
			m.Graph.Outputs[0] = onnx.MakeValueInfo("out", onnx.TensorProtoFloat, nil)
			return m
		}},
		{"same upper padding", func() *onnx.ModelProto {
			m := resizeConvModel(3, 2, false, 1)
			m.Graph.Nodes[1].Attributes = []onnx.AttributeProto{
				onnx.MakeAttrInts("kernel_shape", 3, 3), onnx.MakeAttrString("auto_pad", "SAME_UPPER"),
			}
			return m
		}},
		{"weight from graph input", func() *onnx.ModelProto {
			m := resizeConvModel(3, 2, false, 1)
			m.Graph.Initializers = m.Graph.Initializers[:2]
			m.Graph.Inputs = append(m.Graph.Inputs, onnx.MakeValueInfo("W", onnx.TensorProtoFloat, []int64{10, 3, 3, 3}))
			return m
		}},
		{"unit scale with half pixel for nn and ceil", func() *onnx.ModelProto {
			return withResizeModes(resizeConvModel(3, 1, false, 1), "tf_half_pixel_for_nn", "ceil")
		}},
		{"unit scale with half pixel for nn and round prefer ceil", func() *onnx.ModelProto {
			return withResizeModes(resizeConvModel(3, 1, false, 1), "tf_half_pixel_for_nn", "round_prefer_ceil")
		}},
		{"unit scale with crop and resize", func() *onnx.ModelProto {
			return withResizeModes(resizeConvModel(3, 1, false, 1), "tf_crop_and_resize", "round_prefer_floor")
		}},
		{"bipolar kernel", func() *onnx.ModelProto {
			m := resizeConvModel(3, 2, false, 1)
			m.Graph.SetAnnotation("W", datatype.AnnotationKey, "BIPOLAR")
			return m
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			model := tc.model()
			before := must.M1(onnx.Marshal(model))
			pass := New(Options{})
			out, err := transform.Run(model, pass)
			require.NoError(t, err)
			assert.Empty(t, pass.Reports())
			assert.Equal(t, before, must.M1(onnx.Marshal(out)))
			assert.Equal(t, before, must.M1(onnx.Marshal(model)))
		})
	}
}

func TestMatchesReportsSkipReasons(t *testing.T) {
	model := resizeConvModel(3, 2, false, 1)
	model.Graph.Nodes[0].Attributes = []onnx.AttributeProto{onnx.MakeAttrString("mode", "cubic")}
	g := must.M1(graph.New(model))
	var errs []error
	for m, err := range Matches(g, graph.NewIndex(g)) {
		assert.Equal(t, Match{Resize: 0, Conv: -1}, m)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], transform.ErrUnsupportedPattern))
	assert.Contains(t, errs[0].Error(), "resize")
}

func TestRewriteSkipKinds(t *testing.T) {
	model := resizeConvModel(2, 2, false, 1)
	g := must.M1(graph.New(model))
	for m, err := range Matches(g, graph.NewIndex(g)) {
		require.NoError(t, err)
		_, err = rewrite(g, m, Widen)
		assert.True(t, errors.Is(err, transform.ErrInconsistentGeometry), "got %v", err)
		var te *transform.Error
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "conv", te.Node)
	}
}

func TestAnnotatedKernel(t *testing.T) {
	model := resizeConvModel(3, 2, false, 3)
	w := make([]float32, outChannels*inChannels*9)
	for i := range w {
		w[i] = float32(100 - i%3*100) // 100, 0, -100
	}
	model.Graph.Initializers[2] = onnx.MakeTensorFloat32("W", []int64{outChannels, inChannels, 3, 3}, w)
	model.Graph.SetAnnotation("W", datatype.AnnotationKey, "INT8")

	t.Run("widen", func(t *testing.T) {
		out, reports := runPass(t, model, Options{})
		deconv := findNode(t, out, "ConvTranspose")
		g := must.M1(graph.New(out))
		dt := must.M1(g.TensorDatatype(deconv.Inputs[1]))
		assert.Equal(t, "INT10", dt.String())
		assert.Equal(t, "INT10", reports[0].Datatype)

		diff := must.M1(onnx.CompareExecution(model, out, randomInput(tensor.Shape{1, inChannels, inSize, inSize}, 2), 1e-3, 1e-4))
		assert.True(t, diff.Close(), "max abs diff %g", diff.MaxAbsDiff())
	})

	t.Run("clip", func(t *testing.T) {
		out, _ := runPass(t, model, Options{MaintainBitWidth: true})
		deconv := findNode(t, out, "ConvTranspose")
		g := must.M1(graph.New(out))
		dt := must.M1(g.TensorDatatype(deconv.Inputs[1]))
		assert.Equal(t, "INT8", dt.String())
		for _, v := range initializer(t, out, deconv.Inputs[1]).AsFloat32() {
			assert.True(t, dt.Allowed(float64(v)), "%g is not INT8", v)
		}
		// The source annotation is pruned with its tensor.
		_, ok := out.Graph.Annotation("W", datatype.AnnotationKey)
		assert.False(t, ok)
	})
}

func TestInvalidBitWidthIsFatal(t *testing.T) {
	model := resizeConvModel(3, 2, false, 3)
	model.Graph.SetAnnotation("W", datatype.AnnotationKey, "INT63")
	_, err := transform.Run(model, New(Options{}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, transform.ErrInvalidBitWidth))

	_, err = transform.Run(model, New(Options{MaintainBitWidth: true}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, transform.ErrInvalidBitWidth))
}

func TestChainedBlocks(t *testing.T) {
	// Two Resize→Conv blocks in a row are both rewritten.
	rng := rand.New(rand.NewPCG(21, 0))
	model := onnx.MakeModel(onnx.MakeGraph("chain",
		[]onnx.NodeProto{
			onnx.MakeNode("Resize", []string{"inp", "", "scales"}, []string{"r1"}, "resize1"),
			onnx.MakeNode("Conv", []string{"r1", "W1"}, []string{"c1"}, "conv1",
				onnx.MakeAttrInts("kernel_shape", 3, 3), onnx.MakeAttrInts("pads", 1, 1, 1, 1)),
			onnx.MakeNode("Relu", []string{"c1"}, []string{"a1"}, "relu"),
			onnx.MakeNode("Resize", []string{"a1", "", "scales"}, []string{"r2"}, "resize2"),
			onnx.MakeNode("Conv", []string{"r2", "W2"}, []string{"out"}, "conv2",
				onnx.MakeAttrInts("kernel_shape", 1, 1)),
		},
		[]onnx.ValueInfoProto{onnx.MakeValueInfo("inp", onnx.TensorProtoFloat, []int64{1, 2, 3, 3})},
		[]onnx.ValueInfoProto{onnx.MakeValueInfo("out", onnx.TensorProtoFloat, nil)},
		[]onnx.TensorProto{
			onnx.MakeTensorFloat32("scales", []int64{4}, []float32{1, 1, 2, 2}),
			onnx.MakeTensorFloat32("W1", []int64{4, 2, 3, 3}, randomValues(rng, 4*2*9)),
			onnx.MakeTensorFloat32("W2", []int64{2, 4, 1, 1}, randomValues(rng, 2*4)),
		}), "test")

	out, reports := runPass(t, model, Options{})
	assert.Equal(t, map[string]int{"ConvTranspose": 2, "Relu": 1}, countOps(out))
	require.Len(t, reports, 2)
	assert.Equal(t, "conv1", reports[0].Conv)
	assert.Equal(t, "conv2", reports[1].Conv)

	g := must.M1(graph.New(out))
	assert.Equal(t, []int64{1, 2, 12, 12}, g.TensorShape("out"))

	diff := must.M1(onnx.CompareExecution(model, out, randomInput(tensor.Shape{1, 2, 3, 3}, 21), 1e-4, 1e-4))
	assert.True(t, diff.Close(), "max abs diff %g", diff.MaxAbsDiff())
}
