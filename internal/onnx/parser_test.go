package onnx

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildResizeConvModel builds X -> Resize(x2) -> Conv(3x3, pad 1) -> Y with an annotation on W.
func buildResizeConvModel() *ModelProto {
	w := make([]float32, 2*3*3*3)
	for i := range w {
		w[i] = float32(i) / 10
	}
	graph := MakeGraph("resize_conv",
		[]NodeProto{
			MakeNode("Resize", []string{"X", "roi", "scales"}, []string{"up"}, "resize",
				MakeAttrString("mode", "nearest")),
			MakeNode("Conv", []string{"up", "W"}, []string{"Y"}, "conv",
				MakeAttrInts("kernel_shape", 3, 3), MakeAttrInts("pads", 1, 1, 1, 1), MakeAttrInt("group", 1)),
		},
		[]ValueInfoProto{MakeValueInfo("X", TensorProtoFloat, []int64{1, 3, 4, 4})},
		[]ValueInfoProto{MakeValueInfo("Y", TensorProtoFloat, []int64{1, 2, 8, 8})},
		[]TensorProto{
			MakeTensorFloat32("roi", []int64{0}, nil),
			MakeTensorFloat32("scales", []int64{4}, []float32{1, 1, 2, 2}),
			MakeTensorFloat32("W", []int64{2, 3, 3, 3}, w),
		},
	)
	graph.ValueInfo = []ValueInfoProto{MakeValueInfo("up", TensorProtoFloat, []int64{1, 3, 8, 8})}
	graph.SetAnnotation("W", "finn_datatype", "INT4")
	return MakeModel(graph, "qonnx-test")
}

func TestMarshalParseRoundTrip(t *testing.T) {
	model := buildResizeConvModel()
	data, err := Marshal(model)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, int64(8), parsed.IRVersion)
	assert.Equal(t, "qonnx-test", parsed.ProducerName)
	require.Len(t, parsed.OpsetImport, 1)
	assert.Equal(t, int64(DefaultOpset), parsed.OpsetImport[0].Version)

	g := parsed.Graph
	require.NotNil(t, g)
	assert.Equal(t, "resize_conv", g.Name)
	require.Len(t, g.Nodes, 2)
	assert.Equal(t, []string{"X", "roi", "scales"}, g.Nodes[0].Inputs)
	assert.Equal(t, "nearest", string(g.Nodes[0].Attribute("mode").S))
	assert.Equal(t, []int64{1, 1, 1, 1}, g.Nodes[1].Attribute("pads").Ints)
	assert.Equal(t, int64(1), g.Nodes[1].Attribute("group").I)
	assert.Equal(t, []int64{1, 3, 8, 8}, g.ValueInfo[0].Shape())
	assert.Equal(t, []int64{1, 2, 8, 8}, g.Outputs[0].Shape())

	dt, ok := g.Annotation("W", "finn_datatype")
	assert.True(t, ok)
	assert.Equal(t, "INT4", dt)

	require.Len(t, g.Initializers, 3)
	assert.Equal(t, []int64{0}, g.Initializers[0].Dims)
	assert.Equal(t, model.Graph.Initializers[2].RawData, g.Initializers[2].RawData)

	// Encoding is deterministic.
	again, err := Marshal(parsed)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestCloneIsDeep(t *testing.T) {
	model := buildResizeConvModel()
	clone, err := model.Clone()
	require.NoError(t, err)
	clone.Graph.Nodes[0].Name = "renamed"
	clone.Graph.Initializers[2].RawData[0] ^= 0xff
	assert.Equal(t, "resize", model.Graph.Nodes[0].Name)
	assert.NotEqual(t, model.Graph.Initializers[2].RawData[0], clone.Graph.Initializers[2].RawData[0])
}

// TestParseHandEncoded decodes bytes written field by field, covering both the
// unpacked (proto2 default) and packed encodings of repeated scalars.
func TestParseHandEncoded(t *testing.T) {
	attrUnpacked := concat(
		field(1, str("strides")),
		[]byte{8<<3 | wireVarint, 2, 8<<3 | wireVarint, 2}, // ints: 2, 2
		// type: field 20 needs a two-byte tag
		[]byte{0xa0, 0x01, AttributeProtoInts},
	)
	attrPacked := concat(
		field(1, str("dilations")),
		field(8, []byte{1, 1}), // packed ints: 1, 1
	)
	attrFloat := concat(
		field(1, str("alpha")),
		[]byte{2<<3 | wire32Bit, 0, 0, 0x80, 0x3f}, // 1.0
	)
	node := concat(
		field(1, str("X")), field(1, str("W")), field(2, str("Y")),
		field(4, str("Conv")),
		field(5, attrUnpacked), field(5, attrPacked), field(5, attrFloat),
		field(7, str("")),
	)
	tensorBytes := concat(
		[]byte{1<<3 | wireVarint, 1, 1<<3 | wireVarint, 2}, // dims: 1, 2 (unpacked)
		[]byte{2<<3 | wireVarint, TensorProtoFloat},
		field(4, []byte{0, 0, 0x80, 0x3f, 0, 0, 0, 0x40}), // packed float_data: 1, 2
		field(8, str("W")),
	)
	annotation := concat(
		field(1, str("W")),
		field(2, concat(field(1, str("finn_datatype")), field(2, str("INT8")))),
	)
	graph := concat(field(1, node), field(2, str("g")), field(5, tensorBytes), field(14, annotation),
		field(99, str("ignored")))
	model := concat([]byte{1<<3 | wireVarint, 7}, field(7, graph))

	parsed, err := Parse(model)
	require.NoError(t, err)
	require.Len(t, parsed.Graph.Nodes, 1)
	n := parsed.Graph.Nodes[0]
	assert.Equal(t, "Conv", n.OpType)
	assert.Equal(t, []int64{2, 2}, n.Attribute("strides").Ints)
	assert.Equal(t, int32(AttributeProtoInts), n.Attribute("strides").Type)
	assert.Equal(t, []int64{1, 1}, n.Attribute("dilations").Ints)
	assert.Equal(t, float32(1), n.Attribute("alpha").F)

	w := parsed.Graph.Initializers[0]
	assert.Equal(t, []int64{1, 2}, w.Dims)
	assert.Equal(t, []float32{1, 2}, w.FloatData)
	dt, ok := parsed.Graph.Annotation("W", "finn_datatype")
	assert.True(t, ok)
	assert.Equal(t, "INT8", dt)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, WriteFile(path, buildResizeConvModel()))

	model, err := ParseFile(path)
	require.NoError(t, err)
	require.NotNil(t, model.Graph)
	assert.Len(t, model.Graph.Nodes, 2)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.onnx"))
	assert.Error(t, err)
}

func TestParseTruncated(t *testing.T) {
	data, err := Marshal(buildResizeConvModel())
	require.NoError(t, err)
	_, err = Parse(data[:len(data)-3])
	assert.Error(t, err)

	empty, err := Parse(nil)
	require.NoError(t, err)
	assert.Nil(t, empty.Graph)

	_, err = Marshal(nil)
	assert.Error(t, err)
}

func field(num int, payload []byte) []byte {
	w := &writer{}
	w.bytesField(num, payload)
	return w.buf
}

func str(s string) []byte { return []byte(s) }

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
