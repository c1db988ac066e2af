package operators

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timkpaine/qonnx/internal/tensor"
)

func TestResizeNearestDuplicatesBlocks(t *testing.T) {
	x := must.M1(tensor.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2}))
	want := []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}
	scales := must.M1(tensor.FromFloat32([]float32{1, 1, 2, 2}, tensor.Shape{4}))
	empty := must.M1(tensor.NewRaw(tensor.Shape{0}, tensor.Float32))

	for _, mode := range []struct{ coord, nearest string }{
		{"half_pixel", "round_prefer_floor"},
		{"half_pixel", "round_prefer_ceil"},
		{"pytorch_half_pixel", "round_prefer_floor"},
		{"asymmetric", "floor"},
	} {
		node := &Node{OpType: "Resize", Attributes: []Attribute{
			{Name: "mode", S: []byte("nearest")},
			{Name: "coordinate_transformation_mode", S: []byte(mode.coord)},
			{Name: "nearest_mode", S: []byte(mode.nearest)},
		}}
		out := run(t, node, x, empty, scales)
		assert.Equal(t, tensor.Shape{1, 1, 4, 4}, out.Shape(), mode.coord)
		assert.Equal(t, want, out.AsFloat32(), "%s/%s", mode.coord, mode.nearest)
	}

	// Sizes instead of scales, and the opset 10 two-input form.
	sizes := must.M1(tensor.FromInt64([]int64{1, 1, 4, 4}, tensor.Shape{4}))
	out := run(t, &Node{OpType: "Resize"}, x, empty, empty, sizes)
	assert.Equal(t, want, out.AsFloat32())
	out = run(t, &Node{OpType: "Resize", Attributes: []Attribute{
		{Name: "coordinate_transformation_mode", S: []byte("asymmetric")},
		{Name: "nearest_mode", S: []byte("floor")},
	}}, x, scales)
	assert.Equal(t, want, out.AsFloat32())
}

func TestResizeNonIntegerScale(t *testing.T) {
	x := must.M1(tensor.FromFloat32([]float32{1, 2}, tensor.Shape{1, 2}))
	out, err := ResizeNearest(x, []float64{1, 1.5}, nil, NearestParams{CoordinateMode: "asymmetric", NearestMode: "floor"})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3}, out.Shape())
	assert.Equal(t, []float32{1, 1, 2}, out.AsFloat32())
}

func TestResizeRejectsLinear(t *testing.T) {
	x := must.M1(tensor.Full(tensor.Shape{1, 1, 2, 2}, 1))
	scales := must.M1(tensor.FromFloat32([]float32{1, 1, 2, 2}, tensor.Shape{4}))
	_, err := NewRegistry().Execute(nil, &Node{OpType: "Resize", Attributes: []Attribute{{Name: "mode", S: []byte("linear")}}},
		[]*tensor.RawTensor{x, nil, scales})
	assert.Error(t, err)
}

func TestUpsample(t *testing.T) {
	x := must.M1(tensor.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2}))
	node := &Node{OpType: "Upsample", Attributes: []Attribute{{Name: "scales", Floats: []float32{1, 1, 3, 3}}}}
	out := run(t, node, x)
	assert.Equal(t, tensor.Shape{1, 1, 6, 6}, out.Shape())
	assert.Equal(t, float32(1), out.AsFloat32()[2*6+2])
	assert.Equal(t, float32(4), out.AsFloat32()[3*6+3])
}

func TestDepthToSpace(t *testing.T) {
	// [1, 4, 1, 1] -> [1, 1, 2, 2]
	x := must.M1(tensor.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{1, 4, 1, 1}))
	out := run(t, &Node{OpType: "DepthToSpace", Attributes: []Attribute{{Name: "blocksize", I: 2}}}, x)
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4}, out.AsFloat32())
}

func TestReshape(t *testing.T) {
	x := must.M1(tensor.Full(tensor.Shape{2, 3, 4}, 1))
	shape := must.M1(tensor.FromInt64([]int64{0, -1}, tensor.Shape{2}))
	out := run(t, &Node{OpType: "Reshape"}, x, shape)
	assert.Equal(t, tensor.Shape{2, 12}, out.Shape())

	_, err := ResolveReshape(tensor.Shape{2, 3}, []int64{-1, -1})
	assert.Error(t, err)
}
