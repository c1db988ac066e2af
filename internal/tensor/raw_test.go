package tensor

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRawZeroed(t *testing.T) {
	raw, err := NewRaw(Shape{2, 3}, Float32)
	require.NoError(t, err)
	assert.Equal(t, 6, raw.NumElements())
	assert.Equal(t, 24, raw.ByteSize())
	assert.Equal(t, []int{3, 1}, raw.Strides())
	for _, v := range raw.AsFloat32() {
		assert.Zero(t, v)
	}
}

func TestNewRawEmptyAxis(t *testing.T) {
	raw, err := NewRaw(Shape{0}, Float32)
	require.NoError(t, err)
	assert.Equal(t, 0, raw.NumElements())
	assert.Nil(t, raw.AsFloat32())

	_, err = NewRaw(Shape{2, -1}, Float32)
	assert.Error(t, err)
}

func TestDTypeMismatchPanics(t *testing.T) {
	raw, err := NewRaw(Shape{2}, Int64)
	require.NoError(t, err)
	assert.Panics(t, func() { raw.AsFloat32() })
}

func TestCloneIsDeep(t *testing.T) {
	raw, err := FromFloat32([]float32{1, 2, 3}, Shape{3})
	require.NoError(t, err)
	clone := raw.Clone()
	clone.AsFloat32()[0] = 42
	assert.Equal(t, float32(1), raw.AsFloat32()[0])
}

func TestReshapeSharesBuffer(t *testing.T) {
	raw, err := FromFloat32([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)
	view, err := raw.Reshape(Shape{3, 2})
	require.NoError(t, err)
	view.AsFloat32()[5] = 60
	assert.Equal(t, float32(60), raw.AsFloat32()[5])

	_, err = raw.Reshape(Shape{4})
	assert.Error(t, err)
}

func TestTranspose(t *testing.T) {
	// [[1,2,3],[4,5,6]] -> [[1,4],[2,5],[3,6]]
	raw, err := FromFloat32([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)
	tr, err := raw.Transpose()
	require.NoError(t, err)
	assert.Equal(t, Shape{3, 2}, tr.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, tr.AsFloat32())

	// Swapping the two leading axes of a 4D tensor, the ConvTranspose weight relayout.
	w, err := FromFloat32([]float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, Shape{2, 3, 1, 2})
	require.NoError(t, err)
	wt, err := w.Transpose(1, 0, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, Shape{3, 2, 1, 2}, wt.Shape())
	assert.Equal(t, []float32{0, 1, 6, 7, 2, 3, 8, 9, 4, 5, 10, 11}, wt.AsFloat32())

	_, err = raw.Transpose(0, 0)
	assert.Error(t, err)
}

func TestBroadcastShapes(t *testing.T) {
	out, needs, err := BroadcastShapes(Shape{4, 1, 3}, Shape{5, 1})
	require.NoError(t, err)
	assert.True(t, needs)
	assert.Equal(t, Shape{4, 5, 3}, out)

	out, needs, err = BroadcastShapes(Shape{2, 2}, Shape{2, 2})
	require.NoError(t, err)
	assert.False(t, needs)
	assert.Equal(t, Shape{2, 2}, out)

	_, _, err = BroadcastShapes(Shape{3}, Shape{4})
	assert.Error(t, err)
}

func TestToFloat32(t *testing.T) {
	raw, err := FromInt64([]int64{1, -2, 3}, Shape{3})
	require.NoError(t, err)
	f, err := raw.ToFloat32()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -2, 3}, f.AsFloat32())

	same, err := f.ToFloat32()
	require.NoError(t, err)
	assert.Same(t, f, same)
}

func TestRandRange(t *testing.T) {
	raw, err := Rand(Shape{1, 3, 4, 4}, rand.New(rand.NewPCG(0, 0)))
	require.NoError(t, err)
	for _, v := range raw.AsFloat32() {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}
}

func TestAllClose(t *testing.T) {
	a, err := FromFloat32([]float32{1, 2, 3}, Shape{3})
	require.NoError(t, err)
	b, err := FromFloat32([]float32{1, 2.00005, 3}, Shape{3})
	require.NoError(t, err)

	ok, err := AllClose(a, b, 1e-4, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = AllClose(a, b, 1e-6, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	diff, err := MaxAbsDiff(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 5e-5, diff, 1e-6)

	c, err := FromFloat32([]float32{1, 2}, Shape{2})
	require.NoError(t, err)
	_, err = AllClose(a, c, 1, 1)
	assert.Error(t, err)
}
