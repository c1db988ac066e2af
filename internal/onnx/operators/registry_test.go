package operators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timkpaine/qonnx/internal/tensor"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()

	essentialOps := []string{
		"Add", "Sub", "Mul", "Div", "Relu", "Sigmoid",
		"Reshape", "Transpose", "DepthToSpace",
		"Conv", "ConvTranspose", "Resize", "Upsample",
		"Quant", "Identity", "Dropout", "Constant",
	}
	for _, op := range essentialOps {
		_, ok := r.Get(op)
		assert.True(t, ok, "operator %s should be registered", op)
	}
	assert.Equal(t, len(essentialOps), len(r.SupportedOps()))
	assert.IsNonDecreasing(t, r.SupportedOps())
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("UnknownOp")
	assert.False(t, ok)

	_, err := r.Execute(nil, &Node{OpType: "UnknownOp"}, nil)
	assert.Error(t, err)
}

func TestRegisterCustomOp(t *testing.T) {
	r := NewRegistry()
	r.Register("MyCustomOp", func(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		return inputs, nil
	})
	_, ok := r.Get("MyCustomOp")
	assert.True(t, ok)
}

func TestExecuteRecoversKernelPanics(t *testing.T) {
	r := NewRegistry()
	x, err := tensor.FromFloat32([]float32{1, 2, 3}, tensor.Shape{3})
	require.NoError(t, err)
	y, err := tensor.FromFloat32([]float32{1, 2}, tensor.Shape{2})
	require.NoError(t, err)

	// Not broadcastable: the kernel panics, Execute returns an error.
	_, err = r.Execute(nil, &Node{OpType: "Add", Name: "add"}, []*tensor.RawTensor{x, y})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not broadcastable")

	// Missing input to Conv.
	_, err = r.Execute(nil, &Node{OpType: "Conv", Name: "conv"}, []*tensor.RawTensor{x, nil})
	assert.Error(t, err)
}
