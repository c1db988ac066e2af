package operators

import (
	"fmt"
	"math"

	"github.com/gomlx/exceptions"
	"github.com/timkpaine/qonnx/internal/tensor"
)

// registerElementwiseOps adds element-wise math and activation operators.
func (r *Registry) registerElementwiseOps() {
	r.Register("Add", binaryOp(func(a, b float32) float32 { return a + b }))
	r.Register("Sub", binaryOp(func(a, b float32) float32 { return a - b }))
	r.Register("Mul", binaryOp(func(a, b float32) float32 { return a * b }))
	r.Register("Div", binaryOp(func(a, b float32) float32 { return a / b }))
	r.Register("Relu", unaryOp(func(x float32) float32 { return max(x, 0) }))
	r.Register("Sigmoid", unaryOp(func(x float32) float32 {
		return float32(1 / (1 + math.Exp(-float64(x))))
	}))
}

func unaryOp(f func(float32) float32) OpHandler {
	return func(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("%s requires 1 input, got %d", node.OpType, len(inputs))
		}
		x := floatInput(node, inputs, 0)
		out := mustRaw(tensor.NewRaw(x.Shape(), tensor.Float32))
		dst := out.AsFloat32()
		for i, v := range x.AsFloat32() {
			dst[i] = f(v)
		}
		return single(out), nil
	}
}

func binaryOp(f func(a, b float32) float32) OpHandler {
	return func(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if len(inputs) != 2 {
			return nil, fmt.Errorf("%s requires 2 inputs, got %d", node.OpType, len(inputs))
		}
		a := floatInput(node, inputs, 0)
		b := floatInput(node, inputs, 1)
		return single(broadcastApply(a, b, f)), nil
	}
}

// broadcastApply applies f element-wise under numpy broadcasting rules.
func broadcastApply(a, b *tensor.RawTensor, f func(a, b float32) float32) *tensor.RawTensor {
	outShape, needs, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		exceptions.Panicf("broadcast: %v", err)
	}
	out := mustRaw(tensor.NewRaw(outShape, tensor.Float32))
	dst, av, bv := out.AsFloat32(), a.AsFloat32(), b.AsFloat32()
	if !needs {
		for i := range dst {
			dst[i] = f(av[i], bv[i])
		}
		return out
	}

	aStrides := broadcastStrides(a.Shape(), outShape)
	bStrides := broadcastStrides(b.Shape(), outShape)
	outStrides := outShape.ComputeStrides()
	for i := range dst {
		rem, ai, bi := i, 0, 0
		for d, s := range outStrides {
			idx := rem / s
			rem %= s
			ai += idx * aStrides[d]
			bi += idx * bStrides[d]
		}
		dst[i] = f(av[ai], bv[bi])
	}
	return out
}

// broadcastStrides returns strides of shape aligned to out, with 0 on broadcast axes.
func broadcastStrides(shape, out tensor.Shape) []int {
	strides := make([]int, len(out))
	own := shape.ComputeStrides()
	offset := len(out) - len(shape)
	for d := range shape {
		if shape[d] != 1 {
			strides[offset+d] = own[d]
		}
	}
	return strides
}
