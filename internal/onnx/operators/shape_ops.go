package operators

import (
	"fmt"

	"github.com/timkpaine/qonnx/internal/tensor"
)

// registerShapeOps adds shape manipulation operators to the registry.
func (r *Registry) registerShapeOps() {
	r.Register("Reshape", handleReshape)
	r.Register("Transpose", handleTranspose)
	r.Register("DepthToSpace", handleDepthToSpace)
}

func handleReshape(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("reshape requires 2 inputs (data, shape), got %d", len(inputs))
	}
	newShape, err := ResolveReshape(inputs[0].Shape(), inputs[1].AsInt64())
	if err != nil {
		return nil, fmt.Errorf("reshape: %w", err)
	}
	result, err := inputs[0].Reshape(newShape)
	if err != nil {
		return nil, fmt.Errorf("reshape: %w", err)
	}
	return single(result), nil
}

// ResolveReshape applies the ONNX Reshape rules: 0 copies the input dimension,
// a single -1 is inferred from the remaining element count.
func ResolveReshape(in tensor.Shape, target []int64) (tensor.Shape, error) {
	out := make(tensor.Shape, len(target))
	inferred := -1
	known := 1
	for i, v := range target {
		switch {
		case v == 0:
			if i >= len(in) {
				return nil, fmt.Errorf("dimension %d copies a missing input axis", i)
			}
			out[i] = in[i]
		case v == -1:
			if inferred >= 0 {
				return nil, fmt.Errorf("more than one -1 in target shape %v", target)
			}
			inferred = i
			continue
		case v < 0:
			return nil, fmt.Errorf("invalid target dimension %d", v)
		default:
			out[i] = int(v)
		}
		known *= out[i]
	}
	if inferred >= 0 {
		if known == 0 || in.NumElements()%known != 0 {
			return nil, fmt.Errorf("cannot infer -1 reshaping %s into %v", in, target)
		}
		out[inferred] = in.NumElements() / known
	}
	return out, nil
}

func handleTranspose(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("transpose requires 1 input, got %d", len(inputs))
	}

	perm := GetAttrInts(node, "perm")
	axes := make([]int, len(perm))
	for i, v := range perm {
		axes[i] = int(v)
	}

	result, err := inputs[0].Transpose(axes...)
	if err != nil {
		return nil, fmt.Errorf("transpose: %w", err)
	}
	return single(result), nil
}

// handleDepthToSpace rearranges [N, C*b*b, H, W] into [N, C, H*b, W*b] in DCR or CRD order.
func handleDepthToSpace(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("depthToSpace requires 1 input, got %d", len(inputs))
	}
	b := int(GetAttrInt(node, "blocksize", 0))
	mode := GetAttrString(node, "mode", "DCR")
	x := inputs[0]
	s := x.Shape()
	if len(s) != 4 || b <= 0 || s[1]%(b*b) != 0 {
		return nil, fmt.Errorf("depthToSpace: invalid input %s for blocksize %d", s, b)
	}
	n, c, h, w := s[0], s[1]/(b*b), s[2], s[3]

	var tmp *tensor.RawTensor
	var err error
	switch mode {
	case "DCR":
		tmp, err = x.Reshape(tensor.Shape{n, b, b, c, h, w})
		if err == nil {
			tmp, err = tmp.Transpose(0, 3, 4, 1, 5, 2)
		}
	case "CRD":
		tmp, err = x.Reshape(tensor.Shape{n, c, b, b, h, w})
		if err == nil {
			tmp, err = tmp.Transpose(0, 1, 4, 2, 5, 3)
		}
	default:
		return nil, fmt.Errorf("depthToSpace: unknown mode %q", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("depthToSpace: %w", err)
	}
	result, err := tmp.Reshape(tensor.Shape{n, c, h * b, w * b})
	if err != nil {
		return nil, fmt.Errorf("depthToSpace: %w", err)
	}
	return single(result), nil
}
