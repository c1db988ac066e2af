package operators

import (
	"fmt"

	"github.com/timkpaine/qonnx/internal/tensor"
)

// registerUtilityOps adds pass-through and constant operators.
func (r *Registry) registerUtilityOps() {
	r.Register("Identity", handleIdentity)
	r.Register("Dropout", handleDropout)
	r.Register("Constant", handleConstant)
}

func handleIdentity(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("identity requires 1 input, got %d", len(inputs))
	}
	return single(inputs[0]), nil
}

// handleDropout is the identity at inference time.
func handleDropout(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("dropout requires at least 1 input, got %d", len(inputs))
	}
	return single(inputs[0]), nil
}

func handleConstant(_ *Context, node *Node, _ []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	for i := range node.Attributes {
		attr := &node.Attributes[i]
		switch attr.Name {
		case "value":
			if attr.Tensor == nil {
				return nil, fmt.Errorf("constant: value attribute carries no tensor")
			}
			return single(attr.Tensor), nil
		case "value_float":
			return single(tensor.Scalar(attr.F)), nil
		case "value_floats":
			t, err := tensor.FromFloat32(attr.Floats, tensor.Shape{len(attr.Floats)})
			if err != nil {
				return nil, fmt.Errorf("constant: %w", err)
			}
			return single(t), nil
		case "value_int":
			t, err := tensor.FromInt64([]int64{attr.I}, tensor.Shape{})
			if err != nil {
				return nil, fmt.Errorf("constant: %w", err)
			}
			return single(t), nil
		case "value_ints":
			t, err := tensor.FromInt64(attr.Ints, tensor.Shape{len(attr.Ints)})
			if err != nil {
				return nil, fmt.Errorf("constant: %w", err)
			}
			return single(t), nil
		}
	}
	return nil, fmt.Errorf("constant: no supported value attribute")
}
