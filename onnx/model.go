package onnx

import "github.com/timkpaine/qonnx/tensor"

// Model is an ONNX model prepared for reference execution.
//
// The executor evaluates nodes in topological order on host tensors. It exists
// to check that graph rewrites preserve numerics, not for fast inference.
type Model interface {
	// Forward runs the model on its single input and returns its single output.
	// For models with several inputs or outputs, use ForwardNamed.
	Forward(input *tensor.RawTensor) (*tensor.RawTensor, error)

	// ForwardNamed runs the model on named inputs and returns every graph
	// output by name. All names from InputNames must be provided.
	//
	// Example:
	//
	//	outputs, err := model.ForwardNamed(map[string]*tensor.RawTensor{
	//	    "global_in": x,
	//	})
	//	if err != nil {
	//	    log.Fatal(err)
	//	}
	//	y := outputs["global_out"]
	ForwardNamed(inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error)

	// InputNames returns the graph inputs that are not initializers.
	InputNames() []string

	// OutputNames returns the graph outputs.
	OutputNames() []string

	// OpsetVersion returns the default-domain opset the model imports.
	OpsetVersion() int64

	// Metadata returns producer information and metadata_props as key-value pairs.
	Metadata() map[string]string
}
