// Package onnx reads, writes and executes ONNX models, including the QONNX
// quantization extensions (Quant nodes and finn_datatype annotations).
//
// # Supported Features
//
//   - ONNX protobuf decoding and encoding of models, graphs, nodes,
//     initializers, value infos and quantization annotations
//   - A reference executor for the operators quantized upsampling networks
//     are built from, used to check rewrites numerically
//   - FLOAT, FLOAT16, DOUBLE, INT8, INT32, INT64, UINT8 and BOOL initializers
//
// # Example Usage
//
//	model, err := onnx.ParseFile("decoder.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	exec, err := onnx.LoadFromProto(model)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	output, err := exec.Forward(input)
//
// # Supported Operators
//
//   - Element-wise: Add, Sub, Mul, Div, Relu, Sigmoid, Identity
//   - Shape: Reshape, Transpose, DepthToSpace
//   - Convolution: Conv, ConvTranspose (2D, grouped)
//   - Upsampling: Resize (nearest), Upsample
//   - QONNX: Quant
//
// Use [ListSupportedOps] to get the complete list of supported operators.
package onnx

import (
	internalonnx "github.com/timkpaine/qonnx/internal/onnx"
	"github.com/timkpaine/qonnx/tensor"
)

// ModelProto is a decoded ONNX model. Graphs are edited through its fields and
// written back with Marshal or WriteFile.
type ModelProto = internalonnx.ModelProto

// QONNXDomain is the operator domain of Quant nodes.
const QONNXDomain = internalonnx.QONNXDomain

// Parse decodes an ONNX model from its protobuf encoding.
func Parse(data []byte) (*ModelProto, error) {
	return internalonnx.Parse(data)
}

// ParseFile decodes the ONNX model stored at path.
func ParseFile(path string) (*ModelProto, error) {
	return internalonnx.ParseFile(path)
}

// Marshal encodes a model to the ONNX protobuf format.
func Marshal(m *ModelProto) ([]byte, error) {
	return internalonnx.Marshal(m)
}

// WriteFile encodes a model and writes it to path.
func WriteFile(path string, m *ModelProto) error {
	return internalonnx.WriteFile(path, m)
}

// LoadOptions configures ONNX model loading behavior.
type LoadOptions = internalonnx.LoadOptions

// DefaultLoadOptions returns the default options for loading ONNX models.
//
// Default configuration:
//   - Strict mode: disabled (unsupported operators fail when they run)
//   - Parallel: every CPU
func DefaultLoadOptions() LoadOptions {
	return internalonnx.DefaultLoadOptions()
}

// Load loads an ONNX model from a file path and prepares it for execution.
//
// Example:
//
//	model, err := onnx.Load("decoder.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Inputs:", model.InputNames())
//	fmt.Println("Opset:", model.OpsetVersion())
func Load(path string, opts ...LoadOptions) (Model, error) {
	return asModel(internalonnx.Load(path, opts...))
}

// LoadFromBytes loads an ONNX model from its encoded bytes.
func LoadFromBytes(data []byte, opts ...LoadOptions) (Model, error) {
	return asModel(internalonnx.LoadFromBytes(data, opts...))
}

// LoadFromProto prepares an already decoded model for execution.
func LoadFromProto(m *ModelProto, opts ...LoadOptions) (Model, error) {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}
	return asModel(internalonnx.LoadFromProto(m, opt))
}

// asModel keeps a failed load from returning a non-nil Model holding a nil pointer.
func asModel(m *internalonnx.Model, err error) (Model, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ExecutionDiff reports how far the outputs of two executions diverged.
type ExecutionDiff = internalonnx.ExecutionDiff

// CompareExecution runs two models on the same inputs and compares every graph
// output with allclose(atol, rtol).
//
// Example:
//
//	diff, err := onnx.CompareExecution(before, after, inputs, 1e-4, 1e-4)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !diff.Close() {
//	    log.Printf("outputs differ by up to %g", diff.MaxAbsDiff())
//	}
func CompareExecution(a, b *ModelProto, inputs map[string]*tensor.RawTensor, atol, rtol float64) (*ExecutionDiff, error) {
	return internalonnx.CompareExecution(a, b, inputs, atol, rtol)
}

// ModelInfo contains metadata about an ONNX model without loading weights.
type ModelInfo = internalonnx.ModelInfo

// GetModelInfo extracts metadata from an ONNX file without preparing it for execution.
func GetModelInfo(path string) (*ModelInfo, error) {
	return internalonnx.GetModelInfo(path)
}

// ListSupportedOps returns every operator the reference executor implements.
func ListSupportedOps() []string {
	return internalonnx.ListSupportedOps()
}
