// Package operators implements the reference executor's ONNX and QONNX operators.
//
// Each handler validates its inputs and attributes, then computes its outputs on
// host tensors. Kernels report malformed shapes by panicking; Registry.Execute
// turns those panics back into errors.
//
// Supported operators:
//   - Element-wise: Add, Sub, Mul, Div (numpy broadcasting), Relu, Sigmoid
//   - Shape: Reshape, Transpose, DepthToSpace
//   - Spatial: Conv, ConvTranspose, Resize, Upsample
//   - Quantization: Quant (QONNX domain)
//   - Utility: Identity, Dropout, Constant
package operators
