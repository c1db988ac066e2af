// Package onnx reads, writes and executes ONNX models.
//
// The protobuf codec is hand-written: Parse decodes and Marshal encodes the
// subset of onnx.proto needed for QONNX graphs, including value_info and
// quantization_annotation. Marshal is deterministic, so two models with the
// same content encode to the same bytes.
//
// Key components:
//   - ModelProto, GraphProto, NodeProto, TensorProto, ValueInfoProto: the IR
//   - MakeNode, MakeAttr*, MakeTensor*, MakeValueInfo, MakeModel: builders
//   - TensorToRaw, TensorFromRaw: initializer conversion to host tensors
//   - Load, LoadFromBytes, LoadFromProto: the reference executor
//   - CompareExecution: runs two models on the same inputs and compares outputs
//
// Example usage:
//
//	model, err := onnx.ParseFile("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, node := range model.Graph.Nodes {
//	    fmt.Printf("Op: %s (type: %s)\n", node.Name, node.OpType)
//	}
package onnx
