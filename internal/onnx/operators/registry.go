package operators

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/timkpaine/qonnx/internal/parallel"
	"github.com/timkpaine/qonnx/internal/tensor"
)

// OpHandler processes an ONNX node and returns output tensors.
type OpHandler func(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)

// Context carries execution settings shared by all operators of one run.
type Context struct {
	Parallel parallel.Config
}

// DefaultContext returns a Context using every CPU for the spatial kernels.
func DefaultContext() *Context {
	return &Context{Parallel: parallel.DefaultConfig()}
}

// Registry maps ONNX operator types to handler functions.
type Registry struct {
	handlers map[string]OpHandler
}

// NewRegistry creates a new operator registry with all supported operators.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]OpHandler),
	}

	r.registerElementwiseOps()
	r.registerShapeOps()
	r.registerSpatialOps()
	r.registerQuantOps()
	r.registerUtilityOps()

	return r
}

// Register adds a custom operator handler.
func (r *Registry) Register(opType string, handler OpHandler) {
	r.handlers[opType] = handler
}

// Get returns the handler for an operator type.
func (r *Registry) Get(opType string) (OpHandler, bool) {
	h, ok := r.handlers[opType]
	return h, ok
}

// Execute runs an operator with the given inputs.
// Panics raised by the kernels are returned as errors.
func (r *Registry) Execute(ctx *Context, node *Node, inputs []*tensor.RawTensor) (outputs []*tensor.RawTensor, err error) {
	handler, ok := r.handlers[node.OpType]
	if !ok {
		return nil, fmt.Errorf("unsupported operator: %s", node.OpType)
	}
	if ctx == nil {
		ctx = DefaultContext()
	}
	exception := exceptions.TryCatch[error](func() {
		outputs, err = handler(ctx, node, inputs)
	})
	if exception != nil {
		return nil, exception
	}
	return outputs, err
}

// SupportedOps returns a sorted list of all supported operator types.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// single wraps one output tensor.
func single(t *tensor.RawTensor) []*tensor.RawTensor {
	return []*tensor.RawTensor{t}
}

// floatInput returns input i converted to Float32, panicking if it is missing.
func floatInput(node *Node, inputs []*tensor.RawTensor, i int) *tensor.RawTensor {
	if i >= len(inputs) || inputs[i] == nil {
		exceptions.Panicf("%s %q: missing input %d", node.OpType, node.Name, i)
	}
	f, err := inputs[i].ToFloat32()
	if err != nil {
		exceptions.Panicf("%s %q: input %d: %v", node.OpType, node.Name, i, err)
	}
	return f
}

// optionalInput returns input i or nil when it is absent.
func optionalInput(inputs []*tensor.RawTensor, i int) *tensor.RawTensor {
	if i < len(inputs) {
		return inputs[i]
	}
	return nil
}

func mustRaw(t *tensor.RawTensor, err error) *tensor.RawTensor {
	if err != nil {
		exceptions.Panicf("%v", err)
	}
	return t
}
