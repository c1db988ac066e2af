// Package graph wraps an ONNX model with the lookups and atomic edits needed by
// graph transformations.
package graph

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/timkpaine/qonnx/internal/datatype"
	"github.com/timkpaine/qonnx/internal/onnx"
	"github.com/timkpaine/qonnx/internal/tensor"
)

// Graph is a mutable view over an ONNX model. It is not safe for concurrent use.
type Graph struct {
	model *onnx.ModelProto
}

// New wraps model. The model is mutated in place by edits; use Clone to keep the original.
func New(model *onnx.ModelProto) (*Graph, error) {
	if model == nil || model.Graph == nil {
		return nil, errors.New("model has no graph")
	}
	return &Graph{model: model}, nil
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() (*Graph, error) {
	model, err := g.model.Clone()
	if err != nil {
		return nil, errors.Wrap(err, "cloning model")
	}
	return New(model)
}

// Model returns the underlying model.
func (g *Graph) Model() *onnx.ModelProto { return g.model }

// Proto returns the underlying graph.
func (g *Graph) Proto() *onnx.GraphProto { return g.model.Graph }

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int { return len(g.model.Graph.Nodes) }

// Node returns the node at index i.
func (g *Graph) Node(i int) *onnx.NodeProto { return &g.model.Graph.Nodes[i] }

// FindProducer returns the index of the node producing tensor name.
func (g *Graph) FindProducer(name string) (int, bool) {
	for i := range g.model.Graph.Nodes {
		for _, out := range g.model.Graph.Nodes[i].Outputs {
			if out == name {
				return i, true
			}
		}
	}
	return -1, false
}

// FindConsumers returns the indices of the nodes reading tensor name, in node order.
func (g *Graph) FindConsumers(name string) []int {
	var consumers []int
	for i := range g.model.Graph.Nodes {
		for _, in := range g.model.Graph.Nodes[i].Inputs {
			if in == name {
				consumers = append(consumers, i)
				break
			}
		}
	}
	return consumers
}

// Initializer returns the initializer called name.
func (g *Graph) Initializer(name string) (*onnx.TensorProto, bool) {
	for i := range g.model.Graph.Initializers {
		if g.model.Graph.Initializers[i].Name == name {
			return &g.model.Graph.Initializers[i], true
		}
	}
	return nil, false
}

// InitializerTensor decodes the initializer called name.
func (g *Graph) InitializerTensor(name string) (*tensor.RawTensor, error) {
	tp, ok := g.Initializer(name)
	if !ok {
		return nil, errors.Errorf("%q is not an initializer", name)
	}
	t, err := onnx.TensorToRaw(tp)
	return t, errors.Wrapf(err, "decoding initializer %q", name)
}

// SetInitializer adds tp, replacing any initializer with the same name.
func (g *Graph) SetInitializer(tp onnx.TensorProto) {
	if old, ok := g.Initializer(tp.Name); ok {
		*old = tp
		return
	}
	g.model.Graph.Initializers = append(g.model.Graph.Initializers, tp)
}

// IsGraphInput reports whether name is a graph input.
func (g *Graph) IsGraphInput(name string) bool {
	return findValueInfo(g.model.Graph.Inputs, name) >= 0
}

// IsGraphOutput reports whether name is a graph output.
func (g *Graph) IsGraphOutput(name string) bool {
	return findValueInfo(g.model.Graph.Outputs, name) >= 0
}

// valueInfo returns the value info recorded for name in inputs, outputs or value_info.
func (g *Graph) valueInfo(name string) *onnx.ValueInfoProto {
	gp := g.model.Graph
	for _, list := range [][]onnx.ValueInfoProto{gp.Inputs, gp.Outputs, gp.ValueInfo} {
		if i := findValueInfo(list, name); i >= 0 {
			return &list[i]
		}
	}
	return nil
}

// TensorShape returns the static shape of a tensor, or nil when it is unknown.
func (g *Graph) TensorShape(name string) []int64 {
	if tp, ok := g.Initializer(name); ok {
		return append([]int64{}, tp.Dims...)
	}
	if vi := g.valueInfo(name); vi != nil {
		return vi.Shape()
	}
	return nil
}

// SetTensorShape records a float tensor's static shape in value_info, or updates
// the existing input/output/value_info entry.
func (g *Graph) SetTensorShape(name string, shape []int64) {
	vi := g.valueInfo(name)
	if vi == nil {
		gp := g.model.Graph
		gp.ValueInfo = append(gp.ValueInfo, onnx.MakeValueInfo(name, onnx.TensorProtoFloat, shape))
		return
	}
	elem := vi.ElemType()
	if elem == onnx.TensorProtoUndefined {
		elem = onnx.TensorProtoFloat
	}
	fresh := onnx.MakeValueInfo(name, elem, shape)
	vi.Type = fresh.Type
}

// TensorDatatype returns the annotated quantization datatype of a tensor, FLOAT32 when absent.
func (g *Graph) TensorDatatype(name string) (datatype.DataType, error) {
	value, ok := g.model.Graph.Annotation(name, datatype.AnnotationKey)
	if !ok {
		return datatype.Float32, nil
	}
	dt, err := datatype.Parse(value)
	return dt, errors.Wrapf(err, "annotation of %q", name)
}

// SetTensorDatatype annotates a tensor with a quantization datatype.
func (g *Graph) SetTensorDatatype(name string, dt datatype.DataType) {
	g.model.Graph.SetAnnotation(name, datatype.AnnotationKey, dt.String())
}

// names returns every node and tensor name in use.
func (g *Graph) names() map[string]bool {
	gp := g.model.Graph
	used := make(map[string]bool)
	for i := range gp.Nodes {
		used[gp.Nodes[i].Name] = true
		for _, n := range gp.Nodes[i].Inputs {
			used[n] = true
		}
		for _, n := range gp.Nodes[i].Outputs {
			used[n] = true
		}
	}
	for i := range gp.Initializers {
		used[gp.Initializers[i].Name] = true
	}
	for _, list := range [][]onnx.ValueInfoProto{gp.Inputs, gp.Outputs, gp.ValueInfo} {
		for i := range list {
			used[list[i].Name] = true
		}
	}
	delete(used, "")
	return used
}

// UniqueName returns prefix, or prefix_N for the smallest N making it unused.
func (g *Graph) UniqueName(prefix string) string {
	return uniqueName(g.names(), prefix)
}

func uniqueName(used map[string]bool, prefix string) string {
	if !used[prefix] {
		return prefix
	}
	for n := 1; ; n++ {
		name := prefix + "_" + strconv.Itoa(n)
		if !used[name] {
			return name
		}
	}
}

func findValueInfo(list []onnx.ValueInfoProto, name string) int {
	for i := range list {
		if list[i].Name == name {
			return i
		}
	}
	return -1
}
