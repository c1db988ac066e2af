package onnx

import (
	"fmt"

	"github.com/timkpaine/qonnx/internal/onnx/operators"
	"github.com/timkpaine/qonnx/internal/tensor"
)

// Model is an ONNX graph compiled into a fixed execution plan.
//
// Every tensor name of the graph gets a value slot; a run fills the slots of
// initializers and inputs, then executes the plan in order.
type Model struct {
	proto    *ModelProto
	registry *operators.Registry
	ctx      *operators.Context

	inputs  []string
	outputs []string
	opset   int64

	slots  map[string]int
	consts map[int]*tensor.RawTensor
	plan   []step
}

// step is one node of the execution plan. args and results hold value slots,
// -1 for omitted optional inputs and outputs.
type step struct {
	node    *operators.Node
	args    []int
	results []int
	release []int // slots whose last reader is this step
}

// InputNames returns the graph inputs that are not initializers.
func (m *Model) InputNames() []string {
	return m.inputs
}

// OutputNames returns the graph outputs.
func (m *Model) OutputNames() []string {
	return m.outputs
}

// OpsetVersion returns the default-domain opset the model imports.
func (m *Model) OpsetVersion() int64 {
	return m.opset
}

// Proto returns the model the executor was compiled from.
func (m *Model) Proto() *ModelProto {
	return m.proto
}

// Metadata returns producer information and metadata_props as key-value pairs.
func (m *Model) Metadata() map[string]string {
	meta := map[string]string{
		"producer_name":    m.proto.ProducerName,
		"producer_version": m.proto.ProducerVersion,
		"domain":           m.proto.Domain,
	}
	for _, prop := range m.proto.MetadataProps {
		meta[prop.Key] = prop.Value
	}
	return meta
}

// Forward runs a model with exactly one input and one output.
func (m *Model) Forward(input *tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(m.inputs) != 1 || len(m.outputs) != 1 {
		return nil, fmt.Errorf("model has %d inputs and %d outputs, use ForwardNamed", len(m.inputs), len(m.outputs))
	}
	outputs, err := m.ForwardNamed(map[string]*tensor.RawTensor{m.inputs[0]: input})
	if err != nil {
		return nil, err
	}
	return outputs[m.outputs[0]], nil
}

// ForwardNamed runs the plan on named inputs and returns every graph output.
// Inputs naming an initializer override its value for this run.
func (m *Model) ForwardNamed(inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	values := make([]*tensor.RawTensor, len(m.slots))
	for slot, t := range m.consts {
		values[slot] = t
	}
	for _, name := range m.inputs {
		if _, ok := inputs[name]; !ok {
			return nil, fmt.Errorf("missing input: %s", name)
		}
	}
	for name, t := range inputs {
		if slot, ok := m.slots[name]; ok {
			values[slot] = t
		}
	}

	for _, st := range m.plan {
		args := make([]*tensor.RawTensor, len(st.args))
		for i, slot := range st.args {
			if slot < 0 {
				continue
			}
			if values[slot] == nil {
				return nil, fmt.Errorf("node %s: missing input %s", st.node.Name, st.node.Inputs[i])
			}
			args[i] = values[slot]
		}

		results, err := m.registry.Execute(m.ctx, st.node, args)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", st.node.Name, st.node.OpType, err)
		}
		for i, slot := range st.results {
			if slot >= 0 && i < len(results) {
				values[slot] = results[i]
			}
		}
		for _, slot := range st.release {
			values[slot] = nil
		}
	}

	outputs := make(map[string]*tensor.RawTensor, len(m.outputs))
	for _, name := range m.outputs {
		t := values[m.slots[name]]
		if t == nil {
			return nil, fmt.Errorf("missing output: %s", name)
		}
		outputs[name] = t
	}
	return outputs, nil
}

// compile decodes the initializers and builds the execution plan.
func (m *Model) compile() error {
	graph := m.proto.Graph
	if graph == nil {
		return fmt.Errorf("model has no graph")
	}
	m.slots = make(map[string]int)
	slot := func(name string) int {
		if name == "" {
			return -1
		}
		s, ok := m.slots[name]
		if !ok {
			s = len(m.slots)
			m.slots[name] = s
		}
		return s
	}

	m.consts = make(map[int]*tensor.RawTensor, len(graph.Initializers))
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		t, err := TensorToRaw(init)
		if err != nil {
			return fmt.Errorf("initializer %s: %w", init.Name, err)
		}
		m.consts[slot(init.Name)] = t
	}
	m.inputs = graphInputs(graph)
	for _, name := range m.inputs {
		slot(name)
	}
	m.outputs = m.outputs[:0]
	for i := range graph.Outputs {
		m.outputs = append(m.outputs, graph.Outputs[i].Name)
		slot(graph.Outputs[i].Name)
	}

	order, err := executionOrder(graph.Nodes)
	if err != nil {
		return err
	}
	m.plan = make([]step, len(order))
	lastRead := make(map[int]int)
	for i, n := range order {
		proto := &graph.Nodes[n]
		node, err := OperatorNode(proto)
		if err != nil {
			return err
		}
		st := step{node: node, args: make([]int, len(proto.Inputs)), results: make([]int, len(proto.Outputs))}
		for j, name := range proto.Inputs {
			st.args[j] = slot(name)
			if st.args[j] >= 0 {
				lastRead[st.args[j]] = i
			}
		}
		for j, name := range proto.Outputs {
			st.results[j] = slot(name)
		}
		m.plan[i] = st
	}

	keep := make(map[int]bool, len(m.outputs))
	for _, name := range m.outputs {
		keep[m.slots[name]] = true
	}
	for s, i := range lastRead {
		if !keep[s] {
			m.plan[i].release = append(m.plan[i].release, s)
		}
	}

	m.opset = defaultOpset(m.proto)
	return nil
}

// graphInputs lists the graph inputs that are not also initializers.
func graphInputs(graph *GraphProto) []string {
	inits := make(map[string]bool, len(graph.Initializers))
	for i := range graph.Initializers {
		inits[graph.Initializers[i].Name] = true
	}
	var names []string
	for i := range graph.Inputs {
		if !inits[graph.Inputs[i].Name] {
			names = append(names, graph.Inputs[i].Name)
		}
	}
	return names
}

func defaultOpset(proto *ModelProto) int64 {
	for _, opset := range proto.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			return opset.Version
		}
	}
	return 0
}

// OperatorNode converts a NodeProto to the executor node form, decoding tensor attributes.
func OperatorNode(proto *NodeProto) (*operators.Node, error) {
	attrs := make([]operators.Attribute, len(proto.Attributes))
	for i := range proto.Attributes {
		attr := &proto.Attributes[i]
		attrs[i] = operators.Attribute{
			Name:    attr.Name,
			Type:    attr.Type,
			F:       attr.F,
			I:       attr.I,
			S:       attr.S,
			Floats:  attr.Floats,
			Ints:    attr.Ints,
			Strings: attr.Strings,
		}
		if attr.T != nil {
			t, err := TensorToRaw(attr.T)
			if err != nil {
				return nil, fmt.Errorf("node %s: attribute %s: %w", proto.Name, attr.Name, err)
			}
			attrs[i].Tensor = t
		}
	}
	return &operators.Node{
		Name:       proto.Name,
		OpType:     proto.OpType,
		Inputs:     proto.Inputs,
		Outputs:    proto.Outputs,
		Attributes: attrs,
		Domain:     proto.Domain,
	}, nil
}

// executionOrder returns node indices so that every producer runs before its
// consumers. Nodes already in order keep their relative positions.
func executionOrder(nodes []NodeProto) ([]int, error) {
	producer := make(map[string]int)
	for i := range nodes {
		for _, out := range nodes[i].Outputs {
			if out != "" {
				producer[out] = i
			}
		}
	}

	pending := make([]int, len(nodes))
	consumers := make([][]int, len(nodes))
	for i := range nodes {
		for _, in := range nodes[i].Inputs {
			if p, ok := producer[in]; ok && in != "" {
				pending[i]++
				consumers[p] = append(consumers[p], i)
			}
		}
	}

	order := make([]int, 0, len(nodes))
	for i := range nodes {
		if pending[i] == 0 {
			order = append(order, i)
		}
	}
	for next := 0; next < len(order); next++ {
		for _, c := range consumers[order[next]] {
			pending[c]--
			if pending[c] == 0 {
				order = append(order, c)
			}
		}
	}

	if len(order) != len(nodes) {
		for i := range nodes {
			if pending[i] > 0 {
				return nil, fmt.Errorf("graph has a cycle through node %s", nodes[i].Name)
			}
		}
	}
	return order, nil
}
