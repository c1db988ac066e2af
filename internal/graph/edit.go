package graph

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/timkpaine/qonnx/internal/datatype"
	"github.com/timkpaine/qonnx/internal/onnx"
)

// Edit stages a set of graph changes that Commit validates as a whole and then
// applies. A failed Commit leaves the graph untouched.
type Edit struct {
	g            *Graph
	removed      []int
	inserts      []insertion
	initializers []onnx.TensorProto
	datatypes    []datatypeChange
	shapes       []shapeChange
	reserved     map[string]bool
}

type insertion struct {
	at   int
	node onnx.NodeProto
}

type datatypeChange struct {
	name string
	dt   datatype.DataType
}

type shapeChange struct {
	name  string
	shape []int64
}

// NewEdit starts an empty edit of g.
func (g *Graph) NewEdit() *Edit {
	return &Edit{g: g, reserved: g.names()}
}

// RemoveNode stages the removal of node i.
func (e *Edit) RemoveNode(i int) *Edit {
	e.removed = append(e.removed, i)
	return e
}

// InsertNode stages node for insertion before the node currently at index at.
// at == NumNodes appends.
func (e *Edit) InsertNode(at int, node onnx.NodeProto) *Edit {
	e.inserts = append(e.inserts, insertion{at: at, node: node})
	return e
}

// SetInitializer stages an initializer, replacing any existing one with the same name.
func (e *Edit) SetInitializer(tp onnx.TensorProto) *Edit {
	e.initializers = append(e.initializers, tp)
	return e
}

// SetDatatype stages a quantization datatype annotation.
func (e *Edit) SetDatatype(name string, dt datatype.DataType) *Edit {
	e.datatypes = append(e.datatypes, datatypeChange{name: name, dt: dt})
	return e
}

// SetShape stages a static shape for a tensor.
func (e *Edit) SetShape(name string, shape []int64) *Edit {
	e.shapes = append(e.shapes, shapeChange{name: name, shape: shape})
	return e
}

// UniqueName returns a name unused both in the graph and by earlier UniqueName
// calls of this edit, and reserves it.
func (e *Edit) UniqueName(prefix string) string {
	name := uniqueName(e.reserved, prefix)
	e.reserved[name] = true
	return name
}

// Commit validates the staged changes against the resulting graph and applies them.
// Tensors read only by removed nodes are pruned together with their initializers,
// annotations and value_info.
func (e *Edit) Commit() error {
	nodes, err := e.resultNodes()
	if err != nil {
		return err
	}
	if err := e.validate(nodes); err != nil {
		return err
	}
	orphans := e.orphanedTensors(nodes)

	gp := e.g.model.Graph
	gp.Nodes = nodes
	for _, tp := range e.initializers {
		e.g.SetInitializer(tp)
	}
	for _, c := range e.datatypes {
		e.g.SetTensorDatatype(c.name, c.dt)
	}
	for _, c := range e.shapes {
		e.g.SetTensorShape(c.name, c.shape)
	}
	e.g.prune(orphans)
	return nil
}

// resultNodes builds the node list the edit would produce.
func (e *Edit) resultNodes() ([]onnx.NodeProto, error) {
	old := e.g.model.Graph.Nodes
	removed := make(map[int]bool, len(e.removed))
	for _, i := range e.removed {
		if i < 0 || i >= len(old) {
			return nil, errors.Errorf("remove: node index %d out of range [0, %d)", i, len(old))
		}
		if removed[i] {
			return nil, errors.Errorf("remove: node %d removed twice", i)
		}
		removed[i] = true
	}
	for _, ins := range e.inserts {
		if ins.at < 0 || ins.at > len(old) {
			return nil, errors.Errorf("insert: position %d out of range [0, %d]", ins.at, len(old))
		}
	}

	nodes := make([]onnx.NodeProto, 0, len(old)-len(removed)+len(e.inserts))
	for i := 0; i <= len(old); i++ {
		for _, ins := range e.inserts {
			if ins.at == i {
				nodes = append(nodes, ins.node)
			}
		}
		if i < len(old) && !removed[i] {
			nodes = append(nodes, old[i])
		}
	}
	return nodes, nil
}

func (e *Edit) validate(nodes []onnx.NodeProto) error {
	gp := e.g.model.Graph

	available := make(map[string]bool)
	for i := range gp.Inputs {
		available[gp.Inputs[i].Name] = true
	}
	for i := range gp.Initializers {
		available[gp.Initializers[i].Name] = true
	}
	for i := range e.initializers {
		tp := &e.initializers[i]
		if tp.Name == "" {
			return errors.New("initializer without a name")
		}
		if _, err := onnx.TensorToRaw(tp); err != nil {
			return errors.Wrapf(err, "initializer %q", tp.Name)
		}
		available[tp.Name] = true
	}

	producers := make(map[string]string)
	nodeNames := make(map[string]bool)
	for i := range nodes {
		n := &nodes[i]
		if n.Name != "" {
			if nodeNames[n.Name] {
				return errors.Errorf("duplicate node name %q", n.Name)
			}
			nodeNames[n.Name] = true
		}
		for _, out := range n.Outputs {
			if out == "" {
				continue
			}
			if other, dup := producers[out]; dup {
				return errors.Errorf("tensor %q produced by both %q and %q", out, other, n.Name)
			}
			producers[out] = n.Name
		}
	}
	for i := range e.initializers {
		if p, clash := producers[e.initializers[i].Name]; clash {
			return errors.Errorf("initializer %q collides with an output of node %q", e.initializers[i].Name, p)
		}
	}

	for i := range nodes {
		for _, in := range nodes[i].Inputs {
			if in == "" || available[in] {
				continue
			}
			if _, ok := producers[in]; !ok {
				return errors.Errorf("node %q reads %q, which nothing produces", nodes[i].Name, in)
			}
		}
	}
	for i := range gp.Outputs {
		name := gp.Outputs[i].Name
		if _, ok := producers[name]; !ok && !available[name] {
			return errors.Errorf("graph output %q is no longer produced", name)
		}
	}
	return nil
}

// orphanedTensors lists the tensors touched by removed nodes that nothing reads
// or produces after the edit.
func (e *Edit) orphanedTensors(nodes []onnx.NodeProto) []string {
	live := make(map[string]bool)
	for i := range nodes {
		for _, n := range nodes[i].Inputs {
			live[n] = true
		}
		for _, n := range nodes[i].Outputs {
			live[n] = true
		}
	}
	var orphans []string
	for _, idx := range e.removed {
		n := e.g.Node(idx)
		for _, name := range slices.Concat(n.Inputs, n.Outputs) {
			if name == "" || live[name] || e.g.IsGraphOutput(name) || slices.Contains(orphans, name) {
				continue
			}
			orphans = append(orphans, name)
		}
	}
	return orphans
}

// prune deletes every trace of the named tensors. Graph inputs are only dropped
// when they are backed by an initializer.
func (g *Graph) prune(names []string) {
	if len(names) == 0 {
		return
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	gp := g.model.Graph
	isInit := make(map[string]bool)
	for i := range gp.Initializers {
		isInit[gp.Initializers[i].Name] = true
	}
	gp.Initializers = slices.DeleteFunc(gp.Initializers, func(tp onnx.TensorProto) bool { return drop[tp.Name] })
	gp.Inputs = slices.DeleteFunc(gp.Inputs, func(vi onnx.ValueInfoProto) bool { return drop[vi.Name] && isInit[vi.Name] })
	gp.ValueInfo = slices.DeleteFunc(gp.ValueInfo, func(vi onnx.ValueInfoProto) bool { return drop[vi.Name] })
	gp.QuantizationAnnotation = slices.DeleteFunc(gp.QuantizationAnnotation, func(qa onnx.TensorAnnotation) bool {
		return drop[qa.TensorName]
	})
}
