package operators

import (
	"github.com/timkpaine/qonnx/internal/tensor"
)

// Node represents an ONNX operation node.
// This is a local copy of the relevant fields from onnx.NodeProto
// to avoid import cycles between onnx and operators packages.
type Node struct {
	Name       string      // Node name (optional)
	OpType     string      // Operation type (e.g., "Conv", "Resize", "Quant")
	Inputs     []string    // Input tensor names
	Outputs    []string    // Output tensor names
	Attributes []Attribute // Operation attributes
	Domain     string      // Custom domain (empty for default)
}

// Attribute represents a node attribute.
type Attribute struct {
	Name    string            // Attribute name
	Type    int32             // Attribute type
	F       float32           // FLOAT value
	I       int64             // INT value
	S       []byte            // STRING value
	Tensor  *tensor.RawTensor // TENSOR value, already decoded
	Floats  []float32         // FLOATS array
	Ints    []int64           // INTS array
	Strings [][]byte          // STRINGS array
}

func (n *Node) attr(name string) *Attribute {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i]
		}
	}
	return nil
}

// HasAttr reports whether the node carries the named attribute.
func HasAttr(node *Node, name string) bool {
	return node.attr(name) != nil
}

// GetAttrInt returns an integer attribute or default value.
func GetAttrInt(node *Node, name string, defaultVal int64) int64 {
	if a := node.attr(name); a != nil {
		return a.I
	}
	return defaultVal
}

// GetAttrInts returns an integer array attribute.
func GetAttrInts(node *Node, name string) []int64 {
	if a := node.attr(name); a != nil {
		return a.Ints
	}
	return nil
}

// GetAttrFloat returns a float attribute or default value.
func GetAttrFloat(node *Node, name string, defaultVal float32) float32 {
	if a := node.attr(name); a != nil {
		return a.F
	}
	return defaultVal
}

// GetAttrFloats returns a float array attribute.
func GetAttrFloats(node *Node, name string) []float32 {
	if a := node.attr(name); a != nil {
		return a.Floats
	}
	return nil
}

// GetAttrString returns a string attribute or default value.
func GetAttrString(node *Node, name, defaultVal string) string {
	if a := node.attr(name); a != nil {
		return string(a.S)
	}
	return defaultVal
}

// intsOr converts an INTS attribute to []int, falling back to n copies of def.
func intsOr(node *Node, name string, n, def int) []int {
	vals := GetAttrInts(node, name)
	out := make([]int, n)
	for i := range out {
		if i < len(vals) {
			out[i] = int(vals[i])
		} else {
			out[i] = def
		}
	}
	return out
}
