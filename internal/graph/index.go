package graph

// Index is an explicit producer/consumer adjacency over the nodes of a graph.
// It is a snapshot: any committed Edit makes it stale.
type Index struct {
	producers     map[string]int
	consumers     map[string][]int
	nodeConsumers [][]int
}

// NewIndex builds the adjacency of g in one scan over its nodes.
func NewIndex(g *Graph) *Index {
	nodes := g.model.Graph.Nodes
	idx := &Index{
		producers:     make(map[string]int),
		consumers:     make(map[string][]int),
		nodeConsumers: make([][]int, len(nodes)),
	}
	for i := range nodes {
		for _, out := range nodes[i].Outputs {
			if out != "" {
				idx.producers[out] = i
			}
		}
	}
	for i := range nodes {
		seen := make(map[string]bool, len(nodes[i].Inputs))
		for _, in := range nodes[i].Inputs {
			if in == "" || seen[in] {
				continue
			}
			seen[in] = true
			idx.consumers[in] = append(idx.consumers[in], i)
			if p, ok := idx.producers[in]; ok {
				idx.nodeConsumers[p] = appendUnique(idx.nodeConsumers[p], i)
			}
		}
	}
	return idx
}

// Producer returns the index of the node producing tensor name.
func (x *Index) Producer(name string) (int, bool) {
	i, ok := x.producers[name]
	return i, ok
}

// Consumers returns the indices of the nodes reading tensor name, in node order.
func (x *Index) Consumers(name string) []int {
	return x.consumers[name]
}

// NodeConsumers returns the indices of the nodes reading any output of node i, in node order.
func (x *Index) NodeConsumers(i int) []int {
	return x.nodeConsumers[i]
}

func appendUnique(list []int, v int) []int {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}
