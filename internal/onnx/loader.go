package onnx

import (
	"fmt"
	"slices"

	"github.com/timkpaine/qonnx/internal/onnx/operators"
	"github.com/timkpaine/qonnx/internal/parallel"
)

// LoadOptions configures how a model is prepared for execution.
type LoadOptions struct {
	// StrictMode rejects unsupported operators at load time instead of when the node runs.
	StrictMode bool

	// CustomOps adds or replaces operator handlers.
	CustomOps map[string]operators.OpHandler

	// Parallel configures the spatial kernels; nil uses every CPU.
	Parallel *parallel.Config
}

// DefaultLoadOptions returns lenient loading on every CPU.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{}
}

func firstOption(opts []LoadOptions) LoadOptions {
	if len(opts) > 0 {
		return opts[0]
	}
	return DefaultLoadOptions()
}

// Load parses the model at path and prepares it for reference execution.
//
// Example:
//
//	model, err := onnx.Load("upsampler.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	output, err := model.Forward(input)
func Load(path string, opts ...LoadOptions) (*Model, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return LoadFromProto(proto, firstOption(opts))
}

// LoadFromBytes parses an encoded model and prepares it for reference execution.
func LoadFromBytes(data []byte, opts ...LoadOptions) (*Model, error) {
	proto, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	return LoadFromProto(proto, firstOption(opts))
}

// LoadFromProto compiles an already decoded model. The model is referenced, not
// copied, and must not be edited while the returned Model is in use.
func LoadFromProto(proto *ModelProto, opt LoadOptions) (*Model, error) {
	registry := operators.NewRegistry()
	for opType, handler := range opt.CustomOps {
		registry.Register(opType, handler)
	}
	if opt.StrictMode {
		if err := validateOperators(proto.Graph, registry); err != nil {
			return nil, err
		}
	}

	ctx := operators.DefaultContext()
	if opt.Parallel != nil {
		ctx.Parallel = *opt.Parallel
	}
	model := &Model{proto: proto, registry: registry, ctx: ctx}
	if err := model.compile(); err != nil {
		return nil, fmt.Errorf("compile model: %w", err)
	}
	return model, nil
}

// validateOperators reports every operator type of the graph the registry lacks.
func validateOperators(graph *GraphProto, registry *operators.Registry) error {
	if graph == nil {
		return fmt.Errorf("model has no graph")
	}
	var unsupported []string
	for i := range graph.Nodes {
		op := graph.Nodes[i].OpType
		if _, ok := registry.Get(op); !ok && !slices.Contains(unsupported, op) {
			unsupported = append(unsupported, op)
		}
	}
	if len(unsupported) > 0 {
		slices.Sort(unsupported)
		return fmt.Errorf("unsupported operators: %v", unsupported)
	}
	return nil
}

// ModelInfo summarizes a model file without decoding its weights.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	InputNames      []string
	OutputNames     []string
	NodeCount       int
	WeightCount     int
	OpCounts        map[string]int
}

// GetModelInfo parses the model at path and summarizes it.
func GetModelInfo(path string) (*ModelInfo, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	info := &ModelInfo{
		IRVersion:       proto.IRVersion,
		OpsetVersion:    defaultOpset(proto),
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
		OpCounts:        make(map[string]int),
	}
	graph := proto.Graph
	if graph == nil {
		return info, nil
	}
	info.InputNames = graphInputs(graph)
	for i := range graph.Outputs {
		info.OutputNames = append(info.OutputNames, graph.Outputs[i].Name)
	}
	info.NodeCount = len(graph.Nodes)
	info.WeightCount = len(graph.Initializers)
	for i := range graph.Nodes {
		info.OpCounts[graph.Nodes[i].OpType]++
	}
	return info, nil
}

// ListSupportedOps returns every operator type the executor implements.
func ListSupportedOps() []string {
	return operators.NewRegistry().SupportedOps()
}
