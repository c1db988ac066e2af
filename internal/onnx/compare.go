package onnx

import (
	"fmt"

	"github.com/timkpaine/qonnx/internal/tensor"
)

// OutputDiff reports how far one output of two executions diverged.
type OutputDiff struct {
	Name       string
	MaxAbsDiff float64
	Close      bool
}

// ExecutionDiff is the result of CompareExecution.
type ExecutionDiff struct {
	Outputs []OutputDiff
}

// Close reports whether every output was within tolerance.
func (d *ExecutionDiff) Close() bool {
	for _, o := range d.Outputs {
		if !o.Close {
			return false
		}
	}
	return true
}

// MaxAbsDiff returns the largest absolute difference over all outputs.
func (d *ExecutionDiff) MaxAbsDiff() float64 {
	var worst float64
	for _, o := range d.Outputs {
		worst = max(worst, o.MaxAbsDiff)
	}
	return worst
}

// CompareExecution runs both models on the same inputs and compares every graph
// output of a by name with allclose(atol, rtol). The models must share their
// input and output names.
func CompareExecution(a, b *ModelProto, inputs map[string]*tensor.RawTensor, atol, rtol float64) (*ExecutionDiff, error) {
	outA, err := execute(a, inputs)
	if err != nil {
		return nil, fmt.Errorf("first model: %w", err)
	}
	outB, err := execute(b, inputs)
	if err != nil {
		return nil, fmt.Errorf("second model: %w", err)
	}

	diff := &ExecutionDiff{}
	for i := range a.Graph.Outputs {
		name := a.Graph.Outputs[i].Name
		tb, ok := outB[name]
		if !ok {
			return nil, fmt.Errorf("second model has no output %s", name)
		}
		ta := outA[name]
		maxDiff, err := tensor.MaxAbsDiff(ta, tb)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		closeEnough, err := tensor.AllClose(ta, tb, atol, rtol)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		diff.Outputs = append(diff.Outputs, OutputDiff{Name: name, MaxAbsDiff: maxDiff, Close: closeEnough})
	}
	return diff, nil
}

func execute(proto *ModelProto, inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	model, err := LoadFromProto(proto, DefaultLoadOptions())
	if err != nil {
		return nil, err
	}
	return model.ForwardNamed(inputs)
}
