// Package transform drives graph transformations over ONNX models and provides
// the shape inference used around them.
package transform

import (
	"github.com/pkg/errors"

	"github.com/timkpaine/qonnx/internal/graph"
	"github.com/timkpaine/qonnx/internal/onnx"
)

// Transformation rewrites a graph in place.
//
// Apply makes at most a bounded amount of progress and reports whether it
// changed anything; Run calls it again until it reports no modification.
type Transformation interface {
	Name() string
	Apply(g *graph.Graph) (modified bool, err error)
}

// maxRounds bounds the number of Apply calls per transformation.
const maxRounds = 10000

// Run applies each transformation in order to a deep copy of model, repeating
// each until it reports no modification. model itself is never mutated.
func Run(model *onnx.ModelProto, transformations ...Transformation) (*onnx.ModelProto, error) {
	if model == nil {
		return nil, errors.New("nil model")
	}
	clone, err := model.Clone()
	if err != nil {
		return nil, errors.Wrap(err, "copying model")
	}
	g, err := graph.New(clone)
	if err != nil {
		return nil, err
	}
	for _, t := range transformations {
		if err := applyUntilStable(g, t); err != nil {
			return nil, err
		}
	}
	return g.Model(), nil
}

func applyUntilStable(g *graph.Graph, t Transformation) error {
	for range maxRounds {
		modified, err := t.Apply(g)
		if err != nil {
			return errors.Wrapf(err, "%s", t.Name())
		}
		if !modified {
			return nil
		}
	}
	return errors.Errorf("%s did not converge after %d rounds", t.Name(), maxRounds)
}
