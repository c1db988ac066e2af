package transform

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timkpaine/qonnx/internal/graph"
	"github.com/timkpaine/qonnx/internal/onnx"
)

// countdown renames the first node n times, then reports no modification.
type countdown struct {
	n     int
	calls int
	err   error
}

func (c *countdown) Name() string { return "countdown" }

func (c *countdown) Apply(g *graph.Graph) (bool, error) {
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	if c.n == 0 {
		return false, nil
	}
	c.n--
	g.Node(0).Name += "'"
	return true, nil
}

type forever struct{}

func (forever) Name() string { return "forever" }
func (forever) Apply(*graph.Graph) (bool, error) { return true, nil }

func reluModel() *onnx.ModelProto {
	return onnx.MakeModel(onnx.MakeGraph("relu",
		[]onnx.NodeProto{onnx.MakeNode("Relu", []string{"x"}, []string{"y"}, "relu")},
		[]onnx.ValueInfoProto{onnx.MakeValueInfo("x", onnx.TensorProtoFloat, []int64{2})},
		[]onnx.ValueInfoProto{onnx.MakeValueInfo("y", onnx.TensorProtoFloat, []int64{2})},
		nil), "test")
}

func TestRunRepeatsUntilStable(t *testing.T) {
	model := reluModel()
	before := must.M1(onnx.Marshal(model))

	c := &countdown{n: 3}
	out, err := Run(model, c)
	require.NoError(t, err)
	assert.Equal(t, 4, c.calls)
	assert.Equal(t, "relu'''", out.Graph.Nodes[0].Name)

	// The input model is untouched.
	assert.Equal(t, before, must.M1(onnx.Marshal(model)))
}

func TestRunErrors(t *testing.T) {
	_, err := Run(nil)
	assert.Error(t, err)

	_, err = Run(reluModel(), forever{})
	assert.ErrorContains(t, err, "did not converge")

	fatal := Errorf(KindInvalidBitWidth, "conv", "bit width %d", 0)
	_, err = Run(reluModel(), &countdown{err: fatal})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidBitWidth))
	assert.False(t, IsSkippable(err))
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("pads 0 0 0 0")
	err := Wrap(KindUnsupportedPattern, "conv0", cause, "asymmetric padding")
	assert.Equal(t, "unsupported_pattern at node conv0: asymmetric padding (caused by: pads 0 0 0 0)", err.Error())
	assert.True(t, errors.Is(err, ErrUnsupportedPattern))
	assert.False(t, errors.Is(err, ErrInconsistentGeometry))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsSkippable(errors.Wrap(err, "matching")))

	var te *Error
	require.True(t, errors.As(errors.Wrap(Errorf(KindInconsistentGeometry, "", "even kernel %d", 4), "ctx"), &te))
	assert.Equal(t, KindInconsistentGeometry, te.Kind)
	assert.Equal(t, "inconsistent_geometry: even kernel 4", te.Error())
}
