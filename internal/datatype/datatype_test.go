package datatype

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		bits     int
		signed   bool
		min, max float64
	}{
		{"INT4", 4, true, -8, 7},
		{"UINT4", 4, false, 0, 15},
		{"INT8", 8, true, -128, 127},
		{"UINT1", 1, false, 0, 1},
		{"INT32", 32, true, -2147483648, 2147483647},
		{"TERNARY", 2, true, -1, 1},
		{"BIPOLAR", 1, true, -1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt, err := Parse(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.bits, dt.BitWidth())
			assert.Equal(t, tt.signed, dt.Signed())
			assert.Equal(t, tt.min, dt.Min())
			assert.Equal(t, tt.max, dt.Max())
			assert.Equal(t, tt.name, dt.String())
			assert.True(t, dt.IsInteger())
		})
	}

	binary, err := Parse("BINARY")
	require.NoError(t, err)
	assert.Equal(t, "UINT1", binary.String())

	for _, bad := range []string{"", "INT", "INT0", "UINT65", "FLOAT16", "INTx"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestZeroValueIsFloat32(t *testing.T) {
	var dt DataType
	assert.Equal(t, Float32, dt)
	assert.Equal(t, "FLOAT32", dt.String())
	assert.False(t, dt.IsInteger())
	assert.True(t, dt.Allowed(0.3))
}

func TestAllowed(t *testing.T) {
	int3 := must.M1(Int(3, true))
	assert.True(t, int3.Allowed(-4))
	assert.True(t, int3.Allowed(3))
	assert.False(t, int3.Allowed(4))
	assert.False(t, int3.Allowed(0.5))

	assert.True(t, Bipolar.Allowed(-1))
	assert.False(t, Bipolar.Allowed(0))
	assert.True(t, Ternary.Allowed(0))
}

func TestQuantBounds(t *testing.T) {
	lo, hi := QuantBounds(4, true, false)
	assert.Equal(t, []float64{-8, 7}, []float64{lo, hi})
	lo, hi = QuantBounds(4, true, true)
	assert.Equal(t, []float64{-7, 7}, []float64{lo, hi})
	lo, hi = QuantBounds(4, false, false)
	assert.Equal(t, []float64{0, 15}, []float64{lo, hi})
	lo, hi = QuantBounds(4, false, true)
	assert.Equal(t, []float64{0, 14}, []float64{lo, hi})
}
