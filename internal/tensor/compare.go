package tensor

import (
	"fmt"
	"math"
)

// AllClose reports whether a and b have the same shape and every element pair
// satisfies |a-b| <= atol + rtol*|b|, the numpy.isclose rule.
func AllClose(a, b *RawTensor, atol, rtol float64) (bool, error) {
	if !a.Shape().Equal(b.Shape()) {
		return false, fmt.Errorf("shape mismatch: %s vs %s", a.Shape(), b.Shape())
	}
	av, err := a.Float64s()
	if err != nil {
		return false, err
	}
	bv, err := b.Float64s()
	if err != nil {
		return false, err
	}
	for i := range av {
		if math.IsNaN(av[i]) || math.IsNaN(bv[i]) {
			return false, nil
		}
		if math.Abs(av[i]-bv[i]) > atol+rtol*math.Abs(bv[i]) {
			return false, nil
		}
	}
	return true, nil
}

// MaxAbsDiff returns the largest element-wise absolute difference between a and b.
func MaxAbsDiff(a, b *RawTensor) (float64, error) {
	if !a.Shape().Equal(b.Shape()) {
		return 0, fmt.Errorf("shape mismatch: %s vs %s", a.Shape(), b.Shape())
	}
	av, err := a.Float64s()
	if err != nil {
		return 0, err
	}
	bv, err := b.Float64s()
	if err != nil {
		return 0, err
	}
	var worst float64
	for i := range av {
		worst = max(worst, math.Abs(av[i]-bv[i]))
	}
	return worst, nil
}
