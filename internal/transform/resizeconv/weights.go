package resizeconv

import (
	"github.com/pkg/errors"

	"github.com/timkpaine/qonnx/internal/parallel"
	"github.com/timkpaine/qonnx/internal/tensor"
)

// SynthesizeKernel builds the transposed-convolution kernel equivalent to
// nearest upsampling by u followed by a stride-1 convolution with w.
//
// w has shape [M, C/g, k, k]; the result has shape [M, C/g, k', k'] with
// k' = k+u-1. Along each axis, tap t of w and block offset a in [0, u)
// contribute to tap k-1-t+a, so every tap of the result sums the weights that
// read a duplicate of the same source pixel. Sums are accumulated in float64.
func SynthesizeKernel(w *tensor.RawTensor, u int) (*tensor.RawTensor, error) {
	s := w.Shape()
	if len(s) != 4 || s[2] != s[3] {
		return nil, errors.Errorf("kernel shape %s is not [M, C, k, k]", s)
	}
	if u < 1 {
		return nil, errors.Errorf("upscale factor %d must be positive", u)
	}
	values, err := w.Float64s()
	if err != nil {
		return nil, errors.Wrap(err, "reading kernel")
	}
	k := s[2]
	kk := k + u - 1
	out, err := tensor.NewRaw(tensor.Shape{s[0], s[1], kk, kk}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	dst := out.AsFloat32()

	parallel.ForRange(s[0]*s[1], parallel.DefaultConfig(), func(lo, hi int) {
		acc := make([]float64, kk*kk)
		for mc := lo; mc < hi; mc++ {
			clear(acc)
			src := values[mc*k*k : (mc+1)*k*k]
			for ty := range k {
				for tx := range k {
					v := src[ty*k+tx]
					for ay := range u {
						row := (k - 1 - ty + ay) * kk
						for ax := range u {
							acc[row+k-1-tx+ax] += v
						}
					}
				}
			}
			for i, v := range acc {
				dst[mc*kk*kk+i] = float32(v)
			}
		}
	})
	return out, nil
}

// ToConvTransposeLayout converts a kernel from Conv layout [M, C/g, kh, kw] to
// ConvTranspose layout [C, M/g, kh, kw]. Output channel o of group o/(M/g) and
// group-local input channel i move to input channel (o/(M/g))*(C/g)+i and
// group-local output channel o%(M/g).
func ToConvTransposeLayout(w *tensor.RawTensor, group int) (*tensor.RawTensor, error) {
	s := w.Shape()
	if len(s) != 4 {
		return nil, errors.Errorf("kernel shape %s is not 4D", s)
	}
	if group < 1 || s[0]%group != 0 {
		return nil, errors.Errorf("%d output channels cannot be split into %d groups", s[0], group)
	}
	w, err := w.ToFloat32()
	if err != nil {
		return nil, err
	}
	m, inPerG, area := s[0], s[1], s[2]*s[3]
	outPerG := m / group
	out, err := tensor.NewRaw(tensor.Shape{inPerG * group, outPerG, s[2], s[3]}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	src, dst := w.AsFloat32(), out.AsFloat32()
	for o := range m {
		gi, oo := o/outPerG, o%outPerG
		for i := range inPerG {
			c := gi*inPerG + i
			copy(dst[(c*outPerG+oo)*area:(c*outPerG+oo+1)*area], src[(o*inPerG+i)*area:(o*inPerG+i+1)*area])
		}
	}
	return out, nil
}
