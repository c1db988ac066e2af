package operators

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/timkpaine/qonnx/internal/parallel"
	"github.com/timkpaine/qonnx/internal/tensor"
)

// registerSpatialOps adds convolution and resampling operators to the registry.
func (r *Registry) registerSpatialOps() {
	r.Register("Conv", handleConv)
	r.Register("ConvTranspose", handleConvTranspose)
	r.Register("Resize", handleResize)
	r.Register("Upsample", handleUpsample)
}

// ConvParams holds the resolved 2D geometry of a Conv or ConvTranspose node.
type ConvParams struct {
	Kernel        [2]int
	Strides       [2]int
	Dilations     [2]int
	PadsBegin     [2]int
	PadsEnd       [2]int
	OutputPadding [2]int
	Group         int
}

// ReadConvParams reads the geometry attributes of a 2D Conv or ConvTranspose node.
// kernel is the spatial size of the weight tensor, used when kernel_shape is absent.
func ReadConvParams(node *Node, kernel [2]int) (ConvParams, error) {
	p := ConvParams{Group: int(GetAttrInt(node, "group", 1))}
	if p.Group <= 0 {
		return p, fmt.Errorf("%s: invalid group %d", node.OpType, p.Group)
	}
	ks := intsOr(node, "kernel_shape", 2, 0)
	for i := range 2 {
		p.Kernel[i] = kernel[i]
		if ks[i] != 0 && ks[i] != kernel[i] {
			return p, fmt.Errorf("%s: kernel_shape %v does not match weights %v", node.OpType, ks, kernel)
		}
	}
	strides := intsOr(node, "strides", 2, 1)
	dilations := intsOr(node, "dilations", 2, 1)
	pads := intsOr(node, "pads", 4, 0)
	outPad := intsOr(node, "output_padding", 2, 0)
	for i := range 2 {
		p.Strides[i], p.Dilations[i] = strides[i], dilations[i]
		p.PadsBegin[i], p.PadsEnd[i] = pads[i], pads[i+2]
		p.OutputPadding[i] = outPad[i]
		if p.Strides[i] <= 0 || p.Dilations[i] <= 0 {
			return p, fmt.Errorf("%s: strides and dilations must be positive", node.OpType)
		}
	}
	return p, nil
}

// ConvOutputSize is the spatial output size of a convolution along one axis.
func ConvOutputSize(in, kernel, stride, dilation, padBegin, padEnd int) int {
	return (in+padBegin+padEnd-dilation*(kernel-1)-1)/stride + 1
}

// ConvTransposeOutputSize is the spatial output size of a transposed convolution along one axis.
func ConvTransposeOutputSize(in, kernel, stride, dilation, padBegin, padEnd, outputPadding int) int {
	return stride*(in-1) + outputPadding + (kernel-1)*dilation + 1 - padBegin - padEnd
}

// ResolveAutoPad fills pads for the SAME_* and VALID auto_pad modes of Conv.
func (p *ConvParams) ResolveAutoPad(mode string, in [2]int) error {
	switch mode {
	case "", "NOTSET":
	case "VALID":
		p.PadsBegin, p.PadsEnd = [2]int{}, [2]int{}
	case "SAME_UPPER", "SAME_LOWER":
		for i := range 2 {
			out := (in[i] + p.Strides[i] - 1) / p.Strides[i]
			total := max((out-1)*p.Strides[i]+(p.Kernel[i]-1)*p.Dilations[i]+1-in[i], 0)
			small, big := total/2, total-total/2
			if mode == "SAME_UPPER" {
				p.PadsBegin[i], p.PadsEnd[i] = small, big
			} else {
				p.PadsBegin[i], p.PadsEnd[i] = big, small
			}
		}
	default:
		return fmt.Errorf("unknown auto_pad %q", mode)
	}
	return nil
}

func spatial(s tensor.Shape) [2]int {
	return [2]int{s[2], s[3]}
}

// handleConv implements 2D Conv: X [N, C, H, W] * W [M, C/g, kh, kw] + B [M].
func handleConv(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("conv requires at least 2 inputs, got %d", len(inputs))
	}
	x := floatInput(node, inputs, 0)
	w := floatInput(node, inputs, 1)
	xs, ws := x.Shape(), w.Shape()
	if len(xs) != 4 || len(ws) != 4 {
		return nil, fmt.Errorf("conv: only 2D convolutions are supported, got input %s weights %s", xs, ws)
	}
	p, err := ReadConvParams(node, spatial(ws))
	if err != nil {
		return nil, err
	}
	if err := p.ResolveAutoPad(GetAttrString(node, "auto_pad", "NOTSET"), spatial(xs)); err != nil {
		return nil, fmt.Errorf("conv: %w", err)
	}
	bias := biasValues(node, inputs, ws[0])
	return single(Conv2D(ctx.Parallel, x, w, bias, p)), nil
}

// biasValues returns input 2 as a float32 slice of length m, or nil when there is no bias.
func biasValues(node *Node, inputs []*tensor.RawTensor, m int) []float32 {
	if b := optionalInput(inputs, 2); b != nil {
		bf := floatInput(node, inputs, 2)
		if bf.NumElements() != m {
			exceptions.Panicf("%s %q: bias has %d elements, want %d", node.OpType, node.Name, bf.NumElements(), m)
		}
		return bf.AsFloat32()
	}
	return nil
}

// Conv2D computes a grouped, strided, dilated, padded 2D convolution.
// Output planes are computed in parallel over (batch, output channel).
func Conv2D(cfg parallel.Config, x, w *tensor.RawTensor, bias []float32, p ConvParams) *tensor.RawTensor {
	xs, ws := x.Shape(), w.Shape()
	n, c, h, wd := xs[0], xs[1], xs[2], xs[3]
	m, cg, kh, kw := ws[0], ws[1], ws[2], ws[3]
	if c%p.Group != 0 || m%p.Group != 0 || cg != c/p.Group {
		exceptions.Panicf("conv: input channels %d, weight %s and group %d are inconsistent", c, ws, p.Group)
	}
	oh := ConvOutputSize(h, kh, p.Strides[0], p.Dilations[0], p.PadsBegin[0], p.PadsEnd[0])
	ow := ConvOutputSize(wd, kw, p.Strides[1], p.Dilations[1], p.PadsBegin[1], p.PadsEnd[1])
	if oh <= 0 || ow <= 0 {
		exceptions.Panicf("conv: invalid output size %dx%d for input %s", oh, ow, xs)
	}

	out := mustRaw(tensor.NewRaw(tensor.Shape{n, m, oh, ow}, tensor.Float32))
	xv, wv, ov := x.AsFloat32(), w.AsFloat32(), out.AsFloat32()
	mg := m / p.Group

	parallel.ForBatch(n, m, cfg, func(b, o int) {
		g := o / mg
		plane := ov[(b*m+o)*oh*ow : (b*m+o+1)*oh*ow]
		for y := 0; y < oh; y++ {
			for xo := 0; xo < ow; xo++ {
				var acc float64
				if bias != nil {
					acc = float64(bias[o])
				}
				for ci := 0; ci < cg; ci++ {
					inPlane := xv[(b*c+g*cg+ci)*h*wd:]
					kern := wv[(o*cg+ci)*kh*kw:]
					for ky := 0; ky < kh; ky++ {
						iy := y*p.Strides[0] - p.PadsBegin[0] + ky*p.Dilations[0]
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < kw; kx++ {
							ix := xo*p.Strides[1] - p.PadsBegin[1] + kx*p.Dilations[1]
							if ix < 0 || ix >= wd {
								continue
							}
							acc += float64(inPlane[iy*wd+ix]) * float64(kern[ky*kw+kx])
						}
					}
				}
				plane[y*ow+xo] = float32(acc)
			}
		}
	})
	return out
}

// handleConvTranspose implements 2D ConvTranspose: X [N, C, H, W], W [C, M/g, kh, kw], B [M].
func handleConvTranspose(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("convTranspose requires at least 2 inputs, got %d", len(inputs))
	}
	x := floatInput(node, inputs, 0)
	w := floatInput(node, inputs, 1)
	xs, ws := x.Shape(), w.Shape()
	if len(xs) != 4 || len(ws) != 4 {
		return nil, fmt.Errorf("convTranspose: only 2D is supported, got input %s weights %s", xs, ws)
	}
	p, err := ReadConvParams(node, spatial(ws))
	if err != nil {
		return nil, err
	}
	if outShape := GetAttrInts(node, "output_shape"); len(outShape) > 0 {
		target := outShape[len(outShape)-2:]
		upper := GetAttrString(node, "auto_pad", "NOTSET") == "SAME_UPPER"
		for i := range 2 {
			full := ConvTransposeOutputSize(xs[2+i], p.Kernel[i], p.Strides[i], p.Dilations[i], 0, 0, p.OutputPadding[i])
			total := full - int(target[i])
			if total < 0 {
				return nil, fmt.Errorf("convTranspose: output_shape %v is larger than the full output", outShape)
			}
			if upper {
				p.PadsBegin[i], p.PadsEnd[i] = total/2, total-total/2
			} else {
				p.PadsBegin[i], p.PadsEnd[i] = total-total/2, total/2
			}
		}
	}
	bias := biasValues(node, inputs, ws[1]*p.Group)
	return single(ConvTranspose2D(ctx.Parallel, x, w, bias, p)), nil
}

// ConvTranspose2D computes a grouped, strided 2D transposed convolution with
// out[oy] += x[iy] * w[ky] wherever oy = iy*stride - padBegin + ky*dilation.
func ConvTranspose2D(cfg parallel.Config, x, w *tensor.RawTensor, bias []float32, p ConvParams) *tensor.RawTensor {
	xs, ws := x.Shape(), w.Shape()
	n, c, h, wd := xs[0], xs[1], xs[2], xs[3]
	cw, mg, kh, kw := ws[0], ws[1], ws[2], ws[3]
	if cw != c || c%p.Group != 0 {
		exceptions.Panicf("convTranspose: input channels %d, weight %s and group %d are inconsistent", c, ws, p.Group)
	}
	m := mg * p.Group
	cg := c / p.Group
	oh := ConvTransposeOutputSize(h, kh, p.Strides[0], p.Dilations[0], p.PadsBegin[0], p.PadsEnd[0], p.OutputPadding[0])
	ow := ConvTransposeOutputSize(wd, kw, p.Strides[1], p.Dilations[1], p.PadsBegin[1], p.PadsEnd[1], p.OutputPadding[1])
	if oh <= 0 || ow <= 0 {
		exceptions.Panicf("convTranspose: invalid output size %dx%d for input %s", oh, ow, xs)
	}

	out := mustRaw(tensor.NewRaw(tensor.Shape{n, m, oh, ow}, tensor.Float32))
	xv, wv, ov := x.AsFloat32(), w.AsFloat32(), out.AsFloat32()

	parallel.ForBatch(n, m, cfg, func(b, o int) {
		g, oo := o/mg, o%mg
		plane := ov[(b*m+o)*oh*ow : (b*m+o+1)*oh*ow]
		for y := 0; y < oh; y++ {
			for xo := 0; xo < ow; xo++ {
				var acc float64
				if bias != nil {
					acc = float64(bias[o])
				}
				for ky := 0; ky < kh; ky++ {
					ny := y + p.PadsBegin[0] - ky*p.Dilations[0]
					if ny < 0 || ny%p.Strides[0] != 0 || ny/p.Strides[0] >= h {
						continue
					}
					iy := ny / p.Strides[0]
					for kx := 0; kx < kw; kx++ {
						nx := xo + p.PadsBegin[1] - kx*p.Dilations[1]
						if nx < 0 || nx%p.Strides[1] != 0 || nx/p.Strides[1] >= wd {
							continue
						}
						ix := nx / p.Strides[1]
						for ci := 0; ci < cg; ci++ {
							ch := g*cg + ci
							acc += float64(xv[((b*c+ch)*h+iy)*wd+ix]) * float64(wv[((ch*mg+oo)*kh+ky)*kw+kx])
						}
					}
				}
				plane[y*ow+xo] = float32(acc)
			}
		}
	})
	return out
}
