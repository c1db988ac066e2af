package resizeconv

import (
	"slices"

	"github.com/timkpaine/qonnx/internal/onnx/operators"
	"github.com/timkpaine/qonnx/internal/transform"
)

// ConvAttrs is the geometry of the matched Conv.
type ConvAttrs struct {
	Kernel      [2]int
	Strides     [2]int
	Dilations   [2]int
	Pads        [4]int // top, left, bottom, right
	Group       int
	OutChannels int
	InChannels  int     // Per group
	OutShape    []int64 // Declared output shape, nil when unknown
}

// Geometry is the resolved shape of the replacement ConvTranspose.
type Geometry struct {
	Upscale   int
	Kernel    int // Original kernel size k
	NewKernel int // k + U - 1
	Stride    int
	Pad       int // Same on every side
	Group     int
	OutShape  []int64 // [N, M, U*H, U*W], nil when the input shape is unknown
}

// ResolveGeometry derives the ConvTranspose geometry replacing nearest
// upsampling by u followed by conv. The Conv must be square with symmetric
// "same" padding p = (k-1)/2; the ConvTranspose then uses kernel k+u-1,
// stride u and padding k-1-p, giving an output exactly u times the input.
// inShape may be nil; when known it is checked against the declared output shape.
func ResolveGeometry(u int, conv ConvAttrs, inShape []int64) (Geometry, error) {
	if u < 1 {
		return Geometry{}, unsupported("", "upscale factor %d", u)
	}
	if conv.Strides != [2]int{1, 1} || conv.Dilations != [2]int{1, 1} {
		return Geometry{}, unsupported("", "strides %v and dilations %v must be 1", conv.Strides, conv.Dilations)
	}
	k := conv.Kernel[0]
	if conv.Kernel[1] != k {
		return Geometry{}, unsupported("", "kernel %dx%d is not square", conv.Kernel[0], conv.Kernel[1])
	}
	if k%2 == 0 {
		return Geometry{}, transform.Errorf(transform.KindInconsistentGeometry, "",
			"even kernel %d cannot preserve the spatial size with symmetric padding", k)
	}
	p := (k - 1) / 2
	if conv.Pads != [4]int{p, p, p, p} {
		return Geometry{}, unsupported("", "pads %v differ from (k-1)/2 = %d", conv.Pads, p)
	}
	if conv.Group < 1 || conv.OutChannels%conv.Group != 0 {
		return Geometry{}, unsupported("", "%d output channels in %d groups", conv.OutChannels, conv.Group)
	}

	geo := Geometry{Upscale: u, Kernel: k, NewKernel: k + u - 1, Stride: u, Pad: k - 1 - p, Group: conv.Group}
	if inShape == nil {
		return geo, nil
	}
	if len(inShape) != 4 {
		return Geometry{}, transform.Errorf(transform.KindInconsistentGeometry, "", "input shape %v is not 4D", inShape)
	}
	if int(inShape[1]) != conv.InChannels*conv.Group {
		return Geometry{}, transform.Errorf(transform.KindInconsistentGeometry, "",
			"input has %d channels, kernel expects %d", inShape[1], conv.InChannels*conv.Group)
	}
	out := []int64{inShape[0], int64(conv.OutChannels), 0, 0}
	for a := range 2 {
		in := int(inShape[2+a])
		size := operators.ConvTransposeOutputSize(in, geo.NewKernel, u, 1, geo.Pad, geo.Pad, 0)
		if size != u*in {
			return Geometry{}, transform.Errorf(transform.KindInconsistentGeometry, "",
				"axis %d: transposed convolution yields %d, upsampled size is %d", 2+a, size, u*in)
		}
		out[2+a] = int64(size)
	}
	if conv.OutShape != nil && !slices.Equal(conv.OutShape, out) {
		return Geometry{}, transform.Errorf(transform.KindInconsistentGeometry, "",
			"declared output shape %v, computed %v", conv.OutShape, out)
	}
	geo.OutShape = out
	return geo, nil
}
