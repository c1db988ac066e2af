// Package transform rewrites ONNX models.
//
// The main entry point is ResizeConvToDeconv, which replaces every nearest
// integer Resize followed by a "same" padded stride-1 Conv with a single
// ConvTranspose computing the same values:
//
//	model, err := onnx.ParseFile("decoder.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rewritten, err := transform.ResizeConvToDeconv(model, transform.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = onnx.WriteFile("decoder_deconv.onnx", rewritten)
//
// The input model is never modified.
package transform

import (
	internaltransform "github.com/timkpaine/qonnx/internal/transform"
	"github.com/timkpaine/qonnx/internal/transform/resizeconv"
	"github.com/timkpaine/qonnx/onnx"
)

// Options configures ResizeConvToDeconv.
//
// MaintainBitWidth keeps the datatype of quantized kernels and clips the
// synthesized weights into it; by default the bit width grows by
// ceil(log2(U²)) so the rewrite is exact. Logger receives per-match decisions.
type Options = resizeconv.Options

// Report describes one replaced Resize→Conv pair.
type Report = resizeconv.Report

// Error is the error returned for a rejected or invalid rewrite.
type Error = internaltransform.Error

// Sentinel errors matched with errors.Is.
var (
	ErrUnsupportedPattern   = internaltransform.ErrUnsupportedPattern
	ErrInconsistentGeometry = internaltransform.ErrInconsistentGeometry
	ErrInvalidBitWidth      = internaltransform.ErrInvalidBitWidth
)

// ResizeConvToDeconv replaces every eligible Resize→Conv pair of model by a
// ConvTranspose. Pairs that cannot be rewritten are left as they are; an
// invalid bit width aborts the whole rewrite. A model without eligible pairs
// comes back unchanged.
//
// Shapes are read from the model's declared inputs and value_info. Run
// InferShapes first when intermediate shapes are not declared:
//
//	model, err = transform.InferShapes(model)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rewritten, err := transform.ResizeConvToDeconv(model, transform.Options{})
func ResizeConvToDeconv(model *onnx.ModelProto, opts Options) (*onnx.ModelProto, error) {
	out, _, err := ResizeConvToDeconvReport(model, opts)
	return out, err
}

// ResizeConvToDeconvReport is ResizeConvToDeconv, also listing the rewrites it made.
func ResizeConvToDeconvReport(model *onnx.ModelProto, opts Options) (*onnx.ModelProto, []Report, error) {
	pass := resizeconv.New(opts)
	out, err := internaltransform.Run(model, pass)
	if err != nil {
		return nil, nil, err
	}
	return out, pass.Reports(), nil
}

// InferShapes records the static shape of every tensor it can derive in value_info.
func InferShapes(model *onnx.ModelProto) (*onnx.ModelProto, error) {
	return internaltransform.Run(model, internaltransform.InferShapes{})
}
