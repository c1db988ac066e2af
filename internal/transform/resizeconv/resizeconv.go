// Package resizeconv replaces nearest-neighbor upsampling followed by a
// convolution with a single transposed convolution.
//
// A Resize by an integer factor U feeding a stride-1 Conv with an odd k×k
// kernel and "same" padding computes the same values as a ConvTranspose with
// kernel k+U-1, stride U and padding (k-1)/2, whose kernel sums the weights
// that read duplicates of one source pixel. The rewrite removes the U² larger
// intermediate tensor.
package resizeconv

import (
	"go.uber.org/zap"

	"github.com/timkpaine/qonnx/internal/graph"
	"github.com/timkpaine/qonnx/internal/transform"
)

// Options configures ResizeConvolutionToDeconvolution. The zero value widens
// bit widths and logs nothing.
type Options struct {
	// MaintainBitWidth keeps the datatype of quantized kernels, clipping the
	// synthesized weights into its range instead of widening it.
	MaintainBitWidth bool

	// Logger receives per-match decisions. Nil means zap.NewNop().
	Logger *zap.Logger
}

// ResizeConvolutionToDeconvolution is the rewrite as a transform.Transformation.
// Each Apply commits at most one rewrite.
type ResizeConvolutionToDeconvolution struct {
	Options

	reports []Report
}

var _ transform.Transformation = (*ResizeConvolutionToDeconvolution)(nil)

// New returns the transformation configured with opts.
func New(opts Options) *ResizeConvolutionToDeconvolution {
	return &ResizeConvolutionToDeconvolution{Options: opts}
}

// Name implements transform.Transformation.
func (t *ResizeConvolutionToDeconvolution) Name() string { return "ResizeConvolutionToDeconvolution" }

// Reports lists the rewrites committed so far, in order.
func (t *ResizeConvolutionToDeconvolution) Reports() []Report { return t.reports }

func (t *ResizeConvolutionToDeconvolution) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

// Apply rewrites the first matching Resize→Conv pair. Candidates rejected as
// UnsupportedPattern or InconsistentGeometry are logged and skipped; any other
// error aborts.
func (t *ResizeConvolutionToDeconvolution) Apply(g *graph.Graph) (bool, error) {
	log := t.logger()
	strategy := StrategyFor(t.MaintainBitWidth)
	idx := graph.NewIndex(g)
	for m, err := range Matches(g, idx) {
		if err != nil {
			if !transform.IsSkippable(err) {
				return false, err
			}
			log.Debug("resize not rewritten", zap.String("resize", g.Node(m.Resize).Name), zap.Error(err))
			continue
		}
		resize, conv := g.Node(m.Resize).Name, g.Node(m.Conv).Name
		report, err := rewrite(g, m, strategy)
		if err != nil {
			if !transform.IsSkippable(err) {
				return false, err
			}
			log.Debug("resize not rewritten",
				zap.String("resize", resize), zap.String("conv", conv), zap.Int("upscale", m.Upscale), zap.Error(err))
			continue
		}
		t.reports = append(t.reports, report)
		log.Info("replaced resize and convolution by transposed convolution",
			zap.String("resize", resize), zap.String("conv", conv), zap.Int("upscale", m.Upscale),
			zap.Int("kernel", report.Kernel), zap.Int("new_kernel", report.NewKernel),
			zap.String("datatype", report.Datatype), zap.Stringer("strategy", strategy))
		return true, nil
	}
	return false, nil
}
