// Package main provides qonnx, which replaces nearest Resize→Conv pairs of an
// ONNX model by transposed convolutions.
//
// Usage:
//
//	qonnx [flags] <model.onnx>
//
// Example:
//
//	qonnx -o decoder_deconv.onnx -check -summary decoder.onnx
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/klog/v2"

	"github.com/timkpaine/qonnx/onnx"
	"github.com/timkpaine/qonnx/tensor"
	"github.com/timkpaine/qonnx/transform"
)

var (
	flagOutput = flag.String("o", "", "Where to write the rewritten model. If empty the model is only checked and reported.")

	flagMaintainBitWidth = flag.Bool("maintain_bit_width", false,
		"Keep the datatype of quantized kernels, clipping the synthesized weights into it. "+
			"By default the bit width grows by ceil(log2(U²)) and the rewrite is exact.")

	flagCheck   = flag.Bool("check", false, "Run both models on a random input and fail if their outputs differ.")
	flagSeed    = flag.Uint64("seed", 42, "Seed of the random input used by -check.")
	flagSummary = flag.Bool("summary", false, "Print a table of the rewritten nodes.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing model to rewrite. See 'qonnx -help'.")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'qonnx -help'.")
		os.Exit(1)
	}
	if err := run(args[0]); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

func run(path string) error {
	logger := zap.NewNop()
	if klog.V(1).Enabled() {
		logger = must.M1(zap.NewDevelopment())
		defer func() { _ = logger.Sync() }()
	}

	model, err := onnx.ParseFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	// Shapes let the pass resolve sizes inputs and check output shapes; a
	// model shape inference cannot handle is still rewritten.
	shaped, err := transform.InferShapes(model)
	if err != nil {
		klog.Warningf("%s: shape inference failed, using declared shapes only: %v", path, err)
		shaped = model
	}
	rewritten, reports, err := transform.ResizeConvToDeconvReport(shaped, transform.Options{
		MaintainBitWidth: *flagMaintainBitWidth,
		Logger:           logger,
	})
	if err != nil {
		return errors.Wrapf(err, "rewriting %s", path)
	}
	klog.V(1).Infof("%s: replaced %d Resize→Conv pairs", path, len(reports))

	if *flagCheck {
		if err := check(model, rewritten); err != nil {
			return err
		}
	}
	if *flagOutput != "" {
		if err := onnx.WriteFile(*flagOutput, rewritten); err != nil {
			return errors.Wrapf(err, "writing %s", *flagOutput)
		}
		klog.V(1).Infof("wrote %s", *flagOutput)
	}
	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		fmt.Println(summaryTable(path, model, rewritten, reports).Render())
		if len(reports) > 0 {
			fmt.Println(titleStyle.Render("Rewrites"))
			fmt.Println(rewritesTable(reports).Render())
		}
	}
	return nil
}

// tolerances returns the allclose tolerances -check uses. Clipped kernels may
// move each output by up to one 8-bit step.
func tolerances(maintainBitWidth bool) (atol, rtol float64) {
	if maintainBitWidth {
		return 1.0 / 255, 1
	}
	return 1e-4, 1e-4
}

func check(before, after *onnx.ModelProto) error {
	inputs, err := randomInputs(before, rand.New(rand.NewPCG(*flagSeed, *flagSeed)))
	if err != nil {
		return errors.Wrap(err, "-check")
	}
	atol, rtol := tolerances(*flagMaintainBitWidth)
	// The original model is the reference of the relative tolerance.
	diff, err := onnx.CompareExecution(after, before, inputs, atol, rtol)
	if err != nil {
		return errors.Wrap(err, "-check")
	}
	if !diff.Close() {
		return errors.Errorf("-check: outputs differ by up to %g (atol=%g, rtol=%g)", diff.MaxAbsDiff(), atol, rtol)
	}
	klog.V(1).Infof("-check: outputs agree, max abs diff %g", diff.MaxAbsDiff())
	return nil
}

// randomInputs draws a uniform [0, 1) tensor for every graph input that is not
// an initializer. Every such input needs a static shape.
func randomInputs(model *onnx.ModelProto, rng *rand.Rand) (map[string]*tensor.RawTensor, error) {
	initializers := make(map[string]bool, len(model.Graph.Initializers))
	for i := range model.Graph.Initializers {
		initializers[model.Graph.Initializers[i].Name] = true
	}
	inputs := make(map[string]*tensor.RawTensor)
	for i := range model.Graph.Inputs {
		vi := &model.Graph.Inputs[i]
		if initializers[vi.Name] {
			continue
		}
		dims := vi.Shape()
		if dims == nil {
			return nil, errors.Errorf("input %q has no static shape", vi.Name)
		}
		shape := make(tensor.Shape, len(dims))
		for j, d := range dims {
			shape[j] = int(d)
		}
		t, err := tensor.Rand(shape, rng)
		if err != nil {
			return nil, err
		}
		inputs[vi.Name] = t
	}
	return inputs, nil
}
