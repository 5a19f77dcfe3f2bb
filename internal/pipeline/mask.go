package pipeline

import (
	"context"
	"fmt"

	"fvfm-analyzer/internal/opencv/conversion"
	"fvfm-analyzer/internal/opencv/safe"
	"fvfm-analyzer/internal/processing/chain"
	"fvfm-analyzer/internal/processing/filters"
	"fvfm-analyzer/internal/processing/threshold"
)

// maskBuilder derives the binary plant mask from the Fmax frame
type maskBuilder struct {
	chain  *chain.ProcessingChain
	images DebugImages
}

func newMaskBuilder(images DebugImages) *maskBuilder {
	mb := &maskBuilder{
		chain: chain.NewProcessingChain(
			filters.NewGaussianFilter(),
			threshold.NewStep(),
			filters.NewFillFilter(),
			filters.NewMorphologyFilter(),
			filters.NewMedianFilter(),
		),
		images: images,
	}
	mb.chain.Observe(mb.observe)
	return mb
}

func (mb *maskBuilder) observe(step string, out *safe.Mat) {
	// debug output never fails the run
	_, _ = mb.images.Write(step, out)
}

// Build thresholds the 8-bit view of fmax. params is updated by the steps,
// e.g. with the chosen Otsu threshold.
func (mb *maskBuilder) Build(ctx context.Context, fmax *safe.Mat, params map[string]interface{}) (*safe.Mat, error) {
	eight, err := conversion.ToEightBit(fmax)
	if err != nil {
		return nil, fmt.Errorf("8-bit view: %w", err)
	}
	defer eight.Close()

	mb.observe("fmax_8bit", eight)

	return mb.chain.Execute(ctx, eight, params)
}

// Steps names the steps params enables, in execution order
func (mb *maskBuilder) Steps(params map[string]interface{}) []string {
	return mb.chain.EnabledSteps(params)
}
