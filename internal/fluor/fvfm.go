package fluor

import (
	"context"
	"fmt"
	"sort"

	"fvfm-analyzer/internal/grid"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultBins is the Fv/Fm histogram resolution over [0,1]
	DefaultBins = 256

	// FdarkQCLimit is the brightest Fdark sample still considered a dark frame
	FdarkQCLimit = 2000
)

// Options controls an Fv/Fm analysis
type Options struct {
	// MaskThreshold is the guard applied to the mask grid; only cells with a
	// mask value strictly above it are measured.
	MaskThreshold float64
	Bins          int
	Workers       int
}

// DefaultOptions mirrors the values used by the PSII workflow
func DefaultOptions() Options {
	return Options{
		MaskThreshold: 1,
		Bins:          DefaultBins,
	}
}

// Analysis is the outcome of an Fv/Fm measurement
type Analysis struct {
	Fv            *grid.Grid
	FvFm          *grid.Grid
	Histogram     *Histogram
	Median        float64
	Mean          float64
	StdDev        float64
	PixelCount    int
	FdarkPassedQC bool
}

// VariableFluorescence dark-corrects Fmin and Fmax and returns
// Fv = Fmax' - Fmin' together with Fmax'. Subtractions saturate at zero the
// way unsigned image arithmetic does. fdark may be nil for a zero frame.
func VariableFluorescence(fmin, fmax, fdark *grid.Grid) (fv, fmaxCorrected *grid.Grid, err error) {
	named := []grid.Named{{Name: "fmin", Grid: fmin}, {Name: "fmax", Grid: fmax}}
	if fdark != nil {
		named = append(named, grid.Named{Name: "fdark", Grid: fdark})
	}
	if err := grid.CheckShapes(named...); err != nil {
		return nil, nil, err
	}

	depth := fmax.Depth()
	fv, err = grid.New(fmax.Rows(), fmax.Cols(), depth)
	if err != nil {
		return nil, nil, err
	}
	fmaxCorrected, err = grid.New(fmax.Rows(), fmax.Cols(), depth)
	if err != nil {
		return nil, nil, err
	}

	for r := 0; r < fmax.Rows(); r++ {
		for c := 0; c < fmax.Cols(); c++ {
			dark := 0.0
			if fdark != nil {
				dark = fdark.At(r, c)
			}
			lo := max(fmin.At(r, c)-dark, 0)
			hi := max(fmax.At(r, c)-dark, 0)
			fmaxCorrected.Set(r, c, hi)
			fv.Set(r, c, max(hi-lo, 0))
		}
	}

	return fv, fmaxCorrected, nil
}

// Analyze computes the Fv/Fm image inside mask and summarises its non-zero
// values. fdark may be nil.
func Analyze(ctx context.Context, fmin, fmax, fdark, mask *grid.Grid, opts Options) (*Analysis, error) {
	if opts.Bins <= 0 {
		opts.Bins = DefaultBins
	}

	fv, fmaxCorrected, err := VariableFluorescence(fmin, fmax, fdark)
	if err != nil {
		return nil, fmt.Errorf("variable fluorescence: %w", err)
	}

	computer := NewRatioComputer(opts.Workers)
	fvfm, err := computer.Compute(ctx, fv, fmaxCorrected, mask, opts.MaskThreshold)
	if err != nil {
		return nil, fmt.Errorf("fv/fm ratio: %w", err)
	}

	values := nonZero(fvfm.RawValues())

	hist, err := NewHistogram(values, opts.Bins, 0, 1)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		Fv:            fv,
		FvFm:          fvfm,
		Histogram:     hist,
		PixelCount:    len(values),
		FdarkPassedQC: fdark == nil || fdark.Max() < FdarkQCLimit,
	}

	if len(values) > 0 {
		sort.Float64s(values)
		analysis.Median = median(values)
		analysis.Mean, analysis.StdDev = stat.MeanStdDev(values, nil)
		if len(values) == 1 {
			analysis.StdDev = 0
		}
	}

	return analysis, nil
}

func nonZero(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v != 0 {
			out = append(out, v)
		}
	}
	return out
}

// median of sorted values, averaging the two middle samples for even counts
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return floats.Sum(sorted[n/2-1:n/2+1]) / 2
}
