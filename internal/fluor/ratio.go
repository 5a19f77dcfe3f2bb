// Package fluor computes chlorophyll fluorescence quantities from
// dark-adapted Fmin/Fmax image pairs.
package fluor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"fvfm-analyzer/internal/grid"
)

// ErrInvalidThreshold is returned for a NaN or infinite mask threshold
var ErrInvalidThreshold = errors.New("mask threshold must be a finite number")

// GuardedRatio divides numerator by denominator cell by cell. A cell is only
// computed where mask > maskThreshold and denominator > 0; every other cell
// is exactly 0. The result is always DepthF64 and never holds NaN or Inf.
func GuardedRatio(numerator, denominator, mask *grid.Grid, maskThreshold float64) (*grid.Grid, error) {
	result, err := prepareRatio(numerator, denominator, mask, maskThreshold)
	if err != nil {
		return nil, err
	}

	ratioBand(result.RawValues(), numerator.RawValues(), denominator.RawValues(), mask.RawValues(), maskThreshold)
	return result, nil
}

// RatioComputer runs GuardedRatio across row bands on a bounded set of
// goroutines. Output is identical to the serial version.
type RatioComputer struct {
	Workers int
	// MinRowsPerBand keeps tiny grids on a single goroutine
	MinRowsPerBand int
}

func NewRatioComputer(workers int) *RatioComputer {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &RatioComputer{
		Workers:        workers,
		MinRowsPerBand: 64,
	}
}

func (rc *RatioComputer) Compute(ctx context.Context, numerator, denominator, mask *grid.Grid, maskThreshold float64) (*grid.Grid, error) {
	result, err := prepareRatio(numerator, denominator, mask, maskThreshold)
	if err != nil {
		return nil, err
	}

	rows, cols := result.Rows(), result.Cols()
	if rows == 0 || cols == 0 {
		return result, nil
	}

	bands := rc.bands(rows)
	if len(bands) == 1 {
		ratioBand(result.RawValues(), numerator.RawValues(), denominator.RawValues(), mask.RawValues(), maskThreshold)
		return result, nil
	}

	out := result.RawValues()
	num := numerator.RawValues()
	den := denominator.RawValues()
	msk := mask.RawValues()

	workers := make(chan struct{}, rc.Workers)
	var wg sync.WaitGroup

	for _, b := range bands {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		case workers <- struct{}{}:
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			defer func() { <-workers }()

			lo, hi := start*cols, end*cols
			ratioBand(out[lo:hi], num[lo:hi], den[lo:hi], msk[lo:hi], maskThreshold)
		}(b[0], b[1])
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (rc *RatioComputer) bands(rows int) [][2]int {
	minRows := rc.MinRowsPerBand
	if minRows <= 0 {
		minRows = 1
	}
	workers := rc.Workers
	if workers <= 0 {
		workers = 1
	}

	per := (rows + workers - 1) / workers
	if per < minRows {
		per = minRows
	}

	var bands [][2]int
	for start := 0; start < rows; start += per {
		end := min(start+per, rows)
		bands = append(bands, [2]int{start, end})
	}
	return bands
}

func prepareRatio(numerator, denominator, mask *grid.Grid, maskThreshold float64) (*grid.Grid, error) {
	if math.IsNaN(maskThreshold) || math.IsInf(maskThreshold, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, maskThreshold)
	}

	if err := grid.CheckShapes(
		grid.Named{Name: "numerator", Grid: numerator},
		grid.Named{Name: "denominator", Grid: denominator},
		grid.Named{Name: "mask", Grid: mask},
	); err != nil {
		return nil, err
	}

	return grid.New(numerator.Rows(), numerator.Cols(), grid.DepthF64)
}

// ratioBand writes into out, which is freshly allocated and zeroed, so
// cells failing the guard are left untouched.
func ratioBand(out, num, den, mask []float64, maskThreshold float64) {
	for i := range out {
		if !(mask[i] > maskThreshold) || !(den[i] > 0) {
			continue
		}
		v := num[i] / den[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = v
	}
}
