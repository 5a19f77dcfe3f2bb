package fluor

import (
	"context"
	"errors"
	"testing"

	"fvfm-analyzer/internal/grid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariableFluorescence(t *testing.T) {
	fmin := mustGrid(t, [][]float64{{100, 500}, {50, 0}}, grid.DepthU16)
	fmax := mustGrid(t, [][]float64{{400, 300}, {60, 0}}, grid.DepthU16)
	fdark := mustGrid(t, [][]float64{{20, 20}, {80, 0}}, grid.DepthU16)

	fv, corrected, err := VariableFluorescence(fmin, fmax, fdark)
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{300, 0}, {0, 0}}, fv.ToRows())
	assert.Equal(t, [][]float64{{380, 280}, {0, 0}}, corrected.ToRows())
	assert.Equal(t, grid.DepthU16, fv.Depth())
}

func TestVariableFluorescenceWithoutDark(t *testing.T) {
	fmin := mustGrid(t, [][]float64{{10, 20}}, grid.DepthU16)
	fmax := mustGrid(t, [][]float64{{50, 20}}, grid.DepthU16)

	fv, corrected, err := VariableFluorescence(fmin, fmax, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{40, 0}}, fv.ToRows())
	assert.Equal(t, fmax.ToRows(), corrected.ToRows())
}

func TestVariableFluorescenceShapeMismatch(t *testing.T) {
	a := mustGrid(t, [][]float64{{1, 2}}, grid.DepthU16)
	b := mustGrid(t, [][]float64{{1}, {2}}, grid.DepthU16)

	_, _, err := VariableFluorescence(a, a, b)
	var mismatch *grid.ShapeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "fdark", mismatch.Other)
}

func TestAnalyze(t *testing.T) {
	fmin := mustGrid(t, [][]float64{{200, 100, 300}, {100, 50, 0}}, grid.DepthU16)
	fmax := mustGrid(t, [][]float64{{1000, 400, 400}, {500, 50, 0}}, grid.DepthU16)
	mask := mustGrid(t, [][]float64{{255, 255, 255}, {0, 255, 255}}, grid.DepthU8)

	a, err := Analyze(context.Background(), fmin, fmax, nil, mask, DefaultOptions())
	require.NoError(t, err)

	// (1000-200)/1000, (400-100)/400, (400-300)/400; the masked-out and
	// Fv=0 cells are excluded from the statistics
	assert.InDeltaSlice(t, []float64{0.8, 0.75, 0.25, 0, 0, 0}, a.FvFm.Values(), 1e-12)
	assert.Equal(t, 3, a.PixelCount)
	assert.InDelta(t, 0.75, a.Median, 1e-12)
	assert.InDelta(t, 0.6, a.Mean, 1e-12)
	assert.Greater(t, a.StdDev, 0.0)
	assert.True(t, a.FdarkPassedQC)
	assert.Equal(t, 3, a.Histogram.Total())
	assert.Len(t, a.Histogram.Counts, DefaultBins)
}

func TestAnalyzeNoMeasurablePixels(t *testing.T) {
	fmin := mustGrid(t, [][]float64{{1, 1}}, grid.DepthU16)
	fmax := mustGrid(t, [][]float64{{2, 2}}, grid.DepthU16)
	mask := mustGrid(t, [][]float64{{0, 0}}, grid.DepthU8)

	a, err := Analyze(context.Background(), fmin, fmax, nil, mask, Options{MaskThreshold: 1, Bins: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, a.PixelCount)
	assert.Zero(t, a.Median)
	assert.Zero(t, a.Mean)
	assert.Equal(t, 0, a.Histogram.Total())
}

func TestAnalyzeFdarkQC(t *testing.T) {
	fmin := mustGrid(t, [][]float64{{1}}, grid.DepthU16)
	fmax := mustGrid(t, [][]float64{{4000}}, grid.DepthU16)
	mask := mustGrid(t, [][]float64{{255}}, grid.DepthU8)
	bright := mustGrid(t, [][]float64{{2500}}, grid.DepthU16)

	a, err := Analyze(context.Background(), fmin, fmax, bright, mask, DefaultOptions())
	require.NoError(t, err)
	assert.False(t, a.FdarkPassedQC)
}

func TestHistogram(t *testing.T) {
	h, err := NewHistogram([]float64{0, 0.1, 0.49, 0.5, 1, 1.5, -1}, 4, 0, 1)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 1, 1, 1}, h.Counts)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, h.Edges)
	assert.Equal(t, []float64{0.125, 0.375, 0.625, 0.875}, h.Midpoints())
	assert.Equal(t, 0.125, h.Peak())

	_, err = NewHistogram(nil, 0, 0, 1)
	assert.Error(t, err)
	_, err = NewHistogram(nil, 4, 1, 1)
	assert.Error(t, err)
}
