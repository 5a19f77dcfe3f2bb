package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"fvfm-analyzer/internal/config"
	"fvfm-analyzer/internal/debug"
	"fvfm-analyzer/internal/grid"
	"fvfm-analyzer/internal/gridio"
	"fvfm-analyzer/internal/processing/objects"
	"fvfm-analyzer/internal/results"
	"fvfm-analyzer/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frame is a 400x400 16-bit image with background bg, a 50x50 plant at
// x 250..299 / y 150..199 and a 30x30 blob at x 10..39 / y 10..39 outside
// the default region of interest
func frame(t *testing.T, bg, plant float64) *grid.Grid {
	t.Helper()
	g, err := grid.New(400, 400, grid.DepthU16)
	require.NoError(t, err)
	for r := 0; r < 400; r++ {
		for c := 0; c < 400; c++ {
			v := bg
			if (r >= 150 && r < 200 && c >= 250 && c < 300) || (r >= 10 && r < 40 && c >= 10 && c < 40) {
				v = plant
			}
			g.Set(r, c, v)
		}
	}
	return g
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Fmin = filepath.Join(dir, "fmin.tif")
	cfg.Fmax = filepath.Join(dir, "fmax.tif")
	cfg.OutDir = filepath.Join(dir, "out")
	cfg.Result = filepath.Join(dir, "out", "results.json")
	cfg.Workers = 2

	require.NoError(t, gridio.WriteImage(cfg.Fmin, frame(t, 200, 8000)))
	require.NoError(t, gridio.WriteImage(cfg.Fmax, frame(t, 1000, 40000)))
	return cfg
}

func TestWorkflowRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.WriteImages = true

	w, err := New(cfg, Dependencies{})
	require.NoError(t, err)

	res, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2500.0, res.Shape.Area)
	assert.Equal(t, 50, res.Shape.Width)
	assert.Equal(t, 50, res.Shape.Height)
	assert.Equal(t, 1, res.Shape.ObjectCount)
	assert.Equal(t, 2500, res.KeptArea)
	assert.Equal(t, 20.0, res.Threshold)

	require.NotNil(t, res.Analysis)
	assert.InDelta(t, 0.8, res.Analysis.Median, 1e-12)
	assert.Equal(t, 2500, res.Analysis.PixelCount)
	assert.True(t, res.Analysis.FdarkPassedQC)

	// the image is guarded by the filled mask, so the blob outside the ROI
	// is measured too while the background is zero
	assert.InDelta(t, 0.8, res.FvFm.At(20, 20), 1e-12)
	assert.InDelta(t, 0.8, res.FvFm.At(175, 275), 1e-12)
	assert.Zero(t, res.FvFm.At(300, 300))

	require.Len(t, res.Images, 2)
	for _, p := range res.Images {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}

	doc, err := results.ReadJSON(cfg.Result)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, doc.Metadata.RunID)
	vars := doc.Observations[results.DefaultSample]
	for _, name := range []string{"area", "solidity", "fdark_passed_qc", "fvfm_hist", "fvfm_hist_peak", "fvfm_median"} {
		assert.Contains(t, vars, name)
	}
	assert.Equal(t, true, vars["fdark_passed_qc"].Value)
	assert.InDelta(t, 0.8, vars["fvfm_median"].Value.(float64), 1e-12)
}

func TestWorkflowDebugPrint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Debug = string(debug.ModePrint)

	w, err := New(cfg, Dependencies{})
	require.NoError(t, err)

	res, err := w.Run(context.Background())
	require.NoError(t, err)

	var names []string
	for _, f := range res.DebugImages {
		names = append(names, filepath.Base(f.Path))
	}
	assert.Equal(t, []string{
		"1_fmax_8bit.png",
		"2_threshold.png",
		"3_fill.png",
		"4_roi_objects.png",
		"5_composed_object.png",
		"6_fvfm.png",
		"7_fvfm_pseudocolor.png",
	}, names)
}

func TestWorkflowNoObjectInROI(t *testing.T) {
	cfg := testConfig(t)
	cfg.ROI = config.ROI{X: 340, Y: 340, Width: 40, Height: 40}

	w, err := New(cfg, Dependencies{})
	require.NoError(t, err)

	_, err = w.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, objects.ErrNoObjects))
	assert.Contains(t, err.Error(), "stage objects")

	_, statErr := os.Stat(cfg.Result)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWorkflowShapeMismatch(t *testing.T) {
	cfg := testConfig(t)
	small, err := grid.New(10, 10, grid.DepthU16)
	require.NoError(t, err)
	require.NoError(t, gridio.WriteImage(cfg.Fmin, small))

	w, err := New(cfg, Dependencies{})
	require.NoError(t, err)

	_, err = w.Run(context.Background())
	var mismatch *grid.ShapeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, err.Error(), "stage load")
}

func TestWorkflowCancelled(t *testing.T) {
	cfg := testConfig(t)
	w, err := New(cfg, Dependencies{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "stage load")
}

func TestWorkflowRecordsRunInStore(t *testing.T) {
	cfg := testConfig(t)
	s, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer s.Close()

	w, err := New(cfg, Dependencies{Store: s})
	require.NoError(t, err)
	res, err := w.Run(context.Background())
	require.NoError(t, err)

	runs, err := s.Runs(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, store.StatusOK, runs[0].Status)

	obs, err := s.Observations(res.RunID)
	require.NoError(t, err)
	assert.NotEmpty(t, obs)
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	cfg := config.Default()
	_, err := New(cfg, Dependencies{})
	assert.Error(t, err)
}
