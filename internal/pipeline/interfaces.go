package pipeline

import (
	"context"
	"time"

	"fvfm-analyzer/internal/grid"
	"fvfm-analyzer/internal/opencv/safe"
	"fvfm-analyzer/internal/results"
)

// TimingTracker measures each workflow stage
type TimingTracker interface {
	Start(ctx context.Context, operation string) context.Context
	End(ctx context.Context) time.Duration
	Fail(ctx context.Context, err error) time.Duration
	Fields() map[string]interface{}
}

// RunStore persists runs. Implemented by *store.Store.
type RunStore interface {
	BeginRun(meta results.Metadata) (string, error)
	SaveObservations(runID string, obs []results.Observation) error
	FinishRun(runID string, runErr error) error
}

// DebugImages receives intermediate images. Implemented by
// *debug.ImageWriter.
type DebugImages interface {
	Write(name string, m *safe.Mat) (string, error)
	Enabled() bool
}

// Frame is one loaded fluorescence image, kept both as a Mat for OpenCV
// stages and as a grid for the arithmetic
type Frame struct {
	Path string
	Mat  *safe.Mat
	Grid *grid.Grid
}

func (f *Frame) Close() {
	if f != nil && f.Mat != nil {
		f.Mat.Close()
	}
}
