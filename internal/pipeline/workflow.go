// Package pipeline runs the PSII Fv/Fm workflow: load the fluorescence
// frames, mask the plant, select objects in the region of interest, measure
// Fv/Fm and write the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"fvfm-analyzer/internal/config"
	"fvfm-analyzer/internal/debug"
	"fvfm-analyzer/internal/debug/eventbus"
	"fvfm-analyzer/internal/debug/timing"
	"fvfm-analyzer/internal/fluor"
	"fvfm-analyzer/internal/grid"
	"fvfm-analyzer/internal/gridio"
	"fvfm-analyzer/internal/logger"
	"fvfm-analyzer/internal/opencv/conversion"
	"fvfm-analyzer/internal/opencv/memory"
	"fvfm-analyzer/internal/opencv/safe"
	"fvfm-analyzer/internal/processing/objects"
	"fvfm-analyzer/internal/processing/visualize"
	"fvfm-analyzer/internal/results"

	"github.com/google/uuid"
)

// Version is reported in result metadata; set at link time
var Version = "dev"

const softwareName = "fvfm-analyzer"

// Stage names, also used as timing operations
const (
	StageLoad      = "load"
	StageMask      = "mask"
	StageObjects   = "objects"
	StageFvFm      = "fvfm"
	StageVisualize = "visualize"
	StageResults   = "results"
)

// Dependencies are optional collaborators; nil fields get quiet defaults
type Dependencies struct {
	Logger logger.Logger
	Memory *memory.Manager
	Timing TimingTracker
	Events eventbus.Publisher
	Store  RunStore
	Debug  DebugImages
}

type Workflow struct {
	cfg    config.Config
	deps   Dependencies
	loader *imageLoader
	masker *maskBuilder
}

// Result is what a successful run produced
type Result struct {
	RunID       string
	Shape       objects.Shape
	Analysis    *fluor.Analysis
	FvFm        *grid.Grid
	KeptArea    int
	Threshold   float64
	ResultPath  string
	Images      []string
	DebugImages []debug.WrittenFile
}

func New(cfg config.Config, deps Dependencies) (*Workflow, error) {
	if err := cfg.ValidateRun(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Memory == nil {
		deps.Memory = memory.NewManager(deps.Logger)
	}
	if deps.Timing == nil {
		deps.Timing = timing.NewTracker(deps.Events)
	}
	if deps.Debug == nil {
		mode, _ := debug.ParseMode(cfg.Debug)
		deps.Debug = debug.NewImageWriter(mode, cfg.OutDir, deps.Logger, deps.Events)
	}

	return &Workflow{
		cfg:    cfg,
		deps:   deps,
		loader: &imageLoader{tracker: deps.Memory, logger: deps.Logger},
		masker: newMaskBuilder(deps.Debug),
	}, nil
}

// state holds everything a run allocates so it can be released in one place
type state struct {
	fmin, fmax, fdark *Frame
	mask              *safe.Mat
	selection         *objects.Selection
	composed          *objects.Composed
	keptMask          *grid.Grid
	filledMask        *grid.Grid
	recorder          *results.Recorder
	result            *Result
}

func (s *state) close() {
	s.fmin.Close()
	s.fmax.Close()
	s.fdark.Close()
	if s.mask != nil {
		s.mask.Close()
	}
	if s.selection != nil {
		s.selection.Close()
	}
	if s.composed != nil {
		s.composed.Close()
	}
}

// Run executes every stage in order. It stops between stages once ctx is
// cancelled. Errors name the failing stage.
func (w *Workflow) Run(ctx context.Context) (res *Result, err error) {
	log := w.deps.Logger
	meta := results.Metadata{
		RunID:     uuid.NewString(),
		Software:  softwareName,
		Version:   Version,
		Timestamp: time.Now().UTC(),
		Images:    map[string]string{"fmin": w.cfg.Fmin, "fmax": w.cfg.Fmax},
	}
	if w.cfg.Fdark != "" {
		meta.Images["fdark"] = w.cfg.Fdark
	}

	if w.deps.Store != nil {
		if _, err := w.deps.Store.BeginRun(meta); err != nil {
			return nil, fmt.Errorf("stage %s: %w", StageResults, err)
		}
		defer func() {
			if ferr := w.deps.Store.FinishRun(meta.RunID, err); ferr != nil {
				log.Error("Workflow", ferr, map[string]interface{}{"run_id": meta.RunID})
			}
		}()
	}

	st := &state{
		recorder: results.NewRecorder(meta),
		result:   &Result{RunID: meta.RunID, ResultPath: w.cfg.Result},
	}
	defer st.close()

	log.Info("Workflow", "run started", map[string]interface{}{
		"run_id": meta.RunID,
		"fmin":   w.cfg.Fmin,
		"fmax":   w.cfg.Fmax,
		"debug":  w.cfg.Debug,
	})

	stages := []struct {
		name string
		fn   func(context.Context, *state) error
	}{
		{StageLoad, w.load},
		{StageMask, w.buildMask},
		{StageObjects, w.selectObjects},
		{StageFvFm, w.measure},
		{StageVisualize, w.visualize},
		{StageResults, w.writeResults},
	}

	for _, s := range stages {
		if err := w.stage(ctx, s.name, func(ctx context.Context) error { return s.fn(ctx, st) }); err != nil {
			log.Error("Workflow", err, map[string]interface{}{"run_id": meta.RunID, "stage": s.name})
			return nil, err
		}
	}

	if images, ok := w.deps.Debug.(*debug.ImageWriter); ok {
		st.result.DebugImages = images.Files()
	}

	fields := w.deps.Timing.Fields()
	fields["run_id"] = meta.RunID
	log.Info("Workflow", "run completed", fields)

	return st.result, nil
}

func (w *Workflow) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}

	tctx := w.deps.Timing.Start(ctx, name)
	if err := fn(tctx); err != nil {
		w.deps.Timing.Fail(tctx, err)
		return fmt.Errorf("stage %s: %w", name, err)
	}
	w.deps.Timing.End(tctx)
	return nil
}

func (w *Workflow) load(ctx context.Context, st *state) error {
	var err error
	if st.fmax, err = w.loader.Load(ctx, w.cfg.Fmax); err != nil {
		return err
	}
	if st.fmin, err = w.loader.Load(ctx, w.cfg.Fmin); err != nil {
		return err
	}
	if w.cfg.Fdark != "" {
		if st.fdark, err = w.loader.Load(ctx, w.cfg.Fdark); err != nil {
			return err
		}
	}

	named := []grid.Named{{Name: "fmin", Grid: st.fmin.Grid}, {Name: "fmax", Grid: st.fmax.Grid}}
	if st.fdark != nil {
		named = append(named, grid.Named{Name: "fdark", Grid: st.fdark.Grid})
	}
	return grid.CheckShapes(named...)
}

func (w *Workflow) buildMask(ctx context.Context, st *state) error {
	params := w.cfg.MaskParams()
	w.deps.Logger.Debug("Workflow", "building mask", map[string]interface{}{
		"steps": strings.Join(w.masker.Steps(params), ","),
	})

	mask, err := w.masker.Build(ctx, st.fmax.Mat, params)
	if err != nil {
		return err
	}
	st.mask = mask

	st.result.Threshold = w.cfg.Mask.Threshold
	if chosen, ok := params["chosen_threshold"].(float64); ok {
		st.result.Threshold = chosen
		w.deps.Logger.Info("Workflow", "otsu threshold chosen", map[string]interface{}{"threshold": chosen})
	}

	st.filledMask, err = conversion.MatToGrid(mask, grid.DepthU8)
	return err
}

func (w *Workflow) selectObjects(ctx context.Context, st *state) error {
	objs, err := objects.Find(st.mask)
	if err != nil {
		return err
	}

	roi, err := objects.Rectangle(w.cfg.ROI.X, w.cfg.ROI.Y, w.cfg.ROI.Width, w.cfg.ROI.Height, st.mask.Rows(), st.mask.Cols())
	if err != nil {
		return err
	}
	mode, err := objects.ParseFilterMode(w.cfg.ROIType)
	if err != nil {
		return err
	}

	st.selection, err = objects.FilterByROI(st.mask, roi, objs, mode)
	if err != nil {
		return err
	}
	_, _ = w.deps.Debug.Write("roi_objects", st.selection.Mask)

	w.deps.Logger.Debug("Workflow", "objects selected", map[string]interface{}{
		"found":     len(objs),
		"kept":      len(st.selection.Objects),
		"kept_area": st.selection.Area,
		"roi_type":  string(mode),
	})

	st.composed, err = objects.Compose(st.selection.Objects, st.mask.Rows(), st.mask.Cols(), w.deps.Memory)
	if err != nil {
		return fmt.Errorf("no plant in region of interest: %w", err)
	}
	_, _ = w.deps.Debug.Write("composed_object", st.composed.Mask)

	shape, err := objects.Analyze(st.composed.Mask, st.composed)
	if err != nil {
		return err
	}
	st.result.Shape = shape
	st.result.KeptArea = st.selection.Area

	st.keptMask, err = conversion.MatToGrid(st.selection.Mask, grid.DepthU8)
	if err != nil {
		return err
	}
	return addAll(st.recorder, shapeObservations(shape))
}

func (w *Workflow) measure(ctx context.Context, st *state) error {
	var fdark *grid.Grid
	if st.fdark != nil {
		fdark = st.fdark.Grid
	}

	opts := fluor.Options{
		MaskThreshold: w.cfg.Analysis.RatioMaskThreshold,
		Bins:          w.cfg.Analysis.Bins,
		Workers:       w.cfg.Workers,
	}
	analysis, err := fluor.Analyze(ctx, st.fmin.Grid, st.fmax.Grid, fdark, st.keptMask, opts)
	if err != nil {
		return err
	}
	st.result.Analysis = analysis

	// the reported image is guarded by the filled mask, the statistics by
	// the ROI-filtered one
	fvfm, err := fluor.NewRatioComputer(w.cfg.Workers).Compute(ctx, analysis.Fv, st.fmax.Grid, st.filledMask, opts.MaskThreshold)
	if err != nil {
		return err
	}
	st.result.FvFm = fvfm

	if w.deps.Debug.Enabled() {
		if m, err := conversion.GridToMat(fvfm, w.deps.Memory, "fvfm"); err == nil {
			_, _ = w.deps.Debug.Write("fvfm", m)
			m.Close()
		}
	}

	if !analysis.FdarkPassedQC {
		w.deps.Logger.Warning("Workflow", "fdark frame failed QC", map[string]interface{}{
			"limit": fluor.FdarkQCLimit,
			"max":   fdark.Max(),
		})
	}
	w.deps.Logger.Info("Workflow", "fv/fm measured", map[string]interface{}{
		"median": analysis.Median,
		"peak":   analysis.Histogram.Peak(),
		"pixels": analysis.PixelCount,
	})

	return addAll(st.recorder, fvfmObservations(analysis))
}

func (w *Workflow) visualize(ctx context.Context, st *state) error {
	if !w.cfg.WriteImages && !w.deps.Debug.Enabled() {
		return nil
	}

	cmap, err := visualize.ParseColormap(w.cfg.Analysis.Colormap)
	if err != nil {
		return err
	}
	pseudo, err := visualize.Pseudocolor(st.result.FvFm, st.keptMask, 0, 1, cmap, w.deps.Memory)
	if err != nil {
		return err
	}
	defer pseudo.Close()

	_, _ = w.deps.Debug.Write("fvfm_pseudocolor", pseudo)

	if !w.cfg.WriteImages {
		return nil
	}

	base := strings.TrimSuffix(filepath.Base(w.cfg.Fmax), filepath.Ext(w.cfg.Fmax))
	pseudoPath := filepath.Join(w.cfg.OutDir, base+"_fvfm_pseudocolored.png")
	if err := gridio.WriteMat(pseudoPath, pseudo); err != nil {
		return err
	}
	histPath := filepath.Join(w.cfg.OutDir, base+"_fvfm_hist.png")
	if err := visualize.HistogramPlot(st.result.Analysis.Histogram, "Fv/Fm "+base, histPath); err != nil {
		return err
	}

	st.result.Images = append(st.result.Images, pseudoPath, histPath)
	return nil
}

func (w *Workflow) writeResults(ctx context.Context, st *state) error {
	if err := st.recorder.WriteJSON(w.cfg.Result); err != nil {
		return err
	}

	if w.deps.Store != nil {
		if err := w.deps.Store.SaveObservations(st.result.RunID, st.recorder.Observations()); err != nil {
			return err
		}
	}
	return nil
}

func addAll(r *results.Recorder, obs []results.Observation) error {
	var errs []error
	for _, o := range obs {
		errs = append(errs, r.Add(o))
	}
	return errors.Join(errs...)
}
