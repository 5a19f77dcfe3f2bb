package objects

import (
	"fmt"
	"image"

	"fvfm-analyzer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// FilterMode decides what happens to objects touching the ROI
type FilterMode string

const (
	// FilterPartial keeps whole objects that overlap the ROI at all
	FilterPartial FilterMode = "partial"
	// FilterCutTo keeps overlapping objects but trims them to the ROI
	FilterCutTo FilterMode = "cutto"
	// FilterLargest keeps only the largest overlapping object
	FilterLargest FilterMode = "largest"
)

func ParseFilterMode(s string) (FilterMode, error) {
	switch FilterMode(s) {
	case FilterPartial, FilterCutTo, FilterLargest:
		return FilterMode(s), nil
	default:
		return "", fmt.Errorf("roi type must be one of partial, cutto, largest; got %q", s)
	}
}

// ROI is a rectangular region of interest in image coordinates
type ROI struct {
	Rect image.Rectangle
}

// Rectangle builds a ROI and clips it to the image. A rectangle entirely
// outside the image returns ErrEmptyROI.
func Rectangle(x, y, width, height, imageRows, imageCols int) (ROI, error) {
	if width <= 0 || height <= 0 {
		return ROI{}, fmt.Errorf("roi size must be positive, got %dx%d", width, height)
	}

	r := image.Rect(x, y, x+width, y+height)
	clipped := r.Intersect(image.Rect(0, 0, imageCols, imageRows))
	if clipped.Empty() {
		return ROI{}, fmt.Errorf("%w: %v vs %dx%d", ErrEmptyROI, r, imageCols, imageRows)
	}

	return ROI{Rect: clipped}, nil
}

// Contour returns the ROI outline, clockwise from the top-left corner
func (r ROI) Contour() []image.Point {
	return []image.Point{
		r.Rect.Min,
		{X: r.Rect.Max.X - 1, Y: r.Rect.Min.Y},
		{X: r.Rect.Max.X - 1, Y: r.Rect.Max.Y - 1},
		{X: r.Rect.Min.X, Y: r.Rect.Max.Y - 1},
	}
}

// Selection is the outcome of ROI filtering
type Selection struct {
	Objects []Object
	// Mask holds the kept foreground pixels of the input mask
	Mask *safe.Mat
	Area int
}

func (s *Selection) Close() {
	if s != nil && s.Mask != nil {
		s.Mask.Close()
	}
}

// FilterByROI keeps the objects that overlap roi according to mode. The
// returned mask is the input mask restricted to the kept objects, so holes
// inside an object stay holes.
func FilterByROI(mask *safe.Mat, roi ROI, objs []Object, mode FilterMode) (*Selection, error) {
	if err := safe.ValidateSingleChannel(mask, "roi filter"); err != nil {
		return nil, err
	}

	rows, cols := mask.Rows(), mask.Cols()
	if !roi.Rect.In(image.Rect(0, 0, cols, rows)) {
		return nil, fmt.Errorf("%w: %v vs %dx%d", ErrEmptyROI, roi.Rect, cols, rows)
	}

	var kept []Object
	for _, o := range objs {
		overlaps, err := overlapsROI(o, roi, rows, cols)
		if err != nil {
			return nil, err
		}
		if overlaps {
			kept = append(kept, o)
		}
	}

	if mode == FilterLargest && len(kept) > 1 {
		largest := kept[0]
		for _, o := range kept[1:] {
			if o.Area > largest.Area {
				largest = o
			}
		}
		kept = []Object{largest}
	}

	filled, err := fillObjects(kept, rows, cols, mask.Tracker(), "roi_objects")
	if err != nil {
		return nil, err
	}
	defer filled.Close()

	keptMat := gocv.NewMat()
	gocv.BitwiseAnd(mask.GetMat(), filled.GetMat(), &keptMat)

	if mode == FilterCutTo {
		cut, err := cutTo(keptMat, roi)
		keptMat.Close()
		if err != nil {
			return nil, err
		}
		keptMat = cut
	}

	keptMask, err := safe.Adopt(keptMat, mask.Tracker(), "kept_mask")
	if err != nil {
		return nil, err
	}

	sel := &Selection{
		Objects: kept,
		Mask:    keptMask,
		Area:    gocv.CountNonZero(keptMask.GetMat()),
	}

	if mode == FilterCutTo {
		// re-derive outlines from the trimmed mask
		trimmed, err := Find(keptMask)
		if err != nil {
			sel.Close()
			return nil, err
		}
		sel.Objects = trimmed
	}

	return sel, nil
}

func overlapsROI(o Object, roi ROI, rows, cols int) (bool, error) {
	if !o.Bounds.Overlaps(roi.Rect) {
		return false, nil
	}

	filled, err := fillObjects([]Object{o}, rows, cols, nil, "overlap_probe")
	if err != nil {
		return false, err
	}
	defer filled.Close()

	region := filled.GetMat().Region(roi.Rect)
	defer region.Close()

	return gocv.CountNonZero(region) > 0, nil
}

func cutTo(src gocv.Mat, roi ROI) (gocv.Mat, error) {
	roiMask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), src.Rows(), src.Cols(), gocv.MatTypeCV8UC1)
	defer roiMask.Close()

	gocv.Rectangle(&roiMask, roi.Rect, white, -1)

	dst := gocv.NewMat()
	gocv.BitwiseAnd(src, roiMask, &dst)
	if dst.Empty() {
		dst.Close()
		return gocv.Mat{}, fmt.Errorf("roi cut produced an empty Mat")
	}
	return dst, nil
}
